// Package language detects the conversation locale of a message.
package language

import (
	"unicode"

	"github.com/donnahq/donna/pkg/protocol"
)

// Detect classifies text as Hebrew, English, or other by script ratio.
// Mixed messages are classified by the dominant script among letters.
func Detect(text string) protocol.Language {
	var hebrew, latin, other int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		switch {
		case unicode.Is(unicode.Hebrew, r):
			hebrew++
		case r < 128:
			latin++
		default:
			other++
		}
	}

	total := hebrew + latin + other
	if total == 0 {
		return protocol.LanguageOther
	}
	switch {
	case hebrew*2 >= total:
		return protocol.LanguageHebrew
	case latin*2 >= total:
		return protocol.LanguageEnglish
	default:
		return protocol.LanguageOther
	}
}
