package hitl

import (
	"strconv"
	"strings"
)

// AnswerKind classifies how the user answered an interrupt.
type AnswerKind string

const (
	AnswerYes     AnswerKind = "yes"
	AnswerNo      AnswerKind = "no"
	AnswerNumbers AnswerKind = "numbers"
	AnswerText    AnswerKind = "text"
)

// Answer is the parsed form of a resume message.
type Answer struct {
	Kind AnswerKind

	// Numbers holds 1-based selections for AnswerNumbers.
	Numbers []int

	// Text is the raw trimmed message, set for every kind.
	Text string
}

var yesTokens = []string{
	"כן", "כן.", "בטח", "סבבה", "אישור", "מאשר", "מאשרת", "יאללה", "אוקיי", "אוקי",
	"yes", "y", "yes.", "yep", "yeah", "sure", "ok", "okay", "approve", "confirmed", "go ahead",
}

var noTokens = []string{
	"לא", "לא.", "עזוב", "עזבי", "בטל", "תבטל", "לא צריך", "לא תודה",
	"no", "n", "no.", "nope", "cancel", "don't", "dont", "stop", "never mind", "nevermind",
}

// ParseAnswer classifies a resume message: yes/no first, then numeric
// selections, then free text.
func ParseAnswer(message string) Answer {
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)

	for _, t := range yesTokens {
		if lower == t {
			return Answer{Kind: AnswerYes, Text: trimmed}
		}
	}
	for _, t := range noTokens {
		if lower == t {
			return Answer{Kind: AnswerNo, Text: trimmed}
		}
	}

	if nums := parseNumbers(lower); len(nums) > 0 {
		return Answer{Kind: AnswerNumbers, Numbers: nums, Text: trimmed}
	}

	return Answer{Kind: AnswerText, Text: trimmed}
}

// parseNumbers accepts "2", "1,3", "1 ו-3" and similar. Any non-numeric
// token makes the whole message free text.
func parseNumbers(s string) []int {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == 'ו' || r == '-'
	})
	if len(fields) == 0 {
		return nil
	}
	var nums []int
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil
		}
		nums = append(nums, n)
	}
	return nums
}
