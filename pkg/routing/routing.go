// Package routing derives deterministic capability suggestions from the
// raw message text. The suggestions seed the planner prompt, feed
// clarification questions, and serve as the fallback when planning fails.
package routing

import (
	"regexp"
	"sort"
	"strings"

	"github.com/donnahq/donna/pkg/protocol"
)

// Hint is one capability suggestion with its accumulated score.
type Hint struct {
	Capability      protocol.Capability `json:"capability"`
	Score           float64             `json:"score"`
	MatchedPatterns []string            `json:"matched_patterns"`
}

type pattern struct {
	re     *regexp.Regexp
	label  string
	weight float64
}

func mustPattern(expr, label string, weight float64) pattern {
	return pattern{re: regexp.MustCompile(expr), label: label, weight: weight}
}

// Hebrew and English keyword tables per capability. Weights favor
// unambiguous verbs over generic nouns.
var capabilityPatterns = map[protocol.Capability][]pattern{
	protocol.CapabilityCalendar: {
		mustPattern(`(?i)\b(meeting|appointment|schedule|calendar|event)\b`, "calendar_noun_en", 0.8),
		mustPattern(`(?i)\b(reschedule|move the meeting|cancel the meeting)\b`, "calendar_verb_en", 1.0),
		mustPattern(`פגיש[הות]`, "calendar_noun_he", 0.8),
		mustPattern(`(יומן|אירוע|תור)`, "calendar_noun_he2", 0.6),
		mustPattern(`(תקבע|קבע לי|תזיז|תעביר את|תבטל את הפגישה)`, "calendar_verb_he", 1.0),
		mustPattern(`(מחר|מחרתיים|ביום (ראשון|שני|שלישי|רביעי|חמישי|שישי|שבת))`, "calendar_time_he", 0.3),
	},
	protocol.CapabilityTaskStore: {
		mustPattern(`(?i)\b(task|todo|to-do|remind me|reminder)\b`, "task_noun_en", 0.9),
		mustPattern(`(?i)\b(check ?list|my list)\b`, "task_list_en", 0.5),
		mustPattern(`(משימ[הות]|מטל[הות])`, "task_noun_he", 0.9),
		mustPattern(`(תזכיר לי|תזכורת|להזכיר)`, "task_remind_he", 1.0),
		mustPattern(`(סיימתי|ביצעתי|תסמן.*בוצע)`, "task_done_he", 0.7),
		mustPattern(`(הרשימה שלי|מה יש לי לעשות)`, "task_list_he", 0.6),
	},
	protocol.CapabilityEmail: {
		mustPattern(`(?i)\b(email|e-mail|mail|inbox)\b`, "email_noun_en", 0.9),
		mustPattern(`(?i)\b(send .* (a|an) (email|mail))\b`, "email_verb_en", 1.0),
		mustPattern(`(מייל|אימייל|דוא.ל)`, "email_noun_he", 0.9),
		mustPattern(`(תשלח מייל|שלח מייל|תכתוב ל)`, "email_verb_he", 1.0),
	},
	protocol.CapabilityMemory: {
		mustPattern(`(?i)\b(remember that|note that|write down|take a note)\b`, "memory_verb_en", 1.0),
		mustPattern(`(?i)\b(what do you know about|did i tell you)\b`, "memory_query_en", 0.8),
		mustPattern(`(תזכור ש|זכור ש|תרשום ש|שים לב ש)`, "memory_verb_he", 1.0),
		mustPattern(`(מה אתה זוכר|מה רשמת|מה סיפרתי לך)`, "memory_query_he", 0.8),
	},
	protocol.CapabilityMeta: {
		mustPattern(`(?i)\b(help|what can you do|how do you work)\b`, "meta_help_en", 1.0),
		mustPattern(`(עזרה|מה אתה יודע לעשות|איך אתה עובד|מה אתה יכול)`, "meta_help_he", 1.0),
	},
}

// Suggest scans the message against all capability tables and returns
// hints ordered by descending score. Capabilities with no match are
// omitted; an empty result means the message gave no routable signal.
func Suggest(message string) []Hint {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}

	var hints []Hint
	for capability, patterns := range capabilityPatterns {
		hint := Hint{Capability: capability}
		for _, p := range patterns {
			if p.re.MatchString(message) {
				hint.Score += p.weight
				hint.MatchedPatterns = append(hint.MatchedPatterns, p.label)
			}
		}
		if hint.Score > 0 {
			sort.Strings(hint.MatchedPatterns)
			hints = append(hints, hint)
		}
	}

	sort.Slice(hints, func(i, j int) bool {
		if hints[i].Score != hints[j].Score {
			return hints[i].Score > hints[j].Score
		}
		return hints[i].Capability < hints[j].Capability
	})
	return hints
}

// Top returns the best capability suggestion, or CapabilityGeneral when
// the message matched nothing.
func Top(message string) protocol.Capability {
	hints := Suggest(message)
	if len(hints) == 0 {
		return protocol.CapabilityGeneral
	}
	return hints[0].Capability
}
