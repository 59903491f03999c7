package hitl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/donnahq/donna/pkg/entity"
	"github.com/donnahq/donna/pkg/llms"
	"github.com/donnahq/donna/pkg/planner"
	"github.com/donnahq/donna/pkg/protocol"
	"github.com/donnahq/donna/pkg/routing"
)

const questionSystemPrompt = `You write one short clarifying question for a personal assistant that did not fully understand the user's message.

- Ask in the user's language (Hebrew unless told otherwise).
- One sentence, warm and specific. Offer the likely interpretations when you were given any.
- Never apologize at length and never mention plans, confidence or internal analysis.`

// capabilityLabels render capabilities for clarifying questions.
var capabilityLabels = map[protocol.Capability]map[protocol.Language]string{
	protocol.CapabilityCalendar:  {protocol.LanguageHebrew: "היומן", protocol.LanguageEnglish: "your calendar"},
	protocol.CapabilityTaskStore: {protocol.LanguageHebrew: "תזכורות ומשימות", protocol.LanguageEnglish: "reminders and tasks"},
	protocol.CapabilityEmail:     {protocol.LanguageHebrew: "אימייל", protocol.LanguageEnglish: "email"},
	protocol.CapabilityMemory:    {protocol.LanguageHebrew: "הזיכרון שלי", protocol.LanguageEnglish: "things I remember for you"},
}

// clarifyingQuestion asks the LLM to phrase the question, falling back
// to a rule-based template when the call fails.
func (g *Gate) clarifyingQuestion(ctx context.Context, in PlanCheck, reason string) string {
	if g.gateway == nil {
		return fallbackQuestion(in, reason)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "User message: %s\n", in.UserMessage)
	fmt.Fprintf(&sb, "Language: %s\n", in.Language)
	fmt.Fprintf(&sb, "What was unclear: %s\n", reason)
	if labels := hintLabels(in.Hints, in.Language, 3); len(labels) > 0 {
		fmt.Fprintf(&sb, "Likely areas: %s\n", strings.Join(labels, ", "))
	}
	if in.Plan != nil && len(in.Plan.Plan) > 0 {
		fmt.Fprintf(&sb, "Best guess at the action: %s\n", in.Plan.Plan[0].ActionHint)
	}

	text, err := g.gateway.Complete(ctx, llms.Request{
		Messages: []llms.ChatMessage{
			{Role: llms.RoleSystem, Content: questionSystemPrompt},
			{Role: llms.RoleUser, Content: sb.String()},
		},
	})
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			g.logger.Warn("Question generation failed, using template", "error", err)
		}
		return fallbackQuestion(in, reason)
	}
	return strings.TrimSpace(text)
}

// fallbackQuestion is the deterministic template per missing-field
// reason.
func fallbackQuestion(in PlanCheck, reason string) string {
	he := in.Language != protocol.LanguageEnglish

	switch reason {
	case planner.MissingTimeUnclear:
		if he {
			return "למתי בדיוק התכוונת?"
		}
		return "When exactly did you mean?"
	case planner.MissingTargetUnclear, planner.MissingWhichOne:
		if he {
			return "לאיזה פריט התכוונת? אפשר לפרט קצת יותר?"
		}
		return "Which one did you mean? Can you be a bit more specific?"
	case planner.MissingIntegrationMissing:
		if he {
			return "השירות הזה לא מחובר כרגע. רוצה שאעזור במשהו אחר?"
		}
		return "That service isn't connected right now. Can I help with something else?"
	}

	labels := hintLabels(in.Hints, in.Language, 3)
	if len(labels) > 0 {
		if he {
			return fmt.Sprintf("לא בטוחה שהבנתי. התכוונת למשהו שקשור ל%s?", strings.Join(labels, " או "))
		}
		return fmt.Sprintf("I'm not sure I follow. Did you mean something about %s?", strings.Join(labels, " or "))
	}
	if he {
		return "לא בטוחה שהבנתי. אפשר לנסח שוב?"
	}
	return "I'm not sure I understood. Could you rephrase?"
}

func hintLabels(hints []routing.Hint, lang protocol.Language, max int) []string {
	if lang != protocol.LanguageEnglish {
		lang = protocol.LanguageHebrew
	}
	sorted := make([]routing.Hint, len(hints))
	copy(sorted, hints)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var labels []string
	for _, h := range sorted {
		if label, ok := capabilityLabels[h.Capability][lang]; ok {
			labels = append(labels, label)
			if len(labels) == max {
				break
			}
		}
	}
	return labels
}

// confirmationQuestion is deterministic; destructive actions get the
// friendlier phrasing.
func confirmationQuestion(lang protocol.Language, p *planner.PlanOutput) string {
	action := firstActionHint(p)
	if lang == protocol.LanguageEnglish {
		if action != "" {
			return fmt.Sprintf("Just to be sure, you want me to %s? (yes/no)", action)
		}
		return "Just to be sure, should I go ahead with that? (yes/no)"
	}
	if action != "" {
		return fmt.Sprintf("רק לוודא, את/ה רוצה שאני %s? (כן/לא)", action)
	}
	return "רק לוודא, להמשיך עם זה? (כן/לא)"
}

func approvalQuestion(lang protocol.Language, p *planner.PlanOutput) string {
	if lang == protocol.LanguageEnglish {
		return fmt.Sprintf("This will make %d change(s). Approve? (yes/no)", len(p.Plan))
	}
	return fmt.Sprintf("זה יבצע %d פעולות. לאשר? (כן/לא)", len(p.Plan))
}

func firstActionHint(p *planner.PlanOutput) string {
	if p == nil || len(p.Plan) == 0 {
		return ""
	}
	return p.Plan[0].ActionHint
}

// disambiguationQuestion renders a numbered list. Multi-select lists
// get the "both/all" hint.
func disambiguationQuestion(d *entity.Disambiguation, candidates []entity.Candidate, lang protocol.Language) string {
	var sb strings.Builder
	sb.WriteString(d.Question)
	sb.WriteString("\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c.DisplayText)
	}
	if d.AllowMultiple && len(candidates) > 1 {
		if lang == protocol.LanguageEnglish {
			sb.WriteString("(You can answer with numbers, e.g. \"1,3\", or \"all\".)")
		} else {
			sb.WriteString("(אפשר לענות במספרים, למשל \"1,3\", או \"הכל\".)")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func notFoundQuestion(nf *entity.NotFound, lang protocol.Language) string {
	if lang == protocol.LanguageEnglish {
		if nf.SearchedFor != "" {
			return fmt.Sprintf("I couldn't find \"%s\". Could you describe it differently?", nf.SearchedFor)
		}
		return "I couldn't find that. Could you describe it differently?"
	}
	if nf.SearchedFor != "" {
		return fmt.Sprintf("לא מצאתי את \"%s\". אפשר לתאר את זה אחרת?", nf.SearchedFor)
	}
	return "לא מצאתי את זה. אפשר לתאר את זה אחרת?"
}

func clarifyQueryQuestion(cq *entity.ClarifyQuery, lang protocol.Language) string {
	var base string
	if lang == protocol.LanguageEnglish {
		base = "Which one did you mean? A name or a time would help."
	} else {
		base = "לאיזה מהם התכוונת? שם או שעה יעזרו לי."
	}
	if len(cq.Suggestions) > 0 {
		return base + "\n" + strings.Join(cq.Suggestions, "\n")
	}
	return base
}
