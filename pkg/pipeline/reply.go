package pipeline

import (
	"fmt"
	"strings"

	"github.com/donnahq/donna/pkg/executor"
	"github.com/donnahq/donna/pkg/protocol"
)

// composeReply renders the terminal reply from the per-step results, in
// plan order. Conversational text passes through as-is; operations get
// short status lines.
func (o *Orchestrator) composeReply(st *State) string {
	var lines []string
	for _, step := range st.Plan.Plan {
		result := st.Results[step.ID]
		if result == nil {
			continue
		}
		if line := resultLine(result, st.Language); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ackText(st.Language)
	}
	return strings.Join(lines, "\n")
}

func resultLine(r *StepResult, lang protocol.Language) string {
	he := lang != protocol.LanguageEnglish

	if r.Text != "" {
		return r.Text
	}
	if !r.Success {
		if he {
			return "משהו השתבש עם אחת הפעולות, מצטערת. אפשר לנסות שוב."
		}
		return "Something went wrong with one of the actions, sorry. Please try again."
	}

	switch r.Operation {
	case executor.OpCreate, executor.OpCreateMultiple:
		return createdLine(r, he)
	case executor.OpDelete, executor.OpDeleteByWindow, executor.OpDeleteAll:
		return deletedLine(r, he)
	case executor.OpUpdate, executor.OpUpdateByWindow:
		if he {
			return "עדכנתי ✅"
		}
		return "Updated ✅"
	case executor.OpComplete:
		if he {
			return "סימנתי כבוצע ✅"
		}
		return "Marked as done ✅"
	case executor.OpSend:
		if he {
			return "שלחתי את המייל ✉️"
		}
		return "Email sent ✉️"
	case executor.OpStore:
		if he {
			return "רשמתי לעצמי 📝"
		}
		return "Noted 📝"
	case executor.OpQuery:
		return notesLine(r, he)
	case "list":
		return listLine(r, he)
	}

	if he {
		return "בוצע ✅"
	}
	return "Done ✅"
}

func createdLine(r *StepResult, he bool) string {
	if ids, ok := r.Data["eventIds"].([]string); ok && len(ids) > 1 {
		if he {
			return fmt.Sprintf("קבעתי %d אירועים ביומן ✅", len(ids))
		}
		return fmt.Sprintf("Added %d events to your calendar ✅", len(ids))
	}
	if ids, ok := r.Data["taskIds"].([]string); ok && len(ids) > 1 {
		if he {
			return fmt.Sprintf("הוספתי %d תזכורות ✅", len(ids))
		}
		return fmt.Sprintf("Added %d reminders ✅", len(ids))
	}
	switch r.Capability {
	case protocol.CapabilityTaskStore:
		if he {
			return "הוספתי תזכורת ✅"
		}
		return "Reminder added ✅"
	default:
		if he {
			return "קבעתי ביומן ✅"
		}
		return "Added to your calendar ✅"
	}
}

func deletedLine(r *StepResult, he bool) string {
	n := intData(r.Data, "deleted")
	if n > 1 {
		if he {
			return fmt.Sprintf("מחקתי %d פריטים ✅", n)
		}
		return fmt.Sprintf("Deleted %d items ✅", n)
	}
	if he {
		return "מחקתי ✅"
	}
	return "Deleted ✅"
}

func listLine(r *StepResult, he bool) string {
	entities := entityList(r.Data["entities"])
	if len(entities) == 0 {
		if he {
			return "אין שום דבר מתוכנן 🙌"
		}
		return "Nothing scheduled 🙌"
	}

	var sb strings.Builder
	if he {
		sb.WriteString("הנה מה שיש:\n")
	} else {
		sb.WriteString("Here's what you have:\n")
	}
	for _, e := range entities {
		sb.WriteString("- ")
		if e.Start != nil {
			sb.WriteString(e.Start.Format("Mon 02/01 15:04"))
			sb.WriteString(" ")
		}
		sb.WriteString(e.Summary)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func notesLine(r *StepResult, he bool) string {
	notes, _ := r.Data["notes"].([]string)
	if len(notes) == 0 {
		if he {
			return "לא מצאתי שום דבר רשום על זה."
		}
		return "I don't have anything written down about that."
	}
	var sb strings.Builder
	if he {
		sb.WriteString("הנה מה שרשום אצלי:\n")
	} else {
		sb.WriteString("Here's what I have:\n")
	}
	for _, n := range notes {
		sb.WriteString("- ")
		sb.WriteString(n)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// entityList tolerates both live executor entities and the generic
// shape they take after a checkpoint round-trip.
func entityList(v any) []executor.Entity {
	switch list := v.(type) {
	case []executor.Entity:
		return list
	case []any:
		var out []executor.Entity
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			e := executor.Entity{}
			e.Summary, _ = m["summary"].(string)
			if s, ok := m["start"].(string); ok {
				if t, ok := parseTimeArg(s); ok {
					e.Start = &t
				}
			}
			out = append(out, e)
		}
		return out
	}
	return nil
}

func intData(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func apologyText(lang protocol.Language) string {
	if lang == protocol.LanguageEnglish {
		return "Sorry, something went wrong on my side. Please try again."
	}
	return "סליחה, משהו השתבש אצלי. אפשר לנסות שוב?"
}

func canceledText(lang protocol.Language) string {
	if lang == protocol.LanguageEnglish {
		return "Okay, I've canceled that."
	}
	return "בסדר, ביטלתי."
}

func ackText(lang protocol.Language) string {
	if lang == protocol.LanguageEnglish {
		return "Got it 👍"
	}
	return "קיבלתי 👍"
}
