package protocol

import "time"

// InboundMessage is what the chat transport delivers to the pipeline.
type InboundMessage struct {
	UserID            string    `json:"user_id"`
	UserPhone         string    `json:"user_phone,omitempty"`
	MessageExternalID string    `json:"message_external_id"`
	ReplyToExternalID string    `json:"reply_to_external_id,omitempty"`
	Text              string    `json:"text"`
	Timestamp         time.Time `json:"timestamp"`
	MediaRef          string    `json:"media_ref,omitempty"`
}

// AssistantReply is a terminal outbound response for a turn.
type AssistantReply struct {
	Text string `json:"text"`

	// ExternalIDToMark, when set, asks the transport to mark the inbound
	// message as handled (read receipt, reaction, etc.).
	ExternalIDToMark string `json:"external_id_to_mark,omitempty"`
}

// InterruptType classifies why the pipeline suspended.
type InterruptType string

const (
	InterruptIntentUnclear  InterruptType = "intent_unclear"
	InterruptClarification  InterruptType = "clarification"
	InterruptConfirmation   InterruptType = "confirmation"
	InterruptApproval       InterruptType = "approval"
	InterruptDisambiguation InterruptType = "disambiguation"
)

// InterruptPayload is emitted to the transport when the pipeline suspends
// waiting for user input. The transport renders Question (and Options, if
// present) and routes the user's next inbound message back for resume.
type InterruptPayload struct {
	Type     InterruptType     `json:"type"`
	Question string            `json:"question"`
	Options  []string          `json:"options,omitempty"`
	Metadata InterruptMetadata `json:"metadata"`
}

// InterruptMetadata pins the interrupt to the suspended pipeline position.
type InterruptMetadata struct {
	StepID        string         `json:"step_id,omitempty"`
	EntityType    string         `json:"entity_type,omitempty"`
	Candidates    []CandidateRef `json:"candidates,omitempty"`
	InterruptedAt time.Time      `json:"interrupted_at"`
}

// Outcome is the tagged result of a pipeline turn: exactly one of Reply
// or Interrupt is set.
type Outcome struct {
	Reply     *AssistantReply   `json:"reply,omitempty"`
	Interrupt *InterruptPayload `json:"interrupt,omitempty"`
}

// Interrupted reports whether the turn suspended for user input.
func (o *Outcome) Interrupted() bool {
	return o.Interrupt != nil
}
