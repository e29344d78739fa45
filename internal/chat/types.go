package chat

import "strings"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PlaceholderContent is the sentinel the browser inserts to reserve the
// assistant's slot while a reply streams in. It must never reach a provider.
const PlaceholderContent = "..."

// Turn is one entry of a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is the ordered sequence of turns for one conversation.
type Transcript []Turn

// Attachment is a user-uploaded file before normalization.
type Attachment struct {
	Filename string
	MimeHint string
	Data     []byte
}

// Request is one chat turn as received from the browser. It is owned by the
// handling request and discarded when the response completes.
type Request struct {
	Message     string
	Provider    string
	Model       string
	Persona     string
	History     Transcript
	Attachments []Attachment
}

// IsPlaceholder reports whether the turn is an unfinished placeholder or is
// otherwise unfit to forward (missing role or content).
func (t Turn) IsPlaceholder() bool {
	return t.Role == "" || t.Content == "" || t.Content == PlaceholderContent
}

// StripPlaceholders returns a copy of the transcript with placeholder and
// malformed turns removed.
func (ts Transcript) StripPlaceholders() Transcript {
	out := make(Transcript, 0, len(ts))
	for _, t := range ts {
		if t.IsPlaceholder() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Validate rejects transcripts containing unknown role values.
func (ts Transcript) Validate() error {
	for _, t := range ts {
		switch t.Role {
		case RoleSystem, RoleUser, RoleAssistant, "":
		default:
			return NewError(ErrorInvalidInput, "unknown history role "+strings.TrimSpace(t.Role), nil)
		}
	}
	return nil
}
