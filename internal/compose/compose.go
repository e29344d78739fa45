// Package compose builds the provider-facing message list for one chat turn:
// system instructions and persona, cleaned history, then the user message
// with its attachment context.
package compose

import (
	"fmt"
	"strings"

	"chatrelay/internal/attach"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"
)

const (
	attachmentHeader = "--- Context from Uploaded Files ---"
	attachmentFooter = "--- End of File Context ---"
)

// Compose translates the browser request into the ordered turn list sent to
// a provider. Placeholder turns are stripped from history as a second line of
// defense; the reconciler is not trusted to have done it.
func Compose(req chat.Request, cfg *config.Config) ([]chat.Turn, error) {
	persona, ok := cfg.Persona(req.Persona)
	if !ok {
		return nil, chat.NewError(chat.ErrorInvalidInput, fmt.Sprintf("Unknown persona: %s", req.Persona), nil)
	}

	message := strings.TrimSpace(req.Message)
	if message == "" && len(req.Attachments) == 0 {
		return nil, chat.NewError(chat.ErrorInvalidInput, "Message and attachments are both empty.", nil)
	}

	if err := req.History.Validate(); err != nil {
		return nil, err
	}

	turns := make([]chat.Turn, 0, len(req.History)+2)
	turns = append(turns, chat.Turn{
		Role:    chat.RoleSystem,
		Content: systemContent(cfg.CommonInstructions, persona),
	})
	turns = append(turns, req.History.StripPlaceholders()...)
	turns = append(turns, chat.Turn{
		Role:    chat.RoleUser,
		Content: userContent(message, req.Attachments, limitsFrom(cfg)),
	})
	return turns, nil
}

func systemContent(instructions, persona string) string {
	instructions = strings.TrimSpace(instructions)
	if instructions == "" {
		return persona
	}
	return instructions + "\n\n" + persona
}

func userContent(message string, atts []chat.Attachment, lim attach.Limits) string {
	if len(atts) == 0 {
		return message
	}

	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\n")
	b.WriteString(attachmentHeader)
	for _, n := range attach.NormalizeAll(atts, lim) {
		if n.Omitted {
			// The omission note is already a complete marker.
			fmt.Fprintf(&b, "\n%s\n", n.Text)
			continue
		}
		fmt.Fprintf(&b, "\n--- Content from %s ---\n%s\n---\n", n.Filename, n.Text)
	}
	b.WriteString(attachmentFooter)
	return b.String()
}

func limitsFrom(cfg *config.Config) attach.Limits {
	return attach.Limits{
		PerFileChars:      cfg.Limits.PerFileChars,
		TotalChars:        cfg.Limits.TotalAttachmentChars,
		MaxArchiveMembers: cfg.Limits.MaxArchiveMembers,
		MaxArchiveDepth:   cfg.Limits.MaxArchiveDepth,
	}
}
