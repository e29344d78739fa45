package client

import (
	"context"
	"encoding/json"

	"chatrelay/internal/chat"
	"chatrelay/internal/logger"
)

// OllamaClient speaks the native Ollama chat API: NDJSON lines on /api/chat,
// terminated by a line with done=true.
type OllamaClient struct {
	Client
}

func NewOllamaClient(cc ClientConfig) (*OllamaClient, error) {
	base, err := newClient(cc)
	if err != nil {
		return nil, err
	}
	return &OllamaClient{Client: base}, nil
}

type OllamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type OllamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OllamaAPIResponse struct {
	Message OllamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func (c *OllamaClient) StreamChat(ctx context.Context, model string, turns []chat.Turn, fn func(StreamEvent) error) error {
	localLogger := logger.NewLogger("ollama stream chat")

	payload := OllamaChatRequest{
		Model:    model,
		Messages: ollamaMessages(turns),
		Stream:   true,
	}

	em := &emitter{fn: fn}
	err := c.streamLines(ctx, c.endpoint("/api/chat"), payload, nil, func(line []byte) error {
		if len(line) == 0 {
			return nil
		}
		var resp OllamaAPIResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			localLogger.Error("Failed to unmarshal response: ", err)
			localLogger.Error("Raw response data: ", string(line))
			return nil
		}
		if resp.Error != "" {
			if err := em.emit(ErrorEvent("API Error from " + c.name + ": " + resp.Error)); err != nil {
				return err
			}
			return errStopStream
		}
		if resp.Message.Content != "" {
			if err := em.emit(Chunk(resp.Message.Content)); err != nil {
				return err
			}
		}
		if resp.Done {
			if err := em.emit(End()); err != nil {
				return err
			}
			return errStopStream
		}
		return nil
	})

	return em.finish(ctx, c.name, err)
}

func ollamaMessages(turns []chat.Turn) []OllamaMessage {
	msgs := make([]OllamaMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, OllamaMessage{Role: t.Role, Content: t.Content})
	}
	return msgs
}
