package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"chatrelay/internal/chat"
	"chatrelay/internal/logger"
)

// OpenAIClient speaks the OpenAI-compatible chat completions wire format.
// It serves any provider exposing that surface: hosted hubs like IONOS and
// Google's OpenAI-compatibility endpoint alike.
type OpenAIClient struct {
	Client
}

func NewOpenAIClient(cc ClientConfig) (*OpenAIClient, error) {
	base, err := newClient(cc)
	if err != nil {
		return nil, err
	}
	return &OpenAIClient{Client: base}, nil
}

type OpenAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []OpenAIChatMessage `json:"messages"`
	Stream   bool                `json:"stream"` // Always true for streaming
}

type OpenAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type OpenAIChatResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []OpenAIChatChoice `json:"choices"`
}

type OpenAIChatChoice struct {
	Delta        OpenAIChatDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason,omitempty"`
	Index        int             `json:"index"`
}

type OpenAIChatDelta struct {
	Content *string `json:"content,omitempty"`
	Role    *string `json:"role,omitempty"`
}

var doneSentinel = []byte("[DONE]")

func (c *OpenAIClient) StreamChat(ctx context.Context, model string, turns []chat.Turn, fn func(StreamEvent) error) error {
	localLogger := logger.NewLogger("openai stream chat")

	payload := OpenAIChatRequest{
		Model:    model,
		Messages: openAIMessages(turns),
		Stream:   true,
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	em := &emitter{fn: fn}
	err := c.streamLines(ctx, c.endpoint("/chat/completions"), payload, header, func(line []byte) error {
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(data) == 0 {
			return nil
		}
		if bytes.Equal(data, doneSentinel) {
			if err := em.emit(End()); err != nil {
				return err
			}
			return errStopStream
		}

		var resp OpenAIChatResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			// Comment lines and keepalives are not chunks; skip them.
			localLogger.Warn("Skipping unparseable stream line: ", string(data))
			return nil
		}
		if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != nil {
			if content := *resp.Choices[0].Delta.Content; content != "" {
				return em.emit(Chunk(content))
			}
		}
		return nil
	})

	return em.finish(ctx, c.name, err)
}

func openAIMessages(turns []chat.Turn) []OpenAIChatMessage {
	msgs := make([]OpenAIChatMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, OpenAIChatMessage{Role: t.Role, Content: t.Content})
	}
	return msgs
}
