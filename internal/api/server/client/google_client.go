package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"chatrelay/internal/chat"
	"chatrelay/internal/logger"
)

// GoogleClient speaks the native Google generative language API:
// models/<model>:streamGenerateContent with SSE framing. System turns travel
// in systemInstruction and the assistant role is called "model".
type GoogleClient struct {
	Client
}

func NewGoogleClient(cc ClientConfig) (*GoogleClient, error) {
	base, err := newClient(cc)
	if err != nil {
		return nil, err
	}
	return &GoogleClient{Client: base}, nil
}

type GoogleGenerateRequest struct {
	SystemInstruction *GoogleContent  `json:"systemInstruction,omitempty"`
	Contents          []GoogleContent `json:"contents"`
}

type GoogleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GooglePart `json:"parts"`
}

type GooglePart struct {
	Text string `json:"text"`
}

type GoogleStreamResponse struct {
	Candidates []struct {
		Content      GoogleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *GoogleClient) StreamChat(ctx context.Context, model string, turns []chat.Turn, fn func(StreamEvent) error) error {
	localLogger := logger.NewLogger("google stream chat")

	payload := googlePayload(turns)

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("x-goog-api-key", c.apiKey)
	}

	requestURL := c.base.ResolveReference(&url.URL{
		Path:     joinPath(c.base.Path, "/models/"+model+":streamGenerateContent"),
		RawQuery: "alt=sse",
	}).String()

	em := &emitter{fn: fn}
	err := c.streamLines(ctx, requestURL, payload, header, func(line []byte) error {
		data := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(data) == 0 {
			return nil
		}

		var resp GoogleStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			localLogger.Warn("Skipping unparseable stream line: ", string(data))
			return nil
		}
		if resp.PromptFeedback.BlockReason != "" {
			if err := em.emit(ErrorEvent("Content blocked by " + c.name + ": " + resp.PromptFeedback.BlockReason)); err != nil {
				return err
			}
			return errStopStream
		}
		for _, cand := range resp.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					if err := em.emit(Chunk(part.Text)); err != nil {
						return err
					}
				}
			}
			if policyStop(cand.FinishReason) {
				if err := em.emit(ErrorEvent("Generation stopped by " + c.name + ": " + cand.FinishReason)); err != nil {
					return err
				}
				return errStopStream
			}
			// An ordinary finishReason arrives on the last data line; the
			// stream then closes and finish emits the end event.
		}
		return nil
	})

	return em.finish(ctx, c.name, err)
}

// policyStop reports whether a candidate finishReason means the generation
// was cut off (safety, recitation, or similar) rather than completed. STOP
// and MAX_TOKENS are ordinary endings.
func policyStop(reason string) bool {
	switch reason {
	case "", "STOP", "MAX_TOKENS":
		return false
	}
	return true
}

func googlePayload(turns []chat.Turn) GoogleGenerateRequest {
	var req GoogleGenerateRequest
	for _, t := range turns {
		switch t.Role {
		case chat.RoleSystem:
			if req.SystemInstruction == nil {
				req.SystemInstruction = &GoogleContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, GooglePart{Text: t.Content})
		case chat.RoleAssistant:
			req.Contents = append(req.Contents, GoogleContent{Role: "model", Parts: []GooglePart{{Text: t.Content}}})
		default:
			req.Contents = append(req.Contents, GoogleContent{Role: "user", Parts: []GooglePart{{Text: t.Content}}})
		}
	}
	return req
}
