// Package api is the Go-side consumer of the relay's wire contract. It keeps
// one in-memory transcript per session and reconciles the streamed reply into
// it: a placeholder assistant turn is reserved when a message is sent,
// accumulates chunk fragments, and is replaced by the final text on the end
// event. The browser client implements the same protocol.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"chatrelay/internal/chat"
	"chatrelay/internal/logger"
)

// Session is one conversation against a relay server. Not safe for
// concurrent Sends; a session maps to a single browser tab.
type Session struct {
	baseURL    string
	http       *http.Client
	transcript chat.Transcript
}

func NewSession(baseURL string) *Session {
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// Transcript returns a copy of the committed transcript.
func (s *Session) Transcript() chat.Transcript {
	out := make(chat.Transcript, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// SendOptions selects the backend for one turn.
type SendOptions struct {
	Provider    string
	Model       string
	Persona     string
	Attachments []chat.Attachment
}

// FrontendConfig is the /config snapshot.
type FrontendConfig struct {
	Providers map[string]struct {
		DisplayName  string   `json:"display_name"`
		Models       []string `json:"models"`
		DefaultModel string   `json:"default_model"`
	} `json:"providers"`
	Personas []string `json:"personas"`
}

func (s *Session) FetchConfig(ctx context.Context) (*FrontendConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/config", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("config request failed: " + resp.Status)
	}
	var cfg FrontendConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Send posts one chat turn and reconciles the streamed reply. onChunk, when
// non-nil, observes each fragment as it arrives (the render hook). The
// returned string is the full assistant reply. On failure any partial text is
// committed and the error surfaced separately; the transcript never retains a
// placeholder turn.
func (s *Session) Send(ctx context.Context, message string, opts SendOptions, onChunk func(fragment string)) (string, error) {
	localLogger := logger.NewLogger("api client")

	message = strings.TrimSpace(message)
	if message == "" && len(opts.Attachments) == 0 {
		return "", errors.New("no content to send")
	}

	// History excludes the turns added for this send.
	history := s.Transcript()

	if message != "" {
		s.transcript = append(s.transcript, chat.Turn{Role: chat.RoleUser, Content: message})
	}
	s.transcript = append(s.transcript, chat.Turn{Role: chat.RoleAssistant, Content: chat.PlaceholderContent})
	placeholder := len(s.transcript) - 1

	body, contentType, err := encodeForm(message, opts, history)
	if err != nil {
		s.dropPlaceholder(placeholder)
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat", body)
	if err != nil {
		s.dropPlaceholder(placeholder)
		return "", err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.http.Do(req)
	if err != nil {
		s.dropPlaceholder(placeholder)
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			localLogger.Error("Failed to close response body: ", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		s.dropPlaceholder(placeholder)
		return "", decodeJSONError(resp)
	}

	accumulated, streamErr := s.consumeStream(resp.Body, onChunk)
	if streamErr != nil {
		// Commit whatever streamed before the failure; the error itself is
		// surfaced to the caller, never silently dropped.
		if accumulated == "" {
			s.dropPlaceholder(placeholder)
		} else {
			s.transcript[placeholder].Content = accumulated
		}
		return accumulated, streamErr
	}

	s.transcript[placeholder].Content = accumulated
	return accumulated, nil
}

func (s *Session) dropPlaceholder(i int) {
	s.transcript = append(s.transcript[:i], s.transcript[i+1:]...)
}

// consumeStream reads SSE frames until a terminal event. Ends of stream
// without a terminal event count as a transport failure.
func (s *Session) consumeStream(body io.Reader, onChunk func(string)) (string, error) {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 512*1024)

	var accumulated strings.Builder
	var event string
	var data bytes.Buffer

	dispatch := func() (done bool, err error) {
		defer func() {
			event = ""
			data.Reset()
		}()
		switch event {
		case "chunk":
			var payload struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(data.Bytes(), &payload); err != nil {
				return false, fmt.Errorf("malformed chunk event: %w", err)
			}
			accumulated.WriteString(payload.Content)
			if onChunk != nil {
				onChunk(payload.Content)
			}
			return false, nil
		case "end":
			return true, nil
		case "error":
			var payload struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(data.Bytes(), &payload); err != nil {
				return false, fmt.Errorf("malformed error event: %w", err)
			}
			return true, errors.New(payload.Message)
		default:
			return false, nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			done, err := dispatch()
			if done || err != nil {
				return accumulated.String(), err
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return accumulated.String(), fmt.Errorf("stream read failed: %w", err)
	}
	return accumulated.String(), errors.New("stream ended without terminal event")
}

func encodeForm(message string, opts SendOptions, history chat.Transcript) (io.Reader, string, error) {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := map[string]string{
		"message":  message,
		"provider": opts.Provider,
		"model":    opts.Model,
		"persona":  opts.Persona,
		"history":  string(historyJSON),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	for _, att := range opts.Attachments {
		part, err := mw.CreateFormFile("files", att.Filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(att.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

func decodeJSONError(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Message != "" {
		return errors.New(payload.Message)
	}
	return errors.New("chat request failed: " + resp.Status)
}
