package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"chatrelay/internal/api/server/client"
)

type chunkPayload struct {
	Content string `json:"content"`
}

type messagePayload struct {
	Message string `json:"message"`
}

// eventWriter frames stream events as server-sent events and flushes after
// every write so chunks reach the browser without batching.
type eventWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newEventWriter(w http.ResponseWriter) (*eventWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &eventWriter{w: w, flusher: flusher}, true
}

func (ew *eventWriter) writeEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(ew.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	ew.flusher.Flush()
	return nil
}

func (ew *eventWriter) write(ev client.StreamEvent) error {
	switch ev.Kind {
	case client.EventChunk:
		return ew.writeEvent("chunk", chunkPayload{Content: ev.Text})
	case client.EventEnd:
		return ew.writeEvent("end", messagePayload{Message: "Stream ended"})
	default:
		return ew.writeEvent("error", messagePayload{Message: ev.Text})
	}
}

// writeJSONError is the non-stream rejection path used before streaming
// begins: a plain JSON body with a 4xx/5xx status instead of an event stream.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(messagePayload{Message: message})
}
