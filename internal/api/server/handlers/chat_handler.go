package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"chatrelay/internal/api/server/client"
	"chatrelay/internal/chat"
	"chatrelay/internal/compose"
	"chatrelay/internal/logger"

	"github.com/google/uuid"
)

// maxUploadBytes bounds the whole multipart body, attachments included.
const maxUploadBytes = 64 << 20

// ChatHandler accepts one chat turn as a multipart form and relays the
// provider's reply as an SSE stream. Requests rejected before streaming
// begins get a plain JSON error body instead of a stream.
func (h *Handler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	localLogger := logger.NewLogger("ChatHandler")

	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	req, pc, err := h.parseChatRequest(r)
	if err != nil {
		localLogger.Warn("Rejected chat request: ", err)
		writeJSONError(w, chat.HTTPStatus(err), chat.Reason(err))
		return
	}

	turns, err := compose.Compose(req, h.cfg)
	if err != nil {
		localLogger.Warn("Rejected chat request: ", err)
		writeJSONError(w, chat.HTTPStatus(err), chat.Reason(err))
		return
	}

	sse, ok := newEventWriter(w)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	requestID := uuid.NewString()
	localLogger.Info("Streaming request ", requestID, ": provider=", req.Provider, " model=", req.Model, " persona=", req.Persona, " turns=", len(turns))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan client.StreamEvent)
	go func() {
		defer close(events)
		err := pc.StreamChat(ctx, req.Model, turns, func(ev client.StreamEvent) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			localLogger.Error("Stream ", requestID, " delivery failed: ", err)
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			// Client went away; stop pulling from the adapter. No further
			// events are written to a connection that is already gone.
			localLogger.Info("Stream ", requestID, " cancelled by client")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.write(ev); err != nil {
				localLogger.Warn("Stream ", requestID, " write failed: ", err)
				cancel()
				return
			}
			if ev.Kind != client.EventChunk {
				localLogger.Info("Stream ", requestID, " finished")
				return
			}
		}
	}
}

// parseChatRequest extracts and validates the multipart form. All failures
// here are pre-stream by definition.
func (h *Handler) parseChatRequest(r *http.Request) (chat.Request, client.ProviderClient, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return chat.Request{}, nil, chat.NewError(chat.ErrorInvalidInput, "Request body exceeds the upload limit.", err)
		}
		return chat.Request{}, nil, chat.NewError(chat.ErrorInvalidInput, "Invalid multipart form.", err)
	}

	req := chat.Request{
		Message:  r.FormValue("message"),
		Provider: r.FormValue("provider"),
		Model:    r.FormValue("model"),
		Persona:  r.FormValue("persona"),
	}

	historyJSON := r.FormValue("history")
	if historyJSON == "" {
		historyJSON = "[]"
	}
	if err := json.Unmarshal([]byte(historyJSON), &req.History); err != nil {
		return chat.Request{}, nil, chat.NewError(chat.ErrorInvalidInput, "Invalid history format received.", err)
	}

	pc, ok := h.registry.Resolve(req.Provider)
	if !ok {
		return chat.Request{}, nil, chat.NewError(chat.ErrorInvalidInput, fmt.Sprintf("Unknown provider: %s", req.Provider), nil)
	}

	if req.Model == "" {
		req.Model = pc.DefaultModel()
	} else if !modelKnown(pc, req.Model) {
		return chat.Request{}, nil, chat.NewError(chat.ErrorInvalidInput, fmt.Sprintf("Unknown model %q for provider %s", req.Model, req.Provider), nil)
	}

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			att, err := readAttachment(fh)
			if err != nil {
				return chat.Request{}, nil, err
			}
			req.Attachments = append(req.Attachments, att)
		}
	}

	return req, pc, nil
}

func modelKnown(pc client.ProviderClient, model string) bool {
	for _, m := range pc.Models() {
		if m == model {
			return true
		}
	}
	return false
}

func readAttachment(fh *multipart.FileHeader) (chat.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return chat.Attachment{}, chat.NewError(chat.ErrorInvalidInput, fmt.Sprintf("Could not read uploaded file %s", fh.Filename), err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return chat.Attachment{}, chat.NewError(chat.ErrorInvalidInput, fmt.Sprintf("Could not read uploaded file %s", fh.Filename), err)
	}
	return chat.Attachment{
		Filename: fh.Filename,
		MimeHint: fh.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}
