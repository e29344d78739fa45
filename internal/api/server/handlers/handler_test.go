package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatrelay/internal/api/server/client"
	"chatrelay/internal/chat"
	"chatrelay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	models       []string
	defaultModel string
	events       []client.StreamEvent
	streamFn     func(ctx context.Context, model string, turns []chat.Turn, fn func(client.StreamEvent) error) error

	gotModel string
	gotTurns []chat.Turn
}

func (f *fakeProvider) Models() []string {
	return f.models
}

func (f *fakeProvider) DefaultModel() string {
	return f.defaultModel
}

func (f *fakeProvider) StreamChat(ctx context.Context, model string, turns []chat.Turn, fn func(client.StreamEvent) error) error {
	f.gotModel = model
	f.gotTurns = turns
	if f.streamFn != nil {
		return f.streamFn(ctx, model, turns, fn)
	}
	for _, ev := range f.events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

type fakeRegistry map[string]client.ProviderClient

func (f fakeRegistry) Resolve(id string) (client.ProviderClient, bool) {
	pc, ok := f[id]
	return pc, ok
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
common_instructions: "Be brief."
providers:
  hub:
    display_name: Test Hub
    type: openai
    base_url: https://example.com/v1
    models: [m1, m2]
    default_model: m1
personas:
  default: "You are a helpful assistant."
`))
	require.NoError(t, err)
	return cfg
}

type filePart struct {
	name string
	data []byte
}

func chatForm(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, value := range fields {
		require.NoError(t, mw.WriteField(name, value))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func postChat(t *testing.T, h *Handler, fields map[string]string, files ...filePart) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := chatForm(t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, "/chat", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ChatHandler(rec, req)
	return rec
}

func defaultFields() map[string]string {
	return map[string]string{
		"message":  "hi",
		"provider": "hub",
		"model":    "m1",
		"persona":  "default",
		"history":  "[]",
	}
}

func TestChatHandlerStreamsInOrder(t *testing.T) {
	fake := &fakeProvider{
		models:       []string{"m1", "m2"},
		defaultModel: "m1",
		events:       []client.StreamEvent{client.Chunk("Hel"), client.Chunk("lo"), client.End()},
	}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	rec := postChat(t, h, defaultFields())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"event: chunk\ndata: {\"content\":\"Hel\"}\n\n"+
			"event: chunk\ndata: {\"content\":\"lo\"}\n\n"+
			"event: end\ndata: {\"message\":\"Stream ended\"}\n\n",
		rec.Body.String())
}

func TestChatHandlerChunkThenError(t *testing.T) {
	fake := &fakeProvider{
		models:       []string{"m1"},
		defaultModel: "m1",
		events:       []client.StreamEvent{client.Chunk("x"), client.ErrorEvent("boom")},
	}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	rec := postChat(t, h, defaultFields())

	assert.Equal(t,
		"event: chunk\ndata: {\"content\":\"x\"}\n\n"+
			"event: error\ndata: {\"message\":\"boom\"}\n\n",
		rec.Body.String())
}

func TestChatHandlerUnknownProvider(t *testing.T) {
	h := NewHandler(testConfig(t), fakeRegistry{})

	fields := defaultFields()
	fields["provider"] = "ghost"
	rec := postChat(t, h, fields)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotContains(t, rec.Body.String(), "event:")

	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Contains(t, payload["message"], "Unknown provider")
}

func TestChatHandlerUnknownModel(t *testing.T) {
	fake := &fakeProvider{models: []string{"m1"}, defaultModel: "m1"}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	fields := defaultFields()
	fields["model"] = "m9"
	rec := postChat(t, h, fields)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown model")
}

func TestChatHandlerDefaultModel(t *testing.T) {
	fake := &fakeProvider{
		models:       []string{"m1", "m2"},
		defaultModel: "m2",
		events:       []client.StreamEvent{client.End()},
	}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	fields := defaultFields()
	fields["model"] = ""
	postChat(t, h, fields)

	assert.Equal(t, "m2", fake.gotModel)
}

func TestChatHandlerMalformedHistory(t *testing.T) {
	fake := &fakeProvider{models: []string{"m1"}, defaultModel: "m1"}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	fields := defaultFields()
	fields["history"] = "{not json"
	rec := postChat(t, h, fields)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid history format")
}

func TestChatHandlerEmptyRequest(t *testing.T) {
	fake := &fakeProvider{models: []string{"m1"}, defaultModel: "m1"}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	fields := defaultFields()
	fields["message"] = "  "
	rec := postChat(t, h, fields)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, fake.gotTurns, "provider must not be called")
}

func TestChatHandlerUnknownPersona(t *testing.T) {
	fake := &fakeProvider{models: []string{"m1"}, defaultModel: "m1"}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	fields := defaultFields()
	fields["persona"] = "ghost"
	rec := postChat(t, h, fields)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown persona")
}

func TestChatHandlerStripsPlaceholderHistory(t *testing.T) {
	fake := &fakeProvider{
		models:       []string{"m1"},
		defaultModel: "m1",
		events:       []client.StreamEvent{client.End()},
	}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	history, err := json.Marshal(chat.Transcript{
		{Role: chat.RoleUser, Content: "q"},
		{Role: chat.RoleAssistant, Content: chat.PlaceholderContent},
	})
	require.NoError(t, err)

	fields := defaultFields()
	fields["history"] = string(history)
	postChat(t, h, fields)

	require.NotNil(t, fake.gotTurns)
	for _, turn := range fake.gotTurns {
		assert.NotEqual(t, chat.PlaceholderContent, turn.Content)
	}
}

func TestChatHandlerFoldsAttachments(t *testing.T) {
	fake := &fakeProvider{
		models:       []string{"m1"},
		defaultModel: "m1",
		events:       []client.StreamEvent{client.End()},
	}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	postChat(t, h, defaultFields(), filePart{name: "a.txt", data: []byte("alpha")})

	require.NotEmpty(t, fake.gotTurns)
	user := fake.gotTurns[len(fake.gotTurns)-1]
	assert.Equal(t, chat.RoleUser, user.Role)
	assert.Contains(t, user.Content, "--- Content from a.txt ---")
	assert.Contains(t, user.Content, "alpha")
}

func TestChatHandlerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapterDone := make(chan error, 1)
	fake := &fakeProvider{
		models:       []string{"m1"},
		defaultModel: "m1",
		streamFn: func(ctx context.Context, model string, turns []chat.Turn, fn func(client.StreamEvent) error) error {
			if err := fn(client.Chunk("x")); err != nil {
				adapterDone <- err
				return err
			}
			cancel()
			select {
			case <-ctx.Done():
				adapterDone <- ctx.Err()
				return ctx.Err()
			case <-time.After(2 * time.Second):
				adapterDone <- nil
				return nil
			}
		},
	}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	body, contentType := chatForm(t, defaultFields())
	req := httptest.NewRequest(http.MethodPost, "/chat", body).WithContext(ctx)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ChatHandler(rec, req)

	err := <-adapterDone
	assert.Error(t, err, "adapter read loop must stop once the client is gone")

	assert.Equal(t, "event: chunk\ndata: {\"content\":\"x\"}\n\n", rec.Body.String())
	assert.False(t, strings.Contains(rec.Body.String(), "event: end"))
	assert.False(t, strings.Contains(rec.Body.String(), "event: error"))
}

func TestChatHandlerRejectsOversizedBody(t *testing.T) {
	fake := &fakeProvider{models: []string{"m1"}, defaultModel: "m1"}
	h := NewHandler(testConfig(t), fakeRegistry{"hub": fake})

	huge := bytes.Repeat([]byte("a"), maxUploadBytes+1)
	rec := postChat(t, h, defaultFields(), filePart{name: "big.txt", data: huge})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "upload limit")
	assert.NotContains(t, rec.Body.String(), "event:")
	assert.Nil(t, fake.gotTurns, "provider must not be called")
}

func TestChatHandlerRequiresPost(t *testing.T) {
	h := NewHandler(testConfig(t), fakeRegistry{})
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	h.ChatHandler(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigHandler(t *testing.T) {
	h := NewHandler(testConfig(t), fakeRegistry{})
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	h.ConfigHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload frontendConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Contains(t, payload.Providers, "hub")
	assert.Equal(t, []string{"m1", "m2"}, payload.Providers["hub"].Models)
	assert.Equal(t, "m1", payload.Providers["hub"].DefaultModel)
	assert.Equal(t, []string{"default"}, payload.Personas)
}

func TestStatusHandler(t *testing.T) {
	h := NewHandler(testConfig(t), fakeRegistry{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.StatusHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "server_working")
}
