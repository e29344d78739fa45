package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"chatrelay/internal/chat"
)

// ProviderClient is the capability every provider adapter implements. Model
// listing is served from the static configuration; StreamChat performs one
// streaming completion, delivering the uniform event sequence through fn.
//
// StreamChat maps every upstream failure to a terminal Error event rather
// than a returned error. It returns non-nil only when ctx was cancelled (no
// further events are emitted) or when fn itself failed, meaning the
// downstream consumer is gone.
type ProviderClient interface {
	Models() []string
	DefaultModel() string
	StreamChat(ctx context.Context, model string, turns []chat.Turn, fn func(StreamEvent) error) error
}

// Client is the shared base for provider adapters.
type Client struct {
	name         string
	base         *url.URL
	http         *http.Client
	apiKey       string
	models       []string
	defaultModel string
	idle         time.Duration
}

// ClientConfig holds what a concrete adapter needs from the provider table.
type ClientConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	Models       []string
	DefaultModel string
	IdleTimeout  time.Duration
}

func newClient(cc ClientConfig) (Client, error) {
	base, err := url.Parse(cc.BaseURL)
	if err != nil {
		return Client{}, fmt.Errorf("client: parse base url %q: %w", cc.BaseURL, err)
	}
	return Client{
		name:         cc.Name,
		base:         base,
		http:         &http.Client{},
		apiKey:       cc.APIKey,
		models:       cc.Models,
		defaultModel: cc.DefaultModel,
		idle:         cc.IdleTimeout,
	}, nil
}

func (c *Client) Models() []string {
	return c.models
}

func (c *Client) DefaultModel() string {
	return c.defaultModel
}

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: joinPath(c.base.Path, path)}).String()
}

func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return base + path
}

// errStopStream tells streamLines the adapter saw its terminator and no
// further upstream output should be read.
var errStopStream = errors.New("stop stream")

// errIdleTimeout marks a stream that produced no data within the idle window.
var errIdleTimeout = errors.New("idle timeout")

// httpError is a non-2xx upstream response received before any stream data.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// streamLines POSTs payload and feeds each response line to onLine; both the
// SSE and NDJSON upstreams are line protocols. An idle watchdog cancels the
// request when no line arrives within the configured window.
func (c *Client) streamLines(ctx context.Context, requestURL string, payload any, header http.Header, onLine func([]byte) error) error {
	bts, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	streamCtx := ctx
	var timedOut atomic.Bool
	var watchdog *time.Timer
	if c.idle > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		watchdog = time.AfterFunc(c.idle, func() {
			timedOut.Store(true)
			cancel()
		})
		defer watchdog.Stop()
	}

	request, err := http.NewRequestWithContext(streamCtx, http.MethodPost, requestURL, bytes.NewBuffer(bts))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			request.Header.Set(k, v)
		}
	}

	response, err := c.http.Do(request)
	if err != nil {
		if timedOut.Load() {
			return errIdleTimeout
		}
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return &httpError{status: response.StatusCode, body: string(bytes.TrimSpace(excerpt))}
	}

	scanner := bufio.NewScanner(response.Body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 512*1024)
	for scanner.Scan() {
		if watchdog != nil {
			watchdog.Reset(c.idle)
		}
		if err := onLine(scanner.Bytes()); err != nil {
			if errors.Is(err, errStopStream) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if timedOut.Load() {
			return errIdleTimeout
		}
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

// upstreamMessage renders an adapter failure as the user-visible text carried
// by the terminal error event.
func upstreamMessage(name string, err error) string {
	var he *httpError
	switch {
	case errors.As(err, &he):
		if he.status == http.StatusUnauthorized || he.status == http.StatusForbidden {
			return fmt.Sprintf("Authentication rejected by %s: Status=%d", name, he.status)
		}
		return fmt.Sprintf("API Error from %s: Status=%d, Message=%s", name, he.status, he.body)
	case errors.Is(err, errIdleTimeout):
		return fmt.Sprintf("No data received from %s within the idle window", name)
	default:
		return fmt.Sprintf("Connection Error for %s: %v", name, err)
	}
}

// emitter tracks terminal-event bookkeeping for one stream so adapters emit
// at most one End or Error.
type emitter struct {
	fn      func(StreamEvent) error
	ended   bool
	sendErr error
}

func (e *emitter) emit(ev StreamEvent) error {
	if e.ended {
		return errStopStream
	}
	if ev.Kind != EventChunk {
		e.ended = true
	}
	if err := e.fn(ev); err != nil {
		e.sendErr = err
		return err
	}
	return nil
}

// finish converts the streamLines result into the adapter's terminal event.
// Called once after the read loop returns.
func (e *emitter) finish(ctx context.Context, name string, err error) error {
	if e.sendErr != nil {
		return e.sendErr
	}
	if ctx.Err() != nil {
		// Downstream is gone; emit nothing further.
		return ctx.Err()
	}
	if err != nil {
		if e.ended {
			return nil
		}
		if emitErr := e.emit(ErrorEvent(upstreamMessage(name, err))); emitErr != nil && !errors.Is(emitErr, errStopStream) {
			return emitErr
		}
		return nil
	}
	if !e.ended {
		if emitErr := e.emit(End()); emitErr != nil && !errors.Is(emitErr, errStopStream) {
			return emitErr
		}
	}
	return nil
}
