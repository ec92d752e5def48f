package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SSETransport frames JSON-RPC over a one-way server-sent event stream
// plus a companion POST endpoint for requests. The server announces the
// POST endpoint as the first stream event; responses arrive as message
// events matched to pending calls by request ID.
type SSETransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	endpoint     string
	endpointOnce chan struct{}
	endpointSet  sync.Once

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	events    chan *JSONRPCNotification
	nextID    atomic.Int64

	connected atomic.Bool
	cancel    context.CancelFunc
	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSSETransport creates an SSE transport for the configured URL.
func NewSSETransport(cfg *ServerConfig) *SSETransport {
	return &SSETransport{
		config:       cfg,
		logger:       slog.Default().With("mcp_server", cfg.Name, "transport", "sse"),
		client:       &http.Client{},
		endpointOnce: make(chan struct{}),
		pending:      make(map[int64]chan *JSONRPCResponse),
		events:       make(chan *JSONRPCNotification, 100),
		stopChan:     make(chan struct{}),
	}
}

// Connect opens the event stream and waits for the server to announce
// its request endpoint.
func (t *SSETransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("url is required for sse transport")
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.config.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("event stream HTTP %d", resp.StatusCode)
	}

	t.connected.Store(true)
	t.wg.Add(1)
	go t.readLoop(resp.Body)

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}
	select {
	case <-t.endpointOnce:
	case <-time.After(timeout):
		t.Close()
		return fmt.Errorf("server did not announce request endpoint within %v", timeout)
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	}

	t.logger.Info("event stream established", "url", t.config.URL, "endpoint", t.endpoint)
	return nil
}

// Close tears down the stream.
func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)
		if t.cancel != nil {
			t.cancel()
		}
	})
	t.wg.Wait()
	return nil
}

// Call POSTs a request to the companion endpoint and waits for the
// response to arrive over the event stream.
func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrNotConnected
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
	}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	req.Params = paramsJSON

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.post(ctx, req); err != nil {
		return nil, err
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify POSTs a notification to the companion endpoint.
func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrNotConnected
	}

	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	notif.Params = paramsJSON
	return t.post(ctx, notif)
}

func (t *SSETransport) Events() <-chan *JSONRPCNotification {
	return t.events
}

func (t *SSETransport) Connected() bool {
	return t.connected.Load()
}

func (t *SSETransport) post(ctx context.Context, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(data))
	}
	return nil
}

// readLoop parses the event stream: "event:" lines name the event,
// "data:" lines carry it, a blank line dispatches.
func (t *SSETransport) readLoop(body io.ReadCloser) {
	defer t.wg.Done()
	defer body.Close()
	defer t.connected.Store(false)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	eventName := "message"
	var data strings.Builder
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}

		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "":
			if data.Len() > 0 {
				t.dispatchEvent(eventName, data.String())
			}
			eventName = "message"
			data.Reset()
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Error("event stream error", "error", err)
	}
}

func (t *SSETransport) dispatchEvent(name, data string) {
	switch name {
	case "endpoint":
		t.setEndpoint(data)
	default:
		t.processMessage([]byte(data))
	}
}

// setEndpoint resolves the announced request endpoint against the
// stream URL and unblocks Connect.
func (t *SSETransport) setEndpoint(raw string) {
	t.endpointSet.Do(func() {
		endpoint := raw
		if base, err := url.Parse(t.config.URL); err == nil {
			if ref, err := url.Parse(raw); err == nil {
				endpoint = base.ResolveReference(ref).String()
			}
		}
		t.endpoint = endpoint
		close(t.endpointOnce)
	})
}

func (t *SSETransport) processMessage(data []byte) {
	var resp JSONRPCResponse
	if err := json.Unmarshal(data, &resp); err == nil && resp.ID != nil {
		id, ok := numericID(resp.ID)
		if !ok {
			t.logger.Warn("unexpected response ID type", "id", resp.ID)
			return
		}
		t.pendingMu.Lock()
		if ch, found := t.pending[id]; found {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal(data, &notif); err == nil && notif.Method != "" {
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("notification channel full, dropping")
		}
	}
}
