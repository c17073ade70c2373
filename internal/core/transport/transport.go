// Package transport carries the wire-level plumbing: JSON-over-HTTP request
// helpers for the Noon REST endpoints and the websocket dialer for the
// notification stream. Nothing here understands the entity model; callers
// get decoded JSON and raw stream payloads.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client issues JSON HTTP requests against the Noon cloud endpoints.
type Client struct {
	http *http.Client
	log  *slog.Logger
}

// NewClient creates an HTTP transport with a bounded request timeout. The
// original client inherited its library's unbounded default; 15s matches the
// handshake budget used on the stream side.
func NewClient(log *slog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log,
	}
}

// PostJSON posts body to url and decodes the JSON response. A string body is
// sent verbatim (the discovery query is a raw GraphQL document); anything
// else is JSON-encoded.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, body any) (map[string]any, error) {
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("transport: encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// GetJSON issues a GET against url and decodes the JSON response.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug("transport: non-2xx response", "url", req.URL.String(), "status", resp.Status)
		return nil, fmt.Errorf("transport: %s %s: HTTP %d", req.Method, req.URL, resp.StatusCode)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("transport: decode response: %w", err)
	}
	return decoded, nil
}

// --- Notification stream ---

// StreamCallbacks are delivered from the stream's own goroutine.
type StreamCallbacks struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Stream is a live notification connection. Run blocks until the connection
// closes, driving the callbacks; Close tears the connection down.
type Stream interface {
	Run(ctx context.Context)
	Close() error
}

// StreamDialer opens notification streams.
type StreamDialer interface {
	OpenStream(ctx context.Context, url string, headers map[string]string, cb StreamCallbacks) (Stream, error)
}

// WSDialer opens websocket notification streams with keepalive pings.
type WSDialer struct {
	keepalive time.Duration
	log       *slog.Logger
}

// NewWSDialer creates a websocket dialer. keepalive is the ping interval;
// zero selects the 30s default.
func NewWSDialer(keepalive time.Duration, log *slog.Logger) *WSDialer {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &WSDialer{keepalive: keepalive, log: log}
}

// OpenStream dials url (http(s) schemes are rewritten to ws(s)) with the
// given headers.
func (d *WSDialer) OpenStream(ctx context.Context, url string, headers map[string]string, cb StreamCallbacks) (Stream, error) {
	wsURL := url
	if strings.HasPrefix(wsURL, "https://") {
		wsURL = "wss://" + wsURL[len("https://"):]
	} else if strings.HasPrefix(wsURL, "http://") {
		wsURL = "ws://" + wsURL[len("http://"):]
	}

	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: HTTP %d: %w", wsURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", wsURL, err)
	}

	d.log.Debug("transport: stream connected", "url", wsURL)
	return &wsStream{ws: ws, cb: cb, keepalive: d.keepalive, log: d.log}, nil
}

type wsStream struct {
	ws        *websocket.Conn
	cb        StreamCallbacks
	keepalive time.Duration
	log       *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Run drives the stream until the connection drops or ctx is cancelled.
// OnOpen fires first, OnMessage per inbound frame, OnError for transport
// errors, and OnClose exactly once at the end.
func (s *wsStream) Run(ctx context.Context) {
	if s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}

	s.ws.SetReadDeadline(time.Now().Add(2 * s.keepalive))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(2 * s.keepalive))
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			break
		}
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && s.cb.OnError != nil {
				s.cb.OnError(err)
			}
			break
		}
		s.ws.SetReadDeadline(time.Now().Add(2 * s.keepalive))
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(data)
		}
	}

	s.Close()
	if s.cb.OnClose != nil {
		s.cb.OnClose()
	}
}

func (s *wsStream) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debug("transport: keepalive ping failed", "error", err)
				s.Close()
				return
			}
		}
	}
}

// Close closes the underlying connection; safe to call more than once.
func (s *wsStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ws.Close()
	})
	return err
}
