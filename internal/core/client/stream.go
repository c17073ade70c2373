package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jkporter/noond/internal/core/transport"
)

// StreamState is the notification stream lifecycle state.
type StreamState string

const (
	StreamDisconnected StreamState = "disconnected"
	StreamConnecting   StreamState = "connecting"
	StreamConnected    StreamState = "connected"
	StreamFailed       StreamState = "failed"
)

// State returns the current stream state.
func (c *Client) State() StreamState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StreamErrors delivers fatal stream failures. A failure means the
// supervisor gave up: the stream closed too quickly after its connect
// attempt and no further retries will happen.
func (c *Client) StreamErrors() <-chan error {
	return c.fatalCh
}

// Connect starts the background listener on the notification stream. A
// second call while subscribed is a logged no-op, not an error. Stream
// change events dispatch on the listener goroutine; subscribers must be
// safe for that.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		c.log.Error("already attached to event stream")
		return nil
	}
	c.subscribed = true
	c.mu.Unlock()

	if err := c.session.Authenticate(ctx); err != nil {
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()
		return err
	}
	base, err := c.session.Endpoint("notification-ws")
	if err != nil {
		c.mu.Lock()
		c.subscribed = false
		c.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.supervise(runCtx, base+"/api/notifications")
	return nil
}

// Disconnect stops the listener and closes the stream.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	stream := c.stream
	c.subscribed = false
	c.state = StreamDisconnected
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}
}

// supervise owns the listener lifecycle. The close decision is time-keyed:
// a stream that lived shorter than the reconnect threshold is treated as a
// fast-failing connection and escalated instead of hammering the service;
// anything longer-lived earns exactly one automatic reconnect, which
// re-authenticates like a fresh Connect.
func (c *Client) supervise(ctx context.Context, url string) {
	for {
		c.mu.Lock()
		c.state = StreamConnecting
		c.lastAttempt = c.now()
		c.mu.Unlock()

		stream, err := c.dialer.OpenStream(ctx, url, c.session.AuthHeader(), transport.StreamCallbacks{
			OnOpen: func() {
				c.mu.Lock()
				c.state = StreamConnected
				c.mu.Unlock()
				c.log.Info("notification stream connected")
			},
			OnMessage: c.handleStreamMessage,
			OnError: func(err error) {
				// The close handler drives reconnect decisions.
				c.log.Warn("notification stream error", "error", err)
			},
			OnClose: func() {
				c.log.Info("notification stream closed")
			},
		})
		if err != nil {
			c.log.Warn("notification stream dial failed", "error", err)
		} else {
			c.mu.Lock()
			c.stream = stream
			c.mu.Unlock()
			stream.Run(ctx)
		}

		c.mu.Lock()
		c.stream = nil
		elapsed := c.now().Sub(c.lastAttempt)
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.detach(StreamDisconnected)
			return
		}

		if elapsed < c.reconnectThreshold {
			c.detach(StreamFailed)
			c.log.Error("notification stream failed shortly after connecting, giving up",
				"elapsed", elapsed, "threshold", c.reconnectThreshold)
			select {
			case c.fatalCh <- fmt.Errorf("notification stream failed after %s", elapsed):
			default:
			}
			return
		}

		c.setState(StreamDisconnected)
		c.log.Warn("notification stream closed, reconnecting", "elapsed", elapsed)
		if err := c.session.Authenticate(ctx); err != nil {
			c.detach(StreamFailed)
			select {
			case c.fatalCh <- err:
			default:
			}
			return
		}
	}
}

// detach records the supervisor's final state as it exits. subscribed is
// held true for the supervisor's entire lifetime, reconnects included, so a
// concurrent Connect can never start a second supervisor; only exit (or
// Disconnect) releases it.
func (c *Client) detach(s StreamState) {
	c.mu.Lock()
	c.subscribed = false
	c.state = s
	c.mu.Unlock()
}

func (c *Client) setState(s StreamState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// handleStreamMessage parses one inbound frame. Malformed payloads are
// logged and dropped; the stream never dies because of a single bad
// message.
func (c *Client) handleStreamMessage(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		c.log.Warn("dropping malformed stream message", "error", err)
		return
	}

	if event, _ := msg["event"].(string); event != "notification" {
		c.log.Warn("dropping unexpected stream message", "event", msg["event"])
		return
	}

	payload, _ := msg["data"].(map[string]any)
	changes, ok := payload["changes"].([]any)
	if !ok {
		c.log.Warn("notification carried no changes list")
		return
	}

	for _, raw := range changes {
		change, ok := raw.(map[string]any)
		if !ok {
			c.log.Warn("dropping non-object change entry")
			continue
		}
		c.applyChange(change)
	}
}

// applyChange routes one change record to its entity. Unknown GUIDs and
// unrecognized field names are logged and ignored.
func (c *Client) applyChange(change map[string]any) {
	guid, _ := change["guid"].(string)
	ent := c.registry.Lookup(guid)
	if ent == nil {
		c.log.Warn("change for undiscovered entity, dropping", "guid", guid)
		return
	}

	fields, _ := change["fields"].([]any)
	for _, raw := range fields {
		field, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := field["name"].(string)
		if name == "" {
			continue
		}
		if !ent.ApplyChange(name, field["value"]) {
			c.log.Debug("ignoring unwritable change field", "guid", guid, "field", name)
		}
	}
}
