package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkporter/noond/internal/core/auth"
	"github.com/jkporter/noond/internal/core/transport"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeStream simulates a connection that lives for a fixed span of fake
// time: Run signals open, advances the clock, and returns as if the server
// closed the connection.
type fakeStream struct {
	clock    *fakeClock
	lifetime time.Duration
	hold     bool // block until ctx cancel instead of timed close
	cb       transport.StreamCallbacks
	done     chan struct{}
}

func (s *fakeStream) Run(ctx context.Context) {
	defer close(s.done)
	if s.cb.OnOpen != nil {
		s.cb.OnOpen()
	}
	if s.hold {
		<-ctx.Done()
	} else {
		s.clock.advance(s.lifetime)
	}
	if s.cb.OnClose != nil {
		s.cb.OnClose()
	}
}

func (s *fakeStream) Close() error { return nil }

type fakeDialer struct {
	mu      sync.Mutex
	t       *testing.T
	clock   *fakeClock
	queue   []*fakeStream
	dials   []httpCall
	dialErr error
}

func (d *fakeDialer) dialed() []httpCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]httpCall(nil), d.dials...)
}

func (d *fakeDialer) enqueue(lifetime time.Duration, hold bool) *fakeStream {
	s := &fakeStream{clock: d.clock, lifetime: lifetime, hold: hold, done: make(chan struct{})}
	d.mu.Lock()
	d.queue = append(d.queue, s)
	d.mu.Unlock()
	return s
}

func (d *fakeDialer) OpenStream(_ context.Context, url string, headers map[string]string, cb transport.StreamCallbacks) (transport.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, httpCall{url: url, headers: headers})
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if len(d.queue) == 0 {
		d.t.Errorf("unexpected extra dial to %s", url)
		return nil, errors.New("no stream queued")
	}
	s := d.queue[0]
	d.queue = d.queue[1:]
	s.cb = cb
	return s, nil
}

// t lets OpenStream fail the test on unexpected dials.
func (d *fakeDialer) bind(t *testing.T) { d.t = t }

func newStreamClient(t *testing.T) (*Client, *fakeDialer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	dialer := &fakeDialer{clock: clock}
	dialer.bind(t)
	http := newFakeHTTP()
	c := newTestClient(t, http, func(cfg *Config) {
		cfg.Dialer = dialer
		cfg.Now = clock.now
		cfg.ReconnectThreshold = 30 * time.Second
	})
	return c, dialer, clock
}

func waitFatal(t *testing.T, c *Client) error {
	t.Helper()
	select {
	case err := <-c.StreamErrors():
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fatal stream error")
		return nil
	}
}

func TestStreamFastCloseIsFatal(t *testing.T) {
	c, dialer, _ := newStreamClient(t)
	dialer.enqueue(5*time.Second, false)

	require.NoError(t, c.Connect(context.Background()))
	err := waitFatal(t, c)

	assert.Error(t, err)
	assert.Equal(t, StreamFailed, c.State())
	dials := dialer.dialed()
	require.Len(t, dials, 1)
	assert.Equal(t, notifyBase+"/api/notifications", dials[0].url)
	assert.Equal(t, "Token tok-1", dials[0].headers["Authorization"])
}

func TestStreamLongLivedCloseReconnectsOnce(t *testing.T) {
	c, dialer, _ := newStreamClient(t)
	// first connection lives past the threshold, the retry dies fast
	dialer.enqueue(60*time.Second, false)
	dialer.enqueue(5*time.Second, false)

	require.NoError(t, c.Connect(context.Background()))
	err := waitFatal(t, c)

	assert.Error(t, err)
	assert.Equal(t, StreamFailed, c.State())
	dials := dialer.dialed()
	require.Len(t, dials, 2)
	assert.Equal(t, dials[0].url, dials[1].url)
}

func TestStreamStaysAttachedAcrossReconnect(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	dialer := &fakeDialer{clock: clock}
	dialer.bind(t)

	// a short token lifetime makes the reconnect path renew the session
	http := newFakeHTTP()
	http.responses[loginURL] = map[string]any{"token": "tok-1", "lifetime": float64(60), "renewLifetime": float64(86400)}
	http.responses[renewURL] = map[string]any{"token": "tok-2", "lifetime": float64(3600), "renewLifetime": float64(86400)}

	session := auth.NewSession(auth.Config{
		LoginURL: loginURL,
		RenewURL: renewURL,
		DexURL:   dexURL,
		Username: "user@example.test",
		Password: "hunter2",
	}, http, clock.now, slog.Default())
	c := New(Config{
		Session:            session,
		HTTP:               http,
		Dialer:             dialer,
		Now:                clock.now,
		ReconnectThreshold: 30 * time.Second,
		Logger:             slog.Default(),
	})

	attachedDuringRenew := make(chan bool, 1)
	http.onRequest = func(url string) {
		if url != renewURL {
			return
		}
		c.mu.Lock()
		attached := c.subscribed
		c.mu.Unlock()
		select {
		case attachedDuringRenew <- attached:
		default:
		}
	}

	dialer.enqueue(60*time.Second, false)
	dialer.enqueue(5*time.Second, false)

	require.NoError(t, c.Connect(context.Background()))
	require.Error(t, waitFatal(t, c))

	select {
	case attached := <-attachedDuringRenew:
		assert.True(t, attached, "a Connect racing the reconnect could start a second listener")
	default:
		t.Fatal("reconnect never renewed the session")
	}

	dials := dialer.dialed()
	require.Len(t, dials, 2)
	assert.Equal(t, "Token tok-1", dials[0].headers["Authorization"])
	assert.Equal(t, "Token tok-2", dials[1].headers["Authorization"])
}

func TestStreamDialFailureIsFatal(t *testing.T) {
	c, dialer, _ := newStreamClient(t)
	dialer.dialErr = errors.New("no route to host")

	require.NoError(t, c.Connect(context.Background()))
	err := waitFatal(t, c)

	assert.Error(t, err)
	assert.Equal(t, StreamFailed, c.State())
}

func TestStreamDisconnect(t *testing.T) {
	c, dialer, _ := newStreamClient(t)
	stream := dialer.enqueue(0, true)

	require.NoError(t, c.Connect(context.Background()))

	// wait for the listener to actually attach
	require.Eventually(t, func() bool {
		return c.State() == StreamConnected
	}, 5*time.Second, 10*time.Millisecond)

	c.Disconnect()

	select {
	case <-stream.done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not shut down")
	}
	require.Eventually(t, func() bool {
		return c.State() == StreamDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case err := <-c.StreamErrors():
		t.Fatalf("unexpected fatal error after clean disconnect: %v", err)
	default:
	}
}

func TestStreamConnectTwiceIsNoOp(t *testing.T) {
	c, dialer, _ := newStreamClient(t)
	dialer.enqueue(0, true)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return c.State() == StreamConnected
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, dialer.dialed(), 1)

	c.Disconnect()
}
