// Package client is the coordinating facade: it composes the session
// manager, the entity registry and the stream supervisor, and is the single
// object integration code talks to.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jkporter/noond/internal/core/auth"
	"github.com/jkporter/noond/internal/core/entity"
	"github.com/jkporter/noond/internal/core/transport"
)

// discoveryQuery is the hand-authored GraphQL document posted to the query
// endpoint. Opaque to the rest of the client.
const discoveryQuery = `{spaces {guid name lightsOn activeScene{guid name} devices{guid serial name isOnline isMaster scenesAllowed softwareVersion batteryLevel capabilities base line{guid lineState displayName dimmingLevel}} scenes{name guid}}}`

// HTTPTransport is the slice of the transport the facade needs for
// one-shot requests.
type HTTPTransport interface {
	PostJSON(ctx context.Context, url string, headers map[string]string, body any) (map[string]any, error)
	GetJSON(ctx context.Context, url string, headers map[string]string) (map[string]any, error)
}

// Config wires a Client.
type Config struct {
	Session *auth.Session
	HTTP    HTTPTransport
	Dialer  transport.StreamDialer

	// ReconnectThreshold is the fast-fail window: a stream that closes
	// sooner than this after its connect attempt is treated as fatally
	// broken rather than retried. Zero selects 30s.
	ReconnectThreshold time.Duration

	// Now is injectable for tests; nil selects time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Client is the Noon facade.
type Client struct {
	session  *auth.Session
	http     HTTPTransport
	dialer   transport.StreamDialer
	registry *entity.Registry
	log      *slog.Logger
	now      func() time.Time

	reconnectThreshold time.Duration

	mu          sync.Mutex
	state       StreamState
	subscribed  bool
	stream      transport.Stream
	cancel      context.CancelFunc
	lastAttempt time.Time

	tid     atomic.Int64
	fatalCh chan error
}

// New creates a client around an authenticated session.
func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	threshold := cfg.ReconnectThreshold
	if threshold <= 0 {
		threshold = 30 * time.Second
	}

	return &Client{
		session:            cfg.Session,
		http:               cfg.HTTP,
		dialer:             cfg.Dialer,
		registry:           entity.NewRegistry(log),
		log:                log,
		now:                now,
		reconnectThreshold: threshold,
		state:              StreamDisconnected,
		fatalCh:            make(chan error, 1),
	}
}

// Authenticate ensures a usable token and endpoint directory. Idempotent.
func (c *Client) Authenticate(ctx context.Context) error {
	return c.session.Authenticate(ctx)
}

// DiscoverDevices fetches the account topology and builds the entity graph.
// Entities register on construction; GUIDs already registered from an
// earlier call keep their first registration. The first malformed entity
// aborts the whole call.
func (c *Client) DiscoverDevices(ctx context.Context) error {
	if err := c.session.Authenticate(ctx); err != nil {
		return err
	}
	base, err := c.session.Endpoint("query")
	if err != nil {
		return err
	}

	headers := c.session.AuthHeader()
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/graphql"

	result, err := c.http.PostJSON(ctx, base+"/api/query", headers, discoveryQuery)
	if err != nil {
		return fmt.Errorf("discovery request: %w", err)
	}

	spaces, ok := result["spaces"].([]any)
	if !ok {
		return fmt.Errorf("discovery response has no spaces list: %w", entity.ErrInvalidJSON)
	}

	for _, raw := range spaces {
		obj, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("discovery space entry is not an object: %w", entity.ErrInvalidJSON)
		}
		space, err := entity.SpaceFromJSON(c.registry, c, obj, c.log)
		if err != nil {
			return err
		}
		c.log.Info("discovered space", "name", space.Name(), "guid", space.GUID())
	}
	return nil
}

// Registry exposes the entity registry for lookups.
func (c *Client) Registry() *entity.Registry { return c.registry }

// Spaces returns all discovered spaces.
func (c *Client) Spaces() []*entity.Space { return c.registry.Spaces() }

// Lines returns all discovered lines.
func (c *Client) Lines() []*entity.Line { return c.registry.Lines() }

// Devices returns all discovered devices.
func (c *Client) Devices() []*entity.Device { return c.registry.Devices() }

// --- entity.Commander ---

// SetLineLevel posts a light-level action for a line, re-authenticating
// first.
func (c *Client) SetLineLevel(lineGUID string, level int) error {
	body := map[string]any{
		"line":       lineGUID,
		"lightLevel": level,
		"tid":        c.tid.Add(1),
	}
	return c.postAction(context.Background(), "/api/action/line/lightLevel", body)
}

// SetSceneActive posts a scene activation action for a space.
func (c *Client) SetSceneActive(spaceGUID, sceneGUID string, active bool) error {
	body := map[string]any{
		"space":       spaceGUID,
		"activeScene": sceneGUID,
		"on":          active,
		"tid":         c.tid.Add(1),
	}
	return c.postAction(context.Background(), "/api/action/space/scene", body)
}

func (c *Client) postAction(ctx context.Context, path string, body map[string]any) error {
	if err := c.session.Authenticate(ctx); err != nil {
		return err
	}
	base, err := c.session.Endpoint("action")
	if err != nil {
		return err
	}
	if _, err := c.http.PostJSON(ctx, base+path, c.session.AuthHeader(), body); err != nil {
		return fmt.Errorf("action %s: %w", path, err)
	}
	return nil
}
