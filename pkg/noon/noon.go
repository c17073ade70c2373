// Package noon is the public API surface for the Noon Home client: cloud
// authentication, topology discovery, the mirrored entity graph, command
// methods, and the live notification stream.
//
// Typical use:
//
//	session := noon.NewSession(noon.SessionConfig{ ... }, tr, nil, log)
//	c := noon.NewClient(noon.ClientConfig{Session: session, ...})
//	if err := c.Authenticate(ctx); err != nil { ... }
//	if err := c.DiscoverDevices(ctx); err != nil { ... }
//	if err := c.Connect(ctx); err != nil { ... }
package noon

import (
	"github.com/jkporter/noond/internal/core/auth"
	"github.com/jkporter/noond/internal/core/client"
	"github.com/jkporter/noond/internal/core/entity"
	"github.com/jkporter/noond/internal/core/transport"
)

// Client drives authentication, discovery, commands and the stream.
type Client = client.Client

// ClientConfig wires a Client.
type ClientConfig = client.Config

// NewClient creates a client around an authenticated session.
var NewClient = client.New

// Session manages the token lifecycle and the endpoint directory.
type Session = auth.Session

// SessionConfig holds cloud endpoints and credentials.
type SessionConfig = auth.Config

// NewSession creates a session. Pass nil for the clock to use time.Now.
var NewSession = auth.NewSession

// Transport is the HTTP client used for cloud calls.
type Transport = transport.Client

// NewTransport creates the HTTP transport.
var NewTransport = transport.NewClient

// WSDialer opens websocket notification streams.
type WSDialer = transport.WSDialer

// NewWSDialer creates a websocket dialer with the given ping keepalive.
var NewWSDialer = transport.NewWSDialer

// Entity graph types.
type (
	Entity   = entity.Entity
	Space    = entity.Space
	Line     = entity.Line
	Device   = entity.Device
	Scene    = entity.Scene
	Registry = entity.Registry
	Event    = entity.Event
	Handler  = entity.Handler
)

// Event types delivered to subscribed handlers.
const (
	EventSceneChanged    = entity.EventSceneChanged
	EventLightsOnChanged = entity.EventLightsOnChanged
	EventDimLevelChanged = entity.EventDimLevelChanged
	EventOnlineChanged   = entity.EventOnlineChanged
	EventBatteryChanged  = entity.EventBatteryChanged
)

// Stream connection states reported by Client.State.
const (
	StreamDisconnected = client.StreamDisconnected
	StreamConnecting   = client.StreamConnecting
	StreamConnected    = client.StreamConnected
	StreamFailed       = client.StreamFailed
)

// Sentinel errors.
var (
	ErrAuthentication    = auth.ErrAuthentication
	ErrInvalidParameters = entity.ErrInvalidParameters
	ErrInvalidJSON       = entity.ErrInvalidJSON
)
