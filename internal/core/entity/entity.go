// Package entity models the Noon topology: spaces, lines, devices and
// scenes, each keyed by the GUID the service issued for it. Entities hold
// the latest observed state and a subscriber list; property writes dispatch
// a change event to subscribers only when the stored value actually changed,
// so replaying a discovery response is quiet.
package entity

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies entity change events.
type EventType string

const (
	EventSceneChanged    EventType = "scene_changed"
	EventLightsOnChanged EventType = "lightson_changed"
	EventDimLevelChanged EventType = "dimlevel_changed"
	EventOnlineChanged   EventType = "online_changed"
	EventBatteryChanged  EventType = "battery_changed"
)

// Event represents a single entity state change.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Params    map[string]any `json:"params,omitempty"`
}

// Handler is a subscriber callback. Dispatch is synchronous on whichever
// goroutine applied the change: the caller's goroutine during discovery, the
// stream listener for server-pushed notifications. Handlers that touch shared
// state must be safe to call from either.
type Handler func(e Entity, context any, evt Event)

// Entity is implemented by Space, Line, Device and Scene.
type Entity interface {
	GUID() string
	Name() string
	Subscribe(h Handler, context any)

	// ApplyChange applies a field from a change notification. It reports
	// whether the field names a writable property of this entity kind.
	ApplyChange(field string, value any) bool
}

// Commander issues control requests on behalf of entity command methods.
// The client facade implements it; it re-authenticates before every request.
type Commander interface {
	SetLineLevel(lineGUID string, level int) error
	SetSceneActive(spaceGUID, sceneGUID string, active bool) error
}

type subscriber struct {
	handler Handler
	context any
}

// base carries the state common to every entity kind. The mutex guards the
// entity's own mutable state and subscriber list; it is never held across a
// subscriber callback.
type base struct {
	mu    sync.Mutex
	guid  string
	name  string
	subs  []subscriber
	noon  Commander
	log   *slog.Logger
	kself Entity // the concrete entity, for dispatch
}

func newBase(self Entity, noon Commander, guid, name string, log *slog.Logger) base {
	if log == nil {
		log = slog.Default()
	}
	return base{guid: guid, name: name, noon: noon, log: log, kself: self}
}

// GUID returns the entity's unique ID, immutable after creation.
func (b *base) GUID() string { return b.guid }

// Name returns the entity's display name.
func (b *base) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

// Subscribe registers a handler for change events from this entity. The
// subscriber list is append-only for the entity's lifetime.
func (b *base) Subscribe(h Handler, context any) {
	b.mu.Lock()
	b.subs = append(b.subs, subscriber{handler: h, context: context})
	b.mu.Unlock()
}

// dispatch delivers evt to every subscriber. Callers must not hold b.mu.
func (b *base) dispatch(evt EventType, params map[string]any) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	e := Event{Type: evt, Timestamp: time.Now(), Params: params}
	for _, s := range subs {
		s.handler(b.kself, s.context, e)
	}
}
