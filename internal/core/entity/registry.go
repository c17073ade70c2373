package entity

import (
	"log/slog"
	"sync"
)

// Registry owns the canonical GUID-to-entity mapping across all kinds. It is
// safe for concurrent use from the caller's goroutine (discovery) and the
// stream listener (change routing).
//
// Registration is first-writer-wins: a second entity claiming an existing
// GUID is silently ignored, so replaying a discovery response never clobbers
// a live entity or its subscriber list. The spare object stays constructed
// but unreachable and receives no change notifications. There is no
// deletion; entities live for the process lifetime.
type Registry struct {
	mu      sync.Mutex
	all     map[string]Entity
	spaces  map[string]*Space
	lines   map[string]*Line
	devices map[string]*Device
	scenes  map[string]*Scene
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		all:     make(map[string]Entity),
		spaces:  make(map[string]*Space),
		lines:   make(map[string]*Line),
		devices: make(map[string]*Device),
		scenes:  make(map[string]*Scene),
		log:     log,
	}
}

// Register inserts e into the flat map and its kind map, unless the GUID is
// already present.
func (r *Registry) Register(e Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.all[e.GUID()]; ok {
		if existing.Name() != e.Name() {
			r.log.Debug("entity already registered under this GUID, keeping first",
				"guid", e.GUID(), "existing", existing.Name(), "new", e.Name())
		}
		return
	}

	r.all[e.GUID()] = e
	switch v := e.(type) {
	case *Space:
		r.spaces[v.GUID()] = v
	case *Line:
		r.lines[v.GUID()] = v
	case *Device:
		r.devices[v.GUID()] = v
	case *Scene:
		r.scenes[v.GUID()] = v
	}
}

// Lookup returns the entity registered under guid, or nil.
func (r *Registry) Lookup(guid string) Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all[guid]
}

// Space returns the space registered under guid, or nil.
func (r *Registry) Space(guid string) *Space {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spaces[guid]
}

// Line returns the line registered under guid, or nil.
func (r *Registry) Line(guid string) *Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines[guid]
}

// Device returns the device registered under guid, or nil.
func (r *Registry) Device(guid string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[guid]
}

// Scene returns the scene registered under guid, or nil.
func (r *Registry) Scene(guid string) *Scene {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scenes[guid]
}

// Spaces returns all registered spaces.
func (r *Registry) Spaces() []*Space {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Space, 0, len(r.spaces))
	for _, s := range r.spaces {
		out = append(out, s)
	}
	return out
}

// Lines returns all registered lines.
func (r *Registry) Lines() []*Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Line, 0, len(r.lines))
	for _, l := range r.lines {
		out = append(out, l)
	}
	return out
}

// Devices returns all registered devices.
func (r *Registry) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}
