package entity

import (
	"fmt"
	"log/slog"
	"strings"
)

// Space is a controllable area (e.g. a room) aggregating lines, devices and
// scenes. It owns its children; the registry holds non-owning references.
type Space struct {
	base

	lightsOn    *bool
	activeScene string

	scenes  map[string]*Scene
	lines   map[string]*Line
	devices map[string]*Device
}

// spaceFields is the static change dispatch table: writable field name to
// setter. Built once, consulted by ApplyChange.
var spaceFields = map[string]func(*Space, any){
	"lightsOn":    (*Space).SetLightsOn,
	"activeScene": (*Space).SetActiveScene,
}

// NewSpace creates a space and registers it before any property write, so a
// change notification arriving during construction can already resolve it.
func NewSpace(reg *Registry, noon Commander, guid, name string, log *slog.Logger) *Space {
	s := &Space{
		scenes:  make(map[string]*Scene),
		lines:   make(map[string]*Line),
		devices: make(map[string]*Device),
	}
	s.base = newBase(s, noon, guid, name, log)
	reg.Register(s)
	return s
}

// LightsOn reports whether any line in the space is on; nil when unknown.
func (s *Space) LightsOn() *bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lightsOn
}

// ActiveScene returns the GUID of the active scene, "" when none.
func (s *Space) ActiveScene() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeScene
}

// Scenes returns the scenes owned by this space.
func (s *Space) Scenes() []*Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Scene, 0, len(s.scenes))
	for _, sc := range s.scenes {
		out = append(out, sc)
	}
	return out
}

// Lines returns the lines owned by this space.
func (s *Space) Lines() []*Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Line, 0, len(s.lines))
	for _, l := range s.lines {
		out = append(out, l)
	}
	return out
}

// Devices returns the devices owned by this space.
func (s *Space) Devices() []*Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

// SetLightsOn stores the lights-on flag, dispatching EventLightsOnChanged
// when the value changed. Accepts a bool or nil (unknown); a transition to
// nil dispatches with a nil value.
func (s *Space) SetLightsOn(value any) {
	var next *bool
	if b, ok := value.(bool); ok {
		next = &b
	} else if value != nil {
		s.log.Warn("space: unexpected lightsOn value", "guid", s.guid, "value", value)
		return
	}

	s.mu.Lock()
	changed := !boolPtrEqual(s.lightsOn, next)
	s.lightsOn = next
	s.mu.Unlock()

	if changed {
		var param any
		if next != nil {
			param = *next
		}
		s.dispatch(EventLightsOnChanged, map[string]any{"lightsOn": param})
	}
}

// SetActiveScene stores the active scene GUID. The value may be a raw GUID
// string or a {"guid": ...} object; both normalize before comparison. A GUID
// that does not resolve within this space's own scene map is logged and
// ignored, leaving state untouched.
func (s *Space) SetActiveScene(value any) {
	guid, ok := normalizeSceneRef(value)
	if !ok {
		if value != nil {
			s.log.Warn("space: unexpected activeScene value", "guid", s.guid, "value", value)
		}
		return
	}

	s.mu.Lock()
	if _, known := s.scenes[guid]; !known {
		s.mu.Unlock()
		s.log.Warn("space: activeScene references unknown scene, ignoring",
			"guid", s.guid, "scene", guid)
		return
	}
	changed := s.activeScene != guid
	s.activeScene = guid
	s.mu.Unlock()

	if changed {
		s.dispatch(EventSceneChanged, map[string]any{"sceneId": guid})
	}
}

// ApplyChange implements Entity.
func (s *Space) ApplyChange(field string, value any) bool {
	set, ok := spaceFields[field]
	if !ok {
		return false
	}
	set(s, value)
	return true
}

// SceneByIDOrName resolves a scene by GUID first, then by case-insensitive
// name within this space.
func (s *Space) SceneByIDOrName(idOrName string) *Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scenes[idOrName]; ok {
		return sc
	}
	for _, sc := range s.scenes {
		if strings.EqualFold(sc.Name(), idOrName) {
			return sc
		}
	}
	return nil
}

// ActivateScene turns the current scene on.
func (s *Space) ActivateScene() error {
	return s.SetSceneActive(true, "")
}

// DeactivateScene turns the current scene off.
func (s *Space) DeactivateScene() error {
	return s.SetSceneActive(false, "")
}

// SetSceneActive activates or deactivates a scene. sceneIDOrName may be a
// scene GUID, a scene name, or "" for the currently active scene. The
// request re-authenticates before it is issued.
func (s *Space) SetSceneActive(active bool, sceneIDOrName string) error {
	target := sceneIDOrName
	if target == "" {
		target = s.ActiveScene()
	}
	if target == "" {
		return fmt.Errorf("space %q has no active scene: %w", s.Name(), ErrInvalidParameters)
	}

	sc := s.SceneByIDOrName(target)
	if sc == nil {
		return fmt.Errorf("space %q has no scene %q: %w", s.Name(), target, ErrInvalidParameters)
	}
	return s.noon.SetSceneActive(s.guid, sc.GUID(), active)
}

func (s *Space) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("Space %q active scene: %s, lights on: %v", s.name, s.activeScene, s.lightsOn)
}

// normalizeSceneRef accepts either a GUID string or a {"guid": ...} object.
func normalizeSceneRef(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		guid, ok := v["guid"].(string)
		return guid, ok && guid != ""
	default:
		return "", false
	}
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
