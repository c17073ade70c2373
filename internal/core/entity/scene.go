package entity

import (
	"fmt"
	"log/slog"
)

// Scene is a named, stored lighting configuration within a space. It carries
// no mutable state beyond its name.
type Scene struct {
	base
	space *Space // non-owning back-reference
}

// NewScene creates a scene and registers it.
func NewScene(reg *Registry, noon Commander, guid, name string, space *Space, log *slog.Logger) *Scene {
	s := &Scene{space: space}
	s.base = newBase(s, noon, guid, name, log)
	reg.Register(s)
	return s
}

// Space returns the parent space.
func (s *Scene) Space() *Space { return s.space }

// ApplyChange implements Entity. Scenes have no writable fields.
func (s *Scene) ApplyChange(string, any) bool { return false }

func (s *Scene) String() string {
	return fmt.Sprintf("Scene %q id: %s", s.Name(), s.guid)
}
