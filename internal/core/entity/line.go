package entity

import (
	"fmt"
	"log/slog"
	"reflect"
)

// Line is an individually dimmable/switchable circuit within a space.
type Line struct {
	base

	// lineState is tri-state: true/false once observed, nil when unknown.
	// The wire sends "on"/"off" strings which coerce to bool; any other
	// value passes through unchanged.
	lineState    any
	dimmingLevel *int

	space *Space // non-owning back-reference
}

var lineFields = map[string]func(*Line, any){
	"lineState":    (*Line).SetLineState,
	"dimmingLevel": (*Line).SetDimmingLevel,
}

// NewLine creates a line and registers it before any property write.
func NewLine(reg *Registry, noon Commander, guid, name string, space *Space, log *slog.Logger) *Line {
	l := &Line{space: space}
	l.base = newBase(l, noon, guid, name, log)
	reg.Register(l)
	return l
}

// Space returns the parent space.
func (l *Line) Space() *Space { return l.space }

// LineState returns the observed line state: bool once coerced, the raw
// value for anything the coercion passed through, nil when unknown.
func (l *Line) LineState() any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lineState
}

// DimmingLevel returns the dim level percent, nil when unknown.
func (l *Line) DimmingLevel() *int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dimmingLevel
}

// SetLineState stores the line state, dispatching EventLightsOnChanged when
// the coerced value changed. "on" and "off" coerce to bool before the
// comparison so a string replay of the same state stays quiet. A transition
// to null dispatches with a nil value.
func (l *Line) SetLineState(value any) {
	actual := value
	switch value {
	case "on":
		actual = true
	case "off":
		actual = false
	}

	l.mu.Lock()
	changed := !lineStateEqual(l.lineState, actual)
	l.lineState = actual
	l.mu.Unlock()

	if changed {
		l.dispatch(EventLightsOnChanged, map[string]any{"lineState": actual})
	}
}

// SetDimmingLevel stores the dim level percent, dispatching
// EventDimLevelChanged when it changed. JSON numbers arrive as float64.
func (l *Line) SetDimmingLevel(value any) {
	next, ok := toIntPtr(value)
	if !ok {
		l.log.Warn("line: unexpected dimmingLevel value", "guid", l.guid, "value", value)
		return
	}

	l.mu.Lock()
	changed := !intPtrEqual(l.dimmingLevel, next)
	l.dimmingLevel = next
	l.mu.Unlock()

	if changed {
		l.dispatch(EventDimLevelChanged, map[string]any{"dimLevel": intPtrParam(next)})
	}
}

// ApplyChange implements Entity.
func (l *Line) ApplyChange(field string, value any) bool {
	set, ok := lineFields[field]
	if !ok {
		return false
	}
	set(l, value)
	return true
}

// SetBrightness sets the line to the given percent (0-100), after
// re-authenticating.
func (l *Line) SetBrightness(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("brightness %d out of range: %w", percent, ErrInvalidParameters)
	}
	return l.noon.SetLineLevel(l.guid, percent)
}

// TurnOn restores the line to its last dim level, or full brightness when
// no level has been observed.
func (l *Line) TurnOn() error {
	level := 100
	if dl := l.DimmingLevel(); dl != nil && *dl > 0 {
		level = *dl
	}
	return l.SetBrightness(level)
}

// TurnOff switches the line off.
func (l *Line) TurnOff() error {
	return l.SetBrightness(0)
}

func (l *Line) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("Line %q state: %v, dim level: %v", l.name, l.lineState, l.dimmingLevel)
}

// lineStateEqual compares two stored line states. The pass-through branch of
// the coercion admits arbitrary JSON values, so values of a non-comparable
// dynamic type (objects, arrays) must never reach ==; they count as changed.
func lineStateEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

// intPtrParam renders an optional int as an event param value.
func intPtrParam(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func toIntPtr(value any) (*int, bool) {
	switch v := value.(type) {
	case nil:
		return nil, true
	case int:
		return &v, true
	case float64:
		n := int(v)
		return &n, true
	default:
		return nil, false
	}
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
