package entity

import (
	"fmt"
	"log/slog"
)

// Device is a physical switch unit (Room Director or Extension) associated
// with a line. The line is held by GUID and resolved lazily through the
// registry, keeping ownership acyclic.
type Device struct {
	base

	serial          string
	capabilities    map[string]any
	batteryLevel    *int
	baseConfig      map[string]any
	lineGUID        string
	scenesAllowed   bool
	isMaster        bool
	isOnline        bool
	softwareVersion string

	space    *Space // non-owning back-reference
	registry *Registry
}

var deviceFields = map[string]func(*Device, any){
	"isOnline":        (*Device).SetIsOnline,
	"batteryLevel":    (*Device).SetBatteryLevel,
	"softwareVersion": (*Device).SetSoftwareVersion,
}

// NewDevice creates a device and registers it before any property write.
func NewDevice(reg *Registry, noon Commander, guid, name string, space *Space, log *slog.Logger) *Device {
	d := &Device{space: space, registry: reg}
	d.base = newBase(d, noon, guid, name, log)
	reg.Register(d)
	return d
}

// Space returns the parent space.
func (d *Device) Space() *Space { return d.space }

// Serial returns the device serial number.
func (d *Device) Serial() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serial
}

// Capabilities returns the opaque capability map reported by the service.
func (d *Device) Capabilities() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capabilities
}

// BatteryLevel returns the battery percent, nil when unknown.
func (d *Device) BatteryLevel() *int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batteryLevel
}

// Base returns the opaque base-unit map reported by the service.
func (d *Device) Base() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseConfig
}

// Line resolves the device's line through the registry; nil when the line
// was never discovered.
func (d *Device) Line() *Line {
	d.mu.Lock()
	guid := d.lineGUID
	d.mu.Unlock()
	if guid == "" {
		return nil
	}
	return d.registry.Line(guid)
}

// LineGUID returns the raw line reference.
func (d *Device) LineGUID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lineGUID
}

// ScenesAllowed reports whether scenes may be activated from this device.
func (d *Device) ScenesAllowed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scenesAllowed
}

// IsMaster reports whether this is the space's Room Director.
func (d *Device) IsMaster() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isMaster
}

// IsOnline reports the last observed connectivity state.
func (d *Device) IsOnline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isOnline
}

// SoftwareVersion returns the reported firmware version.
func (d *Device) SoftwareVersion() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.softwareVersion
}

// SetIsOnline stores the connectivity flag, dispatching EventOnlineChanged
// on transitions.
func (d *Device) SetIsOnline(value any) {
	next, ok := value.(bool)
	if !ok {
		d.log.Warn("device: unexpected isOnline value", "guid", d.guid, "value", value)
		return
	}

	d.mu.Lock()
	changed := d.isOnline != next
	d.isOnline = next
	d.mu.Unlock()

	if changed {
		d.dispatch(EventOnlineChanged, map[string]any{"isOnline": next})
	}
}

// SetBatteryLevel stores the battery percent, dispatching
// EventBatteryChanged when it changed.
func (d *Device) SetBatteryLevel(value any) {
	next, ok := toIntPtr(value)
	if !ok {
		d.log.Warn("device: unexpected batteryLevel value", "guid", d.guid, "value", value)
		return
	}

	d.mu.Lock()
	changed := !intPtrEqual(d.batteryLevel, next)
	d.batteryLevel = next
	d.mu.Unlock()

	if changed {
		d.dispatch(EventBatteryChanged, map[string]any{"batteryLevel": intPtrParam(next)})
	}
}

// SetSoftwareVersion stores the firmware version. No event is defined for
// version changes.
func (d *Device) SetSoftwareVersion(value any) {
	next, ok := value.(string)
	if !ok {
		d.log.Warn("device: unexpected softwareVersion value", "guid", d.guid, "value", value)
		return
	}
	d.mu.Lock()
	d.softwareVersion = next
	d.mu.Unlock()
}

// ApplyChange implements Entity.
func (d *Device) ApplyChange(field string, value any) bool {
	set, ok := deviceFields[field]
	if !ok {
		return false
	}
	set(d, value)
	return true
}

func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("Device %q serial: %s, online: %t", d.name, d.serial, d.isOnline)
}
