package entity

import (
	"fmt"
	"log/slog"
)

// Discovery parse. Construction order within a space matters: scenes first,
// then devices and lines, then the status fields last so that activeScene
// can resolve against the just-built scene map.

// SpaceFromJSON builds a space and its children from one decoded discovery
// object. A missing guid or name on any entity aborts with ErrInvalidJSON.
func SpaceFromJSON(reg *Registry, noon Commander, obj map[string]any, log *slog.Logger) (*Space, error) {
	guid, name, err := requireIdentity(obj, "space", "name")
	if err != nil {
		return nil, err
	}
	space := NewSpace(reg, noon, guid, name, log)

	if scenes, ok := obj["scenes"].([]any); ok {
		for _, raw := range scenes {
			sceneObj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("space %q: scene entry is not an object: %w", name, ErrInvalidJSON)
			}
			scene, err := sceneFromJSON(reg, noon, sceneObj, space, log)
			if err != nil {
				return nil, err
			}
			space.addScene(scene)
		}
	}

	if devices, ok := obj["devices"].([]any); ok {
		for _, raw := range devices {
			deviceObj, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("space %q: device entry is not an object: %w", name, ErrInvalidJSON)
			}

			if lineObj, ok := deviceObj["line"].(map[string]any); ok {
				line, err := lineFromJSON(reg, noon, lineObj, space, log)
				if err != nil {
					return nil, err
				}
				space.addLine(line)
			}

			device, err := deviceFromJSON(reg, noon, deviceObj, space, log)
			if err != nil {
				return nil, err
			}
			space.addDevice(device)
		}
	}

	// Status fields are applied last; activeScene resolution needs the
	// scene map populated.
	space.SetLightsOn(obj["lightsOn"])
	if ref, ok := obj["activeScene"]; ok && ref != nil {
		space.SetActiveScene(ref)
	}

	return space, nil
}

func sceneFromJSON(reg *Registry, noon Commander, obj map[string]any, space *Space, log *slog.Logger) (*Scene, error) {
	guid, name, err := requireIdentity(obj, "scene", "name")
	if err != nil {
		return nil, err
	}
	return NewScene(reg, noon, guid, name, space, log), nil
}

func lineFromJSON(reg *Registry, noon Commander, obj map[string]any, space *Space, log *slog.Logger) (*Line, error) {
	// Lines carry their name under displayName.
	guid, name, err := requireIdentity(obj, "line", "displayName")
	if err != nil {
		return nil, err
	}
	line := NewLine(reg, noon, guid, name, space, log)

	if v, ok := obj["lineState"]; ok && v != nil {
		line.SetLineState(v)
	}
	if v, ok := obj["dimmingLevel"]; ok && v != nil {
		line.SetDimmingLevel(v)
	}
	return line, nil
}

func deviceFromJSON(reg *Registry, noon Commander, obj map[string]any, space *Space, log *slog.Logger) (*Device, error) {
	guid, name, err := requireIdentity(obj, "device", "name")
	if err != nil {
		return nil, err
	}
	device := NewDevice(reg, noon, guid, name, space, log)

	device.mu.Lock()
	if v, ok := obj["serial"].(string); ok {
		device.serial = v
	}
	if v, ok := obj["capabilities"].(map[string]any); ok {
		device.capabilities = v
	}
	if v, ok := obj["base"].(map[string]any); ok {
		device.baseConfig = v
	}
	if lineObj, ok := obj["line"].(map[string]any); ok {
		if lineGUID, ok := lineObj["guid"].(string); ok {
			device.lineGUID = lineGUID
		}
	}
	if v, ok := obj["scenesAllowed"].(bool); ok {
		device.scenesAllowed = v
	}
	if v, ok := obj["isMaster"].(bool); ok {
		device.isMaster = v
	}
	device.mu.Unlock()

	// Observed state goes through the setters: a first observation that
	// differs from the zero value dispatches.
	if v, ok := obj["isOnline"]; ok && v != nil {
		device.SetIsOnline(v)
	}
	if v, ok := obj["batteryLevel"]; ok && v != nil {
		device.SetBatteryLevel(v)
	}
	if v, ok := obj["softwareVersion"]; ok && v != nil {
		device.SetSoftwareVersion(v)
	}
	return device, nil
}

// requireIdentity pulls the mandatory guid and name keys out of a payload
// object.
func requireIdentity(obj map[string]any, kind, nameKey string) (guid, name string, err error) {
	guid, _ = obj["guid"].(string)
	name, _ = obj[nameKey].(string)
	if guid == "" || name == "" {
		return "", "", fmt.Errorf("%s payload missing guid or %s: %w", kind, nameKey, ErrInvalidJSON)
	}
	return guid, name, nil
}

func (s *Space) addScene(sc *Scene) {
	s.mu.Lock()
	s.scenes[sc.GUID()] = sc
	s.mu.Unlock()
}

func (s *Space) addLine(l *Line) {
	s.mu.Lock()
	s.lines[l.GUID()] = l
	s.mu.Unlock()
}

func (s *Space) addDevice(d *Device) {
	s.mu.Lock()
	s.devices[d.GUID()] = d
	s.mu.Unlock()
}
