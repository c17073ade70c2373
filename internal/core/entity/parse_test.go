package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kitchenSpaceJSON = `{
	"guid": "space-1",
	"name": "Kitchen",
	"lightsOn": true,
	"activeScene": {"guid": "scene-1", "name": "Bright"},
	"scenes": [
		{"guid": "scene-1", "name": "Bright"},
		{"guid": "scene-2", "name": "Relax"}
	],
	"devices": [
		{
			"guid": "device-1",
			"name": "Kitchen Director",
			"serial": "NH-001122",
			"isOnline": true,
			"isMaster": true,
			"scenesAllowed": true,
			"softwareVersion": "2.4.1",
			"batteryLevel": 90,
			"capabilities": {"dimming": true},
			"base": {"serial": "BASE-01"},
			"line": {
				"guid": "line-1",
				"displayName": "Main Lights",
				"lineState": "on",
				"dimmingLevel": 80
			}
		},
		{
			"guid": "device-2",
			"name": "Kitchen Extension",
			"serial": "NH-003344",
			"isOnline": false,
			"isMaster": false,
			"scenesAllowed": false,
			"line": {
				"guid": "line-2",
				"displayName": "Island Lights",
				"lineState": "off"
			}
		}
	]
}`

func decodeSpace(t *testing.T, raw string) map[string]any {
	t.Helper()
	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &obj))
	return obj
}

func TestSpaceFromJSON(t *testing.T) {
	reg := NewRegistry(testLog())
	noon := &fakeCommander{}

	space, err := SpaceFromJSON(reg, noon, decodeSpace(t, kitchenSpaceJSON), testLog())
	require.NoError(t, err)

	assert.Equal(t, "space-1", space.GUID())
	assert.Equal(t, "Kitchen", space.Name())
	require.NotNil(t, space.LightsOn())
	assert.True(t, *space.LightsOn())
	assert.Equal(t, "scene-1", space.ActiveScene())

	assert.Len(t, space.Scenes(), 2)
	assert.Len(t, space.Lines(), 2)
	assert.Len(t, space.Devices(), 2)

	line := reg.Line("line-1")
	require.NotNil(t, line)
	assert.Equal(t, "Main Lights", line.Name())
	assert.Equal(t, true, line.LineState())
	require.NotNil(t, line.DimmingLevel())
	assert.Equal(t, 80, *line.DimmingLevel())
	assert.Same(t, space, line.Space())

	island := reg.Line("line-2")
	require.NotNil(t, island)
	assert.Equal(t, false, island.LineState())
	assert.Nil(t, island.DimmingLevel())

	director := reg.Device("device-1")
	require.NotNil(t, director)
	assert.Equal(t, "NH-001122", director.Serial())
	assert.True(t, director.IsOnline())
	assert.True(t, director.IsMaster())
	assert.True(t, director.ScenesAllowed())
	assert.Equal(t, "2.4.1", director.SoftwareVersion())
	require.NotNil(t, director.BatteryLevel())
	assert.Equal(t, 90, *director.BatteryLevel())
	assert.Same(t, line, director.Line())

	extension := reg.Device("device-2")
	require.NotNil(t, extension)
	assert.False(t, extension.IsOnline())
	assert.Nil(t, extension.BatteryLevel())
	assert.Same(t, island, extension.Line())
}

func TestSpaceFromJSONMissingIdentity(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "space without guid", raw: `{"name": "Kitchen"}`},
		{name: "space without name", raw: `{"guid": "space-1"}`},
		{name: "scene without name", raw: `{"guid": "space-1", "name": "Kitchen", "scenes": [{"guid": "scene-1"}]}`},
		{name: "device without guid", raw: `{"guid": "space-1", "name": "Kitchen", "devices": [{"name": "Director"}]}`},
		{name: "line without displayName", raw: `{"guid": "space-1", "name": "Kitchen", "devices": [{"guid": "device-1", "name": "Director", "line": {"guid": "line-1"}}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewRegistry(testLog())
			_, err := SpaceFromJSON(reg, &fakeCommander{}, decodeSpace(t, tc.raw), testLog())
			assert.ErrorIs(t, err, ErrInvalidJSON)
		})
	}
}

// Replaying a discovery response must not clobber live entities nor fire
// events on their subscribers: registration is first-writer-wins and the
// replacement objects stay unreachable.
func TestSpaceFromJSONReplay(t *testing.T) {
	reg := NewRegistry(testLog())
	noon := &fakeCommander{}

	first, err := SpaceFromJSON(reg, noon, decodeSpace(t, kitchenSpaceJSON), testLog())
	require.NoError(t, err)
	firstLine := reg.Line("line-1")

	rec := &recorder{}
	first.Subscribe(rec.handle, nil)
	firstLine.Subscribe(rec.handle, nil)

	second, err := SpaceFromJSON(reg, noon, decodeSpace(t, kitchenSpaceJSON), testLog())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Same(t, first, reg.Space("space-1"))
	assert.Same(t, firstLine, reg.Line("line-1"))
	assert.Empty(t, rec.events)
}

func TestSpaceFromJSONActiveSceneOrdering(t *testing.T) {
	// activeScene must resolve against the space's own scenes even though
	// it appears before the scenes array in the payload.
	raw := `{
		"guid": "space-1",
		"name": "Kitchen",
		"activeScene": "scene-2",
		"scenes": [{"guid": "scene-2", "name": "Relax"}]
	}`
	reg := NewRegistry(testLog())

	space, err := SpaceFromJSON(reg, &fakeCommander{}, decodeSpace(t, raw), testLog())
	require.NoError(t, err)
	assert.Equal(t, "scene-2", space.ActiveScene())
}

func TestSpaceFromJSONUnknownActiveScene(t *testing.T) {
	raw := `{
		"guid": "space-1",
		"name": "Kitchen",
		"activeScene": "scene-elsewhere",
		"scenes": [{"guid": "scene-1", "name": "Bright"}]
	}`
	reg := NewRegistry(testLog())

	space, err := SpaceFromJSON(reg, &fakeCommander{}, decodeSpace(t, raw), testLog())
	require.NoError(t, err)
	assert.Equal(t, "", space.ActiveScene())
}
