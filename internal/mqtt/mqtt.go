// Package mqtt provides MQTT publishing for Home Assistant integration.
// It defines the Publisher interface and includes both a StubPublisher
// (no-op) and a full HAPublisher that connects to an MQTT broker, publishes
// HA auto-discovery configs for every discovered line and space, relays
// command topics to entity control methods, and forwards entity change
// events as state topics.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkporter/noond/internal/core/entity"
)

// Publisher sends entity state to an MQTT broker.
type Publisher interface {
	// Start connects and begins publishing entity events.
	Start(ctx context.Context) error
	// Stop shuts down the publisher.
	Stop(ctx context.Context) error
}

// StubPublisher is a no-op publisher for when MQTT is not configured.
type StubPublisher struct {
	log *slog.Logger
}

// NewStubPublisher creates a no-op MQTT publisher.
func NewStubPublisher(log *slog.Logger) *StubPublisher {
	return &StubPublisher{log: log}
}

// Start is a no-op.
func (s *StubPublisher) Start(_ context.Context) error {
	s.log.Info("MQTT publisher disabled (stub)")
	return nil
}

// Stop is a no-op.
func (s *StubPublisher) Stop(_ context.Context) error {
	return nil
}

var _ Publisher = (*StubPublisher)(nil)

// Config holds MQTT publisher configuration.
type Config struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	DeviceID    string `yaml:"device_id"`
}

// Mirror is the slice of the client facade the bridge reads topology from.
type Mirror interface {
	Spaces() []*entity.Space
	Lines() []*entity.Line
	Devices() []*entity.Device
}

// Ensure HAPublisher implements Publisher at compile time.
var _ Publisher = (*HAPublisher)(nil)

// HAPublisher publishes Home Assistant auto-discovery configs, subscribes
// to command topics and relays them to entity commands, and forwards entity
// change events. Entity events arrive on the stream listener goroutine; the
// paho client is safe to publish from there.
type HAPublisher struct {
	cfg    Config
	mirror Mirror
	log    *slog.Logger

	client pahomqtt.Client
}

// NewHAPublisher creates a new Home Assistant MQTT publisher.
func NewHAPublisher(cfg Config, mirror Mirror, log *slog.Logger) *HAPublisher {
	return &HAPublisher{cfg: cfg, mirror: mirror, log: log}
}

// Start connects to the MQTT broker, publishes discovery configs,
// subscribes to command topics, publishes initial state, and hooks entity
// subscriptions for real-time updates.
func (p *HAPublisher) Start(_ context.Context) error {
	availTopic := p.topic("status")

	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(fmt.Sprintf("noon-%s", p.cfg.DeviceID)).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(availTopic, "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			p.log.Info("MQTT connected, publishing discovery and state")
			p.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			p.log.Warn("MQTT connection lost", "error", err)
		})

	p.client = pahomqtt.NewClient(opts)

	token := p.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	p.subscribeEntities()

	p.log.Info("MQTT publisher started", "broker", p.cfg.Broker)
	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (p *HAPublisher) Stop(_ context.Context) error {
	p.log.Info("MQTT publisher stopping")
	if p.client != nil && p.client.IsConnected() {
		p.publish(p.topic("status"), "offline", true)
		p.client.Disconnect(1000)
	}
	return nil
}

func (p *HAPublisher) onConnect() {
	p.publish(p.topic("status"), "online", true)
	p.publishDiscovery()
	p.subscribeCommands()

	// HA birth topic: re-publish discovery when Home Assistant restarts.
	p.client.Subscribe("homeassistant/status", 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if string(msg.Payload()) == "online" {
			p.log.Info("Home Assistant came online, re-publishing discovery")
			p.publishDiscovery()
			p.publishFullState()
		}
	})

	p.publishFullState()
}

// subscribeEntities hooks a change handler on every discovered entity.
// Subscriber lists are append-only, so this runs once per Start.
func (p *HAPublisher) subscribeEntities() {
	for _, l := range p.mirror.Lines() {
		l.Subscribe(p.handleEntityEvent, nil)
	}
	for _, s := range p.mirror.Spaces() {
		s.Subscribe(p.handleEntityEvent, nil)
	}
	for _, d := range p.mirror.Devices() {
		d.Subscribe(p.handleEntityEvent, nil)
	}
}

// --- Discovery configs ---

func (p *HAPublisher) deviceInfo() map[string]any {
	return map[string]any{
		"identifiers":  []string{p.cfg.DeviceID},
		"name":         "Noon Home",
		"manufacturer": "Noon Home",
		"model":        "Room Director",
	}
}

// discoveryTopic builds the HA auto-discovery topic.
func discoveryTopic(component, deviceID, objectID string) string {
	return fmt.Sprintf("homeassistant/%s/%s_%s/config", component, deviceID, objectID)
}

func (p *HAPublisher) publishDiscovery() {
	dev := p.deviceInfo()
	avail := map[string]any{"topic": p.topic("status")}

	for _, line := range p.mirror.Lines() {
		guid := line.GUID()
		p.publishDiscoveryConfig("light", "line_"+guid, map[string]any{
			"name":                     line.Name(),
			"unique_id":                fmt.Sprintf("%s_line_%s", p.cfg.DeviceID, guid),
			"state_topic":              p.lineTopic(guid, "state"),
			"command_topic":            p.lineTopic(guid, "set"),
			"brightness_state_topic":   p.lineTopic(guid, "brightness"),
			"brightness_command_topic": p.lineTopic(guid, "brightness/set"),
			"brightness_scale":         100,
			"payload_on":               "ON",
			"payload_off":              "OFF",
			"device":                   dev,
			"availability":             avail,
		})
	}

	for _, space := range p.mirror.Spaces() {
		guid := space.GUID()
		var options []string
		for _, sc := range space.Scenes() {
			options = append(options, sc.Name())
		}
		p.publishDiscoveryConfig("select", "space_"+guid+"_scene", map[string]any{
			"name":          fmt.Sprintf("%s Scene", space.Name()),
			"unique_id":     fmt.Sprintf("%s_space_%s_scene", p.cfg.DeviceID, guid),
			"state_topic":   p.spaceTopic(guid, "scene"),
			"command_topic": p.spaceTopic(guid, "scene/set"),
			"options":       options,
			"device":        dev,
			"availability":  avail,
		})
		p.publishDiscoveryConfig("binary_sensor", "space_"+guid+"_lights", map[string]any{
			"name":         fmt.Sprintf("%s Lights", space.Name()),
			"unique_id":    fmt.Sprintf("%s_space_%s_lights", p.cfg.DeviceID, guid),
			"state_topic":  p.spaceTopic(guid, "lights"),
			"device_class": "light",
			"payload_on":   "ON",
			"payload_off":  "OFF",
			"device":       dev,
			"availability": avail,
		})
	}

	for _, d := range p.mirror.Devices() {
		guid := d.GUID()
		p.publishDiscoveryConfig("binary_sensor", "device_"+guid+"_connectivity", map[string]any{
			"name":         fmt.Sprintf("%s Connectivity", d.Name()),
			"unique_id":    fmt.Sprintf("%s_device_%s_connectivity", p.cfg.DeviceID, guid),
			"state_topic":  p.deviceTopic(guid, "connectivity"),
			"device_class": "connectivity",
			"payload_on":   "ON",
			"payload_off":  "OFF",
			"device":       dev,
			"availability": avail,
		})
		p.publishDiscoveryConfig("sensor", "device_"+guid+"_battery", map[string]any{
			"name":                fmt.Sprintf("%s Battery", d.Name()),
			"unique_id":           fmt.Sprintf("%s_device_%s_battery", p.cfg.DeviceID, guid),
			"state_topic":         p.deviceTopic(guid, "battery"),
			"unit_of_measurement": "%",
			"device_class":        "battery",
			"state_class":         "measurement",
			"device":              dev,
			"availability":        avail,
		})
	}
}

func (p *HAPublisher) publishDiscoveryConfig(component, objectID string, payload map[string]any) {
	topic := discoveryTopic(component, p.cfg.DeviceID, objectID)
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("failed to marshal discovery config", "component", component, "object_id", objectID, "error", err)
		return
	}
	p.publish(topic, string(data), true)
}

// --- Command subscriptions ---

func (p *HAPublisher) subscribeCommands() {
	for _, line := range p.mirror.Lines() {
		l := line
		p.subscribe(p.lineTopic(l.GUID(), "set"), func(_ pahomqtt.Client, msg pahomqtt.Message) {
			on := strings.EqualFold(strings.TrimSpace(string(msg.Payload())), "ON")
			p.log.Info("MQTT command: line switch", "line", l.Name(), "on", on)
			var err error
			if on {
				err = l.TurnOn()
			} else {
				err = l.TurnOff()
			}
			if err != nil {
				p.log.Error("failed to switch line", "line", l.Name(), "error", err)
			}
		})
		p.subscribe(p.lineTopic(l.GUID(), "brightness/set"), func(_ pahomqtt.Client, msg pahomqtt.Message) {
			raw := strings.TrimSpace(string(msg.Payload()))
			level, err := strconv.Atoi(raw)
			if err != nil {
				p.log.Error("invalid brightness value", "payload", raw, "error", err)
				return
			}
			p.log.Info("MQTT command: line brightness", "line", l.Name(), "level", level)
			if err := l.SetBrightness(level); err != nil {
				p.log.Error("failed to set brightness", "line", l.Name(), "error", err)
			}
		})
	}

	for _, space := range p.mirror.Spaces() {
		s := space
		p.subscribe(p.spaceTopic(s.GUID(), "scene/set"), func(_ pahomqtt.Client, msg pahomqtt.Message) {
			name := strings.TrimSpace(string(msg.Payload()))
			p.log.Info("MQTT command: activate scene", "space", s.Name(), "scene", name)
			if err := s.SetSceneActive(true, name); err != nil {
				p.log.Error("failed to activate scene", "space", s.Name(), "error", err)
			}
		})
	}
}

func (p *HAPublisher) subscribe(topic string, h pahomqtt.MessageHandler) {
	token := p.client.Subscribe(topic, 1, h)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("failed to subscribe to command topic", "topic", topic, "error", err)
	}
}

// --- State publishing ---

// publishFullState publishes the current mirror snapshot.
func (p *HAPublisher) publishFullState() {
	for _, l := range p.mirror.Lines() {
		p.publishLineState(l)
	}
	for _, s := range p.mirror.Spaces() {
		p.publishSpaceState(s)
	}
	for _, d := range p.mirror.Devices() {
		p.publishDeviceState(d)
	}
}

func (p *HAPublisher) publishLineState(l *entity.Line) {
	if on, ok := l.LineState().(bool); ok {
		p.publish(p.lineTopic(l.GUID(), "state"), boolToOnOff(on), true)
	}
	if dl := l.DimmingLevel(); dl != nil {
		p.publish(p.lineTopic(l.GUID(), "brightness"), strconv.Itoa(*dl), true)
	}
}

func (p *HAPublisher) publishSpaceState(s *entity.Space) {
	if on := s.LightsOn(); on != nil {
		p.publish(p.spaceTopic(s.GUID(), "lights"), boolToOnOff(*on), true)
	}
	if guid := s.ActiveScene(); guid != "" {
		if sc := s.SceneByIDOrName(guid); sc != nil {
			p.publish(p.spaceTopic(s.GUID(), "scene"), sc.Name(), true)
		}
	}
}

func (p *HAPublisher) publishDeviceState(d *entity.Device) {
	p.publish(p.deviceTopic(d.GUID(), "connectivity"), boolToOnOff(d.IsOnline()), true)
	if bl := d.BatteryLevel(); bl != nil {
		p.publish(p.deviceTopic(d.GUID(), "battery"), strconv.Itoa(*bl), true)
	}
}

// handleEntityEvent forwards one entity change event to its state topics.
func (p *HAPublisher) handleEntityEvent(e entity.Entity, _ any, evt entity.Event) {
	switch ent := e.(type) {
	case *entity.Line:
		p.publishLineState(ent)
	case *entity.Space:
		p.publishSpaceState(ent)
	case *entity.Device:
		p.publishDeviceState(ent)
	default:
		p.log.Debug("unhandled entity event", "type", evt.Type)
	}
}

// --- Helpers ---

func (p *HAPublisher) topic(suffix string) string {
	return fmt.Sprintf("%s/%s/%s", p.cfg.TopicPrefix, p.cfg.DeviceID, suffix)
}

func (p *HAPublisher) lineTopic(guid, suffix string) string {
	return p.topic(fmt.Sprintf("line/%s/%s", guid, suffix))
}

func (p *HAPublisher) spaceTopic(guid, suffix string) string {
	return p.topic(fmt.Sprintf("space/%s/%s", guid, suffix))
}

func (p *HAPublisher) deviceTopic(guid, suffix string) string {
	return p.topic(fmt.Sprintf("device/%s/%s", guid, suffix))
}

// publish is a convenience wrapper that publishes a message and logs
// errors.
func (p *HAPublisher) publish(topic, payload string, retained bool) {
	if p.client == nil || !p.client.IsConnected() {
		return
	}
	token := p.client.Publish(topic, 1, retained, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		p.log.Error("mqtt publish failed", "topic", topic, "error", err)
	}
}

func boolToOnOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
