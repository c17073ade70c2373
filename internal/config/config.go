package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Noon   NoonConfig   `yaml:"noon"`
	Stream StreamConfig `yaml:"stream"`
	HTTP   HTTPConfig   `yaml:"http"`
	MQTT   MQTTConfig   `yaml:"mqtt"`
	Log    LogConfig    `yaml:"log"`
}

// NoonConfig holds Noon cloud API configuration.
type NoonConfig struct {
	LoginURL string `yaml:"login_url"`
	RenewURL string `yaml:"renew_url"`
	DexURL   string `yaml:"dex_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// StreamConfig holds notification stream tuning.
type StreamConfig struct {
	// ReconnectThresholdSeconds is the fast-fail window: a stream closing
	// sooner than this after connecting is fatal instead of retried.
	ReconnectThresholdSeconds int `yaml:"reconnect_threshold_seconds"`
	// KeepaliveSeconds is the websocket ping interval.
	KeepaliveSeconds int `yaml:"keepalive_seconds"`
}

// HTTPConfig holds the local HTTP API configuration.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	CORSAll bool   `yaml:"cors_allow_all"`
}

// MQTTConfig holds MQTT broker configuration for the Home Assistant bridge.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	DeviceID    string `yaml:"device_id"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Noon: NoonConfig{
			LoginURL: "https://finn.api.noonhome.com/api/login",
			RenewURL: "https://finn.api.noonhome.com/api/token/renewal",
			DexURL:   "https://dex.api.noonhome.com/api/endpoints",
		},
		Stream: StreamConfig{
			ReconnectThresholdSeconds: 30,
			KeepaliveSeconds:          30,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "noon",
			DeviceID:    "noon_bridge",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file at path, then overlays
// environment variables. An empty path uses defaults + env only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
			// file not found is ok, use defaults
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays environment variables on top of the config. Env vars
// take precedence over YAML values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("NOON_LOGIN_URL"); v != "" {
		cfg.Noon.LoginURL = v
	}
	if v := os.Getenv("NOON_RENEW_URL"); v != "" {
		cfg.Noon.RenewURL = v
	}
	if v := os.Getenv("NOON_DEX_URL"); v != "" {
		cfg.Noon.DexURL = v
	}
	if v := os.Getenv("NOON_USERNAME"); v != "" {
		cfg.Noon.Username = v
	}
	if v := os.Getenv("NOON_PASSWORD"); v != "" {
		cfg.Noon.Password = v
	}
	if v := os.Getenv("NOON_STREAM_RECONNECT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.ReconnectThresholdSeconds = n
		}
	}
	if v := os.Getenv("NOON_STREAM_KEEPALIVE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.KeepaliveSeconds = n
		}
	}
	if v := os.Getenv("NOON_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = parseBool(v)
	}
	if v := os.Getenv("NOON_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("NOON_CORS_ALLOW_ALL"); v != "" {
		cfg.HTTP.CORSAll = parseBool(v)
	}
	if v := os.Getenv("NOON_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = parseBool(v)
	}
	if v := os.Getenv("NOON_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("NOON_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("NOON_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("NOON_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("NOON_MQTT_DEVICE_ID"); v != "" {
		cfg.MQTT.DeviceID = v
	}
	if v := os.Getenv("NOON_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("NOON_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	b, _ := strconv.ParseBool(s)
	return b
}
