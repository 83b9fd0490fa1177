// Package config loads the service configuration from a yaml file and
// fills in defaults for anything the file leaves out. Credentials never
// live here; they come from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"bhyvesync/internal/bhyve"
)

// Duration is a time.Duration that unmarshals from yaml strings like
// "5m" or "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MQTT configures the optional state publisher.
type MQTT struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Config is the full service configuration.
type Config struct {
	BaseURL string `yaml:"base_url"`
	WSURL   string `yaml:"ws_url"`

	PollInterval     Duration `yaml:"poll_interval"`
	ReconnectInitial Duration `yaml:"reconnect_initial"`
	ReconnectMax     Duration `yaml:"reconnect_max"`

	APIPort int `yaml:"api_port"`

	MQTT MQTT `yaml:"mqtt"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BaseURL:          bhyve.DefaultBaseURL,
		WSURL:            bhyve.DefaultWSURL,
		PollInterval:     Duration(5 * time.Minute),
		ReconnectInitial: Duration(2 * time.Second),
		ReconnectMax:     Duration(2 * time.Minute),
		APIPort:          8080,
		MQTT: MQTT{
			ClientID:    "bhyvesync",
			TopicPrefix: "bhyve",
		},
	}
}

// Load reads a yaml config file and overlays it on the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.ReconnectInitial <= 0 {
		return fmt.Errorf("reconnect_initial must be positive, got %s", c.ReconnectInitial)
	}
	if c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("reconnect_max %s is below reconnect_initial %s", c.ReconnectMax, c.ReconnectInitial)
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("api_port %d is out of range", c.APIPort)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}
