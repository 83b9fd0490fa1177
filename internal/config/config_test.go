package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5*time.Minute, cfg.PollInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.ReconnectInitial.Std())
	assert.Equal(t, 2*time.Minute, cfg.ReconnectMax.Std())
	assert.Equal(t, 8080, cfg.APIPort)
	assert.False(t, cfg.MQTT.Enabled)
	assert.NotEmpty(t, cfg.BaseURL)
	assert.NotEmpty(t, cfg.WSURL)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
poll_interval: 1m
api_port: 9090
mqtt:
  enabled: true
  broker: tcp://localhost:1883
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.PollInterval.Std())
	assert.Equal(t, 9090, cfg.APIPort)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().ReconnectInitial, cfg.ReconnectInitial)
	assert.Equal(t, Default().BaseURL, cfg.BaseURL)
	assert.Equal(t, "bhyvesync", cfg.MQTT.ClientID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYaml(t *testing.T) {
	path := writeConfig(t, "poll_interval: [not a duration")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsNonPositivePollInterval(t *testing.T) {
	path := writeConfig(t, "poll_interval: 0s")
	_, err := Load(path)
	assert.ErrorContains(t, err, "poll_interval")
}

func TestLoadRejectsReconnectMaxBelowInitial(t *testing.T) {
	path := writeConfig(t, `
reconnect_initial: 10s
reconnect_max: 1s
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "reconnect_max")
}

func TestLoadRequiresBrokerWhenMQTTEnabled(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  enabled: true
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "mqtt.broker")
}
