// Package mqttpub mirrors the synchronizer's snapshot onto an MQTT
// broker as retained per-device state messages, with an abstraction for
// testing.
package mqttpub

import (
	"encoding/json"
	"time"

	"bhyvesync/internal/bhyve"
)

// Publisher sends messages to a broker. Errors are reported, never
// fatal; state publishing must not take the synchronizer down.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
	Close() error
}

// DeviceState is the JSON body published for one device.
type DeviceState struct {
	Timestamp string `json:"timestamp"`
	Revision  uint64 `json:"revision"`

	DeviceID  string `json:"device_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Connected bool   `json:"connected"`

	RunMode            string   `json:"run_mode,omitempty"`
	NextStartTime      string   `json:"next_start_time,omitempty"`
	RainDelayHours     int      `json:"rain_delay_hours,omitempty"`
	RainDelayStartedAt string   `json:"rain_delay_started_at,omitempty"`
	BatteryPercent     *float64 `json:"battery_percent,omitempty"`
	TemperatureF       *float64 `json:"temperature_f,omitempty"`
	FloodAlarm         string   `json:"flood_alarm,omitempty"`
	TemperatureAlarm   string   `json:"temperature_alarm,omitempty"`
}

// FormatDeviceState builds the payload for a device at a snapshot
// revision.
func FormatDeviceState(device bhyve.Device, battery *float64, revision uint64, now time.Time) ([]byte, error) {
	state := DeviceState{
		Timestamp:          now.UTC().Format(time.RFC3339),
		Revision:           revision,
		DeviceID:           device.ID,
		Name:               device.Name,
		Type:               device.Type,
		Connected:          device.IsConnected,
		RunMode:            device.Status.RunMode,
		NextStartTime:      device.Status.NextStartTime,
		RainDelayHours:     device.Status.RainDelay,
		RainDelayStartedAt: device.Status.RainDelayStartedAt,
		BatteryPercent:     battery,
		TemperatureF:       device.Status.TempF,
		FloodAlarm:         device.Status.FloodAlarmStatus,
		TemperatureAlarm:   device.Status.TempAlarmStatus,
	}
	return json.Marshal(state)
}
