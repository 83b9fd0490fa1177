package bhyve

import (
	"encoding/json"
)

// Device is a single Orbit device as returned by the REST API. The
// Battery payload is kept raw because the vendor is inconsistent about
// its shape; see entities.ParseBatteryLevel.
type Device struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	MacAddress      string          `json:"mac_address"`
	IsConnected     bool            `json:"is_connected"`
	HardwareVersion string          `json:"hardware_version"`
	FirmwareVersion string          `json:"firmware_version"`
	LocationName    string          `json:"location_name"`
	AutoShutoff     bool            `json:"auto_shutoff"`
	Battery         json.RawMessage `json:"battery,omitempty"`
	Status          DeviceStatus    `json:"status"`
	Zones           []Zone          `json:"zones,omitempty"`
}

// DeviceStatus is the status sub-record of a device. Rain delay fields
// beyond the hour count and start timestamp are only present on REST
// payloads, not on push events.
type DeviceStatus struct {
	RunMode              string   `json:"run_mode"`
	RSSI                 int      `json:"rssi"`
	TempF                *float64 `json:"temp_f,omitempty"`
	FloodAlarmStatus     string   `json:"flood_alarm_status,omitempty"`
	TempAlarmStatus      string   `json:"temp_alarm_status,omitempty"`
	RainDelay            int      `json:"rain_delay"`
	RainDelayStartedAt   string   `json:"rain_delay_started_at,omitempty"`
	RainDelayCause       string   `json:"rain_delay_cause,omitempty"`
	RainDelayWeatherType string   `json:"rain_delay_weather_type,omitempty"`
	NextStartTime        string   `json:"next_start_time,omitempty"`
}

// Zone is a single watering station on a sprinkler timer.
type Zone struct {
	Station int    `json:"station"`
	Name    string `json:"name,omitempty"`
}

// TimerProgram is a watering schedule owned by a device. The synthetic
// manual-run program has no frequency.
type TimerProgram struct {
	ID             string            `json:"id" validate:"required"`
	DeviceID       string            `json:"device_id" validate:"required"`
	Program        string            `json:"program,omitempty"`
	Name           string            `json:"name"`
	Enabled        bool              `json:"enabled"`
	IsSmartProgram bool              `json:"is_smart_program"`
	Frequency      *ProgramFrequency `json:"frequency,omitempty"`
	StartTimes     []string          `json:"start_times,omitempty"`
	RunTimes       []ZoneRunTime     `json:"run_times,omitempty" validate:"dive"`
	Budget         int               `json:"budget,omitempty"`
}

// ProgramFrequency anchors a recurring program: run every Interval days
// starting at IntervalStartTime (vendor UTC timestamp string).
type ProgramFrequency struct {
	Interval          int    `json:"interval" validate:"min=1"`
	IntervalStartTime string `json:"interval_start_time"`
}

// ZoneRunTime is the per-station run time entry of a program.
type ZoneRunTime struct {
	Station int `json:"station" validate:"min=1"`
	RunTime int `json:"run_time" validate:"min=0"`
}

// WateringHistoryEntry is one recorded watering run for a device.
type WateringHistoryEntry struct {
	Irrigation []IrrigationRecord `json:"irrigation"`
}

// IrrigationRecord is a single per-zone irrigation within a history entry.
type IrrigationRecord struct {
	Station        int      `json:"station"`
	StartTime      string   `json:"start_time"`
	WaterVolumeGal *float64 `json:"water_volume_gal,omitempty"`
	RunTime        int      `json:"run_time"`
	Status         string   `json:"status,omitempty"`
	Budget         int      `json:"budget,omitempty"`
	Program        string   `json:"program,omitempty"`
	ProgramName    string   `json:"program_name,omitempty"`
}

// ZoneLandscape is the vendor's landscape description for a zone.
type ZoneLandscape struct {
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`
	Station  int    `json:"station"`
	Name     string `json:"name,omitempty"`
}

// ApiData is one full refresh worth of vendor data. Histories are keyed
// by device id with the most recent entry last.
type ApiData struct {
	Devices    []Device                          `json:"devices"`
	Programs   []TimerProgram                    `json:"programs"`
	Histories  map[string][]WateringHistoryEntry `json:"histories"`
	Landscapes []ZoneLandscape                   `json:"landscapes"`
}

// Device returns the device with the given id, or nil.
func (d *ApiData) Device(deviceID string) *Device {
	for i := range d.Devices {
		if d.Devices[i].ID == deviceID {
			return &d.Devices[i]
		}
	}
	return nil
}

// Program returns the program with the given id, or nil.
func (d *ApiData) Program(programID string) *TimerProgram {
	for i := range d.Programs {
		if d.Programs[i].ID == programID {
			return &d.Programs[i]
		}
	}
	return nil
}

// History returns the watering history for a device, oldest first.
func (d *ApiData) History(deviceID string) []WateringHistoryEntry {
	if d.Histories == nil {
		return nil
	}
	return d.Histories[deviceID]
}

// Event is a push message from the websocket feed. Kind-specific fields
// are left at their zero value for other kinds; Raw keeps the original
// payload for fields this struct does not model.
type Event struct {
	Event            string          `json:"event"`
	DeviceID         string          `json:"device_id,omitempty"`
	ProgramID        string          `json:"program_id,omitempty"`
	Timestamp        string          `json:"timestamp,omitempty"`
	Mode             string          `json:"mode,omitempty"`
	Delay            *int            `json:"delay,omitempty"`
	Program          *TimerProgram   `json:"program,omitempty"`
	MV               *int            `json:"mv,omitempty"`
	Percent          *float64        `json:"percent,omitempty"`
	Charging         *bool           `json:"charging,omitempty"`
	TempF            *float64        `json:"temp_f,omitempty"`
	RSSI             *int            `json:"rssi,omitempty"`
	FloodAlarmStatus string          `json:"flood_alarm_status,omitempty"`
	TempAlarmStatus  string          `json:"temp_alarm_status,omitempty"`
	Raw              json.RawMessage `json:"-"`
}
