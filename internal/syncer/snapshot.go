package syncer

import (
	"encoding/json"

	"bhyvesync/internal/bhyve"
)

// applyEvent patches data in place according to the event kind and
// reports which device/program the event concerned and whether anything
// changed. Unknown kinds and device_idle are notify-only.
//
// The rain_delay event carries only the delay hours and a timestamp; the
// cause and weather type stay stale until the next poll refresh, which
// is the richer REST payload catching up.
func applyEvent(data *bhyve.ApiData, ev bhyve.Event) (deviceID, programID string, changed bool) {
	deviceID = ev.DeviceID

	switch ev.Event {
	case bhyve.EventDeviceConnected, bhyve.EventDeviceDisconnected:
		if d := data.Device(ev.DeviceID); d != nil {
			d.IsConnected = ev.Event == bhyve.EventDeviceConnected
			changed = true
		}

	case bhyve.EventChangeMode:
		if d := data.Device(ev.DeviceID); d != nil {
			d.Status.RunMode = ev.Mode
			changed = true
		}

	case bhyve.EventProgramChanged:
		program := ev.Program
		if program == nil {
			break
		}
		programID = program.ID
		if program.DeviceID != "" {
			deviceID = program.DeviceID
		}
		replaced := false
		for i := range data.Programs {
			if data.Programs[i].ID == program.ID {
				data.Programs[i] = *program
				replaced = true
				break
			}
		}
		if !replaced {
			data.Programs = append(data.Programs, *program)
		}
		changed = true

	case bhyve.EventRainDelay:
		if d := data.Device(ev.DeviceID); d != nil && ev.Delay != nil {
			d.Status.RainDelay = *ev.Delay
			d.Status.RainDelayStartedAt = ev.Timestamp
			changed = true
		}

	case bhyve.EventBatteryStatus:
		if d := data.Device(ev.DeviceID); d != nil {
			battery := make(map[string]any)
			if ev.Percent != nil {
				battery["percent"] = *ev.Percent
			}
			if ev.MV != nil {
				battery["mv"] = *ev.MV
			}
			if ev.Charging != nil {
				battery["charging"] = *ev.Charging
			}
			if raw, err := json.Marshal(battery); err == nil {
				d.Battery = raw
				changed = true
			}
		}

	case bhyve.EventFSStatusUpdate:
		if d := data.Device(ev.DeviceID); d != nil {
			if ev.TempF != nil {
				d.Status.TempF = ev.TempF
			}
			if ev.RSSI != nil {
				d.Status.RSSI = *ev.RSSI
			}
			if ev.FloodAlarmStatus != "" {
				d.Status.FloodAlarmStatus = ev.FloodAlarmStatus
			}
			if ev.TempAlarmStatus != "" {
				d.Status.TempAlarmStatus = ev.TempAlarmStatus
			}
			changed = true
		}
	}

	if ev.ProgramID != "" && programID == "" {
		programID = ev.ProgramID
	}
	return deviceID, programID, changed
}

// cloneData returns a consumer-safe copy of the snapshot. Top-level
// sections are cloned; nested slices are shared and treated as
// immutable, since event patches only replace whole values.
func cloneData(data *bhyve.ApiData) *bhyve.ApiData {
	if data == nil {
		return nil
	}
	out := &bhyve.ApiData{
		Devices:    make([]bhyve.Device, len(data.Devices)),
		Programs:   make([]bhyve.TimerProgram, len(data.Programs)),
		Histories:  make(map[string][]bhyve.WateringHistoryEntry, len(data.Histories)),
		Landscapes: make([]bhyve.ZoneLandscape, len(data.Landscapes)),
	}
	copy(out.Devices, data.Devices)
	copy(out.Programs, data.Programs)
	copy(out.Landscapes, data.Landscapes)
	for id, entries := range data.Histories {
		out.Histories[id] = entries
	}
	return out
}
