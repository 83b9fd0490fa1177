package entities

import (
	"context"
	"time"

	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/syncer"
)

// RainDelaySwitch exposes a device's rain delay as an on/off view with
// delay metadata, and turns user toggles into stream commands.
//
// A rain_delay push event only carries the hour count and start
// timestamp, so after an event the Cause and WeatherType fields hold
// whatever the last poll refresh reported until the next one lands.
type RainDelaySwitch struct {
	deviceEntity

	On          bool
	DelayHours  int
	Cause       string
	WeatherType string
	StartedAt   time.Time
	HasStart    bool
}

// NewRainDelaySwitch creates a rain delay view for a device.
func NewRainDelaySwitch(source Source, deviceID string) *RainDelaySwitch {
	s := &RainDelaySwitch{deviceEntity: deviceEntity{source: source, deviceID: deviceID}}
	s.Update()
	return s
}

// Update recomputes the view from the current snapshot.
func (s *RainDelaySwitch) Update() {
	device, ok := s.device()
	s.updateAvailability(device, ok)
	if !ok || device.Status.RainDelay <= 0 {
		s.On = false
		s.DelayHours = 0
		s.Cause, s.WeatherType = "", ""
		s.StartedAt, s.HasStart = time.Time{}, false
		return
	}

	status := device.Status
	s.On = true
	s.DelayHours = status.RainDelay
	s.Cause = status.RainDelayCause
	s.WeatherType = status.RainDelayWeatherType
	s.StartedAt, s.HasStart = bhyve.OrbitTimeToLocal(status.RainDelayStartedAt)
}

// Watch re-runs Update on every notification for this device.
func (s *RainDelaySwitch) Watch() syncer.Subscription { return s.watch(s.Update) }

// Enable requests a rain delay for the given number of hours.
func (s *RainDelaySwitch) Enable(hours int) error {
	return s.source.SendCommand(map[string]any{
		"event":     bhyve.EventRainDelay,
		"device_id": s.deviceID,
		"delay":     hours,
	})
}

// Disable cancels the active rain delay.
func (s *RainDelaySwitch) Disable() error { return s.Enable(0) }

// SetManualPresetRuntime sets a device's default manual watering runtime.
func SetManualPresetRuntime(source Source, deviceID string, minutes int) error {
	return source.SendCommand(map[string]any{
		"event":     bhyve.EventSetManualPreset,
		"device_id": deviceID,
		"seconds":   minutes * 60,
	})
}

// ProgramSwitch exposes a timer program's enabled flag as a switch and
// lets the user start the program manually.
type ProgramSwitch struct {
	source    Source
	programID string

	Program bhyve.TimerProgram
	Known   bool
}

// NewProgramSwitch creates a program view.
func NewProgramSwitch(source Source, programID string) *ProgramSwitch {
	s := &ProgramSwitch{source: source, programID: programID}
	s.Update()
	return s
}

// ProgramID returns the id of the program this view observes.
func (s *ProgramSwitch) ProgramID() string { return s.programID }

// Update recomputes the view from the current snapshot.
func (s *ProgramSwitch) Update() {
	s.Program, s.Known = s.source.GetProgram(s.programID)
}

// Watch re-runs Update on every notification for this program.
func (s *ProgramSwitch) Watch() syncer.Subscription {
	s.Update()
	return s.source.Subscribe(s.programID, func(syncer.Notification) { s.Update() })
}

// On reports whether the program is enabled.
func (s *ProgramSwitch) On() bool { return s.Known && s.Program.Enabled }

// IsSmartProgram reports the vendor's smart watering flag.
func (s *ProgramSwitch) IsSmartProgram() bool { return s.Known && s.Program.IsSmartProgram }

// TurnOn enables the program on the vendor side.
func (s *ProgramSwitch) TurnOn(ctx context.Context) error { return s.setEnabled(ctx, true) }

// TurnOff disables the program on the vendor side.
func (s *ProgramSwitch) TurnOff(ctx context.Context) error { return s.setEnabled(ctx, false) }

func (s *ProgramSwitch) setEnabled(ctx context.Context, enabled bool) error {
	if !s.Known {
		return &bhyve.ValidationError{Reason: "program not in snapshot"}
	}
	program := s.Program
	program.Enabled = enabled
	if err := s.source.UpdateProgram(ctx, s.programID, program); err != nil {
		return err
	}
	s.Program = program
	return nil
}

// Start runs the program now by switching the device into manual mode
// with the program's station payload.
func (s *ProgramSwitch) Start(now time.Time) error {
	if !s.Known {
		return &bhyve.ValidationError{Reason: "program not in snapshot"}
	}
	return s.source.SendCommand(map[string]any{
		"event":     bhyve.EventChangeMode,
		"mode":      "manual",
		"device_id": s.Program.DeviceID,
		"timestamp": now.UTC().Format("2006-01-02T15:04:05Z"),
		"program":   s.Program.Program,
	})
}
