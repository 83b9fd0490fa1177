package entities

import (
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/syncer"
)

const gallonsToLitres = 3.785

// ParseBatteryLevel turns the vendor's battery payload into a
// percentage. A direct percent field wins; otherwise a millivolt reading
// is approximated assuming two 1.5V cells in series and clamped to 100.
// A payload with neither field reports unavailable (ok=false). A payload
// that is not an object at all logs a warning and reports 0 — battery is
// diagnostic-only, so it fails soft rather than erroring.
func ParseBatteryLevel(raw json.RawMessage, logger *zap.Logger) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		logger.Warn("Unexpected battery data, returning 0", zap.ByteString("battery", raw))
		return 0, true
	}

	if rawPercent, ok := fields["percent"]; ok {
		var percent float64
		if err := json.Unmarshal(rawPercent, &percent); err == nil {
			return percent, true
		}
	}

	if rawMV, ok := fields["mv"]; ok {
		var mv float64
		if err := json.Unmarshal(rawMV, &mv); err == nil {
			return math.Min(mv/3000*100, 100), true
		}
	}

	return 0, false
}

// BatterySensor reports a device battery level as a percentage.
type BatterySensor struct {
	deviceEntity
	logger *zap.Logger

	Level    float64
	HasLevel bool
}

// NewBatterySensor creates a battery sensor view for a device.
func NewBatterySensor(source Source, deviceID string, logger *zap.Logger) *BatterySensor {
	s := &BatterySensor{
		deviceEntity: deviceEntity{source: source, deviceID: deviceID},
		logger:       logger,
	}
	s.Update()
	return s
}

// Update recomputes the view from the current snapshot.
func (s *BatterySensor) Update() {
	device, ok := s.device()
	s.updateAvailability(device, ok)
	if !ok {
		s.Level, s.HasLevel = 0, false
		return
	}
	s.Level, s.HasLevel = ParseBatteryLevel(device.Battery, s.logger)
}

// Watch re-runs Update on every notification for this device.
func (s *BatterySensor) Watch() syncer.Subscription { return s.watch(s.Update) }

// StateSensor reports a sprinkler timer's run mode.
type StateSensor struct {
	deviceEntity

	RunMode string
}

// NewStateSensor creates a run-mode sensor view for a device.
func NewStateSensor(source Source, deviceID string) *StateSensor {
	s := &StateSensor{deviceEntity: deviceEntity{source: source, deviceID: deviceID}}
	s.Update()
	return s
}

// Update recomputes the view from the current snapshot.
func (s *StateSensor) Update() {
	device, ok := s.device()
	s.updateAvailability(device, ok)
	if !ok || device.Status.RunMode == "" {
		s.RunMode = "unavailable"
		return
	}
	s.RunMode = device.Status.RunMode
}

// Watch re-runs Update on every notification for this device.
func (s *StateSensor) Watch() syncer.Subscription { return s.watch(s.Update) }

// TemperatureSensor reports a flood sensor's temperature in Fahrenheit
// with signal and alarm context.
type TemperatureSensor struct {
	deviceEntity

	TempF            *float64
	Location         string
	RSSI             int
	TemperatureAlarm string
}

// NewTemperatureSensor creates a temperature sensor view for a device.
func NewTemperatureSensor(source Source, deviceID string) *TemperatureSensor {
	s := &TemperatureSensor{deviceEntity: deviceEntity{source: source, deviceID: deviceID}}
	s.Update()
	return s
}

// Update recomputes the view from the current snapshot.
func (s *TemperatureSensor) Update() {
	device, ok := s.device()
	s.updateAvailability(device, ok)
	if !ok {
		s.TempF = nil
		s.Location, s.TemperatureAlarm = "", ""
		s.RSSI = 0
		return
	}
	s.TempF = device.Status.TempF
	s.Location = device.LocationName
	s.RSSI = device.Status.RSSI
	s.TemperatureAlarm = device.Status.TempAlarmStatus
}

// Watch re-runs Update on every notification for this device.
func (s *TemperatureSensor) Watch() syncer.Subscription { return s.watch(s.Update) }

// ZoneHistorySensor reports the most recent irrigation for one station,
// assuming history entries are ordered most-recent-last.
type ZoneHistorySensor struct {
	deviceEntity
	station int

	LastWatered        time.Time
	HasWatered         bool
	Budget             int
	Program            string
	ProgramName        string
	RunTime            int
	Status             string
	ConsumptionGallons *float64
	ConsumptionLitres  *float64
}

// NewZoneHistorySensor creates a history view for one station of a device.
func NewZoneHistorySensor(source Source, deviceID string, station int) *ZoneHistorySensor {
	s := &ZoneHistorySensor{
		deviceEntity: deviceEntity{source: source, deviceID: deviceID},
		station:      station,
	}
	s.Update()
	return s
}

// Station returns the station index this view observes.
func (s *ZoneHistorySensor) Station() int { return s.station }

// Update recomputes the view from the current snapshot.
func (s *ZoneHistorySensor) Update() {
	device, ok := s.device()
	s.updateAvailability(device, ok)

	s.HasWatered = false
	history := s.source.History(s.deviceID)
	for n := len(history) - 1; n >= 0; n-- {
		entry := history[n]
		var latest *bhyve.IrrigationRecord
		for i := range entry.Irrigation {
			if entry.Irrigation[i].Station == s.station {
				latest = &entry.Irrigation[i]
			}
		}
		if latest == nil {
			continue
		}

		started, ok := bhyve.OrbitTimeToLocal(latest.StartTime)
		if !ok {
			continue
		}
		s.LastWatered = started
		s.HasWatered = true
		s.Budget = latest.Budget
		s.Program = latest.Program
		s.ProgramName = latest.ProgramName
		s.RunTime = latest.RunTime
		s.Status = latest.Status
		s.ConsumptionGallons = latest.WaterVolumeGal
		if latest.WaterVolumeGal != nil {
			litres := math.Round(*latest.WaterVolumeGal*gallonsToLitres*100) / 100
			s.ConsumptionLitres = &litres
		} else {
			s.ConsumptionLitres = nil
		}
		return
	}
}

// Watch re-runs Update on every notification for this device.
func (s *ZoneHistorySensor) Watch() syncer.Subscription { return s.watch(s.Update) }
