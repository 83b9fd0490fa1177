package entities

import "bhyvesync/internal/syncer"

// statusAlarm is the vendor's alarm marker. Anything else, including a
// missing status, reads as ok.
const statusAlarm = "alarm"

// FloodSensor reports whether a flood/leak sensor is alarming.
type FloodSensor struct {
	deviceEntity

	On          bool
	Location    string
	AutoShutoff bool
	RSSI        int
}

// NewFloodSensor creates a flood alarm view for a device.
func NewFloodSensor(source Source, deviceID string) *FloodSensor {
	s := &FloodSensor{deviceEntity: deviceEntity{source: source, deviceID: deviceID}}
	s.Update()
	return s
}

// Update recomputes the view from the current snapshot.
func (s *FloodSensor) Update() {
	device, ok := s.device()
	s.updateAvailability(device, ok)
	if !ok {
		s.On = false
		s.Location, s.AutoShutoff, s.RSSI = "", false, 0
		return
	}
	s.On = device.Status.FloodAlarmStatus == statusAlarm
	s.Location = device.LocationName
	s.AutoShutoff = device.AutoShutoff
	s.RSSI = device.Status.RSSI
}

// Watch re-runs Update on every notification for this device.
func (s *FloodSensor) Watch() syncer.Subscription { return s.watch(s.Update) }

// TemperatureAlertSensor reports whether a flood sensor's temperature is
// outside its configured thresholds.
type TemperatureAlertSensor struct {
	deviceEntity

	On bool
}

// NewTemperatureAlertSensor creates a temperature alert view for a device.
func NewTemperatureAlertSensor(source Source, deviceID string) *TemperatureAlertSensor {
	s := &TemperatureAlertSensor{deviceEntity: deviceEntity{source: source, deviceID: deviceID}}
	s.Update()
	return s
}

// Update recomputes the view from the current snapshot.
func (s *TemperatureAlertSensor) Update() {
	device, ok := s.device()
	s.updateAvailability(device, ok)
	s.On = ok && device.Status.TempAlarmStatus == statusAlarm
}

// Watch re-runs Update on every notification for this device.
func (s *TemperatureAlertSensor) Watch() syncer.Subscription { return s.watch(s.Update) }
