// Package entities translates the synchronizer's snapshot into
// per-device observable state: sensors, binary sensors, switches and the
// watering calendar. Every derivation here is a total function over the
// snapshot; missing or malformed fields degrade to a documented default
// instead of erroring, so one bad reading never takes an entity down.
package entities

import (
	"context"

	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/syncer"
)

// Source is the slice of the synchronizer surface the views consume.
// *syncer.Synchronizer satisfies it.
type Source interface {
	GetDevice(deviceID string) (bhyve.Device, bool)
	GetProgram(programID string) (bhyve.TimerProgram, bool)
	ProgramsForDevice(deviceID string) []bhyve.TimerProgram
	History(deviceID string) []bhyve.WateringHistoryEntry
	Subscribe(id string, handler syncer.Handler) syncer.Subscription
	SendCommand(payload map[string]any) error
	UpdateProgram(ctx context.Context, programID string, program bhyve.TimerProgram) error
}

// deviceEntity is the shared base for per-device views.
type deviceEntity struct {
	source   Source
	deviceID string

	// Available mirrors the device connectivity flag.
	Available bool
}

func (e *deviceEntity) device() (bhyve.Device, bool) {
	return e.source.GetDevice(e.deviceID)
}

func (e *deviceEntity) updateAvailability(device bhyve.Device, ok bool) {
	e.Available = ok && device.IsConnected
}

// DeviceID returns the id of the device this view observes.
func (e *deviceEntity) DeviceID() string { return e.deviceID }

// Watch subscribes the given update function to notifications about this
// view's device and runs it once immediately.
func (e *deviceEntity) watch(update func()) syncer.Subscription {
	update()
	return e.source.Subscribe(e.deviceID, func(syncer.Notification) { update() })
}
