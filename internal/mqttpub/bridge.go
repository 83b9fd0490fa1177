package mqttpub

import (
	"go.uber.org/zap"

	"bhyvesync/internal/clock"
	"bhyvesync/internal/entities"
	"bhyvesync/internal/syncer"
)

// Bridge subscribes to synchronizer notifications and keeps one
// retained state message per device on the broker, plus a service
// status topic.
type Bridge struct {
	sync   *syncer.Synchronizer
	pub    Publisher
	prefix string
	clk    clock.Clock
	logger *zap.Logger

	sub syncer.Subscription
}

// NewBridge creates a bridge between the synchronizer and a publisher.
// A nil clk falls back to the wall clock.
func NewBridge(sync *syncer.Synchronizer, pub Publisher, prefix string, clk clock.Clock, logger *zap.Logger) *Bridge {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Bridge{
		sync:   sync,
		pub:    pub,
		prefix: prefix,
		clk:    clk,
		logger: logger,
	}
}

// Start announces the service online, publishes the current snapshot
// and begins following notifications.
func (b *Bridge) Start() {
	b.publishStatus("online")
	b.publishAll()
	b.sub = b.sync.Subscribe("", b.onNotification)
}

// Stop detaches from the synchronizer and announces the service
// offline. The publisher itself stays open for the caller to close.
func (b *Bridge) Stop() {
	if b.sub != nil {
		b.sub.Unsubscribe()
		b.sub = nil
	}
	b.publishStatus("offline")
}

func (b *Bridge) onNotification(n syncer.Notification) {
	if n.DeviceID != "" {
		b.publishDevice(n.DeviceID)
		return
	}
	// Refresh and other snapshot-wide notifications touch every device.
	b.publishAll()
}

func (b *Bridge) publishAll() {
	data := b.sync.Snapshot()
	for _, device := range data.Devices {
		b.publishDevice(device.ID)
	}
}

func (b *Bridge) publishDevice(deviceID string) {
	device, ok := b.sync.GetDevice(deviceID)
	if !ok {
		return
	}

	var battery *float64
	if level, has := entities.ParseBatteryLevel(device.Battery, b.logger); has {
		battery = &level
	}

	payload, err := FormatDeviceState(device, battery, b.sync.Revision(), b.clk.Now())
	if err != nil {
		b.logger.Error("Failed to format device state",
			zap.String("device_id", deviceID),
			zap.Error(err))
		return
	}

	topic := b.prefix + "/" + deviceID + "/state"
	if err := b.pub.Publish(topic, true, payload); err != nil {
		b.logger.Warn("Failed to publish device state",
			zap.String("topic", topic),
			zap.Error(err))
	}
}

func (b *Bridge) publishStatus(status string) {
	if err := b.pub.Publish(b.prefix+"/status", true, []byte(status)); err != nil {
		b.logger.Warn("Failed to publish service status",
			zap.String("status", status),
			zap.Error(err))
	}
}
