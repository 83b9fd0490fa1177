package mqttpub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/clock"
	"bhyvesync/internal/syncer"
)

func newTestBridge(t *testing.T) (*Bridge, *FakePublisher, *bhyve.MockClient) {
	t.Helper()

	mock := bhyve.NewMockClient()
	mock.SetData(&bhyve.ApiData{
		Devices: []bhyve.Device{
			{
				ID:          "dev-1",
				Name:        "Front Yard",
				Type:        bhyve.DeviceSprinkler,
				IsConnected: true,
				Battery:     json.RawMessage(`{"percent": 80}`),
				Status:      bhyve.DeviceStatus{RunMode: "auto"},
			},
		},
		Histories: map[string][]bhyve.WateringHistoryEntry{},
	})

	sync := syncer.New(mock, syncer.DefaultConfig(), nil, zap.NewNop())
	require.NoError(t, sync.Start(context.Background()))
	t.Cleanup(sync.Shutdown)

	require.Eventually(t, mock.IsConnected, time.Second, time.Millisecond)

	pub := NewFakePublisher()
	clk := clock.NewMockClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	return NewBridge(sync, pub, "bhyve", clk, zap.NewNop()), pub, mock
}

func TestBridgePublishesSnapshotOnStart(t *testing.T) {
	bridge, pub, _ := newTestBridge(t)

	bridge.Start()
	defer bridge.Stop()

	status, ok := pub.LastOn("bhyve/status")
	require.True(t, ok)
	assert.Equal(t, "online", string(status.Payload))
	assert.True(t, status.Retained)

	msg, ok := pub.LastOn("bhyve/dev-1/state")
	require.True(t, ok)
	assert.True(t, msg.Retained)

	var state DeviceState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, "dev-1", state.DeviceID)
	assert.Equal(t, "Front Yard", state.Name)
	assert.True(t, state.Connected)
	assert.Equal(t, "auto", state.RunMode)
	require.NotNil(t, state.BatteryPercent)
	assert.InDelta(t, 80.0, *state.BatteryPercent, 0.001)
	assert.Equal(t, "2026-08-01T12:00:00Z", state.Timestamp)
}

func TestBridgeRepublishesOnPushEvent(t *testing.T) {
	bridge, pub, mock := newTestBridge(t)

	bridge.Start()
	defer bridge.Stop()

	before := len(pub.Messages())
	mock.FireEvent(bhyve.Event{
		Event:    bhyve.EventChangeMode,
		DeviceID: "dev-1",
		Mode:     "manual",
	})

	require.Greater(t, len(pub.Messages()), before)

	msg, ok := pub.LastOn("bhyve/dev-1/state")
	require.True(t, ok)

	var state DeviceState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, "manual", state.RunMode)
}

func TestBridgeStopAnnouncesOffline(t *testing.T) {
	bridge, pub, mock := newTestBridge(t)

	bridge.Start()
	bridge.Stop()

	status, ok := pub.LastOn("bhyve/status")
	require.True(t, ok)
	assert.Equal(t, "offline", string(status.Payload))

	// Detached from notifications: further events publish nothing.
	count := len(pub.Messages())
	mock.FireEvent(bhyve.Event{
		Event:    bhyve.EventChangeMode,
		DeviceID: "dev-1",
		Mode:     "auto",
	})
	assert.Equal(t, count, len(pub.Messages()))
}

func TestBridgeSurvivesPublishErrors(t *testing.T) {
	bridge, pub, mock := newTestBridge(t)
	pub.PublishError = assert.AnError

	bridge.Start()
	defer bridge.Stop()

	// Errors are logged, not propagated; the bridge keeps following.
	mock.FireEvent(bhyve.Event{
		Event:    bhyve.EventChangeMode,
		DeviceID: "dev-1",
		Mode:     "manual",
	})
	assert.Empty(t, pub.Messages())
}
