package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/clock"
)

func testConfig() Config {
	return Config{
		PollInterval:     5 * time.Minute,
		ReconnectInitial: 2 * time.Second,
		ReconnectMax:     30 * time.Second,
	}
}

func newTestSyncer(t *testing.T) (*Synchronizer, *bhyve.MockClient, *clock.MockClock) {
	t.Helper()

	mock := bhyve.NewMockClient()
	mock.SetData(fixtureData())
	clk := clock.NewMockClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))

	s := New(mock, testConfig(), clk, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Shutdown)

	require.Eventually(t, mock.IsConnected, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StateStreaming }, time.Second, time.Millisecond)

	return s, mock, clk
}

// recorder collects notifications safely across goroutines.
type recorder struct {
	mu   sync.Mutex
	seen []Notification
}

func (r *recorder) handler(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.seen))
	copy(out, r.seen)
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestStartPublishesInitialSnapshot(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	assert.Equal(t, uint64(1), s.Revision())
	assert.Equal(t, 1, mock.FetchCount())

	device, ok := s.GetDevice("dev-1")
	require.True(t, ok)
	assert.True(t, device.IsConnected)
}

func TestStartFailsOnInitialRefreshError(t *testing.T) {
	mock := bhyve.NewMockClient()
	mock.FailFetch(&bhyve.NetworkError{Op: "/devices", Err: errors.New("boom")})

	s := New(mock, testConfig(), clock.NewMockClock(time.Now()), zap.NewNop())
	err := s.Start(context.Background())
	require.Error(t, err)

	var netErr *bhyve.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, StateIdle, s.State())
}

func TestStartTwiceFails(t *testing.T) {
	s, _, _ := newTestSyncer(t)
	assert.Error(t, s.Start(context.Background()))
}

func TestShutdownIsIdempotent(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	s.Shutdown()
	assert.Equal(t, StateStopped, s.State())
	assert.False(t, mock.IsConnected())

	// Second call returns without doing anything.
	s.Shutdown()
	assert.Equal(t, StateStopped, s.State())
}

func TestPollRefreshReplacesSnapshot(t *testing.T) {
	s, mock, clk := newTestSyncer(t)

	next := fixtureData()
	next.Devices[0].Status.RunMode = "manual"
	mock.SetData(next)

	before := s.Revision()
	clk.Advance(testConfig().PollInterval)

	require.Eventually(t, func() bool { return s.Revision() > before }, time.Second, time.Millisecond)

	device, ok := s.GetDevice("dev-1")
	require.True(t, ok)
	assert.Equal(t, "manual", device.Status.RunMode)
	assert.NoError(t, s.LastUpdateError())
}

func TestPollFailureKeepsSnapshot(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	rec := &recorder{}
	sub := s.Subscribe("", rec.handler)
	defer sub.Unsubscribe()

	mock.FailFetch(&bhyve.NetworkError{Op: "/devices", Err: errors.New("boom")})
	before := s.Revision()

	require.Error(t, s.RefreshNow())

	// Snapshot and revision survive; the failure is observable.
	assert.Equal(t, before, s.Revision())
	_, ok := s.GetDevice("dev-1")
	assert.True(t, ok)
	assert.Error(t, s.LastUpdateError())

	notifications := rec.all()
	require.NotEmpty(t, notifications)
	assert.Equal(t, KindUpdateFailed, notifications[len(notifications)-1].Kind)

	// The next successful refresh clears the error.
	mock.FailFetch(nil)
	require.NoError(t, s.RefreshNow())
	assert.NoError(t, s.LastUpdateError())
	assert.Equal(t, before+1, s.Revision())
}

func TestPushEventBumpsRevisionOnlyWhenChanged(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	before := s.Revision()
	mock.FireEvent(bhyve.Event{Event: bhyve.EventChangeMode, DeviceID: "dev-1", Mode: "manual"})
	assert.Equal(t, before+1, s.Revision())

	device, _ := s.GetDevice("dev-1")
	assert.Equal(t, "manual", device.Status.RunMode)

	// Notify-only events do not create a new revision.
	mock.FireEvent(bhyve.Event{Event: bhyve.EventDeviceIdle, DeviceID: "dev-1"})
	assert.Equal(t, before+1, s.Revision())
}

func TestSubscriptionFiltering(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	var dev1, dev2, all recorder
	s.Subscribe("dev-1", dev1.handler)
	s.Subscribe("dev-2", dev2.handler)
	s.Subscribe("", all.handler)

	mock.FireEvent(bhyve.Event{Event: bhyve.EventChangeMode, DeviceID: "dev-1", Mode: "manual"})

	require.Equal(t, 1, dev1.count())
	assert.Equal(t, bhyve.EventChangeMode, dev1.all()[0].Kind)
	assert.Equal(t, "dev-1", dev1.all()[0].DeviceID)
	assert.Equal(t, 0, dev2.count())
	assert.Equal(t, 1, all.count())
}

func TestRefreshNotifiesEverySubscriber(t *testing.T) {
	s, _, _ := newTestSyncer(t)

	var dev1 recorder
	s.Subscribe("dev-1", dev1.handler)

	require.NoError(t, s.RefreshNow())

	// A full refresh may have replaced any device, so per-device
	// subscribers hear about it too.
	require.Equal(t, 1, dev1.count())
	assert.Equal(t, KindRefresh, dev1.all()[0].Kind)
}

func TestProgramSubscriberHearsProgramChanged(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	var prog recorder
	s.Subscribe("prog-1", prog.handler)

	updated := bhyve.TimerProgram{ID: "prog-1", DeviceID: "dev-1", Program: "a", Name: "Evening"}
	mock.FireEvent(bhyve.Event{Event: bhyve.EventProgramChanged, Program: &updated})

	require.Equal(t, 1, prog.count())
	n := prog.all()[0]
	assert.Equal(t, "prog-1", n.ProgramID)
	assert.Equal(t, "dev-1", n.DeviceID)

	got, ok := s.GetProgram("prog-1")
	require.True(t, ok)
	assert.Equal(t, "Evening", got.Name)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	var rec recorder
	sub := s.Subscribe("dev-1", rec.handler)

	mock.FireEvent(bhyve.Event{Event: bhyve.EventChangeMode, DeviceID: "dev-1", Mode: "manual"})
	require.Equal(t, 1, rec.count())

	sub.Unsubscribe()
	mock.FireEvent(bhyve.Event{Event: bhyve.EventChangeMode, DeviceID: "dev-1", Mode: "auto"})
	assert.Equal(t, 1, rec.count())
}

func TestStreamReconnectsAfterDrop(t *testing.T) {
	s, mock, clk := newTestSyncer(t)

	connectsBefore := mock.ConnectCount()
	mock.DropStream(errors.New("vendor closed the session"))

	// The loop waits out the backoff on the mock clock before redialing.
	require.Eventually(t, func() bool {
		clk.Advance(time.Second)
		return mock.ConnectCount() > connectsBefore
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return s.State() == StateStreaming }, time.Second, time.Millisecond)
	assert.True(t, mock.IsConnected())

	// Events flow again on the new session.
	before := s.Revision()
	mock.FireEvent(bhyve.Event{Event: bhyve.EventChangeMode, DeviceID: "dev-1", Mode: "manual"})
	assert.Equal(t, before+1, s.Revision())
}

func TestReconnectBackoffSchedule(t *testing.T) {
	bo := newReconnectBackoff(Config{
		ReconnectInitial: 2 * time.Second,
		ReconnectMax:     30 * time.Second,
	})

	// Deterministic doubling up to the cap.
	assert.Equal(t, 2*time.Second, bo.NextBackOff())
	assert.Equal(t, 4*time.Second, bo.NextBackOff())
	assert.Equal(t, 8*time.Second, bo.NextBackOff())
	assert.Equal(t, 16*time.Second, bo.NextBackOff())
	assert.Equal(t, 30*time.Second, bo.NextBackOff())
	assert.Equal(t, 30*time.Second, bo.NextBackOff())

	// A successful connect resets the schedule.
	bo.Reset()
	assert.Equal(t, 2*time.Second, bo.NextBackOff())
}

func TestSendCommandRequiresStream(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	require.NoError(t, s.SendCommand(map[string]any{"event": bhyve.EventRainDelay, "device_id": "dev-1", "delay": 24}))
	require.Len(t, mock.SentMessages(), 1)

	s.Shutdown()
	err := s.SendCommand(map[string]any{"event": bhyve.EventRainDelay})

	var notConnected *bhyve.NotConnectedError
	assert.ErrorAs(t, err, &notConnected)
}

func TestUpdateProgramPassesThrough(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	program := bhyve.TimerProgram{ID: "prog-1", DeviceID: "dev-1", Name: "Evening", Enabled: false}
	require.NoError(t, s.UpdateProgram(context.Background(), "prog-1", program))

	sent, ok := mock.UpdatedProgram("prog-1")
	require.True(t, ok)
	assert.Equal(t, "Evening", sent.Name)

	// The snapshot is only patched when the vendor confirms.
	got, _ := s.GetProgram("prog-1")
	assert.Equal(t, "Morning", got.Name)
}

func TestEventThenPollLastWriterWins(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	// A push event flips the program off...
	updated := bhyve.TimerProgram{ID: "prog-1", DeviceID: "dev-1", Program: "a", Name: "Morning", Enabled: false}
	mock.FireEvent(bhyve.Event{Event: bhyve.EventProgramChanged, Program: &updated})
	got, _ := s.GetProgram("prog-1")
	assert.False(t, got.Enabled)

	// ...and a subsequent poll carrying the same program wins wholesale.
	next := fixtureData()
	next.Programs[0].Enabled = true
	mock.SetData(next)
	require.NoError(t, s.RefreshNow())

	got, _ = s.GetProgram("prog-1")
	assert.True(t, got.Enabled)
}

func TestSnapshotIsConsumerSafe(t *testing.T) {
	s, mock, _ := newTestSyncer(t)

	snap := s.Snapshot()
	snap.Devices[0].Name = "scribbled"

	mock.FireEvent(bhyve.Event{Event: bhyve.EventChangeMode, DeviceID: "dev-1", Mode: "manual"})

	device, _ := s.GetDevice("dev-1")
	assert.NotEqual(t, "scribbled", device.Name)
}
