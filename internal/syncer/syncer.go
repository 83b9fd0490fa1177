// Package syncer keeps an in-memory snapshot of BHyve devices, timer
// programs and watering histories consistent with the vendor cloud: a
// fixed-interval poll loop performs full refreshes while a websocket
// stream applies incremental patches, both serialized through one mutex.
package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"bhyvesync/internal/bhyve"
	"bhyvesync/internal/clock"
)

// State is the synchronizer lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// Notification kinds emitted by the synchronizer itself, alongside the
// raw event kinds of the bhyve package.
const (
	KindRefresh      = "snapshot_refresh"
	KindUpdateFailed = "update_failed"
)

// Notification tells a subscriber what changed, so a view interested in
// a single device or program can cheaply ignore unrelated traffic.
type Notification struct {
	Kind      string
	DeviceID  string
	ProgramID string
	Revision  uint64
}

// Handler receives notifications. Handlers run on the synchronizer's
// event-processing goroutine and must not block.
type Handler func(Notification)

// Subscription is an active notification subscription.
type Subscription interface {
	Unsubscribe()
}

// Config holds synchronizer timing knobs.
type Config struct {
	PollInterval     time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// DefaultConfig mirrors observed vendor session behaviour: sessions are
// short-lived, so reconnects start cheap.
func DefaultConfig() Config {
	return Config{
		PollInterval:     5 * time.Minute,
		ReconnectInitial: 2 * time.Second,
		ReconnectMax:     2 * time.Minute,
	}
}

type subscriberEntry struct {
	subID   int
	handler Handler
}

// Synchronizer owns the shared snapshot and the poll/stream loops.
type Synchronizer struct {
	api    bhyve.API
	logger *zap.Logger
	clk    clock.Clock
	cfg    Config

	mu            sync.RWMutex
	data          *bhyve.ApiData
	revision      uint64
	state         State
	lastUpdateErr error

	subsMu      sync.RWMutex
	subscribers map[string][]subscriberEntry
	nextSubID   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// New creates a synchronizer. A nil clock falls back to the real one.
func New(api bhyve.API, cfg Config, clk clock.Clock, logger *zap.Logger) *Synchronizer {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Synchronizer{
		api:         api,
		logger:      logger,
		clk:         clk,
		cfg:         cfg,
		data:        &bhyve.ApiData{Histories: make(map[string][]bhyve.WateringHistoryEntry)},
		state:       StateIdle,
		subscribers: make(map[string][]subscriberEntry),
	}
}

// Start performs one full refresh, publishes the snapshot, then launches
// the poll and stream loops. The initial refresh failing is fatal; after
// that, poll failures are non-fatal and stream failures are retried with
// backoff.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return fmt.Errorf("synchronizer already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	data, err := s.api.FetchAll(s.ctx)
	if err != nil {
		s.cancel()
		return fmt.Errorf("initial refresh: %w", err)
	}
	s.publish(data)
	s.logger.Info("Initial snapshot published",
		zap.Int("devices", len(data.Devices)),
		zap.Int("programs", len(data.Programs)))

	s.started = true
	s.wg.Add(2)
	go s.pollLoop()
	go s.streamLoop()
	return nil
}

// Shutdown stops both loops and closes the stream. Idempotent and safe
// to call from any goroutine; a pending reconnect wait is cancelled
// rather than waited out.
func (s *Synchronizer) Shutdown() {
	s.stopOnce.Do(func() {
		s.setState(StateShuttingDown)
		if s.cancel != nil {
			s.cancel()
		}
		s.api.CloseStream()
		s.wg.Wait()
		s.setState(StateStopped)
		s.logger.Info("Synchronizer stopped")
	})
}

// RefreshNow runs one full refresh outside the poll schedule. A failure
// keeps the previous snapshot and is reported to the caller only.
func (s *Synchronizer) RefreshNow() error {
	return s.refresh()
}

// Subscribe registers a handler for notifications about the device or
// program with the given id; the empty id subscribes to everything.
func (s *Synchronizer) Subscribe(id string, handler Handler) Subscription {
	s.subsMu.Lock()
	subID := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = append(s.subscribers[id], subscriberEntry{subID: subID, handler: handler})
	s.subsMu.Unlock()

	return &subscription{id: id, subID: subID, syncer: s}
}

// SendCommand transmits a user command over the live stream. Fails
// immediately with bhyve.NotConnectedError when the stream is down.
func (s *Synchronizer) SendCommand(payload map[string]any) error {
	return s.api.Send(payload)
}

// UpdateProgram pushes a program body to the vendor. The snapshot is not
// patched here; the vendor confirms with a program_changed event and the
// next poll refresh.
func (s *Synchronizer) UpdateProgram(ctx context.Context, programID string, program bhyve.TimerProgram) error {
	return s.api.UpdateProgram(ctx, programID, program)
}

// Snapshot returns a consumer-safe copy of the current snapshot.
func (s *Synchronizer) Snapshot() *bhyve.ApiData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneData(s.data)
}

// Revision returns the current snapshot revision.
func (s *Synchronizer) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}

// GetDevice returns a copy of the device with the given id.
func (s *Synchronizer) GetDevice(deviceID string) (bhyve.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d := s.data.Device(deviceID); d != nil {
		return *d, true
	}
	return bhyve.Device{}, false
}

// GetProgram returns a copy of the program with the given id.
func (s *Synchronizer) GetProgram(programID string) (bhyve.TimerProgram, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p := s.data.Program(programID); p != nil {
		return *p, true
	}
	return bhyve.TimerProgram{}, false
}

// ProgramsForDevice returns copies of every program owned by a device.
// Programs whose device id matches nothing in the snapshot are invisible
// to views by construction.
func (s *Synchronizer) ProgramsForDevice(deviceID string) []bhyve.TimerProgram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []bhyve.TimerProgram
	for _, p := range s.data.Programs {
		if p.DeviceID == deviceID {
			out = append(out, p)
		}
	}
	return out
}

// History returns the watering history for a device, oldest first.
func (s *Synchronizer) History(deviceID string) []bhyve.WateringHistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.History(deviceID)
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastUpdateError reports the most recent poll failure, or nil if the
// last refresh succeeded.
func (s *Synchronizer) LastUpdateError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdateErr
}

func (s *Synchronizer) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// publish swaps in a freshly fetched snapshot wholesale.
func (s *Synchronizer) publish(data *bhyve.ApiData) uint64 {
	s.mu.Lock()
	if data.Histories == nil {
		data.Histories = make(map[string][]bhyve.WateringHistoryEntry)
	}
	s.data = data
	s.revision++
	s.lastUpdateErr = nil
	rev := s.revision
	s.mu.Unlock()

	snapshotRevision.Set(float64(rev))
	return rev
}

func (s *Synchronizer) refresh() error {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := s.api.FetchAll(ctx)
	if err != nil {
		s.mu.Lock()
		s.lastUpdateErr = err
		s.mu.Unlock()
		pollsTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("Refresh failed, keeping previous snapshot", zap.Error(err))
		s.notify(Notification{Kind: KindUpdateFailed, Revision: s.Revision()})
		return err
	}

	rev := s.publish(data)
	pollsTotal.WithLabelValues("success").Inc()
	s.logger.Debug("Snapshot refreshed", zap.Uint64("revision", rev))
	s.notify(Notification{Kind: KindRefresh, Revision: rev})
	return nil
}

func (s *Synchronizer) pollLoop() {
	defer s.wg.Done()

	ticker := s.clk.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C():
			// Poll failures never tear down the stream.
			_ = s.refresh()
		}
	}
}

// newReconnectBackoff builds the deterministic doubling schedule used
// between stream connect attempts: initial, x2 per consecutive failure,
// capped, reset on success.
func newReconnectBackoff(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectInitial
	bo.MaxInterval = cfg.ReconnectMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (s *Synchronizer) streamLoop() {
	defer s.wg.Done()

	bo := newReconnectBackoff(s.cfg)

	for {
		if s.ctx.Err() != nil {
			return
		}
		s.setState(StateConnecting)

		handle, err := s.api.OpenStream(s.ctx, s.handleEvent)
		if err == nil {
			// The vendor renegotiates sessions frequently, so the delay
			// resets as soon as a connect succeeds.
			bo.Reset()
			s.setState(StateStreaming)
			s.logger.Info("Streaming push events")

			select {
			case <-s.ctx.Done():
				handle.Close()
				return
			case <-handle.Done():
				s.logger.Warn("Stream dropped", zap.Error(handle.Err()))
			}
		} else {
			s.logger.Warn("Stream connect failed", zap.Error(err))
		}

		s.setState(StateReconnecting)
		reconnectsTotal.Inc()
		wait := bo.NextBackOff()
		s.logger.Info("Reconnecting after backoff", zap.Duration("wait", wait))

		select {
		case <-s.ctx.Done():
			return
		case <-s.clk.After(wait):
		}
	}
}

// handleEvent applies one inbound push event to the live snapshot and
// notifies subscribers. It runs on the stream's single reader goroutine,
// so events for a session are applied in arrival order.
func (s *Synchronizer) handleEvent(ev bhyve.Event) {
	s.mu.Lock()
	deviceID, programID, changed := applyEvent(s.data, ev)
	if changed {
		s.revision++
	}
	rev := s.revision
	s.mu.Unlock()

	if changed {
		snapshotRevision.Set(float64(rev))
	}
	eventsTotal.WithLabelValues(ev.Event).Inc()
	s.logger.Debug("Push event applied",
		zap.String("event", ev.Event),
		zap.String("device_id", deviceID),
		zap.Bool("changed", changed))

	s.notify(Notification{
		Kind:      ev.Event,
		DeviceID:  deviceID,
		ProgramID: programID,
		Revision:  rev,
	})
}

// notify fans a notification out to subscribers of the affected device,
// the affected program, and the catch-all id. Snapshot-wide kinds (a
// poll refresh replaces every section) go to every subscriber. Handlers
// run inline.
func (s *Synchronizer) notify(n Notification) {
	s.subsMu.RLock()
	var handlers []Handler
	if n.DeviceID == "" && n.ProgramID == "" {
		for _, entries := range s.subscribers {
			for _, entry := range entries {
				handlers = append(handlers, entry.handler)
			}
		}
	} else {
		for _, entry := range s.subscribers[""] {
			handlers = append(handlers, entry.handler)
		}
		for _, entry := range s.subscribers[n.DeviceID] {
			handlers = append(handlers, entry.handler)
		}
		if n.ProgramID != "" && n.ProgramID != n.DeviceID {
			for _, entry := range s.subscribers[n.ProgramID] {
				handlers = append(handlers, entry.handler)
			}
		}
	}
	s.subsMu.RUnlock()

	for _, handler := range handlers {
		handler(n)
	}
}

type subscription struct {
	id     string
	subID  int
	syncer *Synchronizer
}

func (sub *subscription) Unsubscribe() {
	s := sub.syncer
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	entries := s.subscribers[sub.id]
	for i, entry := range entries {
		if entry.subID == sub.subID {
			s.subscribers[sub.id] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(s.subscribers[sub.id]) == 0 {
		delete(s.subscribers, sub.id)
	}
}
