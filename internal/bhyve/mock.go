package bhyve

import (
	"context"
	"sync"
)

// MockClient implements API for testing. Tests seed it with data, inject
// failures and fire push events by hand.
type MockClient struct {
	mu sync.Mutex

	data     *ApiData
	loginErr error
	fetchErr error

	// connectErrs are consumed one per OpenStream call; once drained,
	// connects succeed.
	connectErrs []error

	updateErr error
	updated   map[string]TimerProgram

	onEvent EventHandler
	stream  *mockStream
	sent    []map[string]any

	fetchCount   int
	connectCount int
}

// NewMockClient creates a mock client with an empty data set.
func NewMockClient() *MockClient {
	return &MockClient{
		data:    &ApiData{Histories: make(map[string][]WateringHistoryEntry)},
		updated: make(map[string]TimerProgram),
	}
}

// SetData replaces the data returned by the next FetchAll.
func (m *MockClient) SetData(data *ApiData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
}

// FailLogin makes Login return err.
func (m *MockClient) FailLogin(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginErr = err
}

// FailFetch makes FetchAll return err until cleared with nil.
func (m *MockClient) FailFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// FailConnects queues errors returned by successive OpenStream calls.
func (m *MockClient) FailConnects(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErrs = append(m.connectErrs, errs...)
}

// FailUpdate makes UpdateProgram return err.
func (m *MockClient) FailUpdate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

func (m *MockClient) Login(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginErr
}

func (m *MockClient) FetchAll(_ context.Context) (*ApiData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCount++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.data, nil
}

func (m *MockClient) UpdateProgram(_ context.Context, programID string, program TimerProgram) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated[programID] = program
	return nil
}

func (m *MockClient) OpenStream(_ context.Context, onEvent EventHandler) (StreamHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCount++
	if len(m.connectErrs) > 0 {
		err := m.connectErrs[0]
		m.connectErrs = m.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	s := &mockStream{done: make(chan struct{})}
	m.stream = s
	m.onEvent = onEvent
	return s, nil
}

func (m *MockClient) CloseStream() {
	m.mu.Lock()
	s := m.stream
	m.stream = nil
	m.onEvent = nil
	m.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return false
	}
	select {
	case <-m.stream.done:
		return false
	default:
		return true
	}
}

func (m *MockClient) Send(payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return &NotConnectedError{}
	}
	select {
	case <-m.stream.done:
		return &NotConnectedError{}
	default:
	}
	m.sent = append(m.sent, payload)
	return nil
}

// FireEvent delivers a push event to the active stream handler, the way
// the websocket reader would.
func (m *MockClient) FireEvent(ev Event) {
	m.mu.Lock()
	handler := m.onEvent
	m.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

// DropStream simulates the vendor terminating the connection.
func (m *MockClient) DropStream(err error) {
	m.mu.Lock()
	s := m.stream
	m.mu.Unlock()
	if s != nil {
		s.fail(err)
	}
}

// SentMessages returns a copy of every payload accepted by Send.
func (m *MockClient) SentMessages() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, len(m.sent))
	copy(out, m.sent)
	return out
}

// FetchCount reports how many FetchAll calls have been made.
func (m *MockClient) FetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCount
}

// ConnectCount reports how many OpenStream calls have been made.
func (m *MockClient) ConnectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectCount
}

// UpdatedProgram returns the last body passed to UpdateProgram for id.
func (m *MockClient) UpdatedProgram(programID string) (TimerProgram, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.updated[programID]
	return p, ok
}

type mockStream struct {
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (s *mockStream) Done() <-chan struct{} { return s.done }

func (s *mockStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *mockStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *mockStream) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
}
