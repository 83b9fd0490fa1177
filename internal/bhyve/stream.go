package bhyve

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// The vendor drops idle connections; an application-level ping keeps the
// session alive.
const pingInterval = 25 * time.Second

// stream is one live websocket session. Events are decoded and delivered
// on the single reader goroutine, so handlers see them in arrival order.
type stream struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	onEvent EventHandler

	writeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// OpenStream dials the websocket feed, announces the session and starts
// delivering inbound events to onEvent. A connect failure is returned as
// a NetworkError; the caller owns retry policy.
func (c *Client) OpenStream(ctx context.Context, onEvent EventHandler) (StreamHandle, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, &NetworkError{Op: "open_stream", Err: err}
	}

	s := &stream{
		conn:    conn,
		logger:  c.logger,
		onEvent: onEvent,
		done:    make(chan struct{}),
	}

	hello := map[string]any{
		"event":               "app_connection",
		"orbit_session_token": c.sessionToken(),
	}
	if err := s.writeJSON(hello); err != nil {
		conn.Close()
		return nil, &NetworkError{Op: "open_stream", Err: err}
	}

	c.streamMu.Lock()
	if c.stream != nil {
		c.stream.Close()
	}
	c.stream = s
	c.streamMu.Unlock()

	go s.readLoop()
	go s.pingLoop()

	c.logger.Info("BHyve websocket connected")
	return s, nil
}

// CloseStream tears down the active stream, if any. Safe to call
// repeatedly and with no stream open.
func (c *Client) CloseStream() {
	c.streamMu.Lock()
	s := c.stream
	c.stream = nil
	c.streamMu.Unlock()

	if s != nil {
		s.Close()
	}
}

// IsConnected reports whether a live stream is attached.
func (c *Client) IsConnected() bool {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	if c.stream == nil {
		return false
	}
	select {
	case <-c.stream.done:
		return false
	default:
		return true
	}
}

// Send transmits a command over the active stream. There is no implicit
// queueing: with no live stream this fails immediately.
func (c *Client) Send(payload map[string]any) error {
	c.streamMu.Lock()
	s := c.stream
	c.streamMu.Unlock()

	if s == nil {
		return &NotConnectedError{}
	}
	select {
	case <-s.done:
		return &NotConnectedError{}
	default:
	}

	if err := s.writeJSON(payload); err != nil {
		return &NetworkError{Op: "send", Err: err}
	}
	return nil
}

func (s *stream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *stream) readLoop() {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.logger.Warn("Discarding undecodable websocket message", zap.Error(err))
			continue
		}
		ev.Raw = raw

		if ev.Event == "" {
			s.logger.Warn("Websocket message without event tag", zap.ByteString("raw", raw))
			continue
		}
		s.onEvent(ev)
	}
}

func (s *stream) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeJSON(map[string]string{"event": "ping"}); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

// fail records the terminal error and unblocks Done.
func (s *stream) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()

	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *stream) Done() <-chan struct{} { return s.done }

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close terminates the stream without recording an error.
func (s *stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		s.conn.Close()
	})
}
