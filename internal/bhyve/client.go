package bhyve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// API is the surface of the remote data client consumed by the
// synchronizer and the entity views.
type API interface {
	Login(ctx context.Context) error
	FetchAll(ctx context.Context) (*ApiData, error)
	UpdateProgram(ctx context.Context, programID string, program TimerProgram) error
	OpenStream(ctx context.Context, onEvent EventHandler) (StreamHandle, error)
	CloseStream()
	Send(payload map[string]any) error
	IsConnected() bool
}

// EventHandler receives inbound push events in arrival order, all on the
// stream's single reader goroutine.
type EventHandler func(Event)

// StreamHandle is an open websocket session.
type StreamHandle interface {
	// Done is closed when the stream terminates for any reason.
	Done() <-chan struct{}
	// Err reports why the stream terminated; nil before Done is closed
	// or after a clean Close.
	Err() error
	Close()
}

// Client talks to the Orbit BHyve cloud: fail-fast REST calls plus a
// persistent websocket stream.
type Client struct {
	email    string
	password string
	baseURL  string
	wsURL    string
	logger   *zap.Logger
	httpc    *http.Client
	validate *validator.Validate

	tokenMu sync.RWMutex
	token   string

	streamMu sync.Mutex
	stream   *stream
}

// NewClient creates a new BHyve cloud client. URLs fall back to the
// vendor defaults when empty.
func NewClient(email, password, baseURL, wsURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if wsURL == "" {
		wsURL = DefaultWSURL
	}
	return &Client{
		email:    email,
		password: password,
		baseURL:  baseURL,
		wsURL:    wsURL,
		logger:   logger,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		validate: validator.New(),
	}
}

type sessionRequest struct {
	Session sessionCredentials `json:"session"`
}

type sessionCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	OrbitSessionToken string `json:"orbit_session_token"`
	UserID            string `json:"user_id"`
}

// Login obtains a session token. Rejected credentials surface as an
// AuthError; transport failures as a NetworkError.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(sessionRequest{
		Session: sessionCredentials{Email: c.email, Password: c.password},
	})
	if err != nil {
		return fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &NetworkError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Op: "login"}
	}
	if resp.StatusCode != http.StatusOK {
		return &NetworkError{Op: "login", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return &NetworkError{Op: "login", Err: fmt.Errorf("decode session response: %w", err)}
	}

	c.tokenMu.Lock()
	c.token = session.OrbitSessionToken
	c.tokenMu.Unlock()

	c.logger.Info("Logged in to BHyve API")
	return nil
}

func (c *Client) sessionToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// get performs an authenticated GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	req.Header.Set("Orbit-Session-Token", c.sessionToken())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &NetworkError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Op: path}
	}
	if resp.StatusCode != http.StatusOK {
		return &NetworkError{Op: path, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: path, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// FetchAll performs one full synchronous refresh: devices, timer
// programs, per-device watering histories and zone landscapes. It has no
// side effects beyond the returned data and fails fast on any error.
func (c *Client) FetchAll(ctx context.Context) (*ApiData, error) {
	data := &ApiData{Histories: make(map[string][]WateringHistoryEntry)}

	if err := c.get(ctx, "/devices", &data.Devices); err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/sprinkler_timer_programs", &data.Programs); err != nil {
		return nil, err
	}
	if err := c.get(ctx, "/landscape_descriptions", &data.Landscapes); err != nil {
		return nil, err
	}

	for _, device := range data.Devices {
		if device.Type != DeviceSprinkler {
			continue
		}
		var history []WateringHistoryEntry
		path := fmt.Sprintf("/watering_events/%s?page=1&per-page=10", device.ID)
		if err := c.get(ctx, path, &history); err != nil {
			return nil, err
		}
		data.Histories[device.ID] = history
	}

	c.logger.Debug("Fetched BHyve data",
		zap.Int("devices", len(data.Devices)),
		zap.Int("programs", len(data.Programs)),
		zap.Int("histories", len(data.Histories)))

	return data, nil
}

// UpdateProgram replaces a timer program on the vendor side. The body is
// validated before anything goes on the wire; a rejected body surfaces as
// a ValidationError.
func (c *Client) UpdateProgram(ctx context.Context, programID string, program TimerProgram) error {
	if programID == "" {
		return &ValidationError{Reason: "program id is empty"}
	}
	if err := c.validate.Struct(program); err != nil {
		return &ValidationError{Reason: err.Error()}
	}

	body, err := json.Marshal(map[string]TimerProgram{"sprinkler_timer_program": program})
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("marshal program: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/sprinkler_timer_programs/"+programID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Orbit-Session-Token", c.sessionToken())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &NetworkError{Op: "update_program", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Op: "update_program"}
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return &ValidationError{Reason: fmt.Sprintf("rejected by API with status %d", resp.StatusCode)}
	case resp.StatusCode >= 300:
		return &NetworkError{Op: "update_program", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}
