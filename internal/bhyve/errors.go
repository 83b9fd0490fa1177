package bhyve

import "fmt"

// NetworkError is a transient transport failure. The synchronizer's poll
// loop and reconnect backoff retry these; callers should not.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("bhyve: network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError is fatal to the session; the caller needs to re-authenticate.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("bhyve: authentication rejected during %s", e.Op)
}

// NotConnectedError is returned when a command is attempted with no live
// stream. Commands are never queued.
type NotConnectedError struct{}

func (e *NotConnectedError) Error() string {
	return "bhyve: stream not connected"
}

// ValidationError reports a malformed program update payload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bhyve: invalid payload: %s", e.Reason)
}
