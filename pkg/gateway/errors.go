package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the failure taxonomy surfaced to callers. Raw
// transport errors never cross the gateway boundary; they are normalized
// into one of these before any UI-facing component sees them.
var (
	// ErrOffline indicates the backend produced no response at all.
	ErrOffline = errors.New("backend unreachable")

	// ErrNotReady indicates the backend answered but is still initializing.
	ErrNotReady = errors.New("backend not ready")

	// ErrAuthExpired indicates the session could not be refreshed and the
	// user must sign in again.
	ErrAuthExpired = errors.New("authentication expired")
)

// APIError is a validation or business error the backend reported, either
// with a non-2xx status or inside a 200 body. Its message is surfaced
// verbatim.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return "api error: " + e.Message
}

// AsAPIError checks whether an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
