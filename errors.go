package canvas

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("canvas: not found")
	ErrEmptyGraph     = errors.New("canvas: graph has no nodes")
	ErrInvalidFormat  = errors.New("canvas: invalid canvas file format")
	ErrSessionExpired = errors.New("canvas: session expired")
	ErrRunTerminal    = errors.New("canvas: run already finished")
	ErrClosed         = errors.New("canvas: closed")
)

// ValidationError is a locally rejected input. It never reaches the network.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "canvas: invalid input: " + e.Reason
	}
	return fmt.Sprintf("canvas: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError reports reason against field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// RemoteError is a failed request against the remote API.
// Authorization failures arrive as a RemoteError wrapping ErrSessionExpired.
type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("canvas: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("canvas: %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError wraps err from op. A zero status means the request never got a response.
func NewRemoteError(op string, status int, err error) *RemoteError {
	return &RemoteError{Op: op, StatusCode: status, Err: err}
}

// StreamError is a subscription failure for one run.
type StreamError struct {
	RunID string
	Err   error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("canvas: stream %s: %v", e.RunID, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRemote reports whether err carries a *RemoteError.
func IsRemote(err error) bool {
	var r *RemoteError
	return errors.As(err, &r)
}

// IsStream reports whether err carries a *StreamError.
func IsStream(err error) bool {
	var s *StreamError
	return errors.As(err, &s)
}

// IsSessionExpired reports whether the server rejected the credentials.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
