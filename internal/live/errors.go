package live

import (
	"errors"
	"fmt"
)

// Error kinds. OnError receives a *SessionError whose Kind is one of these,
// so errors.Is works on reported errors.
var (
	// ErrMediaAcquisition is fatal: the microphone or speaker could not be opened
	ErrMediaAcquisition = errors.New("media acquisition failed")
	// ErrCameraUnavailable is logged and the session continues audio-only
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrSessionOpen is fatal: the streaming session could not be opened
	ErrSessionOpen = errors.New("session open failed")
	// ErrConnectTimeout is a session-open failure caused by the connect timeout
	ErrConnectTimeout = fmt.Errorf("%w: timed out", ErrSessionOpen)
	// ErrTransmit is swallowed per frame
	ErrTransmit = errors.New("transmit failed")
	// ErrDecode is swallowed per message
	ErrDecode = errors.New("decode failed")
	// ErrServerClosed is fatal: the remote side ended a session nobody asked to end
	ErrServerClosed = errors.New("server closed the session unexpectedly")
	// ErrExpectedClose marks closure that followed a local disconnect; never reported
	ErrExpectedClose = errors.New("session closed by caller")

	// ErrControllerClosed is returned by Connect and Research after Close
	ErrControllerClosed = errors.New("controller closed")
	// ErrBusy is returned by Research while a session is active
	ErrBusy = errors.New("session already active")
)

// SessionError is what a failed attempt reports
type SessionError struct {
	Kind    error
	Message string
	Err     error
}

// Error returns the human readable message
func (e *SessionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

// Unwrap returns the cause
func (e *SessionError) Unwrap() error {
	return e.Err
}

// Is matches the error kind
func (e *SessionError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func newSessionError(kind error, message string, cause error) *SessionError {
	return &SessionError{Kind: kind, Message: message, Err: cause}
}

// kindLabel names an error kind for metrics
func kindLabel(kind error) string {
	switch {
	case errors.Is(kind, ErrConnectTimeout):
		return "connect_timeout"
	case errors.Is(kind, ErrSessionOpen):
		return "session_open"
	case errors.Is(kind, ErrMediaAcquisition):
		return "media_acquisition"
	case errors.Is(kind, ErrCameraUnavailable):
		return "camera_unavailable"
	case errors.Is(kind, ErrServerClosed):
		return "server_closed"
	case errors.Is(kind, ErrTransmit):
		return "transmit"
	case errors.Is(kind, ErrDecode):
		return "decode"
	}
	return "unknown"
}

// KindName returns the short error kind used in metrics and the wire protocol
func (e *SessionError) KindName() string {
	return kindLabel(e.Kind)
}
