package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session failures.
type ErrorKind string

const (
	KindInvalidState       ErrorKind = "invalid_state"
	KindCaptureUnavailable ErrorKind = "capture_unavailable"
	KindNetworkFailure     ErrorKind = "network_failure"
	KindPartialLoss        ErrorKind = "partial_loss"
	KindFinalizeFailure    ErrorKind = "finalize_failure"
)

var (
	ErrInvalidState       = errors.New("invalid session state")
	ErrCaptureUnavailable = errors.New("audio capture unavailable")
	ErrNetworkFailure     = errors.New("network failure")
	ErrPartialLoss        = errors.New("audio chunks lost")
	ErrFinalizeFailure    = errors.New("finalize failed")

	// ErrBackendRejected marks a backend answer that arrived but could not be
	// accepted: a non-2xx status or an undecodable body.
	ErrBackendRejected = errors.New("backend rejected request")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidState:
		return ErrInvalidState
	case KindCaptureUnavailable:
		return ErrCaptureUnavailable
	case KindNetworkFailure:
		return ErrNetworkFailure
	case KindPartialLoss:
		return ErrPartialLoss
	case KindFinalizeFailure:
		return ErrFinalizeFailure
	default:
		return nil
	}
}

// SessionError is the error descriptor returned when a session operation
// fails. errors.Is matches both the kind sentinel and the wrapped cause.
type SessionError struct {
	Kind      ErrorKind
	Op        string
	SessionID string
	Err       error
}

func (e *SessionError) Error() string {
	msg := e.Op + ": " + string(e.Kind)
	if e.SessionID != "" {
		msg = fmt.Sprintf("%s (session %s)", msg, e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// InvalidState builds the error returned for an operation attempted from the
// wrong lifecycle state.
func InvalidState(op string, state SessionState) error {
	return &SessionError{
		Kind: KindInvalidState,
		Op:   op,
		Err:  fmt.Errorf("not allowed while %s", state),
	}
}

// KindOf returns the kind of a session error, or the empty string.
func KindOf(err error) ErrorKind {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
