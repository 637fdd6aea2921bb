package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrorKind classifies pipeline errors by how they propagate.
type ErrorKind string

const (
	KindUnknown        ErrorKind = ""
	KindConfiguration  ErrorKind = "configuration"
	KindTransient      ErrorKind = "transient_service"
	KindParse          ErrorKind = "parse"
	KindValidation     ErrorKind = "validation"
	KindInfrastructure ErrorKind = "infrastructure"
)

// KindError tags an error with its ErrorKind.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

func tag(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// Configuration marks err as a missing or invalid setup for a tier or client.
func Configuration(err error) error { return tag(KindConfiguration, err) }

// Transient marks err as a network, quota, or timeout failure of an external call.
func Transient(err error) error { return tag(KindTransient, err) }

// Parse marks err as a model response that failed schema validation.
func Parse(err error) error { return tag(KindParse, err) }

// Validation marks err as a rejected input. Only this kind reaches callers.
func Validation(err error) error { return tag(KindValidation, err) }

// Infrastructure marks err as a durable storage or delivery failure.
func Infrastructure(err error) error { return tag(KindInfrastructure, err) }

// KindOf returns the kind of the first KindError in the chain. Untagged
// errors that look transient (timeouts, resets, TransientError) report
// KindTransient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) || IsTransient(err) {
		return KindTransient
	}
	return KindUnknown
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient returns true if the error chain contains a TransientError, a
// KindTransient tag, a network timeout, or a connection reset.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ke *KindError
	if errors.As(err, &ke) && ke.Kind == KindTransient {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
