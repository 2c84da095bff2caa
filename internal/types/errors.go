package types

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

var (
	// ErrUnsupportedMode is returned when no gateway is registered for the
	// requested mode. The Bridge fails fast and never degrades to another mode.
	ErrUnsupportedMode = errors.New("unsupported mode: no gateway registered")

	// ErrDepthExceeded is returned when a nested call attempts to spawn
	// another nested call. Expert nesting is bounded to depth 1.
	ErrDepthExceeded = errors.New("nested call depth exceeded")

	// ErrKernelStopped is returned when work is submitted after terminate.
	ErrKernelStopped = errors.New("kernel is stopped")
)

// ErrorKind classifies gateway-reported failures.
type ErrorKind string

const (
	ErrKindAuth      ErrorKind = "auth"
	ErrKindRateLimit ErrorKind = "rate_limit"
	ErrKindMalformed ErrorKind = "malformed"
	ErrKindNetwork   ErrorKind = "network"
	ErrKindInternal  ErrorKind = "internal"

	// ErrKindCancelled marks a cooperative-cancellation result. It is a clean
	// stop, not an error state: the item finalizes with partial output and the
	// kernel does not transition to ERROR.
	ErrKindCancelled ErrorKind = "cancelled"
)

// ProviderError is a gateway-reported failure.
type ProviderError struct {
	Kind    ErrorKind
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %s", e.Kind, e.Message)
}

// NewProviderError builds a classified provider failure.
func NewProviderError(kind ErrorKind, format string, args ...interface{}) *ProviderError {
	return &ProviderError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Cancelled builds the canonical cancellation result.
func Cancelled(reason string) *ProviderError {
	if reason == "" {
		reason = "stopped by user"
	}
	return &ProviderError{Kind: ErrKindCancelled, Message: reason}
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind == ErrKindCancelled
	}
	return false
}
