package domain

import (
	"errors"
	"fmt"
)

// ConnectionError is a transient transport failure (dial, handshake, read).
// The supervisor retries it with backoff; it is never fatal to sibling feeds.
type ConnectionError struct {
	Venue string
	Err   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error on %s: %v", e.Venue, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError marks a malformed or unexpected wire frame. It is treated as
// a disconnect and triggers an agent restart.
type ProtocolError struct {
	Venue string
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %s: %v", e.Venue, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Normalization failure reasons. A failure drops exactly one event.
var (
	ErrUnknownSymbolFormat = errors.New("unknown symbol format")
	ErrFeatureDisabled     = errors.New("event kind is disabled")
)

// MissingFieldError reports a required canonical field absent from a raw payload.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// NormalizationError wraps any reason a raw event could not be canonicalized.
type NormalizationError struct {
	Venue  string
	Kind   EventKind
	Reason error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("cannot normalize %s event from %s: %v", e.Kind, e.Venue, e.Reason)
}

func (e *NormalizationError) Unwrap() error { return e.Reason }

// ReasonLabel returns a stable label for counters.
func (e *NormalizationError) ReasonLabel() string {
	var mf *MissingFieldError
	switch {
	case errors.Is(e.Reason, ErrUnknownSymbolFormat):
		return "unknown_symbol_format"
	case errors.Is(e.Reason, ErrFeatureDisabled):
		return "feature_disabled"
	case errors.As(e.Reason, &mf):
		return "missing_field"
	default:
		return "invalid_payload"
	}
}

// SinkError is logged and counted per sink, never propagated into the pipeline.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at startup only; the process exits non-zero
// before any agent starts.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
