package interfaces

import (
	"context"

	"github.com/quantpulse/go-venuefeed/domain"
)

// Sink is a destination for canonical events and analytics spread events.
// A Write failure is reported to the caller to be logged and counted; it must
// never halt the pipeline or other sinks.
type Sink interface {
	Name() string
	Write(ctx context.Context, event domain.Event) error
	Close() error
}
