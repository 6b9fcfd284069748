package interfaces

import (
	"context"

	"github.com/quantpulse/go-venuefeed/domain"
)

// Agent owns one streaming session to one venue feed.
//
// Connect establishes the session; it returns *domain.ConnectionError on
// handshake failure. Stream decodes wire frames into RawEvents and sends them
// to out until the session drops. It returns nil only when ctx is cancelled;
// any other return is a *domain.ConnectionError or *domain.ProtocolError and
// means the session must be re-established from Connect. Both calls observe
// ctx at every network suspension point and release the session on all exit
// paths.
type Agent interface {
	Name() string
	Connect(ctx context.Context) error
	Stream(ctx context.Context, out chan<- domain.RawEvent) error
	Close() error
}
