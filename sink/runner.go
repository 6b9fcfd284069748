package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/domain/interfaces"
	promclient "github.com/quantpulse/go-venuefeed/infrastructure/prometheus"
)

// Run forwards a dispatcher subscription into one sink until ctx is
// cancelled or the stream closes. A failed write is logged and counted but
// never stops the stream.
func Run(ctx context.Context, s interfaces.Sink, stream <-chan domain.Event, log *zap.Logger) {
	log = log.Named("sink").With(zap.String("sink", s.Name()))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if err := s.Write(ctx, ev); err != nil {
				promclient.SinkErrors.WithLabelValues(s.Name()).Inc()
				log.Warn("write failed", zap.Error(err))
			}
		}
	}
}
