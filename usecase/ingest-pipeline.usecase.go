package usecase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/bus"
	"github.com/quantpulse/go-venuefeed/canonical"
	"github.com/quantpulse/go-venuefeed/domain"
	promclient "github.com/quantpulse/go-venuefeed/infrastructure/prometheus"
)

// IngestPipeline is the single stage between the agents and the dispatcher:
// it canonicalizes raw events in arrival order and publishes the survivors.
// Running one instance keeps per-agent ordering intact end to end.
type IngestPipeline struct {
	canon      *canonical.CanonicalService
	dispatcher *bus.Dispatcher
	log        *zap.Logger
}

func NewIngestPipeline(canon *canonical.CanonicalService, dispatcher *bus.Dispatcher, log *zap.Logger) *IngestPipeline {
	return &IngestPipeline{
		canon:      canon,
		dispatcher: dispatcher,
		log:        log.Named("ingest"),
	}
}

// Run consumes raw events until ctx is cancelled or in is closed. A raw
// event that fails normalization is counted and dropped; the stream goes on.
func (p *IngestPipeline) Run(ctx context.Context, in <-chan domain.RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			p.process(raw)
		}
	}
}

func (p *IngestPipeline) process(raw domain.RawEvent) {
	event, err := p.canon.Canonicalize(raw)
	if err != nil {
		reason := "invalid_payload"
		var normErr *domain.NormalizationError
		if errors.As(err, &normErr) {
			reason = normErr.ReasonLabel()
		}
		promclient.NormalizationErrors.WithLabelValues(raw.Venue, reason).Inc()
		p.log.Debug("raw event dropped",
			zap.String("venue", raw.Venue),
			zap.String("kind", string(raw.Kind)),
			zap.String("symbol", raw.Symbol),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	p.dispatcher.Publish(event)
}
