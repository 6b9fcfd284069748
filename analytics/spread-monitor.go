package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/domain/interfaces"
	promclient "github.com/quantpulse/go-venuefeed/infrastructure/prometheus"
)

type Config struct {
	// Threshold is the relative spread fraction above which an event fires.
	Threshold decimal.Decimal
	// StalenessWindow excludes venues whose last update arrived too long ago
	// from the spread comparison.
	StalenessWindow time.Duration
	// DebounceInterval suppresses re-emission for the same symbol.
	DebounceInterval time.Duration
}

// venuePrice is the last accepted quote from one venue for one symbol.
type venuePrice struct {
	price  decimal.Decimal
	ts     int64 // venue event time, ms
	recvTS int64 // local receipt time, ms
}

// SpreadMonitor tracks the latest trade price per (venue, symbol) and emits
// a SpreadEvent when fresh venues disagree by more than the threshold.
type SpreadMonitor struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu       sync.Mutex
	prices   map[string]map[string]venuePrice // symbol -> venue -> state
	lastEmit map[string]time.Time

	out chan *domain.SpreadEvent
}

func NewSpreadMonitor(cfg Config, log *zap.Logger) *SpreadMonitor {
	return &SpreadMonitor{
		cfg:      cfg,
		log:      log.Named("analytics"),
		now:      time.Now,
		prices:   make(map[string]map[string]venuePrice),
		lastEmit: make(map[string]time.Time),
		out:      make(chan *domain.SpreadEvent, 64),
	}
}

// Subscribe exposes the emitted spread events. The stream is closed when the
// monitor's Run loop exits.
func (m *SpreadMonitor) Subscribe() *interfaces.Subscription[*domain.SpreadEvent] {
	return &interfaces.Subscription[*domain.SpreadEvent]{
		Stream:      m.out,
		Topic:       "spread-events",
		Unsubscribe: func() {},
	}
}

// Run consumes canonical events from a dispatcher subscription until ctx is
// cancelled or the subscription closes.
func (m *SpreadMonitor) Run(ctx context.Context, sub *interfaces.Subscription[domain.Event]) {
	defer close(m.out)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Stream:
			if !ok {
				return
			}
			if spread := m.Observe(ev); spread != nil {
				m.emit(spread)
			}
		}
	}
}

// Observe feeds one canonical event through the detector. Only trades move
// venue price state; every other kind passes through untouched. The returned
// event is non-nil when a spread crossed the threshold outside the debounce
// interval.
func (m *SpreadMonitor) Observe(ev domain.Event) *domain.SpreadEvent {
	trade, ok := ev.(*domain.TradeEvent)
	if !ok {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	venues := m.prices[trade.Symbol]
	if venues == nil {
		venues = make(map[string]venuePrice)
		m.prices[trade.Symbol] = venues
	}

	// Out-of-order and duplicate updates from one venue are rejected so
	// replays are idempotent.
	if stored, ok := venues[trade.Agent]; ok && stored.ts >= trade.Timestamp {
		return nil
	}
	venues[trade.Agent] = venuePrice{
		price:  trade.Price,
		ts:     trade.Timestamp,
		recvTS: trade.RecvTimestamp,
	}

	return m.computeSpread(trade.Symbol, venues)
}

func (m *SpreadMonitor) computeSpread(symbol string, venues map[string]venuePrice) *domain.SpreadEvent {
	now := m.now()
	oldest := now.Add(-m.cfg.StalenessWindow).UnixMilli()

	var fresh []string
	var minVenue, maxVenue string
	var minPrice, maxPrice decimal.Decimal
	for venue, state := range venues {
		if state.recvTS < oldest {
			continue
		}
		fresh = append(fresh, venue)
		if minVenue == "" || state.price.LessThan(minPrice) {
			minVenue, minPrice = venue, state.price
		}
		if maxVenue == "" || state.price.GreaterThan(maxPrice) {
			maxVenue, maxPrice = venue, state.price
		}
	}
	if len(fresh) < 2 || minPrice.IsZero() {
		return nil
	}

	spread := maxPrice.Sub(minPrice).Div(minPrice)
	if spread.LessThanOrEqual(m.cfg.Threshold) {
		return nil
	}

	if last, ok := m.lastEmit[symbol]; ok && now.Sub(last) < m.cfg.DebounceInterval {
		return nil
	}
	m.lastEmit[symbol] = now

	return &domain.SpreadEvent{
		Type:      domain.KindSpread,
		Symbol:    symbol,
		Venues:    fresh,
		MinVenue:  minVenue,
		MinPrice:  minPrice,
		MaxVenue:  maxVenue,
		MaxPrice:  maxPrice,
		Spread:    spread,
		Timestamp: now.UnixMilli(),
	}
}

func (m *SpreadMonitor) emit(spread *domain.SpreadEvent) {
	promclient.SpreadEventsEmitted.Inc()
	m.log.Info("spread detected",
		zap.String("symbol", spread.Symbol),
		zap.String("spread", spread.Spread.String()),
		zap.String("min", spread.MinVenue),
		zap.String("max", spread.MaxVenue),
	)
	select {
	case m.out <- spread:
	default:
		m.log.Warn("spread subscriber lagging, event discarded", zap.String("symbol", spread.Symbol))
	}
}
