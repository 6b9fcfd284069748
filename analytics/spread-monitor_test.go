package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/domain/interfaces"
)

func newMonitor(t *testing.T, threshold string) (*SpreadMonitor, *time.Time) {
	t.Helper()
	m := NewSpreadMonitor(Config{
		Threshold:        decimal.RequireFromString(threshold),
		StalenessWindow:  30 * time.Second,
		DebounceInterval: 10 * time.Second,
	}, zap.NewNop())

	clock := time.UnixMilli(1700000000000)
	m.now = func() time.Time { return clock }
	return m, &clock
}

func trade(venue, symbol, price string, ts int64) *domain.TradeEvent {
	return &domain.TradeEvent{
		EventHeader: domain.EventHeader{
			Agent:         venue,
			Type:          domain.KindTrade,
			Symbol:        symbol,
			Timestamp:     ts,
			RecvTimestamp: 1700000000000,
		},
		Price:    decimal.RequireFromString(price),
		Quantity: decimal.RequireFromString("1"),
	}
}

func TestObserve_RejectsStaleUpdate(t *testing.T) {
	m, _ := newMonitor(t, "0.05")

	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "100", 100)))
	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "90", 50)))

	state := m.prices["BTC-USD"]["binance"]
	assert.Equal(t, "100", state.price.String())
	assert.Equal(t, int64(100), state.ts)
}

func TestObserve_RejectsDuplicateTimestamp(t *testing.T) {
	m, _ := newMonitor(t, "0.05")

	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "100", 100)))
	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "101", 100)))

	assert.Equal(t, "100", m.prices["BTC-USD"]["binance"].price.String())
}

func TestObserve_EmitsAboveThreshold(t *testing.T) {
	m, _ := newMonitor(t, "0.05")

	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "100", 10)))
	spread := m.Observe(trade("coinbase", "BTC-USD", "106", 11))

	require.NotNil(t, spread)
	assert.Equal(t, "BTC-USD", spread.Symbol)
	assert.Equal(t, "binance", spread.MinVenue)
	assert.Equal(t, "coinbase", spread.MaxVenue)
	assert.Equal(t, "0.06", spread.Spread.String())
	assert.ElementsMatch(t, []string{"binance", "coinbase"}, spread.Venues)
}

func TestObserve_NoEventBelowThreshold(t *testing.T) {
	m, _ := newMonitor(t, "0.07")

	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "100", 10)))
	assert.Nil(t, m.Observe(trade("coinbase", "BTC-USD", "106", 11)))
}

func TestObserve_SingleVenueNeverEmits(t *testing.T) {
	m, _ := newMonitor(t, "0.01")

	assert.Nil(t, m.Observe(trade("binance", "BTC-USD", "100", 10)))
	assert.Nil(t, m.Observe(trade("binance", "BTC-USD", "200", 11)))
}

func TestObserve_Debounce(t *testing.T) {
	m, clock := newMonitor(t, "0.05")

	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "100", 10)))
	require.NotNil(t, m.Observe(trade("coinbase", "BTC-USD", "106", 11)))

	// Still above threshold, inside the debounce interval.
	*clock = clock.Add(5 * time.Second)
	assert.Nil(t, m.Observe(trade("coinbase", "BTC-USD", "107", 12)))

	// Past the interval the same condition fires again.
	*clock = clock.Add(6 * time.Second)
	assert.NotNil(t, m.Observe(trade("coinbase", "BTC-USD", "108", 13)))
}

func TestObserve_DebounceIsPerSymbol(t *testing.T) {
	m, _ := newMonitor(t, "0.05")

	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "100", 10)))
	require.NotNil(t, m.Observe(trade("coinbase", "BTC-USD", "106", 11)))

	require.Nil(t, m.Observe(trade("binance", "ETH-USD", "1000", 10)))
	assert.NotNil(t, m.Observe(trade("coinbase", "ETH-USD", "1060", 11)))
}

func TestObserve_ExcludesStaleVenues(t *testing.T) {
	m, clock := newMonitor(t, "0.05")

	require.Nil(t, m.Observe(trade("binance", "BTC-USD", "100", 10)))

	// binance goes quiet for a minute; only coinbase and deribit are fresh
	// when the next update arrives.
	*clock = clock.Add(time.Minute)
	fresh := trade("coinbase", "BTC-USD", "200", 20)
	fresh.RecvTimestamp = clock.UnixMilli()
	require.Nil(t, m.Observe(fresh))

	other := trade("deribit", "BTC-USD", "230", 21)
	other.RecvTimestamp = clock.UnixMilli()
	spread := m.Observe(other)
	require.NotNil(t, spread)
	assert.NotContains(t, spread.Venues, "binance")
	assert.Equal(t, "coinbase", spread.MinVenue)
}

func TestObserve_IgnoresNonTradeEvents(t *testing.T) {
	m, _ := newMonitor(t, "0.05")

	assert.Nil(t, m.Observe(&domain.BookTickerEvent{
		EventHeader: domain.EventHeader{Agent: "binance", Type: domain.KindBookTicker, Symbol: "BTC-USD"},
	}))
	assert.Empty(t, m.prices)
}

func TestRun_DeliversToSubscription(t *testing.T) {
	m, _ := newMonitor(t, "0.05")
	sub := m.Subscribe()

	in := make(chan domain.Event, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, &interfaces.Subscription[domain.Event]{Stream: in, Unsubscribe: func() {}})

	in <- trade("binance", "BTC-USD", "100", 10)
	in <- trade("coinbase", "BTC-USD", "106", 11)

	select {
	case spread := <-sub.Stream:
		assert.Equal(t, "0.06", spread.Spread.String())
	case <-time.After(time.Second):
		t.Fatal("spread event not delivered")
	}

	close(in)
	select {
	case _, ok := <-sub.Stream:
		assert.False(t, ok, "stream should close when input closes")
	case <-time.After(time.Second):
		t.Fatal("stream not closed")
	}
}
