package canonical_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/quantpulse/go-venuefeed/canonical"
	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(kinds ...domain.EventKind) *canonical.CanonicalService {
	enabled := map[domain.EventKind]bool{domain.KindTrade: true}
	for _, k := range kinds {
		enabled[k] = true
	}
	return canonical.NewCanonicalService(canonical.Config{EnabledKinds: enabled})
}

func TestCanonicalPair(t *testing.T) {
	s := newService()

	tests := []struct {
		name        string
		venue, pair string
		expected    string
		expectError bool
	}{
		{"BinanceConcatenated", "binance", "btcusdt", "BTC-USDT", false},
		{"BinanceCrossPair", "binance", "ethbtc", "ETH-BTC", false},
		{"BinanceLongestMatchFirst", "binance", "solusdt", "SOL-USDT", false},
		{"BinanceUppercase", "binance", "BTCUSDT", "BTC-USDT", false},
		{"BinanceNoQuoteSuffix", "binance", "btcxyz", "", true},
		{"BinanceQuoteOnly", "binance", "usdt", "", true},
		{"CoinbaseHyphen", "coinbase", "btc-usd", "BTC-USD", false},
		{"CoinbaseUnderscore", "coinbase", "BTC_USD", "BTC-USD", false},
		{"CoinbaseConcatenated", "coinbase", "btcusd", "BTC-USD", false},
		{"CoinbaseAlreadyCanonical", "coinbase", "ETH-USD", "ETH-USD", false},
		{"CoinbaseUnknownShape", "coinbase", "btcxyz", "", true},
		{"DeribitPerpetual", "deribit", "BTC-PERPETUAL", "BTC-USD", false},
		{"DeribitSpot", "deribit", "eth_usdc", "ETH-USDC", false},
		{"UnknownVenue", "kraken", "btcusd", "", true},
		{"EmptyPair", "binance", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, err := s.CanonicalPair(tt.venue, tt.pair)

			if tt.expectError {
				assert.ErrorIs(t, err, domain.ErrUnknownSymbolFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ms.String())
			assert.Regexp(t, `^[A-Z0-9]+-[A-Z0-9]+$`, ms.String())
		})
	}
}

func TestCanonicalPair_QuoteOverride(t *testing.T) {
	s := canonical.NewCanonicalService(canonical.Config{
		QuoteOverrides: map[string][]string{"binance": {"try", "usdt"}},
	})

	ms, err := s.CanonicalPair("binance", "btctry")
	require.NoError(t, err)
	assert.Equal(t, "BTC-TRY", ms.String())

	// longest-match ordering is re-applied to overrides
	ms, err = s.CanonicalPair("binance", "btcusdt")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT", ms.String())
}

func tradeRaw() domain.RawEvent {
	return domain.RawEvent{
		Venue:  "binance",
		Kind:   domain.KindTrade,
		Symbol: "btcusdt",
		Payload: map[string]any{
			"p": "25000.10",
			"q": "0.00150000",
		},
		Timestamp:     1700000000123,
		RecvTimestamp: 1700000000150,
	}
}

func TestCanonicalize_Trade(t *testing.T) {
	s := newService()

	event, err := s.Canonicalize(tradeRaw())
	require.NoError(t, err)

	trade, ok := event.(*domain.TradeEvent)
	require.True(t, ok, "expected *domain.TradeEvent, got %T", event)
	assert.Equal(t, "binance", trade.Agent)
	assert.Equal(t, domain.KindTrade, trade.Type)
	assert.Equal(t, "BTC-USDT", trade.Symbol)
	assert.Equal(t, int64(1700000000123), trade.Timestamp)
	assert.Equal(t, "25000.1", trade.Price.String())
	assert.Equal(t, "0.0015", trade.Quantity.String())
}

func TestCanonicalize_Idempotent(t *testing.T) {
	s := newService()

	first, err := s.Canonicalize(tradeRaw())
	require.NoError(t, err)
	second, err := s.Canonicalize(tradeRaw())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, a, b, "canonicalizing the same payload twice must be byte-identical")
}

func TestCanonicalize_WireFormat(t *testing.T) {
	s := newService()

	event, err := s.Canonicalize(tradeRaw())
	require.NoError(t, err)

	line, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(line, &decoded))
	assert.Equal(t, "binance", decoded["agent"])
	assert.Equal(t, "trade", decoded["type"])
	assert.Equal(t, "BTC-USDT", decoded["s"])
	assert.IsType(t, "", decoded["p"], "price must be a decimal string, not a JSON number")
	assert.IsType(t, "", decoded["q"], "quantity must be a decimal string, not a JSON number")
}

func TestCanonicalize_MissingField(t *testing.T) {
	s := newService()

	raw := tradeRaw()
	delete(raw.Payload, "q")

	_, err := s.Canonicalize(raw)
	var normErr *domain.NormalizationError
	require.ErrorAs(t, err, &normErr)
	var missing *domain.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "q", missing.Field)
	assert.Equal(t, "missing_field", normErr.ReasonLabel())
}

func TestCanonicalize_FeatureDisabled(t *testing.T) {
	s := newService() // only trades enabled

	raw := tradeRaw()
	raw.Kind = domain.KindFundingRate
	raw.Payload = map[string]any{"r": "0.0001"}

	_, err := s.Canonicalize(raw)
	var normErr *domain.NormalizationError
	require.ErrorAs(t, err, &normErr)
	assert.True(t, errors.Is(err, domain.ErrFeatureDisabled))
	assert.Equal(t, "feature_disabled", normErr.ReasonLabel())
}

func TestCanonicalize_UnknownSymbol(t *testing.T) {
	s := newService()

	raw := tradeRaw()
	raw.Symbol = "completelybogus"

	_, err := s.Canonicalize(raw)
	var normErr *domain.NormalizationError
	require.ErrorAs(t, err, &normErr)
	assert.True(t, errors.Is(err, domain.ErrUnknownSymbolFormat))
	assert.Equal(t, "unknown_symbol_format", normErr.ReasonLabel())
}

func TestCanonicalize_ValidatorRejects(t *testing.T) {
	s := newService().WithValidator(func(e domain.CanonicalEvent) error {
		return errors.New("no thanks")
	})

	_, err := s.Canonicalize(tradeRaw())
	var normErr *domain.NormalizationError
	require.ErrorAs(t, err, &normErr)
	assert.Contains(t, normErr.Error(), "rejected by validator")
}

func TestCanonicalize_VenueFieldNames(t *testing.T) {
	s := newService(domain.KindBookTicker, domain.KindFundingRate)

	raw := domain.RawEvent{
		Venue:  "coinbase",
		Kind:   domain.KindTrade,
		Symbol: "btc-usd",
		Payload: map[string]any{
			"price": "60123.45",
			"size":  "0.2",
			"side":  "buy",
		},
		Timestamp:     1700000000001,
		RecvTimestamp: 1700000000002,
	}

	event, err := s.Canonicalize(raw)
	require.NoError(t, err)
	trade := event.(*domain.TradeEvent)
	assert.Equal(t, "BTC-USD", trade.Symbol)
	assert.Equal(t, "60123.45", trade.Price.String())
	assert.Equal(t, "buy", trade.Side)
}

func TestCanonicalize_L2Diff(t *testing.T) {
	s := newService(domain.KindL2Diff)

	raw := domain.RawEvent{
		Venue:  "binance",
		Kind:   domain.KindL2Diff,
		Symbol: "ethusdt",
		Payload: map[string]any{
			"b": []any{[]any{"1800.50", "2.000"}},
			"a": []any{[]any{"1800.60", "1.5"}},
			"u": float64(987654),
		},
		Timestamp: 1700000000003,
	}

	event, err := s.Canonicalize(raw)
	require.NoError(t, err)
	diff := event.(*domain.L2DiffEvent)
	assert.Equal(t, int64(987654), diff.FinalUpdateID)
	require.Len(t, diff.Bids, 1)
	assert.Equal(t, domain.PriceLevel{"1800.5", "2"}, diff.Bids[0])
}
