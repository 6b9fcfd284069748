package canonical

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantpulse/go-venuefeed/domain"
)

// Validator is an optional post-normalization hook. When attached, a non-nil
// return routes the event to the error path instead of the main dispatch.
type Validator func(domain.CanonicalEvent) error

// Config is resolved once at startup; the service never reads the
// environment itself.
type Config struct {
	// EnabledKinds gates which event kinds may be produced. A raw event of a
	// disabled kind fails normalization instead of being silently accepted.
	EnabledKinds map[domain.EventKind]bool
	// QuoteOverrides replaces the built-in quote-asset list for a venue,
	// e.g. from a VENUEFEED_BINANCE_QUOTES comma list.
	QuoteOverrides map[string][]string
}

// CanonicalService converts venue-native raw events into canonical events:
// a stateless, deterministic transform. Symbols from supported venues are
// normalized into the uppercase "BASE-QUOTE" form; binance "btcusdt" becomes
// "BTC-USDT" by longest-match quote-suffix split, coinbase "btc-usd",
// "BTC_USD" and "btcusd" all become "BTC-USD".
type CanonicalService struct {
	quotes    map[string][]string
	enabled   map[domain.EventKind]bool
	validator Validator
}

var defaultQuotes = map[string][]string{
	"binance":  {"usdt", "usdc", "busd", "usd", "btc", "eth", "bnb"},
	"coinbase": {"usdt", "usdc", "usd", "btc", "eth", "eur"},
	"deribit":  {"usdc", "usdt", "usd", "eth", "btc"},
}

func NewCanonicalService(cfg Config) *CanonicalService {
	quotes := make(map[string][]string, len(defaultQuotes))
	for venue, list := range defaultQuotes {
		quotes[venue] = sortQuotes(list)
	}
	for venue, list := range cfg.QuoteOverrides {
		if len(list) > 0 {
			quotes[strings.ToLower(venue)] = sortQuotes(list)
		}
	}

	enabled := make(map[domain.EventKind]bool, len(cfg.EnabledKinds))
	for kind, on := range cfg.EnabledKinds {
		enabled[kind] = on
	}

	return &CanonicalService{
		quotes:  quotes,
		enabled: enabled,
	}
}

// WithValidator attaches the post-normalization hook. Default: none.
func (s *CanonicalService) WithValidator(v Validator) *CanonicalService {
	s.validator = v
	return s
}

// Canonicalize maps one raw event into its canonical variant. A failure
// drops exactly that event; it never aborts the stream.
func (s *CanonicalService) Canonicalize(raw domain.RawEvent) (domain.CanonicalEvent, error) {
	if !s.enabled[raw.Kind] {
		return nil, &domain.NormalizationError{
			Venue: raw.Venue, Kind: raw.Kind, Reason: domain.ErrFeatureDisabled,
		}
	}

	build, ok := kindBuilders[raw.Kind]
	if !ok {
		return nil, &domain.NormalizationError{
			Venue: raw.Venue, Kind: raw.Kind, Reason: domain.ErrFeatureDisabled,
		}
	}

	symbol, err := s.CanonicalPair(raw.Venue, raw.Symbol)
	if err != nil {
		return nil, &domain.NormalizationError{Venue: raw.Venue, Kind: raw.Kind, Reason: err}
	}

	ts := raw.Timestamp
	if ts == 0 {
		ts = raw.RecvTimestamp
	}
	header := domain.EventHeader{
		Agent:         raw.Venue,
		Type:          raw.Kind,
		Symbol:        symbol.String(),
		Timestamp:     ts,
		RecvTimestamp: raw.RecvTimestamp,
	}

	event, err := build(payload{m: raw.Payload}, header)
	if err != nil {
		return nil, &domain.NormalizationError{Venue: raw.Venue, Kind: raw.Kind, Reason: err}
	}

	if s.validator != nil {
		if err := s.validator(event); err != nil {
			return nil, &domain.NormalizationError{
				Venue: raw.Venue, Kind: raw.Kind,
				Reason: fmt.Errorf("rejected by validator: %w", err),
			}
		}
	}

	return event, nil
}

// CanonicalPair converts a venue-native pair spelling into the canonical
// MarketSymbol. Unknown venues and unmatched shapes fail.
func (s *CanonicalService) CanonicalPair(venue, pair string) (*domain.MarketSymbol, error) {
	lower := strings.ToLower(strings.TrimSpace(pair))
	if lower == "" {
		return nil, domain.ErrUnknownSymbolFormat
	}

	switch strings.ToLower(venue) {
	case "binance":
		return s.splitBySuffix("binance", lower)
	case "coinbase":
		return s.splitSeparated("coinbase", lower)
	case "deribit":
		return s.splitDeribit(lower)
	default:
		return nil, domain.ErrUnknownSymbolFormat
	}
}

// splitBySuffix splits a concatenated pair by the venue's known quote
// suffixes, longest first so "solusdt" never splits as SOLUSD-T.
func (s *CanonicalService) splitBySuffix(venue, lower string) (*domain.MarketSymbol, error) {
	for _, quote := range s.quotes[venue] {
		if strings.HasSuffix(lower, quote) && len(lower) > len(quote) {
			base := lower[:len(lower)-len(quote)]
			ms, err := domain.NewMarketSymbol(base, quote)
			if err != nil {
				return nil, domain.ErrUnknownSymbolFormat
			}
			return ms, nil
		}
	}
	return nil, domain.ErrUnknownSymbolFormat
}

// splitSeparated handles venues that separate base and quote with "-" or "_",
// falling back to quote-suffix detection for concatenated forms.
func (s *CanonicalService) splitSeparated(venue, lower string) (*domain.MarketSymbol, error) {
	normalized := strings.ReplaceAll(lower, "_", "-")
	if base, quote, found := strings.Cut(normalized, "-"); found {
		ms, err := domain.NewMarketSymbol(base, quote)
		if err != nil {
			return nil, domain.ErrUnknownSymbolFormat
		}
		return ms, nil
	}
	return s.splitBySuffix(venue, lower)
}

// splitDeribit handles deribit instrument names: "btc_usdc" spot pairs and
// "btc-perpetual" futures, which are quoted in USD.
func (s *CanonicalService) splitDeribit(lower string) (*domain.MarketSymbol, error) {
	normalized := strings.ReplaceAll(lower, "_", "-")
	base, rest, found := strings.Cut(normalized, "-")
	if !found {
		return s.splitBySuffix("deribit", lower)
	}
	if rest == "perpetual" {
		ms, err := domain.NewMarketSymbol(base, "usd")
		if err != nil {
			return nil, domain.ErrUnknownSymbolFormat
		}
		return ms, nil
	}
	for _, quote := range s.quotes["deribit"] {
		if rest == quote {
			ms, err := domain.NewMarketSymbol(base, quote)
			if err != nil {
				return nil, domain.ErrUnknownSymbolFormat
			}
			return ms, nil
		}
	}
	return nil, domain.ErrUnknownSymbolFormat
}

func sortQuotes(quotes []string) []string {
	out := make([]string, 0, len(quotes))
	for _, q := range quotes {
		q = strings.ToLower(strings.TrimSpace(q))
		if q != "" {
			out = append(out, q)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return len(out[i]) > len(out[j])
	})
	return out
}
