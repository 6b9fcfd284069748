package domain

import (
	"fmt"
	"strings"
)

// SymbolAll selects every symbol the venue supports.
const SymbolAll = "all"

// FeedSpec names one venue feed to ingest: a venue plus a symbol selector.
// Immutable, supplied at startup from a positional "venue:symbolOrAll" spec.
type FeedSpec struct {
	Venue  string
	Symbol string
}

// ParseFeedSpec parses "venue:symbolOrAll". A bare "venue" selects all symbols.
func ParseFeedSpec(spec string) (FeedSpec, error) {
	venue, symbol, found := strings.Cut(spec, ":")
	venue = strings.ToLower(strings.TrimSpace(venue))
	symbol = strings.ToLower(strings.TrimSpace(symbol))

	if venue == "" {
		return FeedSpec{}, fmt.Errorf("empty venue in spec %q", spec)
	}
	if !found || symbol == "" {
		symbol = SymbolAll
	}

	return FeedSpec{Venue: venue, Symbol: symbol}, nil
}

// All reports whether the spec selects every symbol on the venue.
func (f FeedSpec) All() bool {
	return f.Symbol == SymbolAll
}

func (f FeedSpec) String() string {
	return f.Venue + ":" + f.Symbol
}
