package domain

import (
	"fmt"
	"strings"
)

// MarketSymbol is the canonical trading pair used uniformly across venues:
// uppercase base and quote assets, rendered as "BASE-QUOTE".
type MarketSymbol struct {
	BaseAsset  string
	QuoteAsset string
}

func NewMarketSymbol(base string, quote string) (*MarketSymbol, error) {
	base = strings.ToUpper(strings.TrimSpace(base))
	quote = strings.ToUpper(strings.TrimSpace(quote))

	if base == "" || quote == "" {
		return nil, fmt.Errorf("base and quote must not be empty")
	}
	if base == quote {
		return nil, fmt.Errorf("base and quote must be different")
	}
	if !isAssetCode(base) || !isAssetCode(quote) {
		return nil, fmt.Errorf("asset codes must be alphanumeric: %s/%s", base, quote)
	}

	return &MarketSymbol{
		BaseAsset:  base,
		QuoteAsset: quote,
	}, nil
}

// NewMarketSymbolFromString parses an already-canonical "BASE-QUOTE" string.
func NewMarketSymbolFromString(s string) (*MarketSymbol, error) {
	split := strings.Split(s, "-")

	if len(split) != 2 {
		return nil, fmt.Errorf("invalid symbol string %q", s)
	}

	return NewMarketSymbol(split[0], split[1])
}

func (ms *MarketSymbol) Join(separator string) string {
	return fmt.Sprintf("%s%s%s", ms.BaseAsset, separator, ms.QuoteAsset)
}

func (ms *MarketSymbol) String() string {
	return ms.Join("-")
}

func (ms *MarketSymbol) Equal(other *MarketSymbol) bool {
	return ms.BaseAsset == other.BaseAsset && ms.QuoteAsset == other.QuoteAsset
}

func isAssetCode(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
