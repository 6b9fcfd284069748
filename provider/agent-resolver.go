package provider

import (
	"fmt"

	"github.com/quantpulse/go-venuefeed/config"
	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/domain/interfaces"
	"github.com/quantpulse/go-venuefeed/provider/binance"
	"github.com/quantpulse/go-venuefeed/provider/coinbase"
	"github.com/quantpulse/go-venuefeed/provider/deribit"
)

// ResolveAgent constructs the venue agent for one feed spec. The venue set is
// closed; adding a venue means adding a case here.
func ResolveAgent(spec domain.FeedSpec, cfg *config.Config) (interfaces.Agent, error) {
	switch spec.Venue {
	case "binance":
		return binance.NewAgent(spec, binance.Config{
			URL:     cfg.BinanceWSURL,
			Symbols: cfg.Symbols(spec),
			Kinds:   cfg.EnabledKinds,
		}), nil
	case "coinbase":
		return coinbase.NewAgent(spec, coinbase.Config{
			URL:     cfg.CoinbaseWSURL,
			Symbols: cfg.Symbols(spec),
			Kinds:   cfg.EnabledKinds,
		}), nil
	case "deribit":
		return deribit.NewAgent(spec, deribit.Config{
			URL:     cfg.DeribitWSURL,
			Symbols: cfg.Symbols(spec),
			Kinds:   cfg.EnabledKinds,
		}), nil
	}
	return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("unknown venue %q", spec.Venue)}
}
