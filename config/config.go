package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/shopspring/decimal"
)

// Venues is the closed set of supported feed venues.
var Venues = []string{"binance", "coinbase", "deribit"}

// Config is the immutable runtime configuration, resolved exactly once at
// startup from flags and the environment and passed explicitly to every
// component. No component performs its own environment lookups afterwards.
type Config struct {
	Feeds []domain.FeedSpec

	// EnabledKinds gates event kinds pipeline-wide. Trades default on, the
	// rest default off; experimental kinds are additionally env-gated.
	EnabledKinds map[domain.EventKind]bool

	// QuoteOverrides replaces a venue's quote-asset table, from
	// VENUEFEED_<VENUE>_QUOTES comma lists.
	QuoteOverrides map[string][]string

	BinanceWSURL  string
	CoinbaseWSURL string
	DeribitWSURL  string

	// DefaultSymbols resolves a "venue:all" spec; venue metadata fetchers
	// are an external collaborator, so "all" maps to this static list.
	DefaultSymbols map[string][]string

	// Analytics tuning.
	SpreadThreshold  decimal.Decimal
	StalenessWindow  time.Duration
	DebounceInterval time.Duration

	// Supervisor tuning.
	ConnectTimeout         time.Duration
	BackoffMin             time.Duration
	BackoffMax             time.Duration
	BackoffFactor          float64
	StabilityWindow        time.Duration
	MaxConsecutiveFailures int
	IdleReconnect          time.Duration

	// Dispatcher tuning.
	QueueCapacity int
	BlockTimeout  time.Duration

	MetricsAddr string

	// Sinks. Stdout is always on; the others are optional.
	FileSinkPath string
	KafkaBroker  string
	KafkaTopic   string

	Debug bool
}

var kindFlags = []struct {
	name    string
	kind    domain.EventKind
	enabled bool
	usage   string
}{
	{"trades", domain.KindTrade, true, "ingest trade events"},
	{"l2-diff", domain.KindL2Diff, false, "ingest level-2 depth diffs"},
	{"l2-snapshot", domain.KindL2Snapshot, false, "ingest level-2 snapshots"},
	{"book-ticker", domain.KindBookTicker, false, "ingest best bid/ask updates"},
	{"ticker-24h", domain.KindTicker24h, false, "ingest 24h rolling tickers"},
	{"ohlcv", domain.KindOHLCV, false, "ingest OHLCV candles"},
	{"index-price", domain.KindIndexPrice, false, "ingest index price updates"},
	{"mark-price", domain.KindMarkPrice, false, "ingest mark price updates"},
	{"funding", domain.KindFundingRate, false, "ingest funding rate updates"},
	{"open-interest", domain.KindOpenInterest, false, "ingest open interest updates"},
	{"onchain-transfers", domain.KindOnchainTransfer, false, "ingest on-chain transfers"},
	{"onchain-balances", domain.KindOnchainBalance, false, "ingest on-chain balance updates"},
	{"top-dex-pools", domain.KindTopDexPool, false, "ingest top DEX pool stats"},
	{"news", domain.KindNewsHeadline, false, "ingest news headlines"},
	{"telemetry", domain.KindTelemetry, false, "ingest feed telemetry events"},
}

// experimental kinds are gated by environment toggles, never flags.
var experimentalGates = map[domain.EventKind]string{
	domain.KindOptionsChain: "VENUEFEED_ENABLE_OPTIONS_CHAIN",
	domain.KindMempool:      "VENUEFEED_ENABLE_MEMPOOL",
	domain.KindBridgeFlow:   "VENUEFEED_ENABLE_BRIDGE_FLOWS",
	domain.KindMEVSignal:    "VENUEFEED_ENABLE_MEV",
}

// Load parses flags and environment into a Config. args excludes the program
// name. Positional arguments are "venue:symbolOrAll" feed specs.
func Load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	fs := flag.NewFlagSet("venuefeed", flag.ContinueOnError)

	kindValues := make(map[domain.EventKind]*bool, len(kindFlags))
	for _, kf := range kindFlags {
		kindValues[kf.kind] = fs.Bool(kf.name, kf.enabled, kf.usage)
	}

	var (
		binanceURL  = fs.String("binance-ws-url", "wss://stream.binance.com:9443/stream", "binance websocket endpoint")
		coinbaseURL = fs.String("coinbase-ws-url", "wss://ws-feed.exchange.coinbase.com", "coinbase websocket endpoint")
		deribitURL  = fs.String("deribit-ws-url", "wss://www.deribit.com/ws/api/v2", "deribit websocket endpoint")

		threshold = fs.String("spread-threshold", "0.05", "relative spread threshold as a fraction, e.g. 0.05 for 5%")
		staleness = fs.Duration("staleness-window", 30*time.Second, "exclude venues with no update within this window from spread comparison")
		debounce  = fs.Duration("debounce-interval", 10*time.Second, "minimum interval between spread events for the same symbol")

		connectTimeout  = fs.Duration("connect-timeout", 10*time.Second, "per-attempt connect timeout")
		backoffMin      = fs.Duration("backoff-min", time.Second, "initial reconnect backoff")
		backoffMax      = fs.Duration("backoff-max", 60*time.Second, "reconnect backoff cap")
		stabilityWindow = fs.Duration("stability-window", 30*time.Second, "streaming duration after which backoff resets")
		maxFailures     = fs.Int("max-failures", 10, "consecutive failures before an agent is marked failed")
		idleReconnect   = fs.Duration("idle-reconnect", 90*time.Second, "force-reconnect a feed producing no message within this window")

		queueCapacity = fs.Int("queue-capacity", 1024, "per-consumer dispatch queue capacity")
		blockTimeout  = fs.Duration("block-timeout", 5*time.Second, "bounded-block delivery timeout per consumer")

		metricsAddr = fs.String("metrics-addr", ":8080", "prometheus metrics listen address, empty to disable")
		fileSink    = fs.String("file-sink", "", "append canonical events to this file")
		kafkaBroker = fs.String("kafka-broker", "", "publish canonical events to this kafka broker")
		kafkaTopic  = fs.String("kafka-topic", "market.events", "kafka topic for canonical events")
		debug       = fs.Bool("debug", false, "verbose development logging")
	)

	if err := fs.Parse(args); err != nil {
		return nil, &domain.ConfigurationError{Reason: err.Error()}
	}

	cfg := &Config{
		EnabledKinds:   make(map[domain.EventKind]bool),
		QuoteOverrides: make(map[string][]string),

		BinanceWSURL:  *binanceURL,
		CoinbaseWSURL: *coinbaseURL,
		DeribitWSURL:  *deribitURL,

		DefaultSymbols: map[string][]string{
			"binance":  {"btcusdt", "ethusdt", "solusdt"},
			"coinbase": {"BTC-USD", "ETH-USD", "SOL-USD"},
			"deribit":  {"BTC-PERPETUAL", "ETH-PERPETUAL"},
		},

		StalenessWindow:  *staleness,
		DebounceInterval: *debounce,

		ConnectTimeout:         *connectTimeout,
		BackoffMin:             *backoffMin,
		BackoffMax:             *backoffMax,
		BackoffFactor:          2,
		StabilityWindow:        *stabilityWindow,
		MaxConsecutiveFailures: *maxFailures,
		IdleReconnect:          *idleReconnect,

		QueueCapacity: *queueCapacity,
		BlockTimeout:  *blockTimeout,

		MetricsAddr:  *metricsAddr,
		FileSinkPath: *fileSink,
		KafkaBroker:  *kafkaBroker,
		KafkaTopic:   *kafkaTopic,

		Debug: *debug,
	}

	spread, err := decimal.NewFromString(strings.TrimSuffix(*threshold, "%"))
	if err != nil {
		return nil, &domain.ConfigurationError{Reason: "invalid spread threshold: " + *threshold}
	}
	if strings.HasSuffix(*threshold, "%") {
		spread = spread.Div(decimal.NewFromInt(100))
	}
	if !spread.IsPositive() {
		return nil, &domain.ConfigurationError{Reason: "spread threshold must be positive"}
	}
	cfg.SpreadThreshold = spread

	for _, kind := range domain.Kinds() {
		cfg.EnabledKinds[kind] = false
	}
	for kind, ptr := range kindValues {
		cfg.EnabledKinds[kind] = *ptr
	}
	for kind, env := range experimentalGates {
		if v, ok := lookupEnv(env); ok && isTruthy(v) {
			cfg.EnabledKinds[kind] = true
		}
	}

	for _, venue := range Venues {
		env := "VENUEFEED_" + strings.ToUpper(venue) + "_QUOTES"
		if v, ok := lookupEnv(env); ok && strings.TrimSpace(v) != "" {
			cfg.QuoteOverrides[venue] = splitList(v)
		}
	}

	for _, arg := range fs.Args() {
		spec, err := domain.ParseFeedSpec(arg)
		if err != nil {
			return nil, &domain.ConfigurationError{Reason: err.Error()}
		}
		if !knownVenue(spec.Venue) {
			return nil, &domain.ConfigurationError{
				Reason: fmt.Sprintf("unknown venue %q, available: %s", spec.Venue, strings.Join(Venues, ", ")),
			}
		}
		cfg.Feeds = append(cfg.Feeds, spec)
	}

	if len(cfg.Feeds) == 0 {
		return nil, &domain.ConfigurationError{Reason: "no feeds configured"}
	}
	if cfg.MaxConsecutiveFailures < 1 {
		return nil, &domain.ConfigurationError{Reason: "max-failures must be at least 1"}
	}
	if cfg.QueueCapacity < 1 {
		return nil, &domain.ConfigurationError{Reason: "queue-capacity must be at least 1"}
	}

	return cfg, nil
}

// Usage returns the CLI usage text, listing available venues.
func Usage() string {
	var b strings.Builder
	b.WriteString("Usage: venuefeed [flags] <venue:symbolOrAll> [<venue:symbolOrAll> ...]\n")
	b.WriteString("Examples:\n")
	b.WriteString("  venuefeed binance:btcusdt\n")
	b.WriteString("  venuefeed -book-ticker binance:btcusdt coinbase:BTC-USD\n")
	b.WriteString("  venuefeed binance:all coinbase:all\n")
	b.WriteString("Available venues:\n")
	for _, v := range Venues {
		b.WriteString("  - " + v + "\n")
	}
	b.WriteString("Experimental kinds (enable via environment, not flags):\n")
	for _, kind := range domain.ExperimentalKinds() {
		b.WriteString("  - " + kind.String() + " (" + experimentalGates[kind] + ")\n")
	}
	return b.String()
}

// Symbols resolves the feed spec into concrete venue-native symbols. Feed
// specs are parsed case-insensitively, so the venue's own case convention is
// reapplied here.
func (c *Config) Symbols(spec domain.FeedSpec) []string {
	if spec.All() {
		return c.DefaultSymbols[spec.Venue]
	}
	switch spec.Venue {
	case "coinbase", "deribit":
		return []string{strings.ToUpper(spec.Symbol)}
	}
	return []string{spec.Symbol}
}

func knownVenue(venue string) bool {
	for _, v := range Venues {
		if v == venue {
			return true
		}
	}
	return false
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
