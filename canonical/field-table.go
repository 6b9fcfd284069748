package canonical

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/shopspring/decimal"
)

// fieldAliases maps each canonical field to the payload keys it may arrive
// under, in lookup order. The first entry is the canonical wire name; the
// rest are venue spellings (binance single letters, coinbase long names,
// deribit snake_case).
var fieldAliases = map[string][]string{
	"p":    {"p", "price", "last_price", "mark_price", "index_price"},
	"q":    {"q", "size", "qty", "amount"},
	"side": {"side", "m", "direction"},
	"b":    {"b", "bids"},
	"a":    {"a", "asks"},
	"u":    {"u", "final_update_id", "change_id"},

	"lastUpdateId": {"lastUpdateId", "last_update_id", "sequence"},

	"bp":     {"bp", "b", "best_bid_price", "best_bid"},
	"bq":     {"bq", "B", "best_bid_size", "best_bid_amount"},
	"ap":     {"ap", "a", "best_ask_price", "best_ask"},
	"aq":     {"aq", "A", "best_ask_size", "best_ask_amount"},
	"o":      {"o", "open", "open_24h"},
	"h":      {"h", "high", "high_24h"},
	"l":      {"l", "low", "low_24h"},
	"c":      {"c", "close", "last", "price"},
	"v":      {"v", "volume", "volume_24h", "value"},
	"i":      {"i", "interval", "granularity", "resolution"},
	"r":      {"r", "rate", "funding_rate", "fundingRate", "current_funding"},
	"oi":     {"oi", "open_interest", "openInterest"},
	"from":   {"from", "sender"},
	"to":     {"to", "recipient"},
	"tok":    {"tok", "token", "asset", "contract"},
	"addr":   {"addr", "address", "account"},
	"bal":    {"bal", "balance"},
	"pool":   {"pool", "pool_address", "pair"},
	"tvl":    {"tvl", "liquidity"},
	"vol":    {"vol", "volume_usd"},
	"title":  {"title", "headline"},
	"src":    {"src", "source", "publisher"},
	"m":      {"m", "metric", "name"},
	"exp":    {"exp", "expiry", "expiration"},
	"k":      {"k", "strike", "strike_price"},
	"cp":     {"cp", "option_type", "callPut"},
	"bid":    {"bid", "bid_price"},
	"ask":    {"ask", "ask_price"},
	"hash":   {"hash", "tx_hash", "txHash"},
	"gas":    {"gas", "gas_price", "gasPrice"},
	"bridge": {"bridge", "bridge_name"},
	"strat":  {"strat", "strategy", "kind"},
	"profit": {"profit", "profit_usd"},
}

// payload wraps a decoded raw-event body with alias-aware field access.
// All accessors report the canonical field name on a miss so the resulting
// MissingFieldError is venue-independent.
type payload struct {
	m map[string]any
}

func (p payload) lookup(field string) (any, bool) {
	aliases, ok := fieldAliases[field]
	if !ok {
		aliases = []string{field}
	}
	for _, name := range aliases {
		if v, ok := p.m[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (p payload) dec(field string) (decimal.Decimal, error) {
	v, ok := p.lookup(field)
	if !ok {
		return decimal.Decimal{}, &domain.MissingFieldError{Field: field}
	}
	return parseDecimal(field, v)
}

func (p payload) str(field string) (string, error) {
	v, ok := p.lookup(field)
	if !ok {
		return "", &domain.MissingFieldError{Field: field}
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", field)
	}
	return s, nil
}

func (p payload) optStr(field string) string {
	v, ok := p.lookup(field)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (p payload) int64(field string) (int64, error) {
	v, ok := p.lookup(field)
	if !ok {
		return 0, &domain.MissingFieldError{Field: field}
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("field %q is not an integer", field)
	}
}

// levels decodes a depth side: a slice of [price, quantity] entries. Each
// value is re-parsed as a decimal so malformed levels fail the whole event.
func (p payload) levels(field string) ([]domain.PriceLevel, error) {
	v, ok := p.lookup(field)
	if !ok {
		return nil, &domain.MissingFieldError{Field: field}
	}
	rows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not a level array", field)
	}
	out := make([]domain.PriceLevel, 0, len(rows))
	for _, row := range rows {
		entry, ok := row.([]any)
		if !ok || len(entry) < 2 {
			return nil, fmt.Errorf("field %q has a malformed level", field)
		}
		price, err := parseDecimal(field, entry[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimal(field, entry[1])
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{price.String(), qty.String()})
	}
	return out, nil
}

// parseDecimal parses exact decimal values from the string or numeric forms
// venues emit. String sources keep their full precision; binary floats are
// accepted only because some venues already ship them that way.
func parseDecimal(field string, v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("field %q is not a decimal: %w", field, err)
		}
		return d, nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("field %q is not a decimal: %w", field, err)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("field %q is not a decimal", field)
	}
}

type builderFunc func(p payload, h domain.EventHeader) (domain.CanonicalEvent, error)

// kindBuilders dispatches on the raw event kind tag and validates the
// variant's required fields. The union is closed: kinds absent here do not
// exist.
var kindBuilders = map[domain.EventKind]builderFunc{
	domain.KindTrade:           buildTrade,
	domain.KindL2Diff:          buildL2Diff,
	domain.KindL2Snapshot:      buildL2Snapshot,
	domain.KindBookTicker:      buildBookTicker,
	domain.KindTicker24h:       buildTicker24h,
	domain.KindOHLCV:           buildOHLCV,
	domain.KindIndexPrice:      buildIndexPrice,
	domain.KindMarkPrice:       buildMarkPrice,
	domain.KindFundingRate:     buildFundingRate,
	domain.KindOpenInterest:    buildOpenInterest,
	domain.KindOnchainTransfer: buildOnchainTransfer,
	domain.KindOnchainBalance:  buildOnchainBalance,
	domain.KindTopDexPool:      buildTopDexPool,
	domain.KindNewsHeadline:    buildNewsHeadline,
	domain.KindTelemetry:       buildTelemetry,
	domain.KindOptionsChain:    buildOptionsChain,
	domain.KindMempool:         buildMempool,
	domain.KindBridgeFlow:      buildBridgeFlow,
	domain.KindMEVSignal:       buildMEVSignal,
}

func buildTrade(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	price, err := p.dec("p")
	if err != nil {
		return nil, err
	}
	qty, err := p.dec("q")
	if err != nil {
		return nil, err
	}
	return &domain.TradeEvent{
		EventHeader: h,
		Price:       price,
		Quantity:    qty,
		Side:        p.optStr("side"),
	}, nil
}

func buildL2Diff(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	bids, err := p.levels("b")
	if err != nil {
		return nil, err
	}
	asks, err := p.levels("a")
	if err != nil {
		return nil, err
	}
	updateID, err := p.int64("u")
	if err != nil {
		return nil, err
	}
	return &domain.L2DiffEvent{
		EventHeader:   h,
		Bids:          bids,
		Asks:          asks,
		FinalUpdateID: updateID,
	}, nil
}

func buildL2Snapshot(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	bids, err := p.levels("b")
	if err != nil {
		return nil, err
	}
	asks, err := p.levels("a")
	if err != nil {
		return nil, err
	}
	updateID, err := p.int64("lastUpdateId")
	if err != nil {
		return nil, err
	}
	return &domain.L2SnapshotEvent{
		EventHeader:  h,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: updateID,
	}, nil
}

func buildBookTicker(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	event := &domain.BookTickerEvent{EventHeader: h}
	var err error
	if event.BidPrice, err = p.dec("bp"); err != nil {
		return nil, err
	}
	if event.BidQuantity, err = p.dec("bq"); err != nil {
		return nil, err
	}
	if event.AskPrice, err = p.dec("ap"); err != nil {
		return nil, err
	}
	if event.AskQuantity, err = p.dec("aq"); err != nil {
		return nil, err
	}
	return event, nil
}

func buildTicker24h(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	event := &domain.Ticker24hEvent{EventHeader: h}
	var err error
	if event.Open, err = p.dec("o"); err != nil {
		return nil, err
	}
	if event.High, err = p.dec("h"); err != nil {
		return nil, err
	}
	if event.Low, err = p.dec("l"); err != nil {
		return nil, err
	}
	if event.Close, err = p.dec("c"); err != nil {
		return nil, err
	}
	if event.Volume, err = p.dec("v"); err != nil {
		return nil, err
	}
	return event, nil
}

func buildOHLCV(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	event := &domain.OHLCVEvent{EventHeader: h}
	var err error
	if event.Open, err = p.dec("o"); err != nil {
		return nil, err
	}
	if event.High, err = p.dec("h"); err != nil {
		return nil, err
	}
	if event.Low, err = p.dec("l"); err != nil {
		return nil, err
	}
	if event.Close, err = p.dec("c"); err != nil {
		return nil, err
	}
	if event.Volume, err = p.dec("v"); err != nil {
		return nil, err
	}
	if event.Interval, err = p.str("i"); err != nil {
		return nil, err
	}
	return event, nil
}

func buildIndexPrice(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	price, err := p.dec("p")
	if err != nil {
		return nil, err
	}
	return &domain.IndexPriceEvent{EventHeader: h, Price: price}, nil
}

func buildMarkPrice(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	price, err := p.dec("p")
	if err != nil {
		return nil, err
	}
	return &domain.MarkPriceEvent{EventHeader: h, Price: price}, nil
}

func buildFundingRate(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	rate, err := p.dec("r")
	if err != nil {
		return nil, err
	}
	return &domain.FundingRateEvent{EventHeader: h, Rate: rate}, nil
}

func buildOpenInterest(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	oi, err := p.dec("oi")
	if err != nil {
		return nil, err
	}
	return &domain.OpenInterestEvent{EventHeader: h, OpenInterest: oi}, nil
}

func buildOnchainTransfer(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	from, err := p.str("from")
	if err != nil {
		return nil, err
	}
	to, err := p.str("to")
	if err != nil {
		return nil, err
	}
	value, err := p.dec("v")
	if err != nil {
		return nil, err
	}
	return &domain.OnchainTransferEvent{
		EventHeader: h,
		From:        from,
		To:          to,
		Value:       value,
		Token:       p.optStr("tok"),
	}, nil
}

func buildOnchainBalance(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	addr, err := p.str("addr")
	if err != nil {
		return nil, err
	}
	balance, err := p.dec("bal")
	if err != nil {
		return nil, err
	}
	return &domain.OnchainBalanceEvent{EventHeader: h, Address: addr, Balance: balance}, nil
}

func buildTopDexPool(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	pool, err := p.str("pool")
	if err != nil {
		return nil, err
	}
	tvl, err := p.dec("tvl")
	if err != nil {
		return nil, err
	}
	volume, err := p.dec("vol")
	if err != nil {
		return nil, err
	}
	return &domain.TopDexPoolEvent{EventHeader: h, Pool: pool, TVL: tvl, Volume: volume}, nil
}

func buildNewsHeadline(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	title, err := p.str("title")
	if err != nil {
		return nil, err
	}
	src, err := p.str("src")
	if err != nil {
		return nil, err
	}
	return &domain.NewsHeadlineEvent{EventHeader: h, Title: title, Source: src}, nil
}

func buildTelemetry(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	metric, err := p.str("m")
	if err != nil {
		return nil, err
	}
	value, err := p.dec("v")
	if err != nil {
		return nil, err
	}
	return &domain.TelemetryEvent{EventHeader: h, Metric: metric, Value: value}, nil
}

func buildOptionsChain(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	event := &domain.OptionsChainEvent{EventHeader: h}
	var err error
	if event.Expiry, err = p.str("exp"); err != nil {
		return nil, err
	}
	if event.Strike, err = p.dec("k"); err != nil {
		return nil, err
	}
	if event.CallPut, err = p.str("cp"); err != nil {
		return nil, err
	}
	if event.Bid, err = p.dec("bid"); err != nil {
		return nil, err
	}
	if event.Ask, err = p.dec("ask"); err != nil {
		return nil, err
	}
	return event, nil
}

func buildMempool(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	hash, err := p.str("hash")
	if err != nil {
		return nil, err
	}
	gas, err := p.dec("gas")
	if err != nil {
		return nil, err
	}
	return &domain.MempoolEvent{EventHeader: h, Hash: hash, GasPrice: gas}, nil
}

func buildBridgeFlow(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	bridge, err := p.str("bridge")
	if err != nil {
		return nil, err
	}
	value, err := p.dec("v")
	if err != nil {
		return nil, err
	}
	return &domain.BridgeFlowEvent{EventHeader: h, Bridge: bridge, Value: value}, nil
}

func buildMEVSignal(p payload, h domain.EventHeader) (domain.CanonicalEvent, error) {
	strategy, err := p.str("strat")
	if err != nil {
		return nil, err
	}
	profit, err := p.dec("profit")
	if err != nil {
		return nil, err
	}
	return &domain.MEVSignalEvent{EventHeader: h, Strategy: strategy, Profit: profit}, nil
}
