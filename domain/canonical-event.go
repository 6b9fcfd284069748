package domain

import "github.com/shopspring/decimal"

// EventKind tags the variant of a canonical event. The set is closed; new
// kinds require a schema entry in the canonical service tables.
type EventKind string

const (
	KindTrade           EventKind = "trade"
	KindL2Diff          EventKind = "l2Diff"
	KindL2Snapshot      EventKind = "l2Snapshot"
	KindBookTicker      EventKind = "bookTicker"
	KindTicker24h       EventKind = "ticker24h"
	KindOHLCV           EventKind = "ohlcv"
	KindIndexPrice      EventKind = "indexPrice"
	KindMarkPrice       EventKind = "markPrice"
	KindFundingRate     EventKind = "funding"
	KindOpenInterest    EventKind = "openInterest"
	KindOnchainTransfer EventKind = "onchainTransfer"
	KindOnchainBalance  EventKind = "onchainBalance"
	KindTopDexPool      EventKind = "topDexPool"
	KindNewsHeadline    EventKind = "news"
	KindTelemetry       EventKind = "telemetry"
	KindOptionsChain    EventKind = "optionsChain"
	KindMempool         EventKind = "mempool"
	KindBridgeFlow      EventKind = "bridgeFlow"
	KindMEVSignal       EventKind = "mevSignal"

	// KindSpread is produced by the analytics engine, never by agents.
	KindSpread EventKind = "spread"
)

func (k EventKind) String() string { return string(k) }

// Kinds lists every agent-producible event kind.
func Kinds() []EventKind {
	return []EventKind{
		KindTrade, KindL2Diff, KindL2Snapshot, KindBookTicker, KindTicker24h,
		KindOHLCV, KindIndexPrice, KindMarkPrice, KindFundingRate, KindOpenInterest,
		KindOnchainTransfer, KindOnchainBalance, KindTopDexPool, KindNewsHeadline,
		KindTelemetry, KindOptionsChain, KindMempool, KindBridgeFlow, KindMEVSignal,
	}
}

// ExperimentalKinds are gated behind environment toggles and stay rejected
// unless explicitly enabled.
func ExperimentalKinds() []EventKind {
	return []EventKind{KindOptionsChain, KindMempool, KindBridgeFlow, KindMEVSignal}
}

// Event is anything deliverable to a sink: a canonical market event or an
// analytics spread event.
type Event interface {
	EventType() EventKind
}

// EventHeader carries the fields shared by every canonical event variant.
// On the wire: one JSON object per line with "agent", "type", "s" and "ts"
// (milliseconds since the Unix epoch). Price and quantity fields are
// decimal-valued strings, never JSON numbers.
type EventHeader struct {
	Agent     string    `json:"agent"`
	Type      EventKind `json:"type"`
	Symbol    string    `json:"s"`
	Timestamp int64     `json:"ts"`

	// RecvTimestamp is when the owning agent read the frame; it is used for
	// freshness checks and never serialized.
	RecvTimestamp int64 `json:"-"`
}

func (h *EventHeader) Header() *EventHeader  { return h }
func (h *EventHeader) EventType() EventKind  { return h.Type }
func (h *EventHeader) canonicalEventMarker() {}

// CanonicalEvent is the closed union over event kinds. Every variant embeds
// EventHeader; events are immutable once produced and shared read-only by
// all consumers.
type CanonicalEvent interface {
	Event
	Header() *EventHeader
	canonicalEventMarker()
}

// PriceLevel is one side entry of a book: [price, quantity], both normalized
// decimal strings.
type PriceLevel [2]string

type TradeEvent struct {
	EventHeader
	Price    decimal.Decimal `json:"p"`
	Quantity decimal.Decimal `json:"q"`
	Side     string          `json:"side,omitempty"`
}

type L2DiffEvent struct {
	EventHeader
	Bids          []PriceLevel `json:"b"`
	Asks          []PriceLevel `json:"a"`
	FinalUpdateID int64        `json:"u"`
}

type L2SnapshotEvent struct {
	EventHeader
	Bids         []PriceLevel `json:"b"`
	Asks         []PriceLevel `json:"a"`
	LastUpdateID int64        `json:"lastUpdateId"`
}

type BookTickerEvent struct {
	EventHeader
	BidPrice    decimal.Decimal `json:"bp"`
	BidQuantity decimal.Decimal `json:"bq"`
	AskPrice    decimal.Decimal `json:"ap"`
	AskQuantity decimal.Decimal `json:"aq"`
}

type Ticker24hEvent struct {
	EventHeader
	Open   decimal.Decimal `json:"o"`
	High   decimal.Decimal `json:"h"`
	Low    decimal.Decimal `json:"l"`
	Close  decimal.Decimal `json:"c"`
	Volume decimal.Decimal `json:"v"`
}

type OHLCVEvent struct {
	EventHeader
	Open     decimal.Decimal `json:"o"`
	High     decimal.Decimal `json:"h"`
	Low      decimal.Decimal `json:"l"`
	Close    decimal.Decimal `json:"c"`
	Volume   decimal.Decimal `json:"v"`
	Interval string          `json:"i"`
}

type IndexPriceEvent struct {
	EventHeader
	Price decimal.Decimal `json:"p"`
}

type MarkPriceEvent struct {
	EventHeader
	Price decimal.Decimal `json:"p"`
}

type FundingRateEvent struct {
	EventHeader
	Rate decimal.Decimal `json:"r"`
}

type OpenInterestEvent struct {
	EventHeader
	OpenInterest decimal.Decimal `json:"oi"`
}

type OnchainTransferEvent struct {
	EventHeader
	From  string          `json:"from"`
	To    string          `json:"to"`
	Value decimal.Decimal `json:"v"`
	Token string          `json:"tok,omitempty"`
}

type OnchainBalanceEvent struct {
	EventHeader
	Address string          `json:"addr"`
	Balance decimal.Decimal `json:"bal"`
}

type TopDexPoolEvent struct {
	EventHeader
	Pool   string          `json:"pool"`
	TVL    decimal.Decimal `json:"tvl"`
	Volume decimal.Decimal `json:"vol"`
}

type NewsHeadlineEvent struct {
	EventHeader
	Title  string `json:"title"`
	Source string `json:"src"`
}

type TelemetryEvent struct {
	EventHeader
	Metric string          `json:"m"`
	Value  decimal.Decimal `json:"v"`
}

type OptionsChainEvent struct {
	EventHeader
	Expiry  string          `json:"exp"`
	Strike  decimal.Decimal `json:"k"`
	CallPut string          `json:"cp"`
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
}

type MempoolEvent struct {
	EventHeader
	Hash     string          `json:"hash"`
	GasPrice decimal.Decimal `json:"gas"`
}

type BridgeFlowEvent struct {
	EventHeader
	Bridge string          `json:"bridge"`
	Value  decimal.Decimal `json:"v"`
}

type MEVSignalEvent struct {
	EventHeader
	Strategy string          `json:"strat"`
	Profit   decimal.Decimal `json:"profit"`
}
