package domain

// RawEvent is a vendor-native decoded message prior to normalization. It is
// created at the agent boundary, consumed exactly once by the canonical
// service and never retained afterwards.
type RawEvent struct {
	// Venue is the originating exchange, e.g. "binance".
	Venue string
	// Kind tags the payload shape; the canonical service dispatches on
	// (Venue, Kind) rather than inspecting the payload.
	Kind EventKind
	// Symbol is the venue-native pair spelling, e.g. "btcusdt" or "BTC-USD".
	Symbol string
	// Payload holds the decoded wire frame fields, keyed by venue field names.
	Payload map[string]any
	// Timestamp is the venue event time in milliseconds, zero if absent.
	Timestamp int64
	// RecvTimestamp is when the agent read the frame, milliseconds.
	RecvTimestamp int64
}
