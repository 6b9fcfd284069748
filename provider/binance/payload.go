package binance

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/quantpulse/go-venuefeed/domain"
)

type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

// decodeFrame turns one combined-stream frame into raw events. A
// markPriceUpdate frame can yield up to three (mark price, index price,
// funding rate). Subscription acks and unknown event types yield none.
func (a *Agent) decodeFrame(msg []byte) ([]domain.RawEvent, error) {
	var frame Message[json.RawMessage]
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, err
	}
	if frame.Stream == "" || len(frame.Data) == 0 {
		// ack of a subscribe request, or a ping payload
		return nil, nil
	}

	data, err := decodeMap(frame.Data)
	if err != nil {
		return nil, err
	}

	recv := time.Now().UnixMilli()
	symbol := strSymbol(data, frame.Stream)
	eventType, _ := data["e"].(string)

	raw := func(kind domain.EventKind, payload map[string]any, ts int64) domain.RawEvent {
		return domain.RawEvent{
			Venue:         "binance",
			Kind:          kind,
			Symbol:        symbol,
			Payload:       payload,
			Timestamp:     ts,
			RecvTimestamp: recv,
		}
	}

	switch eventType {
	case "trade":
		// "m" is buyer-is-maker: true means the aggressor sold
		if maker, ok := data["m"].(bool); ok {
			if maker {
				data["side"] = "sell"
			} else {
				data["side"] = "buy"
			}
			delete(data, "m")
		}
		return []domain.RawEvent{raw(domain.KindTrade, data, asInt64(data, "T", "E"))}, nil

	case "depthUpdate":
		return []domain.RawEvent{raw(domain.KindL2Diff, data, asInt64(data, "E"))}, nil

	case "24hrTicker":
		return []domain.RawEvent{raw(domain.KindTicker24h, data, asInt64(data, "E"))}, nil

	case "kline":
		k, ok := data["k"].(map[string]any)
		if !ok {
			return nil, nil
		}
		return []domain.RawEvent{raw(domain.KindOHLCV, k, asInt64(data, "E"))}, nil

	case "markPriceUpdate":
		events := make([]domain.RawEvent, 0, 3)
		ts := asInt64(data, "E")
		if a.cfg.Kinds[domain.KindMarkPrice] {
			events = append(events, raw(domain.KindMarkPrice, map[string]any{"p": data["p"]}, ts))
		}
		if a.cfg.Kinds[domain.KindIndexPrice] {
			events = append(events, raw(domain.KindIndexPrice, map[string]any{"p": data["i"]}, ts))
		}
		if a.cfg.Kinds[domain.KindFundingRate] {
			events = append(events, raw(domain.KindFundingRate, map[string]any{"r": data["r"]}, ts))
		}
		return events, nil
	}

	// streams without an "e" discriminator
	switch {
	case strings.HasSuffix(frame.Stream, "@bookTicker"):
		return []domain.RawEvent{raw(domain.KindBookTicker, data, 0)}, nil
	case strings.Contains(frame.Stream, "@depth20"):
		return []domain.RawEvent{raw(domain.KindL2Snapshot, data, 0)}, nil
	}

	return nil, nil
}

// decodeMap decodes JSON preserving numeric precision via json.Number.
func decodeMap(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func strSymbol(data map[string]any, stream string) string {
	if s, ok := data["s"].(string); ok && s != "" {
		return s
	}
	symbol, _, _ := strings.Cut(stream, "@")
	return symbol
}

func asInt64(data map[string]any, names ...string) int64 {
	for _, name := range names {
		switch v := data[name].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		case float64:
			return int64(v)
		}
	}
	return 0
}
