package coinbase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantpulse/go-venuefeed/domain"
)

const venue = "coinbase"

// decodeFrame maps one websocket frame into raw events. Subscription
// confirmations and heartbeats carry no market data and are skipped.
func (a *Agent) decodeFrame(msg []byte) ([]domain.RawEvent, error) {
	data, err := decodeMap(msg)
	if err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}

	msgType, _ := data["type"].(string)
	switch msgType {
	case "subscriptions", "heartbeat":
		return nil, nil
	case "error":
		reason, _ := data["message"].(string)
		return nil, fmt.Errorf("venue rejected request: %s", reason)
	}

	symbol, _ := data["product_id"].(string)
	recv := time.Now().UnixMilli()
	ts := eventTimestamp(data, recv)

	raw := func(kind domain.EventKind, payload map[string]any) domain.RawEvent {
		return domain.RawEvent{
			Venue:         venue,
			Kind:          kind,
			Symbol:        symbol,
			Payload:       payload,
			Timestamp:     ts,
			RecvTimestamp: recv,
		}
	}

	switch msgType {
	case "match", "last_match":
		if !a.cfg.Kinds[domain.KindTrade] {
			return nil, nil
		}
		return []domain.RawEvent{raw(domain.KindTrade, data)}, nil

	case "ticker":
		var events []domain.RawEvent
		if a.cfg.Kinds[domain.KindTicker24h] {
			events = append(events, raw(domain.KindTicker24h, data))
		}
		if a.cfg.Kinds[domain.KindBookTicker] {
			events = append(events, raw(domain.KindBookTicker, data))
		}
		return events, nil

	case "snapshot":
		if !a.cfg.Kinds[domain.KindL2Snapshot] {
			return nil, nil
		}
		// The venue sends no sequence number with book snapshots, so the
		// receive timestamp stands in as the book version.
		if _, ok := data["sequence"]; !ok {
			data["sequence"] = json.Number(fmt.Sprintf("%d", recv))
		}
		return []domain.RawEvent{raw(domain.KindL2Snapshot, data)}, nil

	case "l2update":
		if !a.cfg.Kinds[domain.KindL2Diff] {
			return nil, nil
		}
		payload, err := reshapeL2Update(data, ts)
		if err != nil {
			return nil, err
		}
		return []domain.RawEvent{raw(domain.KindL2Diff, payload)}, nil
	}

	return nil, nil
}

// reshapeL2Update converts the venue's [side, price, size] change triplets
// into separate bid and ask level lists.
func reshapeL2Update(data map[string]any, ts int64) (map[string]any, error) {
	changes, ok := data["changes"].([]any)
	if !ok {
		return nil, fmt.Errorf("l2update without changes list")
	}

	var bids, asks []any
	for _, c := range changes {
		change, ok := c.([]any)
		if !ok || len(change) != 3 {
			return nil, fmt.Errorf("malformed l2update change")
		}
		side, _ := change[0].(string)
		level := []any{change[1], change[2]}
		switch side {
		case "buy":
			bids = append(bids, level)
		case "sell":
			asks = append(asks, level)
		default:
			return nil, fmt.Errorf("unknown l2update side %q", side)
		}
	}

	payload := make(map[string]any, len(data)+3)
	for k, v := range data {
		payload[k] = v
	}
	delete(payload, "changes")
	payload["b"] = bids
	payload["a"] = asks
	payload["u"] = json.Number(fmt.Sprintf("%d", ts))
	return payload, nil
}

func eventTimestamp(data map[string]any, fallback int64) int64 {
	str, ok := data["time"].(string)
	if !ok {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, str)
	if err != nil {
		return fallback
	}
	return t.UnixMilli()
}

func decodeMap(msg []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}
