package deribit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quantpulse/go-venuefeed/domain"
)

const venue = "deribit"

type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type subscriptionParams struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// decodeFrame maps one JSON-RPC frame into raw events. Subscribe
// confirmations and heartbeats carry no market data and are skipped.
func (a *Agent) decodeFrame(msg []byte) ([]domain.RawEvent, error) {
	var frame notification
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if frame.Error != nil {
		return nil, fmt.Errorf("venue rejected request: %d %s", frame.Error.Code, frame.Error.Message)
	}
	if frame.Method != "subscription" {
		return nil, nil
	}

	var params subscriptionParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return nil, fmt.Errorf("malformed subscription params: %w", err)
	}

	switch {
	case strings.HasPrefix(params.Channel, "trades."):
		return a.decodeTrades(params.Data)
	case strings.HasPrefix(params.Channel, "ticker."):
		return a.decodeTicker(params.Data)
	case strings.HasPrefix(params.Channel, "book."):
		return a.decodeBook(params.Data)
	}
	return nil, nil
}

// decodeTrades handles the trades channel, which batches trades per frame.
func (a *Agent) decodeTrades(data json.RawMessage) ([]domain.RawEvent, error) {
	if !a.cfg.Kinds[domain.KindTrade] {
		return nil, nil
	}
	var trades []map[string]any
	if err := decodeInto(data, &trades); err != nil {
		return nil, fmt.Errorf("malformed trades payload: %w", err)
	}

	recv := time.Now().UnixMilli()
	events := make([]domain.RawEvent, 0, len(trades))
	for _, trade := range trades {
		symbol, _ := trade["instrument_name"].(string)
		events = append(events, domain.RawEvent{
			Venue:         venue,
			Kind:          domain.KindTrade,
			Symbol:        symbol,
			Payload:       trade,
			Timestamp:     eventTimestamp(trade, recv),
			RecvTimestamp: recv,
		})
	}
	return events, nil
}

// decodeTicker fans one ticker notification out into the enabled kinds. The
// per-kind payloads are rebuilt because mark, index and last price share one
// body and would shadow each other under alias lookup.
func (a *Agent) decodeTicker(data json.RawMessage) ([]domain.RawEvent, error) {
	var ticker map[string]any
	if err := decodeInto(data, &ticker); err != nil {
		return nil, fmt.Errorf("malformed ticker payload: %w", err)
	}

	symbol, _ := ticker["instrument_name"].(string)
	recv := time.Now().UnixMilli()
	ts := eventTimestamp(ticker, recv)

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

	var events []domain.RawEvent
	if a.cfg.Kinds[domain.KindBookTicker] {
		events = append(events, raw(domain.KindBookTicker, map[string]any{
			"best_bid_price":  ticker["best_bid_price"],
			"best_bid_amount": ticker["best_bid_amount"],
			"best_ask_price":  ticker["best_ask_price"],
			"best_ask_amount": ticker["best_ask_amount"],
		}))
	}
	if a.cfg.Kinds[domain.KindMarkPrice] {
		events = append(events, raw(domain.KindMarkPrice, map[string]any{"p": ticker["mark_price"]}))
	}
	if a.cfg.Kinds[domain.KindIndexPrice] {
		events = append(events, raw(domain.KindIndexPrice, map[string]any{"p": ticker["index_price"]}))
	}
	if a.cfg.Kinds[domain.KindFundingRate] {
		if rate, ok := ticker["current_funding"]; ok {
			events = append(events, raw(domain.KindFundingRate, map[string]any{"r": rate}))
		}
	}
	if a.cfg.Kinds[domain.KindOpenInterest] {
		if oi, ok := ticker["open_interest"]; ok {
			events = append(events, raw(domain.KindOpenInterest, map[string]any{"oi": oi}))
		}
	}
	return events, nil
}

// decodeBook handles the book channel. The venue tags each level with a
// change action ("new", "change", "delete"); the action is dropped because
// removals already arrive with quantity zero.
func (a *Agent) decodeBook(data json.RawMessage) ([]domain.RawEvent, error) {
	var book map[string]any
	if err := decodeInto(data, &book); err != nil {
		return nil, fmt.Errorf("malformed book payload: %w", err)
	}

	bookType, _ := book["type"].(string)
	kind := domain.KindL2Diff
	if bookType == "snapshot" {
		kind = domain.KindL2Snapshot
	}
	if !a.cfg.Kinds[kind] {
		return nil, nil
	}

	payload := map[string]any{
		"change_id": book["change_id"],
		"sequence":  book["change_id"],
	}
	var err error
	if payload["b"], err = stripActions(book["bids"]); err != nil {
		return nil, err
	}
	if payload["a"], err = stripActions(book["asks"]); err != nil {
		return nil, err
	}

	symbol, _ := book["instrument_name"].(string)
	recv := time.Now().UnixMilli()
	return []domain.RawEvent{{
		Venue:         venue,
		Kind:          kind,
		Symbol:        symbol,
		Payload:       payload,
		Timestamp:     eventTimestamp(book, recv),
		RecvTimestamp: recv,
	}}, nil
}

// stripActions reduces [action, price, amount] book levels to [price, amount].
func stripActions(v any) ([]any, error) {
	rows, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("book side is not a level array")
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		level, ok := row.([]any)
		if !ok || len(level) != 3 {
			return nil, fmt.Errorf("malformed book level")
		}
		out = append(out, []any{level[1], level[2]})
	}
	return out, nil
}

func eventTimestamp(data map[string]any, fallback int64) int64 {
	n, ok := data["timestamp"].(json.Number)
	if !ok {
		return fallback
	}
	ts, err := n.Int64()
	if err != nil {
		return fallback
	}
	return ts
}

func decodeInto(data json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
