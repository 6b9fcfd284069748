package deribit

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantpulse/go-venuefeed/domain"
)

const handshakeTimeout = 5 * time.Second

// rpcRequest is the venue's JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int            `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

var dial = func(ctx context.Context, url string) (wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	URL     string
	Symbols []string
	Kinds   map[domain.EventKind]bool
}

// Agent owns one websocket feed session to deribit.
type Agent struct {
	name string
	cfg  Config

	mu   sync.Mutex
	conn wsConn
}

func NewAgent(spec domain.FeedSpec, cfg Config) *Agent {
	return &Agent{
		name: spec.String(),
		cfg:  cfg,
	}
}

func (a *Agent) Name() string { return a.name }

func (a *Agent) Connect(ctx context.Context) error {
	channels := a.channels()
	if len(channels) == 0 {
		return &domain.ConnectionError{Venue: a.name, Err: fmt.Errorf("no channels to subscribe")}
	}

	conn, err := dial(ctx, a.cfg.URL)
	if err != nil {
		return &domain.ConnectionError{Venue: a.name, Err: err}
	}

	err = conn.WriteJSON(rpcRequest{
		JSONRPC: "2.0",
		ID:      rand.Intn(99999999),
		Method:  "public/subscribe",
		Params:  map[string]any{"channels": channels},
	})
	if err != nil {
		_ = conn.Close()
		return &domain.ConnectionError{Venue: a.name, Err: fmt.Errorf("failed to send subscribe msg: %w", err)}
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	return nil
}

func (a *Agent) Stream(ctx context.Context, out chan<- domain.RawEvent) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return &domain.ConnectionError{Venue: a.name, Err: fmt.Errorf("not connected")}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &domain.ConnectionError{Venue: a.name, Err: err}
		}

		events, err := a.decodeFrame(msg)
		if err != nil {
			return &domain.ProtocolError{Venue: a.name, Err: err}
		}

		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (a *Agent) Close() error {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// tickerKinds are all fields carried by a single ticker channel notification.
var tickerKinds = []domain.EventKind{
	domain.KindBookTicker,
	domain.KindMarkPrice,
	domain.KindIndexPrice,
	domain.KindFundingRate,
	domain.KindOpenInterest,
}

func (a *Agent) channels() []string {
	var channels []string
	for _, instrument := range a.cfg.Symbols {
		if a.cfg.Kinds[domain.KindTrade] {
			channels = append(channels, "trades."+instrument+".raw")
		}
		for _, kind := range tickerKinds {
			if a.cfg.Kinds[kind] {
				channels = append(channels, "ticker."+instrument+".raw")
				break
			}
		}
		if a.cfg.Kinds[domain.KindL2Diff] || a.cfg.Kinds[domain.KindL2Snapshot] {
			channels = append(channels, "book."+instrument+".raw")
		}
	}
	return channels
}
