package coinbase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantpulse/go-venuefeed/domain"
)

const handshakeTimeout = 5 * time.Second

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
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

// Agent owns one websocket feed session to coinbase.
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

	err = conn.WriteJSON(subscribeRequest{
		Type:       "subscribe",
		ProductIDs: a.cfg.Symbols,
		Channels:   channels,
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

func (a *Agent) channels() []string {
	channels := make([]string, 0, 3)
	if a.cfg.Kinds[domain.KindTrade] {
		channels = append(channels, "matches")
	}
	if a.cfg.Kinds[domain.KindTicker24h] || a.cfg.Kinds[domain.KindBookTicker] {
		channels = append(channels, "ticker")
	}
	if a.cfg.Kinds[domain.KindL2Diff] || a.cfg.Kinds[domain.KindL2Snapshot] {
		channels = append(channels, "level2")
	}
	return channels
}
