package binance

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

type WebSocketRequestModel struct {
	ReqId  int      `json:"id"`
	Params []string `json:"params"`
	Method string   `json:"method"`
}

// wsConn is the subset of *websocket.Conn the agent needs; tests substitute
// a scripted fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v any) error
	Close() error
}

// dial is swapped in tests.
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

// Agent owns one combined-stream session to binance and decodes its frames
// into venue-tagged raw events.
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
	streams := a.streams()
	if len(streams) == 0 {
		return &domain.ConnectionError{Venue: a.name, Err: fmt.Errorf("no streams to subscribe")}
	}

	conn, err := dial(ctx, a.cfg.URL)
	if err != nil {
		return &domain.ConnectionError{Venue: a.name, Err: err}
	}

	err = conn.WriteJSON(WebSocketRequestModel{
		Method: "SUBSCRIBE",
		ReqId:  getRandomReqID(),
		Params: streams,
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

// Stream reads frames until the session drops or ctx is cancelled. It
// returns nil only on cancellation.
func (a *Agent) Stream(ctx context.Context, out chan<- domain.RawEvent) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return &domain.ConnectionError{Venue: a.name, Err: fmt.Errorf("not connected")}
	}

	// unblock the read on cancellation
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

// streams builds the combined-stream subscription list for the configured
// symbols and enabled kinds.
func (a *Agent) streams() []string {
	suffixes := make([]string, 0, 8)
	if a.cfg.Kinds[domain.KindTrade] {
		suffixes = append(suffixes, "@trade")
	}
	if a.cfg.Kinds[domain.KindL2Diff] {
		suffixes = append(suffixes, "@depth")
	}
	if a.cfg.Kinds[domain.KindL2Snapshot] {
		suffixes = append(suffixes, "@depth20")
	}
	if a.cfg.Kinds[domain.KindBookTicker] {
		suffixes = append(suffixes, "@bookTicker")
	}
	if a.cfg.Kinds[domain.KindTicker24h] {
		suffixes = append(suffixes, "@ticker")
	}
	if a.cfg.Kinds[domain.KindOHLCV] {
		suffixes = append(suffixes, "@kline_1m")
	}
	// the markPrice stream carries mark price, index price and funding rate
	if a.cfg.Kinds[domain.KindMarkPrice] || a.cfg.Kinds[domain.KindIndexPrice] || a.cfg.Kinds[domain.KindFundingRate] {
		suffixes = append(suffixes, "@markPrice")
	}

	streams := make([]string, 0, len(a.cfg.Symbols)*len(suffixes))
	for _, sym := range a.cfg.Symbols {
		for _, suffix := range suffixes {
			streams = append(streams, sym+suffix)
		}
	}
	return streams
}

func getRandomReqID() int {
	min := 10000
	max := 9999999
	return min + rand.Intn(max-min)
}
