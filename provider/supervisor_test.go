package provider

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/domain/interfaces"
	promclient "github.com/quantpulse/go-venuefeed/infrastructure/prometheus"
)

// fakeAgent streams a fixed event every interval; connectErrs makes the
// first n Connect calls fail.
type fakeAgent struct {
	name        string
	interval    time.Duration
	connectErrs int32
	connects    int32
	closes      int32
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connects, 1)
	if atomic.AddInt32(&f.connectErrs, -1) >= 0 {
		return &domain.ConnectionError{Venue: f.name, Err: errors.New("refused")}
	}
	return nil
}

func (f *fakeAgent) Stream(ctx context.Context, out chan<- domain.RawEvent) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ev := domain.RawEvent{Venue: f.name, Kind: domain.KindTrade, Symbol: "BTCUSDT"}
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (f *fakeAgent) Close() error {
	atomic.AddInt32(&f.closes, 1)
	return nil
}

func testConfig() SupervisorConfig {
	return SupervisorConfig{
		ConnectTimeout:         time.Second,
		BackoffMin:             time.Millisecond,
		BackoffMax:             5 * time.Millisecond,
		BackoffFactor:          2,
		StabilityWindow:        time.Hour,
		MaxConsecutiveFailures: 3,
	}
}

func waitForState(t *testing.T, s *Supervisor, name string, want domain.AgentState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s.Status()[name] == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("agent %s never reached %s, status %v", name, want, s.Status())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRun_StreamsAndStopsCooperatively(t *testing.T) {
	agent := &fakeAgent{name: "binance:all", interval: 5 * time.Millisecond}
	out := make(chan domain.RawEvent, 64)
	s := NewSupervisor(testConfig(), []interfaces.Agent{agent}, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	select {
	case ev := <-out:
		assert.Equal(t, "binance:all", ev.Venue)
	case <-time.After(time.Second):
		t.Fatal("no event reached the shared channel")
	}
	waitForState(t, s, "binance:all", domain.AgentStreaming)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Equal(t, domain.AgentStopped, s.Status()["binance:all"])
	assert.GreaterOrEqual(t, atomic.LoadInt32(&agent.closes), int32(1))
}

func TestRun_ReconnectsWithBackoff(t *testing.T) {
	agent := &fakeAgent{name: "coinbase:all", interval: 5 * time.Millisecond, connectErrs: 2}
	out := make(chan domain.RawEvent, 64)
	s := NewSupervisor(testConfig(), []interfaces.Agent{agent}, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// Two refused connects, then streaming.
	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("agent never recovered from connect failures")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&agent.connects))
}

func TestRun_PermanentFailureIsTerminal(t *testing.T) {
	agent := &fakeAgent{name: "deribit:all", interval: time.Millisecond, connectErrs: 100}
	out := make(chan domain.RawEvent, 64)
	s := NewSupervisor(testConfig(), []interfaces.Agent{agent}, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor kept retrying past the failure limit")
	}
	assert.Equal(t, domain.AgentFailed, s.Status()["deribit:all"])
	assert.Equal(t, int32(3), atomic.LoadInt32(&agent.connects))
}

func TestRun_FailureIsBulkheadIsolated(t *testing.T) {
	broken := &fakeAgent{name: "deribit:all", interval: time.Millisecond, connectErrs: 100}
	healthy := &fakeAgent{name: "binance:all", interval: 5 * time.Millisecond}
	out := make(chan domain.RawEvent, 64)
	s := NewSupervisor(testConfig(), []interfaces.Agent{broken, healthy}, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitForState(t, s, "deribit:all", domain.AgentFailed)

	// The healthy agent keeps streaming after its peer died.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-out:
			if ev.Venue == "binance:all" {
				assert.Equal(t, domain.AgentStreaming, s.Status()["binance:all"])
				return
			}
		case <-deadline:
			t.Fatal("healthy agent stopped streaming")
		}
	}
}

func TestRun_AccountsBackoffSeconds(t *testing.T) {
	// A unique agent name keeps the counters independent of other tests.
	agent := &fakeAgent{name: "coinbase:backoff-metric", interval: 5 * time.Millisecond, connectErrs: 2}
	out := make(chan domain.RawEvent, 64)
	s := NewSupervisor(testConfig(), []interfaces.Agent{agent}, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("agent never recovered from connect failures")
	}
	backed := testutil.ToFloat64(promclient.BackoffSeconds.WithLabelValues("coinbase:backoff-metric"))
	assert.Greater(t, backed, 0.0, "both refused connects waited in backoff")
}

func TestRun_TracksLastEventTimestamp(t *testing.T) {
	agent := &fakeAgent{name: "binance:freshness-metric", interval: 5 * time.Millisecond}
	out := make(chan domain.RawEvent, 64)
	s := NewSupervisor(testConfig(), []interfaces.Agent{agent}, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("no event reached the shared channel")
	}
	last := testutil.ToFloat64(promclient.LastEventTimestamp.WithLabelValues("binance:freshness-metric", "trade"))
	assert.InDelta(t, float64(time.Now().Unix()), last, 5)
}

// idleAgent connects fine but never produces a message.
type idleAgent struct {
	fakeAgent
}

func (f *idleAgent) Stream(ctx context.Context, out chan<- domain.RawEvent) error {
	<-ctx.Done()
	return nil
}

func TestRun_IdleFeedIsForceReconnected(t *testing.T) {
	agent := &idleAgent{fakeAgent: fakeAgent{name: "binance:all"}}
	cfg := testConfig()
	cfg.IdleReconnect = 50 * time.Millisecond

	out := make(chan domain.RawEvent, 64)
	s := NewSupervisor(cfg, []interfaces.Agent{agent}, out, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// The watchdog tears the session down and the supervisor reconnects.
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&agent.connects) < 2 {
		select {
		case <-deadline:
			t.Fatal("idle session was never torn down")
		case <-time.After(10 * time.Millisecond):
		}
	}
	require.GreaterOrEqual(t, atomic.LoadInt32(&agent.closes), int32(1))
}
