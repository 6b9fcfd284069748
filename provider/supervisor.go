package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/domain/interfaces"
	promclient "github.com/quantpulse/go-venuefeed/infrastructure/prometheus"
)

var errStreamIdle = errors.New("feed produced no message within the idle window")

// SupervisorConfig tunes the per-agent restart discipline.
type SupervisorConfig struct {
	ConnectTimeout time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64
	// StabilityWindow is how long an agent must stream before its backoff
	// and failure count reset.
	StabilityWindow time.Duration
	// MaxConsecutiveFailures moves an agent to the terminal Failed state.
	// Failure is bulkhead-isolated: other agents are never affected.
	MaxConsecutiveFailures int
	// IdleReconnect force-reconnects a feed producing no message within the
	// window, even absent a transport error.
	IdleReconnect time.Duration
}

// Supervisor owns the set of configured agents: it starts, monitors,
// restarts with backoff and cooperatively stops them, driving each one
// independently. All raw events funnel into the shared out channel.
type Supervisor struct {
	cfg    SupervisorConfig
	agents []interfaces.Agent
	out    chan<- domain.RawEvent
	log    *zap.Logger

	mu     sync.Mutex
	states map[string]domain.AgentState
}

func NewSupervisor(cfg SupervisorConfig, agents []interfaces.Agent, out chan<- domain.RawEvent, log *zap.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		agents: agents,
		out:    out,
		log:    log,
		states: make(map[string]domain.AgentState, len(agents)),
	}
}

// Run drives every agent until ctx is cancelled, then waits for all of them
// to stop. A single cancellation is observed by every agent at its next
// suspension point: a network read, a queue send or a backoff sleep.
func (s *Supervisor) Run(ctx context.Context) {
	wg := &sync.WaitGroup{}
	for _, agent := range s.agents {
		wg.Add(1)
		go func(a interfaces.Agent) {
			defer wg.Done()
			s.runAgent(ctx, a)
		}(agent)
	}
	wg.Wait()
}

// Status exposes per-agent state for observability. The returned map is a
// snapshot.
func (s *Supervisor) Status() map[string]domain.AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.AgentState, len(s.states))
	for name, state := range s.states {
		out[name] = state
	}
	return out
}

func (s *Supervisor) setState(name string, state domain.AgentState) {
	s.mu.Lock()
	s.states[name] = state
	s.mu.Unlock()
	promclient.AgentStateGauge.WithLabelValues(name).Set(float64(state))
}

func (s *Supervisor) runAgent(ctx context.Context, agent interfaces.Agent) {
	name := agent.Name()
	log := s.log.With(zap.String("agent", name))

	retry := &backoff.Backoff{
		Min:    s.cfg.BackoffMin,
		Max:    s.cfg.BackoffMax,
		Factor: s.cfg.BackoffFactor,
		Jitter: true,
	}
	failures := 0

	for {
		if ctx.Err() != nil {
			s.setState(name, domain.AgentStopped)
			return
		}

		s.setState(name, domain.AgentConnecting)
		connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		err := agent.Connect(connectCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				s.setState(name, domain.AgentStopped)
				return
			}
			failures++
			promclient.AgentReconnects.WithLabelValues(name).Inc()
			log.Warn("connect failed",
				zap.Error(err),
				zap.Int("consecutive_failures", failures))
			if s.failed(name, failures, log) {
				return
			}
			s.setState(name, domain.AgentDisconnected)
			if !sleep(ctx, s.backoff(name, retry)) {
				s.setState(name, domain.AgentStopped)
				return
			}
			continue
		}

		s.setState(name, domain.AgentStreaming)
		log.Info("streaming")
		started := time.Now()

		err = s.streamSession(ctx, agent)
		_ = agent.Close()

		if ctx.Err() != nil {
			s.setState(name, domain.AgentStopped)
			log.Info("stopped")
			return
		}

		// a stable session forgives the failure history
		if time.Since(started) >= s.cfg.StabilityWindow {
			retry.Reset()
			failures = 0
		}
		failures++
		promclient.AgentReconnects.WithLabelValues(name).Inc()
		log.Warn("disconnected",
			zap.Error(err),
			zap.Duration("session", time.Since(started)),
			zap.Int("consecutive_failures", failures))
		if s.failed(name, failures, log) {
			return
		}
		s.setState(name, domain.AgentDisconnected)
		if !sleep(ctx, s.backoff(name, retry)) {
			s.setState(name, domain.AgentStopped)
			return
		}
	}
}

// backoff draws the next retry delay and accounts it against the agent.
func (s *Supervisor) backoff(name string, retry *backoff.Backoff) time.Duration {
	d := retry.Duration()
	promclient.BackoffSeconds.WithLabelValues(name).Add(d.Seconds())
	return d
}

// failed reports whether the agent crossed the consecutive-failure limit and
// moves it to the terminal state if so.
func (s *Supervisor) failed(name string, failures int, log *zap.Logger) bool {
	if failures < s.cfg.MaxConsecutiveFailures {
		return false
	}
	s.setState(name, domain.AgentFailed)
	log.Error("agent failed permanently, giving up",
		zap.Int("consecutive_failures", failures))
	return true
}

// streamSession runs one streaming session, forwarding raw events to the
// shared channel and watching for an idle feed. It returns the session's
// terminal error, or errStreamIdle when the watchdog fired.
func (s *Supervisor) streamSession(ctx context.Context, agent interfaces.Agent) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	local := make(chan domain.RawEvent, 64)
	done := make(chan error, 1)
	go func() {
		done <- agent.Stream(sessCtx, local)
	}()

	name := agent.Name()
	lastEvent := time.Now()
	watchdog := time.NewTicker(s.watchdogInterval())
	defer watchdog.Stop()

	for {
		select {
		case ev := <-local:
			lastEvent = time.Now()
			promclient.MessagesIngested.WithLabelValues(name).Inc()
			promclient.LastEventTimestamp.WithLabelValues(name, string(ev.Kind)).Set(float64(lastEvent.Unix()))
			select {
			case s.out <- ev:
			case <-ctx.Done():
				cancel()
				<-done
				return nil
			}

		case err := <-done:
			return err

		case <-watchdog.C:
			if s.cfg.IdleReconnect > 0 && time.Since(lastEvent) > s.cfg.IdleReconnect {
				cancel()
				<-done
				return &domain.ConnectionError{Venue: name, Err: errStreamIdle}
			}

		case <-ctx.Done():
			cancel()
			<-done
			return nil
		}
	}
}

func (s *Supervisor) watchdogInterval() time.Duration {
	if s.cfg.IdleReconnect <= 0 {
		return time.Minute
	}
	interval := s.cfg.IdleReconnect / 4
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	return interval
}

// sleep waits d or until ctx is cancelled; it reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
