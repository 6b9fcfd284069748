package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/quantpulse/go-venuefeed/analytics"
	"github.com/quantpulse/go-venuefeed/bus"
	"github.com/quantpulse/go-venuefeed/canonical"
	"github.com/quantpulse/go-venuefeed/config"
	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/domain/interfaces"
	promclient "github.com/quantpulse/go-venuefeed/infrastructure/prometheus"
	"github.com/quantpulse/go-venuefeed/provider"
	"github.com/quantpulse/go-venuefeed/sink"
	"github.com/quantpulse/go-venuefeed/usecase"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n\n%s", err, config.Usage())
		os.Exit(2)
	}

	log := buildLogger(cfg.Debug)
	defer log.Sync()

	agents := make([]interfaces.Agent, 0, len(cfg.Feeds))
	for _, spec := range cfg.Feeds {
		agent, err := provider.ResolveAgent(spec, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n\n%s", err, config.Usage())
			os.Exit(2)
		}
		agents = append(agents, agent)
	}

	sinks, err := buildSinks(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go promclient.StartPromClientServer(cfg.MetricsAddr)
	}

	canon := canonical.NewCanonicalService(canonical.Config{
		EnabledKinds:   cfg.EnabledKinds,
		QuoteOverrides: cfg.QuoteOverrides,
	})
	dispatcher := bus.NewDispatcher(cfg.QueueCapacity, log)

	var wg sync.WaitGroup

	for _, s := range sinks {
		sub := dispatcher.Register(s.Name(), bus.BoundedBlock(cfg.BlockTimeout))
		wg.Add(1)
		go func(s interfaces.Sink, stream <-chan domain.Event) {
			defer wg.Done()
			sink.Run(ctx, s, stream, log)
		}(s, sub.Stream)
	}

	monitor := analytics.NewSpreadMonitor(analytics.Config{
		Threshold:        cfg.SpreadThreshold,
		StalenessWindow:  cfg.StalenessWindow,
		DebounceInterval: cfg.DebounceInterval,
	}, log)
	analyticsSub := dispatcher.Register("analytics", bus.DropOldest())
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx, analyticsSub)
	}()

	// spread events re-enter the dispatcher so every sink sees them
	spreadSub := monitor.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for spread := range spreadSub.Stream {
			dispatcher.Publish(spread)
		}
	}()

	rawEvents := make(chan domain.RawEvent, cfg.QueueCapacity)
	pipeline := usecase.NewIngestPipeline(canon, dispatcher, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx, rawEvents)
	}()

	supervisor := provider.NewSupervisor(provider.SupervisorConfig{
		ConnectTimeout:         cfg.ConnectTimeout,
		BackoffMin:             cfg.BackoffMin,
		BackoffMax:             cfg.BackoffMax,
		BackoffFactor:          cfg.BackoffFactor,
		StabilityWindow:        cfg.StabilityWindow,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		IdleReconnect:          cfg.IdleReconnect,
	}, agents, rawEvents, log)

	log.Info("venuefeed starting",
		zap.Int("agents", len(agents)),
		zap.Int("sinks", len(sinks)),
		zap.String("metrics", cfg.MetricsAddr))

	supervisor.Run(ctx)

	if ctx.Err() == nil {
		// every agent reached a terminal state on its own
		log.Error("all agents failed, shutting down", zap.Any("status", supervisor.Status()))
		stop()
		wg.Wait()
		closeSinks(sinks, log)
		os.Exit(1)
	}

	log.Info("shutting down")
	dispatcher.Close()
	wg.Wait()
	closeSinks(sinks, log)
	log.Info("shutdown complete")
}

func buildLogger(debug bool) *zap.Logger {
	if debug {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}

func buildSinks(cfg *config.Config) ([]interfaces.Sink, error) {
	sinks := []interfaces.Sink{sink.NewStdoutSink()}

	if cfg.FileSinkPath != "" {
		fileSink, err := sink.NewFileSink(cfg.FileSinkPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}
	if cfg.KafkaBroker != "" {
		sinks = append(sinks, sink.NewKafkaSink(cfg.KafkaBroker, cfg.KafkaTopic))
	}
	return sinks, nil
}

func closeSinks(sinks []interfaces.Sink, log *zap.Logger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Warn("sink close failed", zap.String("sink", s.Name()), zap.Error(err))
		}
	}
}
