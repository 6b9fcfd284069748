package promclient

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var MessagesIngested = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuefeed_messages_ingested_total",
		Help: "raw events produced per agent",
	},
	[]string{"agent"},
)

var NormalizationErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuefeed_normalization_errors_total",
		Help: "raw events dropped by the canonical service, by reason",
	},
	[]string{"agent", "reason"},
)

var EventsDispatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuefeed_events_dispatched_total",
		Help: "canonical events delivered per consumer",
	},
	[]string{"consumer"},
)

var EventsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuefeed_events_dropped_total",
		Help: "events dropped by drop-oldest consumers",
	},
	[]string{"consumer"},
)

var DeliveryTimeouts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuefeed_delivery_timeouts_total",
		Help: "bounded-block deliveries that failed on a full queue",
	},
	[]string{"consumer"},
)

var SinkErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuefeed_sink_errors_total",
		Help: "failed sink writes per sink",
	},
	[]string{"sink"},
)

var AgentReconnects = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuefeed_agent_reconnects_total",
		Help: "agent reconnect attempts",
	},
	[]string{"agent"},
)

var AgentStateGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "venuefeed_agent_state",
		Help: "per-agent lifecycle state (0 connecting, 1 streaming, 2 disconnected, 3 failed, 4 stopped)",
	},
	[]string{"agent"},
)

var BackoffSeconds = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuefeed_backoff_seconds_total",
		Help: "seconds spent in reconnect backoff per agent",
	},
	[]string{"agent"},
)

var LastEventTimestamp = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "venuefeed_last_event_timestamp_seconds",
		Help: "unix time of the newest event per agent and kind",
	},
	[]string{"agent", "kind"},
)

var SpreadEventsEmitted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "venuefeed_spread_events_total",
		Help: "spread events emitted by the analytics engine",
	},
)

// StartPromClientServer serves the module's metrics at /metrics. An empty
// addr disables the server entirely.
func StartPromClientServer(addr string) {
	if addr == "" {
		return
	}

	reg := prometheus.NewRegistry()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	reg.MustRegister(MessagesIngested)
	reg.MustRegister(NormalizationErrors)
	reg.MustRegister(EventsDispatched)
	reg.MustRegister(EventsDropped)
	reg.MustRegister(DeliveryTimeouts)
	reg.MustRegister(SinkErrors)
	reg.MustRegister(AgentReconnects)
	reg.MustRegister(AgentStateGauge)
	reg.MustRegister(BackoffSeconds)
	reg.MustRegister(LastEventTimestamp)
	reg.MustRegister(SpreadEventsEmitted)
	reg.MustRegister(collectors.NewGoCollector())

	http.Handle("/metrics", promHandler)
	log.Printf("prometheus server listening at %s", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Printf("prometheus server stopped: %v", err)
	}
}
