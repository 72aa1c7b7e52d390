package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quake_relay"

// Metrics holds the Prometheus collectors for the relay.
type Metrics struct {
	PollLoopRunning prometheus.Gauge
	Cycles          *prometheus.CounterVec // labels: outcome={success,fetch_error,rate_limited}
	CycleDuration   prometheus.Histogram

	// Upstream metrics.
	FetchRequests           *prometheus.CounterVec   // labels: endpoint={stations,realtime}, outcome={success,timeout,network,http,malformed}
	FetchDuration           *prometheus.HistogramVec // labels: endpoint
	UpstreamOnline          prometheus.Gauge
	ConnectivityTransitions *prometheus.CounterVec // labels: state={online,offline}
	MalformedEntries        *prometheus.CounterVec // labels: document={stations,realtime}

	// Station cache metrics.
	StationRefreshes *prometheus.CounterVec // labels: outcome={success,error}
	StationsCached   prometheus.Gauge

	// Reconcile and broadcast metrics.
	AreaChanges     prometheus.Counter
	MissingMetadata prometheus.Counter
	Broadcasts      *prometheus.CounterVec // labels: kind={cycle,heartbeat}
	Subscribers     prometheus.Gauge
	MessagesSent    prometheus.Counter
	MessagesSkipped prometheus.Counter

	// Change publisher metrics.
	ChangesPublished prometheus.Counter
	PublishErrors    prometheus.Counter
}

// NewMetrics creates and registers all relay metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many instances as they need.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PollLoopRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_loop_running",
			Help:      "1 when the poll loop is active, 0 when shut down.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll ticks by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of a fetch-reconcile-broadcast cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4},
		}),
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3.5},
		}, []string{"endpoint"}),
		UpstreamOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_online",
			Help:      "1 when the last upstream request succeeded, 0 otherwise.",
		}),
		ConnectivityTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connectivity_transitions_total",
			Help:      "Upstream online/offline state changes.",
		}, []string{"state"}),
		MalformedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_entries_total",
			Help:      "Upstream entries skipped because they failed to decode.",
		}, []string{"document"}),
		StationRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "station_refreshes_total",
			Help:      "Station directory refresh attempts by outcome.",
		}, []string{"outcome"}),
		StationsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stations_cached",
			Help:      "Number of stations in the cached directory.",
		}),
		AreaChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "area_changes_total",
			Help:      "Monitored area status changes detected by the reconciler.",
		}),
		MissingMetadata: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missing_metadata_total",
			Help:      "Cycles where reconciliation was skipped for lack of station metadata.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Snapshot broadcasts by kind.",
		}, []string{"kind"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Currently connected subscribers.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_messages_sent_total",
			Help:      "Snapshot messages handed to subscriber writers.",
		}),
		MessagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_messages_skipped_total",
			Help:      "Snapshot messages dropped because the subscriber was not ready.",
		}),
		ChangesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_published_total",
			Help:      "Area change events written to Kafka.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_publish_errors_total",
			Help:      "Area change events that failed to reach Kafka.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PollLoopRunning,
		m.Cycles,
		m.CycleDuration,
		m.FetchRequests,
		m.FetchDuration,
		m.UpstreamOnline,
		m.ConnectivityTransitions,
		m.MalformedEntries,
		m.StationRefreshes,
		m.StationsCached,
		m.AreaChanges,
		m.MissingMetadata,
		m.Broadcasts,
		m.Subscribers,
		m.MessagesSent,
		m.MessagesSkipped,
		m.ChangesPublished,
		m.PublishErrors,
	}
}
