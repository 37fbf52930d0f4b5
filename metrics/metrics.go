package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/Murilovisque/logs/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authlog_blocker"

// Metrics is nil-safe: every recording method on a nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	runs                *prometheus.CounterVec
	failureEvents       prometheus.Counter
	transitions         *prometheus.CounterVec
	enforcementFailures *prometheus.CounterVec
	blockedAddresses    prometheus.Gauge
	unblockedAddresses  prometheus.Gauge
	lastRun             prometheus.Gauge
	runDuration         prometheus.Histogram

	mu     sync.Mutex
	server *http.Server
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Evaluation passes by result",
		}, []string{"result"}),
		failureEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_events_total",
			Help:      "Authentication failures extracted from the log, allow-listed sources excluded",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Address state transitions",
		}, []string{"from", "to"}),
		enforcementFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enforcement_failures_total",
			Help:      "Firewall changes that could not be confirmed",
		}, []string{"action"}),
		blockedAddresses: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "blocked_addresses",
			Help:      "Addresses currently recorded as blocked",
		}),
		unblockedAddresses: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unblocked_addresses",
			Help:      "Addresses currently recorded as unblocked",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last evaluation pass",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of evaluation passes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRun(ok bool, at time.Time, took time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.runs.WithLabelValues(result).Inc()
	m.lastRun.Set(float64(at.Unix()))
	m.runDuration.Observe(took.Seconds())
}

func (m *Metrics) AddFailureEvents(n int) {
	if m == nil {
		return
	}
	m.failureEvents.Add(float64(n))
}

func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordEnforcementFailure(action string) {
	if m == nil {
		return
	}
	m.enforcementFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) SetStateSize(blocked, unblocked int) {
	if m == nil {
		return
	}
	m.blockedAddresses.Set(float64(blocked))
	m.unblockedAddresses.Set(float64(unblocked))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StartServer(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := m.server
	go func() {
		logs.Infof("metrics server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Error(err)
		}
	}()
}

func (m *Metrics) StopServer() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.server == nil {
		return nil
	}
	err := m.server.Close()
	m.server = nil
	return err
}
