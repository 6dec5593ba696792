// Package telemetry provides Prometheus metrics, tracing and correlation-id aware logging helpers.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Link outcomes recorded by ObserveLink.
const (
	OutcomeResolved = "resolved"
	OutcomeFile     = "file"
	OutcomeTimeout  = "timeout"
)

var (
	once sync.Once

	linksTotal         *prometheus.CounterVec
	browserRestarts    prometheus.Counter
	navigationFailures prometheus.Counter
	workerDeaths       prometheus.Counter
	linksAbandoned     prometheus.Counter

	resolveDuration prometheus.Observer
	rateLimitWait   prometheus.Observer

	queueDepth   prometheus.Gauge
	pendingEdits prometheus.Gauge
	workersAlive prometheus.Gauge
	openTabs     prometheus.Gauge
)

// Init registers metrics with the default registry. Safe to call more than once.
// Until Init runs every recording helper is a no-op.
func Init() {
	once.Do(func() {
		linksTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "visionary_links_total", Help: "Links that reached a terminal reply state"}, []string{"outcome"})
		browserRestarts = promauto.NewCounter(prometheus.CounterOpts{Name: "visionary_browser_restarts_total", Help: "Browser pool restarts"})
		navigationFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "visionary_navigation_failures_total", Help: "Failed navigation attempts"})
		workerDeaths = promauto.NewCounter(prometheus.CounterOpts{Name: "visionary_worker_deaths_total", Help: "Workers terminated by a fatal API rejection"})
		linksAbandoned = promauto.NewCounter(prometheus.CounterOpts{Name: "visionary_links_abandoned_total", Help: "Queued links answered with a timeout at shutdown"})
		resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "visionary_resolve_duration_seconds", Help: "Link resolution duration seconds", Buckets: prometheus.ExponentialBuckets(0.25, 2, 8)})
		rateLimitWait = promauto.NewHistogram(prometheus.HistogramOpts{Name: "visionary_ratelimit_wait_seconds", Help: "Time spent waiting for an API token", Buckets: prometheus.DefBuckets})
		queueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "visionary_queue_depth", Help: "Messages waiting for a worker"})
		pendingEdits = promauto.NewGauge(prometheus.GaugeOpts{Name: "visionary_pending_edits", Help: "Detached reply edits in flight"})
		workersAlive = promauto.NewGauge(prometheus.GaugeOpts{Name: "visionary_workers_alive", Help: "Running pipeline workers"})
		openTabs = promauto.NewGauge(prometheus.GaugeOpts{Name: "visionary_open_tabs", Help: "Browser tabs currently leased"})
	})
}

func ObserveLink(outcome string) {
	if linksTotal != nil {
		linksTotal.WithLabelValues(outcome).Inc()
	}
}

func ObserveResolve(d time.Duration) {
	if resolveDuration != nil {
		resolveDuration.Observe(d.Seconds())
	}
}

func ObserveRateLimitWait(d time.Duration) {
	if rateLimitWait != nil {
		rateLimitWait.Observe(d.Seconds())
	}
}

func IncBrowserRestart() {
	if browserRestarts != nil {
		browserRestarts.Inc()
	}
}

func IncNavigationFailure() {
	if navigationFailures != nil {
		navigationFailures.Inc()
	}
}

func IncWorkerDeath() {
	if workerDeaths != nil {
		workerDeaths.Inc()
	}
}

func IncLinkAbandoned() {
	if linksAbandoned != nil {
		linksAbandoned.Inc()
	}
}

// SetQueueDepth records the current number of queued messages.
func SetQueueDepth(n int) {
	if queueDepth != nil {
		queueDepth.Set(float64(n))
	}
}

func AddPendingEdits(delta int) { addGauge(pendingEdits, delta) }

func AddWorkersAlive(delta int) { addGauge(workersAlive, delta) }

func AddOpenTabs(delta int) { addGauge(openTabs, delta) }

func addGauge(g prometheus.Gauge, delta int) {
	if g != nil {
		g.Add(float64(delta))
	}
}
