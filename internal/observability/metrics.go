package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions   prometheus.Gauge
	sessionsCreated  *prometheus.CounterVec
	sessionsRemoved  *prometheus.CounterVec
	sweepDuration    prometheus.Histogram
	exchangeTotal    *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	timeoutsTotal    *prometheus.CounterVec
	programFailures  *prometheus.CounterVec
	transcriptWrite  prometheus.Histogram
	rpcRequestsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "parley_sessions_active",
					Help: "Current number of registered dialogue sessions.",
				},
			),
			sessionsCreated: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "parley_sessions_created_total",
					Help: "Total sessions created by program.",
				},
				[]string{"program"},
			),
			sessionsRemoved: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "parley_sessions_removed_total",
					Help: "Total sessions removed by reason (completed, idle, removed, shutdown).",
				},
				[]string{"reason"},
			),
			sweepDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "parley_session_sweep_duration_seconds",
					Help:    "Duration of idle session sweeps in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			exchangeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "parley_dialogue_exchanges_total",
					Help: "Total driver calls by operation and outcome.",
				},
				[]string{"op", "outcome"},
			),
			exchangeDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "parley_dialogue_exchange_duration_seconds",
					Help:    "Time a driver call spent waiting for the program, by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			timeoutsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "parley_dialogue_timeouts_total",
					Help: "Total elapsed deadlines by side (driver, program).",
				},
				[]string{"side"},
			),
			programFailures: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "parley_program_failures_total",
					Help: "Total conversation programs that ended in an error result.",
				},
				[]string{"program"},
			),
			transcriptWrite: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "parley_transcript_write_duration_seconds",
					Help:    "Transcript append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			rpcRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "parley_rpc_requests_total",
					Help: "Total gateway RPC requests by method and status.",
				},
				[]string{"method", "status"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsCreated,
			m.sessionsRemoved,
			m.sweepDuration,
			m.exchangeTotal,
			m.exchangeDuration,
			m.timeoutsTotal,
			m.programFailures,
			m.transcriptWrite,
			m.rpcRequestsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionCreated(program string) {
	if program == "" {
		program = "unknown"
	}
	getMetrics().sessionsCreated.WithLabelValues(program).Inc()
}

func RecordSessionRemoved(reason string, count int) {
	if count <= 0 {
		return
	}
	getMetrics().sessionsRemoved.WithLabelValues(reason).Add(float64(count))
}

func RecordSweep(duration time.Duration) {
	getMetrics().sweepDuration.Observe(duration.Seconds())
}

// RecordExchange records one driver call. outcome is a turn kind
// (output, last, error) or an error kind (timeout, cancelled, state, ...).
func RecordExchange(op, outcome string, duration time.Duration) {
	m := getMetrics()
	m.exchangeTotal.WithLabelValues(op, outcome).Inc()
	m.exchangeDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func RecordTimeout(side string) {
	getMetrics().timeoutsTotal.WithLabelValues(side).Inc()
}

func RecordProgramFailure(program string) {
	if program == "" {
		program = "unknown"
	}
	getMetrics().programFailures.WithLabelValues(program).Inc()
}

func RecordTranscriptWrite(duration time.Duration) {
	getMetrics().transcriptWrite.Observe(duration.Seconds())
}

func RecordRPCRequest(method string, success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().rpcRequestsTotal.WithLabelValues(method, status).Inc()
}
