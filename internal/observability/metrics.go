package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	transitionCounter     *prometheus.CounterVec
	rejectionCounter      *prometheus.CounterVec
	executionHistogram    *prometheus.HistogramVec
	idempotencyCounter    *prometheus.CounterVec
	openMovementsGauge    prometheus.Gauge
	breakerStateGauge     *prometheus.GaugeVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		transitionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movement_transitions_total",
			Help: "Money movement state transitions",
		}, []string{"kind", "from", "to"})

		rejectionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "movement_rejections_total",
			Help: "Movements rejected by local balance and limit checks",
		}, []string{"kind", "reason", "stage"})

		executionHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "movement_execution_duration_seconds",
			Help:    "Latency of calls to the payments backend by outcome",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "outcome"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		openMovementsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "movements_open",
			Help: "Movements currently held in the registry",
		})

		breakerStateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "executor_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			transitionCounter,
			rejectionCounter,
			executionHistogram,
			idempotencyCounter,
			openMovementsGauge,
			breakerStateGauge,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementTransition(kind, from, to string) {
	if transitionCounter == nil {
		return
	}
	transitionCounter.WithLabelValues(kind, from, to).Inc()
}

// IncrementRejection counts a local rejection; stage is "review" or "confirm".
func IncrementRejection(kind, reason, stage string) {
	if rejectionCounter == nil {
		return
	}
	rejectionCounter.WithLabelValues(kind, reason, stage).Inc()
}

func ObserveExecution(kind, outcome string, duration time.Duration) {
	if executionHistogram == nil {
		return
	}
	executionHistogram.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func SetOpenMovements(count int) {
	if openMovementsGauge == nil {
		return
	}
	openMovementsGauge.Set(float64(count))
}

func SetBreakerState(name string, state float64) {
	if breakerStateGauge == nil {
		return
	}
	breakerStateGauge.WithLabelValues(name).Set(state)
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
