// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink is the production Sink implementation. Each host
// constructs its own, against its own *prometheus.Registry, so multiple
// coordinator instances can run in one test process without colliding on
// the default global registry.
type PrometheusSink struct {
	enabled Component

	storeBatchDuration   *prometheus.HistogramVec
	storeClaimed         *prometheus.CounterVec
	storeDeadLettered    *prometheus.CounterVec
	strategyFlushDur     *prometheus.HistogramVec
	strategyFlushBatch   *prometheus.HistogramVec
	workerPublishTotal   *prometheus.CounterVec
	workerConsumeTotal   *prometheus.CounterVec
	circuitBreakerState  *prometheus.GaugeVec
	dispatchTotal        *prometheus.CounterVec
	adminAPIRequestTotal *prometheus.CounterVec
	adminAPIRequestDur   *prometheus.HistogramVec
}

// NewPrometheusSink registers the work coordinator's metric families on reg
// and returns a Sink that only records observations for the components set
// in enabled.
func NewPrometheusSink(reg prometheus.Registerer, enabled Component) *PrometheusSink {
	factory := prometheus.WrapRegistererWithPrefix("workcoordinator_", reg)

	s := &PrometheusSink{
		enabled: enabled,
		storeBatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "store_batch_duration_seconds",
			Help:    "Duration of process_work_batch transactions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		storeClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_claimed_total",
			Help: "Rows claimed from the outbox/inbox tables.",
		}, []string{"table"}),
		storeDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "store_dead_lettered_total",
			Help: "Rows newly dead-lettered.",
		}, []string{"table"}),
		strategyFlushDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strategy_flush_duration_seconds",
			Help:    "Duration of WorkCoordinatorStrategy.Flush calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"variant"}),
		strategyFlushBatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strategy_flush_batch_size",
			Help:    "Number of queued items in a Flush call.",
			Buckets: []float64{1, 4, 16, 64, 128, 256, 512, 1024},
		}, []string{"variant"}),
		workerPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_publish_total",
			Help: "PublisherWorker publish attempts by outcome.",
		}, []string{"outcome"}),
		workerConsumeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_consume_total",
			Help: "ConsumerWorker receive attempts by outcome.",
		}, []string{"outcome"}),
		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatcher_dispatch_total",
			Help: "Dispatcher operations by operation/outcome.",
		}, []string{"operation", "outcome"}),
		adminAPIRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admin_api_requests_total",
			Help: "Admin API HTTP requests.",
		}, []string{"method", "path", "status"}),
		adminAPIRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "admin_api_request_duration_seconds",
			Help:    "Admin API HTTP request duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	factory.MustRegister(
		s.storeBatchDuration, s.storeClaimed, s.storeDeadLettered,
		s.strategyFlushDur, s.strategyFlushBatch,
		s.workerPublishTotal, s.workerConsumeTotal, s.circuitBreakerState,
		s.dispatchTotal, s.adminAPIRequestTotal, s.adminAPIRequestDur,
	)
	return s
}

func (s *PrometheusSink) has(c Component) bool { return s.enabled&c != 0 }

func (s *PrometheusSink) ObserveStoreBatch(d time.Duration, outcome string) {
	if !s.has(ComponentStore) {
		return
	}
	s.storeBatchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (s *PrometheusSink) IncStoreClaimed(table string, n int) {
	if !s.has(ComponentStore) || n <= 0 {
		return
	}
	s.storeClaimed.WithLabelValues(table).Add(float64(n))
}

func (s *PrometheusSink) IncStoreDeadLettered(table string, n int) {
	if !s.has(ComponentStore) || n <= 0 {
		return
	}
	s.storeDeadLettered.WithLabelValues(table).Add(float64(n))
}

func (s *PrometheusSink) ObserveStrategyFlush(variant string, d time.Duration, batchSize int) {
	if !s.has(ComponentStrategy) {
		return
	}
	s.strategyFlushDur.WithLabelValues(variant).Observe(d.Seconds())
	s.strategyFlushBatch.WithLabelValues(variant).Observe(float64(batchSize))
}

func (s *PrometheusSink) IncWorkerPublish(outcome string) {
	if !s.has(ComponentWorker) {
		return
	}
	s.workerPublishTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) IncWorkerConsume(outcome string) {
	if !s.has(ComponentWorker) {
		return
	}
	s.workerConsumeTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) SetCircuitBreakerState(name string, state float64) {
	if !s.has(ComponentWorker) {
		return
	}
	s.circuitBreakerState.WithLabelValues(name).Set(state)
}

func (s *PrometheusSink) IncDispatch(operation, outcome string) {
	if !s.has(ComponentDispatcher) {
		return
	}
	s.dispatchTotal.WithLabelValues(operation, outcome).Inc()
}

func (s *PrometheusSink) ObserveAdminAPIRequest(method, path string, statusCode int, d time.Duration) {
	if !s.has(ComponentAdminAPI) {
		return
	}
	status := statusCodeBucket(statusCode)
	s.adminAPIRequestTotal.WithLabelValues(method, path, status).Inc()
	s.adminAPIRequestDur.WithLabelValues(method, path).Observe(d.Seconds())
}

func statusCodeBucket(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

var _ Sink = (*PrometheusSink)(nil)
