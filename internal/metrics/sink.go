// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package metrics

import "time"

// Component is a bit in the enable bitset passed to NewPrometheusSink.
// A host turns instrumentation on per subsystem rather than globally.
type Component uint32

const (
	ComponentStore Component = 1 << iota
	ComponentStrategy
	ComponentWorker
	ComponentDispatcher
	ComponentAdminAPI

	ComponentAll = ComponentStore | ComponentStrategy | ComponentWorker | ComponentDispatcher | ComponentAdminAPI
)

// Sink is the observability surface every component depends on. It is
// owned and constructed by the host, never reached via a package-level
// singleton.
type Sink interface {
	// ObserveStoreBatch records one process_work_batch transaction.
	ObserveStoreBatch(d time.Duration, outcome string)
	// IncStoreClaimed records rows claimed from a given table ("outbox" or "inbox").
	IncStoreClaimed(table string, n int)
	// IncStoreDeadLettered records rows newly dead-lettered in a given table.
	IncStoreDeadLettered(table string, n int)

	// ObserveStrategyFlush records one Strategy.Flush call.
	ObserveStrategyFlush(variant string, d time.Duration, batchSize int)

	// IncWorkerPublish records the outcome of one PublisherWorker publish attempt.
	IncWorkerPublish(outcome string)
	// IncWorkerConsume records the outcome of one ConsumerWorker receive.
	IncWorkerConsume(outcome string)
	// SetCircuitBreakerState records a named circuit breaker's numeric state
	// (0=closed, 1=half-open, 2=open).
	SetCircuitBreakerState(name string, state float64)

	// IncDispatch records the outcome of one Dispatcher operation.
	IncDispatch(operation, outcome string)

	// ObserveAdminAPIRequest records one admin API HTTP request.
	ObserveAdminAPIRequest(method, path string, statusCode int, d time.Duration)
}

// NoopSink discards every observation. It is the default Sink for tests
// and for components constructed with a nil Sink. (PrometheusSink drops
// observations for components whose bit is unset in its enable mask.)
type NoopSink struct{}

func (NoopSink) ObserveStoreBatch(time.Duration, string)                     {}
func (NoopSink) IncStoreClaimed(string, int)                                {}
func (NoopSink) IncStoreDeadLettered(string, int)                           {}
func (NoopSink) ObserveStrategyFlush(string, time.Duration, int)             {}
func (NoopSink) IncWorkerPublish(string)                                    {}
func (NoopSink) IncWorkerConsume(string)                                    {}
func (NoopSink) SetCircuitBreakerState(string, float64)                    {}
func (NoopSink) IncDispatch(string, string)                                 {}
func (NoopSink) ObserveAdminAPIRequest(string, string, int, time.Duration) {}

var _ Sink = NoopSink{}
