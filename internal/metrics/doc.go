// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

/*
Package metrics defines the observability Sink used throughout the work
coordinator.

Earlier revisions of this package exposed package-level promauto
singletons, which made every component a hidden process-wide dependency
and complicated running more than one coordinator host per process
(as tests do). Sink replaces that: it is an interface, injected into
the Store, Strategy, workers and Dispatcher by their constructors, with
an enable bitset (Component) so a host can turn instrumentation on per
subsystem. NewPrometheusSink returns a concrete implementation backed by
github.com/prometheus/client_golang; NoopSink discards everything and is
the zero-configuration default for tests.

	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(reg, metrics.ComponentStore|metrics.ComponentWorker)
	st, err := store.Open(ctx, cfg.Store.Path, store.TuningFromConfig(&cfg.Store), sink)

# Metrics exposed by PrometheusSink

  - workcoordinator_store_batch_duration_seconds (histogram, by outcome)
  - workcoordinator_store_claimed_total (counter, by table)
  - workcoordinator_store_dead_lettered_total (counter, by table)
  - workcoordinator_strategy_flush_duration_seconds (histogram, by variant)
  - workcoordinator_strategy_flush_batch_size (histogram, by variant)
  - workcoordinator_worker_publish_total (counter, by outcome)
  - workcoordinator_worker_consume_total (counter, by outcome)
  - workcoordinator_circuit_breaker_state (gauge, by name)
  - workcoordinator_dispatcher_dispatch_total (counter, by outcome)
  - workcoordinator_admin_api_requests_total (counter, by method/path/status)
*/
package metrics
