// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSinkRespectsEnableBitset(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, ComponentStore)

	sink.ObserveStoreBatch(10*time.Millisecond, "ok")
	sink.IncWorkerPublish("delivered") // worker bit not set: no-op

	families, err := reg.Gather()
	require.NoError(t, err)

	var sawStore, sawWorker bool
	for _, mf := range families {
		switch mf.GetName() {
		case "workcoordinator_store_batch_duration_seconds":
			sawStore = true
		case "workcoordinator_worker_publish_total":
			sawWorker = true
		}
	}
	require.True(t, sawStore, "store metric should be registered and observed")
	require.False(t, sawWorker, "worker metric should not record when ComponentWorker is unset")
}

func TestPrometheusSinkAllComponents(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg, ComponentAll)

	sink.ObserveStoreBatch(time.Millisecond, "ok")
	sink.IncStoreClaimed("outbox", 3)
	sink.IncStoreDeadLettered("outbox", 1)
	sink.ObserveStrategyFlush("interval", time.Millisecond, 10)
	sink.IncWorkerPublish("delivered")
	sink.IncWorkerConsume("handled")
	sink.SetCircuitBreakerState("nats", 0)
	sink.IncDispatch("SendAsync", "accepted")
	sink.ObserveAdminAPIRequest("GET", "/dlq", 200, time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var claimed float64
	for _, mf := range families {
		if mf.GetName() != "workcoordinator_store_claimed_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			claimed += m.GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(3), claimed)
}
