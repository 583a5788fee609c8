// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsStreamIdWhenEmpty(t *testing.T) {
	e := New("CreateOrder", "", "", "", 10000)
	assert.Equal(t, e.MessageId, e.StreamId)
	assert.NotEmpty(t, e.CorrelationId)
	assert.True(t, e.PartitionNumber >= 0 && e.PartitionNumber < 10000)
}

func TestNewPreservesProvidedStreamId(t *testing.T) {
	e := New("OrderCreatedEvent", "order-123", "corr-1", "cause-1", 10000)
	assert.Equal(t, "order-123", e.StreamId)
	assert.Equal(t, "corr-1", e.CorrelationId)
	assert.Equal(t, "cause-1", e.CausationId)
	assert.Equal(t, PartitionFor("order-123", 10000), e.PartitionNumber)
}

func TestPartitionForIsDeterministic(t *testing.T) {
	p1 := PartitionFor("stream-a", 10000)
	p2 := PartitionFor("stream-a", 10000)
	assert.Equal(t, p1, p2)
	require.True(t, p1 >= 0 && p1 < 10000)
}

func TestPartitionForZeroPartitionCount(t *testing.T) {
	assert.Equal(t, 0, PartitionFor("x", 0))
}

func TestWithHopAppendsWithoutMutatingOriginal(t *testing.T) {
	e := New("CreateOrder", "s1", "", "", 10000)
	now := time.Now().UTC()
	e2 := e.WithHop("coordinator", now, now.Add(time.Millisecond))

	assert.Equal(t, 0, e.HopCount())
	assert.Equal(t, 1, e2.HopCount())
	assert.Equal(t, "coordinator", e2.Hops[0].Service)
}

func TestIsEventRequiresBothFlagAndSuffix(t *testing.T) {
	assert.True(t, IsEvent(true, "OrderCreatedEvent", "Event"))
	assert.False(t, IsEvent(false, "OrderCreatedEvent", "Event"))
	assert.False(t, IsEvent(true, "CreateOrder", "Event"))
	assert.False(t, IsEvent(false, "CreateOrder", "Event"))
}

func TestIsEventEmptySuffixMatchesAnyType(t *testing.T) {
	assert.True(t, IsEvent(true, "CreateOrder", ""))
}

func TestAggregateTypeStripsSuffix(t *testing.T) {
	assert.Equal(t, "OrderCreated", AggregateType("OrderCreatedEvent", "Event"))
	assert.Equal(t, "CreateOrder", AggregateType("CreateOrder", "Event"))
}
