// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package streamproc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessRunsEachStreamInSequenceOrder(t *testing.T) {
	p := New(4)
	items := []Item{
		{MessageId: "C", StreamId: "S1", SequenceOrder: 3},
		{MessageId: "A", StreamId: "S1", SequenceOrder: 1},
		{MessageId: "B", StreamId: "S1", SequenceOrder: 2},
	}

	var mu sync.Mutex
	var seen []string
	outcomes := p.Process(context.Background(), items, func(ctx context.Context, item Item) error {
		mu.Lock()
		seen = append(seen, item.MessageId)
		mu.Unlock()
		return nil
	})

	require.Equal(t, []string{"A", "B", "C"}, seen)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
	}
}

func TestProcessBreaksTiesByMessageId(t *testing.T) {
	p := New(1)
	items := []Item{
		{MessageId: "Z", StreamId: "S1", SequenceOrder: 1},
		{MessageId: "A", StreamId: "S1", SequenceOrder: 1},
	}
	var seen []string
	p.Process(context.Background(), items, func(ctx context.Context, item Item) error {
		seen = append(seen, item.MessageId)
		return nil
	})
	require.Equal(t, []string{"A", "Z"}, seen)
}

func TestFailedMessageAbortsRemainderOfItsStream(t *testing.T) {
	p := New(1)
	items := []Item{
		{MessageId: "A", StreamId: "S1", SequenceOrder: 1},
		{MessageId: "B", StreamId: "S1", SequenceOrder: 2},
		{MessageId: "C", StreamId: "S1", SequenceOrder: 3},
	}
	boom := fmt.Errorf("boom")
	outcomes := p.Process(context.Background(), items, func(ctx context.Context, item Item) error {
		if item.MessageId == "B" {
			return boom
		}
		return nil
	})

	byId := map[string]error{}
	for _, o := range outcomes {
		byId[o.Item.MessageId] = o.Err
	}
	require.NoError(t, byId["A"])
	require.ErrorIs(t, byId["B"], boom)
	require.ErrorIs(t, byId["C"], boom, "message after the failure must be aborted, not attempted")
}

func TestOtherStreamsUnaffectedByASiblingFailure(t *testing.T) {
	p := New(4)
	items := []Item{
		{MessageId: "A1", StreamId: "S1", SequenceOrder: 1},
		{MessageId: "B1", StreamId: "S2", SequenceOrder: 1},
	}
	boom := fmt.Errorf("boom")
	outcomes := p.Process(context.Background(), items, func(ctx context.Context, item Item) error {
		if item.StreamId == "S1" {
			return boom
		}
		return nil
	})

	byId := map[string]error{}
	for _, o := range outcomes {
		byId[o.Item.MessageId] = o.Err
	}
	require.ErrorIs(t, byId["A1"], boom)
	require.NoError(t, byId["B1"])
}

func TestDistinctStreamsRunConcurrentlyUpToMaxParallelism(t *testing.T) {
	p := New(2)
	items := []Item{
		{MessageId: "A", StreamId: "S1", SequenceOrder: 1},
		{MessageId: "B", StreamId: "S2", SequenceOrder: 1},
	}
	var inFlight int32
	var maxInFlight int32
	p.Process(context.Background(), items, func(ctx context.Context, item Item) error {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	})
	require.Equal(t, int32(2), maxInFlight)
}

func TestCancellationAbortsUnstartedMessagesInAStream(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	items := []Item{
		{MessageId: "A", StreamId: "S1", SequenceOrder: 1},
		{MessageId: "B", StreamId: "S1", SequenceOrder: 2},
	}
	outcomes := p.Process(ctx, items, func(ctx context.Context, item Item) error {
		if item.MessageId == "A" {
			cancel()
		}
		return nil
	})
	byId := map[string]error{}
	for _, o := range outcomes {
		byId[o.Item.MessageId] = o.Err
	}
	require.NoError(t, byId["A"])
	require.ErrorIs(t, byId["B"], context.Canceled)
}
