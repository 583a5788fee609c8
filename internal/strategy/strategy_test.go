// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/store"
)

// fakeCoordinator records every request it receives in arrival order,
// so tests can assert on batch contents and ordering without a Store.
type fakeCoordinator struct {
	mu       sync.Mutex
	requests []store.Request
	err      error
}

func (f *fakeCoordinator) ProcessWorkBatch(ctx context.Context, req store.Request) (store.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return store.Response{}, f.err
	}
	return store.Response{}, nil
}

func (f *fakeCoordinator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCoordinator) all() []store.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Request, len(f.requests))
	copy(out, f.requests)
	return out
}

func testIdentity() Identity {
	return Identity{InstanceId: "I1", ServiceName: "svc", HostName: "host", ProcessId: 1}
}

func TestImmediateFlushesOnEveryQueueCall(t *testing.T) {
	fc := &fakeCoordinator{}
	s := NewImmediate(testIdentity(), fc, metrics.NoopSink{})

	s.QueueOutbox(store.NewOutboxMessage{MessageId: "M1", StreamId: "S1"})
	s.QueueOutbox(store.NewOutboxMessage{MessageId: "M2", StreamId: "S1"})

	require.Equal(t, 2, fc.count(), "each Queue call must trigger its own flush")
	reqs := fc.all()
	require.Len(t, reqs[0].NewOutboxMessages, 1)
	require.Equal(t, "M1", reqs[0].NewOutboxMessages[0].MessageId)
	require.Len(t, reqs[1].NewOutboxMessages, 1)
	require.Equal(t, "M2", reqs[1].NewOutboxMessages[0].MessageId)
}

func TestImmediateSurfacesFlushErrorOnNextCall(t *testing.T) {
	fc := &fakeCoordinator{err: assertErr{}}
	s := NewImmediate(testIdentity(), fc, metrics.NoopSink{})
	s.QueueOutboxCompletion("M1")

	_, err := s.Flush(context.Background())
	require.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated flush failure" }

func TestScopedFlushesExactlyOnceOnClose(t *testing.T) {
	fc := &fakeCoordinator{}
	s := NewScoped(testIdentity(), fc, metrics.NoopSink{})

	s.QueueOutbox(store.NewOutboxMessage{MessageId: "M1", StreamId: "S1"})
	s.QueueOutbox(store.NewOutboxMessage{MessageId: "M2", StreamId: "S1"})
	require.Equal(t, 0, fc.count(), "Scoped must not flush before Close")

	_, err := s.Close(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fc.count())
	require.Len(t, fc.all()[0].NewOutboxMessages, 2)
}

func TestScopedCloseIsIdempotent(t *testing.T) {
	fc := &fakeCoordinator{}
	s := NewScoped(testIdentity(), fc, metrics.NoopSink{})
	s.QueueOutboxCompletion("M1")

	_, err1 := s.Close(context.Background())
	require.NoError(t, err1)
	_, err2 := s.Close(context.Background())
	require.NoError(t, err2)
	require.Equal(t, 1, fc.count(), "a second Close must not flush again")
}

func TestScopedPropagatesFlushErrorToCloser(t *testing.T) {
	fc := &fakeCoordinator{err: assertErr{}}
	s := NewScoped(testIdentity(), fc, metrics.NoopSink{})
	s.QueueOutboxCompletion("M1")

	_, err := s.Close(context.Background())
	require.Error(t, err)
}

func TestIntervalFlushesOnThresholdWithoutWaitingForTimer(t *testing.T) {
	fc := &fakeCoordinator{}
	s := NewInterval(testIdentity(), fc, metrics.NoopSink{}, time.Hour, 2)
	defer s.Stop()

	s.QueueOutbox(store.NewOutboxMessage{MessageId: "M1", StreamId: "S1"})
	s.QueueOutbox(store.NewOutboxMessage{MessageId: "M2", StreamId: "S1"})

	require.Eventually(t, func() bool { return fc.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestIntervalFlushesOnTimerWithoutReachingThreshold(t *testing.T) {
	fc := &fakeCoordinator{}
	s := NewInterval(testIdentity(), fc, metrics.NoopSink{}, 20*time.Millisecond, 1000)
	defer s.Stop()

	s.QueueOutboxCompletion("M1")

	require.Eventually(t, func() bool { return fc.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestIntervalStopPerformsFinalFlush(t *testing.T) {
	fc := &fakeCoordinator{}
	s := NewInterval(testIdentity(), fc, metrics.NoopSink{}, time.Hour, 1000)
	s.QueueOutboxCompletion("M1")
	s.Stop()

	require.Equal(t, 1, fc.count(), "Stop must flush whatever remained buffered")
}

func TestOrderingPreservedWithinAFlush(t *testing.T) {
	fc := &fakeCoordinator{}
	s := NewScoped(testIdentity(), fc, metrics.NoopSink{})

	ids := []string{"M1", "M2", "M3", "M4", "M5"}
	for _, id := range ids {
		s.QueueOutbox(store.NewOutboxMessage{MessageId: id, StreamId: "S1"})
	}
	_, err := s.Close(context.Background())
	require.NoError(t, err)

	got := fc.all()[0].NewOutboxMessages
	require.Len(t, got, len(ids))
	for i, id := range ids {
		require.Equal(t, id, got[i].MessageId)
	}
}
