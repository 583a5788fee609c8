// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tomtom215/workcoordinator/internal/envelope"
	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/store"
)

type recordingStrategy struct {
	queued              []store.NewOutboxMessage
	receptorCompletions []store.ReceptorReport
	receptorFailures    []store.ReceptorReport
}

func (r *recordingStrategy) QueueOutbox(m store.NewOutboxMessage)          { r.queued = append(r.queued, m) }
func (r *recordingStrategy) QueueInbox(store.NewInboxMessage)              {}
func (r *recordingStrategy) QueueOutboxCompletion(string)                  {}
func (r *recordingStrategy) QueueOutboxFailure(string, store.FailureReason) {}
func (r *recordingStrategy) QueueInboxCompletion(string)                   {}
func (r *recordingStrategy) QueueInboxFailure(string, store.FailureReason) {}
func (r *recordingStrategy) QueueReceptorCompletion(rr store.ReceptorReport) {
	r.receptorCompletions = append(r.receptorCompletions, rr)
}
func (r *recordingStrategy) QueueReceptorFailure(rr store.ReceptorReport) {
	r.receptorFailures = append(r.receptorFailures, rr)
}
func (r *recordingStrategy) QueuePerspectiveCompletion(store.PerspectiveReport) {}
func (r *recordingStrategy) QueuePerspectiveFailure(store.PerspectiveReport)    {}
func (r *recordingStrategy) RenewOutbox(string)                                {}
func (r *recordingStrategy) RenewInbox(string)                                 {}
func (r *recordingStrategy) Flush(ctx context.Context) (store.Response, error) {
	return store.Response{}, nil
}

func TestSendAsyncInvokesReceptorAndQueuesItsResultAsACommand(t *testing.T) {
	rs := &recordingStrategy{}
	d := New(rs, metrics.NoopSink{}, Config{
		CommandRoutes: map[string]Route{"DoThing": {Topic: "commands.do-thing"}},
		Receptors: map[string]ReceptorFunc{
			"DoThing": func(ctx context.Context, env envelope.Envelope, payload []byte) (ReceptorResult, error) {
				return ReceptorResult{PayloadBytes: []byte("ack"), IsEvent: false}, nil
			},
		},
		PartitionCount: 100,
	})

	receipt, err := d.SendAsync(context.Background(), "DoThing", "stream-1", []byte("{}"), "")
	require.NoError(t, err)
	require.Equal(t, Accepted, receipt.Status)
	require.Len(t, rs.queued, 1)
	require.Equal(t, "commands.do-thing", rs.queued[0].Topic)
	require.False(t, rs.queued[0].IsEvent)
	require.Len(t, rs.receptorCompletions, 1)
}

func TestSendAsyncQueuesAnEventWhenTheReceptorSaysSo(t *testing.T) {
	rs := &recordingStrategy{}
	d := New(rs, metrics.NoopSink{}, Config{
		EventRoutes: map[string]Route{"ThingHappenedEvent": {Topic: "events.thing"}},
		EventSuffix: "Event",
		Receptors: map[string]ReceptorFunc{
			"DoThing": func(ctx context.Context, env envelope.Envelope, payload []byte) (ReceptorResult, error) {
				return ReceptorResult{MessageType: "ThingHappenedEvent", IsEvent: true, PayloadBytes: []byte("{}")}, nil
			},
		},
	})

	receipt, err := d.SendAsync(context.Background(), "DoThing", "stream-1", []byte("{}"), "")
	require.NoError(t, err)
	require.Equal(t, Accepted, receipt.Status)
	require.Len(t, rs.queued, 1)
	require.True(t, rs.queued[0].IsEvent)
	require.Equal(t, "events.thing", rs.queued[0].Topic)
}

func TestSendAsyncRejectsUnroutedType(t *testing.T) {
	d := New(&recordingStrategy{}, metrics.NoopSink{}, Config{})
	_, err := d.SendAsync(context.Background(), "Unknown", "s", nil, "")
	require.Error(t, err)
}

func TestSendAsyncRejectsEventResultMissingSuffix(t *testing.T) {
	rs := &recordingStrategy{}
	d := New(rs, metrics.NoopSink{}, Config{
		EventRoutes: map[string]Route{"ThingHappened": {Topic: "events.thing"}},
		EventSuffix: "Event",
		Receptors: map[string]ReceptorFunc{
			"DoThing": func(ctx context.Context, env envelope.Envelope, payload []byte) (ReceptorResult, error) {
				return ReceptorResult{MessageType: "ThingHappened", IsEvent: true}, nil
			},
		},
	})
	_, err := d.SendAsync(context.Background(), "DoThing", "stream-1", []byte("{}"), "")
	require.Error(t, err)
	require.Empty(t, rs.queued)
}

func TestSendAsyncPropagatesReceptorFailureAndRecordsIt(t *testing.T) {
	boom := fmt.Errorf("handler exploded")
	rs := &recordingStrategy{}
	d := New(rs, metrics.NoopSink{}, Config{
		Receptors: map[string]ReceptorFunc{
			"DoThing": func(ctx context.Context, env envelope.Envelope, payload []byte) (ReceptorResult, error) {
				return ReceptorResult{}, boom
			},
		},
	})
	_, err := d.SendAsync(context.Background(), "DoThing", "s", nil, "")
	require.Error(t, err)
	require.Empty(t, rs.queued)
	require.Len(t, rs.receptorFailures, 1)
}

func TestLocalInvokeAsyncCallsReceptorAndPropagatesError(t *testing.T) {
	boom := fmt.Errorf("handler exploded")
	d := New(&recordingStrategy{}, metrics.NoopSink{}, Config{
		Receptors: map[string]ReceptorFunc{
			"DoThing": func(ctx context.Context, env envelope.Envelope, payload []byte) (ReceptorResult, error) {
				return ReceptorResult{}, boom
			},
		},
	})
	_, err := d.LocalInvokeAsync(context.Background(), "DoThing", "s", nil, "")
	require.Error(t, err)
}

func TestLocalInvokeAsyncReturnsReceptorResultWithoutTouchingTheOutbox(t *testing.T) {
	rs := &recordingStrategy{}
	d := New(rs, metrics.NoopSink{}, Config{
		Receptors: map[string]ReceptorFunc{
			"DoThing": func(ctx context.Context, env envelope.Envelope, payload []byte) (ReceptorResult, error) {
				return ReceptorResult{PayloadBytes: []byte("result")}, nil
			},
		},
	})
	result, err := d.LocalInvokeAsync(context.Background(), "DoThing", "s", nil, "")
	require.NoError(t, err)
	require.Equal(t, []byte("result"), result.PayloadBytes)
	require.Empty(t, rs.queued)
}

func TestPublishAsyncRunsEveryPerspectiveAndReportsOutcomesByName(t *testing.T) {
	boom := fmt.Errorf("second perspective failed")
	d := New(&recordingStrategy{}, metrics.NoopSink{}, Config{
		Perspectives: map[string]map[string]PerspectiveFunc{
			"ThingEvent": {
				"first":  func(ctx context.Context, env envelope.Envelope, payload []byte) error { return nil },
				"second": func(ctx context.Context, env envelope.Envelope, payload []byte) error { return boom },
			},
		},
	})
	outcomes := d.PublishAsync(context.Background(), envelope.Envelope{MessageType: "ThingEvent"}, nil)
	require.Len(t, outcomes, 2)

	byName := map[string]error{}
	for _, o := range outcomes {
		byName[o.Name] = o.Err
	}
	require.NoError(t, byName["first"])
	require.Error(t, byName["second"])
}

func TestPublishAsyncWithNoRegisteredPerspectivesIsANoop(t *testing.T) {
	d := New(&recordingStrategy{}, metrics.NoopSink{}, Config{})
	outcomes := d.PublishAsync(context.Background(), envelope.Envelope{MessageType: "Unregistered"}, nil)
	require.Empty(t, outcomes)
}
