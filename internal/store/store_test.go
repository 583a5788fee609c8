// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tomtom215/workcoordinator/internal/config"
	"github.com/tomtom215/workcoordinator/internal/envelope"
	"github.com/tomtom215/workcoordinator/internal/metrics"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	tuning := TuningFromConfig(&config.StoreConfig{
		PartitionCount:           10000,
		MaxPartitionsPerInstance: 100,
		LeaseSeconds:             300,
		StaleThresholdSeconds:    600,
		MaxClaimBatch:            100,
		MaxRetries:               8,
		EventSuffix:              "Event",
		DeadLetterPolicy:         config.DeadLetterMarkTerminal,
	})
	s, err := Open(context.Background(), "", tuning, metrics.NoopSink{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestS1CommandProducesEvent grounds scenario S1 of the governing spec.
func TestS1CommandProducesEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	resp, err := s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1",
		Flags:      SkipClaim,
		NewOutboxMessages: []NewOutboxMessage{
			{
				MessageId:     "O1",
				CorrelationId: envelope.NewId(),
				MessageType:   "OrderCreatedEvent",
				StreamId:      "O1",
				Topic:         "orders",
				PayloadBytes:  []byte(`{"orderId":"O1"}`),
				IsEvent:       true,
			},
		},
	})
	require.NoError(t, err)
	require.Empty(t, resp.ClaimedOutboxMessages)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox WHERE message_id = 'O1'").Scan(&count))
	require.Equal(t, 1, count)

	var version int64
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT version FROM event_store WHERE stream_id = 'O1'").Scan(&version))
	require.Equal(t, int64(1), version)
}

// TestS2PublisherClaimAndComplete grounds scenario S2.
func TestS2PublisherClaimAndComplete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1",
		Flags:      SkipClaim,
		NewOutboxMessages: []NewOutboxMessage{
			{MessageId: "O1", CorrelationId: envelope.NewId(), MessageType: "OrderCreatedEvent", StreamId: "O1", Topic: "orders", PayloadBytes: []byte("{}"), IsEvent: true},
		},
	})
	require.NoError(t, err)

	claimResp, err := s.ProcessWorkBatch(ctx, Request{InstanceId: "I1"})
	require.NoError(t, err)
	require.Len(t, claimResp.ClaimedOutboxMessages, 1)
	require.Equal(t, "O1", claimResp.ClaimedOutboxMessages[0].MessageId)
	require.Equal(t, RowClaimed, claimResp.ClaimedOutboxMessages[0].Status)

	_, err = s.ProcessWorkBatch(ctx, Request{
		InstanceId:        "I1",
		Flags:             SkipClaim,
		OutboxCompletions: []OutboxCompletion{{MessageId: "O1"}},
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox WHERE message_id = 'O1'").Scan(&count))
	require.Equal(t, 0, count)
}

// TestS3CrashDuringPublish grounds scenario S3: after the lease expires,
// another instance can reclaim the row.
func TestS3CrashDuringPublish(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1",
		Flags:      SkipClaim,
		NewOutboxMessages: []NewOutboxMessage{
			{MessageId: "O1", CorrelationId: envelope.NewId(), MessageType: "OrderCreatedEvent", StreamId: "O1", Topic: "orders", PayloadBytes: []byte("{}"), IsEvent: true},
		},
	})
	require.NoError(t, err)

	_, err = s.ProcessWorkBatch(ctx, Request{InstanceId: "I1"})
	require.NoError(t, err)

	// Simulate the lease having already expired, standing in for the
	// 300s wait in the original scenario.
	expired := time.Now().UTC().Add(-time.Second)
	_, err = s.db.ExecContext(ctx, "UPDATE outbox SET lease_expiry = ? WHERE message_id = 'O1'", expired)
	require.NoError(t, err)

	resp2, err := s.ProcessWorkBatch(ctx, Request{InstanceId: "I2"})
	require.NoError(t, err)
	require.Len(t, resp2.ClaimedOutboxMessages, 1)
	require.Equal(t, "I2", resp2.ClaimedOutboxMessages[0].InstanceId)
}

// TestS4DuplicateInbox grounds scenario S4.
func TestS4DuplicateInbox(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	msg := NewInboxMessage{MessageId: "M7", CorrelationId: envelope.NewId(), MessageType: "OrderCreatedEvent", StreamId: "O1", SourceTopic: "orders", PayloadBytes: []byte("{}")}

	resp1, err := s.ProcessWorkBatch(ctx, Request{InstanceId: "I1", NewInboxMessages: []NewInboxMessage{msg}})
	require.NoError(t, err)
	require.Len(t, resp1.ClaimedInboxMessages, 1)

	resp2, err := s.ProcessWorkBatch(ctx, Request{InstanceId: "I1", NewInboxMessages: []NewInboxMessage{msg}})
	require.NoError(t, err)
	require.Empty(t, resp2.ClaimedInboxMessages)
}

// TestS5StreamOrderingSequenceIsMonotonicPerStream grounds scenario S5's
// precondition: sequence order increases within a stream's insert order.
func TestS5StreamOrderingSequenceIsMonotonicPerStream(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1",
		Flags:      SkipClaim,
		NewOutboxMessages: []NewOutboxMessage{
			{MessageId: "A", CorrelationId: envelope.NewId(), MessageType: "Cmd", StreamId: "S1", Topic: "t", PayloadBytes: []byte("{}")},
			{MessageId: "B", CorrelationId: envelope.NewId(), MessageType: "Cmd", StreamId: "S1", Topic: "t", PayloadBytes: []byte("{}")},
			{MessageId: "C", CorrelationId: envelope.NewId(), MessageType: "Cmd", StreamId: "S1", Topic: "t", PayloadBytes: []byte("{}")},
		},
	})
	require.NoError(t, err)

	rows, err := s.db.QueryContext(ctx, "SELECT message_id, sequence_order FROM outbox WHERE stream_id = 'S1' ORDER BY sequence_order ASC")
	require.NoError(t, err)
	defer rows.Close()

	var ids []string
	var last int64 = -1
	for rows.Next() {
		var id string
		var seq int64
		require.NoError(t, rows.Scan(&id, &seq))
		require.Greater(t, seq, last)
		last = seq
		ids = append(ids, id)
	}
	require.Equal(t, []string{"A", "B", "C"}, ids)
}

// TestS6VersionConflict grounds scenario S6: a duplicate (streamId,
// version) insert attempt fails that batch with ConcurrencyError, and
// nothing from that batch persists.
func TestS6VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1",
		Flags:      SkipClaim,
		NewOutboxMessages: []NewOutboxMessage{
			{MessageId: "E1", CorrelationId: envelope.NewId(), MessageType: "OrderCreatedEvent", StreamId: "O1", Topic: "t", PayloadBytes: []byte("{}"), IsEvent: true},
		},
	})
	require.NoError(t, err)

	// Force a second insert to collide on (stream_id, version) by
	// pre-existing a version-2 row, then attempting another event insert
	// for the same stream concurrently would naturally get version 2;
	// instead directly exercise the conflict path by inserting a
	// version-2 row out of band, then issuing a batch that would also
	// compute version 2.
	_, err = s.db.ExecContext(ctx, `INSERT INTO event_store (event_id, stream_id, aggregate_type, version, global_sequence, payload_bytes) VALUES ('X', 'O1', 'Order', 2, 999, '{}')`)
	require.NoError(t, err)

	_, err = s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1",
		Flags:      SkipClaim,
		NewOutboxMessages: []NewOutboxMessage{
			{MessageId: "E2", CorrelationId: envelope.NewId(), MessageType: "OrderCreatedEvent", StreamId: "O1", Topic: "t", PayloadBytes: []byte("{}"), IsEvent: true},
		},
	})
	require.Error(t, err)
	_, isConcurrency := err.(*ConcurrencyError)
	require.True(t, isConcurrency)

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox WHERE message_id = 'E2'").Scan(&count))
	require.Equal(t, 0, count, "the losing batch must have no persisted side effects")
}

func TestEmptyBatchIsSafeHeartbeat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	resp, err := s.ProcessWorkBatch(ctx, Request{InstanceId: "I1"})
	require.NoError(t, err)
	require.Empty(t, resp.ClaimedOutboxMessages)
	require.Empty(t, resp.ClaimedInboxMessages)
}

func TestMaxClaimBatchLimitsClaimSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	msgs := make([]NewOutboxMessage, 0, 5)
	for i := 0; i < 5; i++ {
		msgs = append(msgs, NewOutboxMessage{
			MessageId: envelope.NewId(), CorrelationId: envelope.NewId(),
			MessageType: "Cmd", StreamId: "S" + string(rune('A'+i)), Topic: "t", PayloadBytes: []byte("{}"),
		})
	}
	_, err := s.ProcessWorkBatch(ctx, Request{InstanceId: "I1", Flags: SkipClaim, NewOutboxMessages: msgs})
	require.NoError(t, err)

	resp, err := s.ProcessWorkBatch(ctx, Request{InstanceId: "I1", MaxClaimBatch: 3})
	require.NoError(t, err)
	require.Len(t, resp.ClaimedOutboxMessages, 3)

	resp2, err := s.ProcessWorkBatch(ctx, Request{InstanceId: "I1", MaxClaimBatch: 3})
	require.NoError(t, err)
	require.Len(t, resp2.ClaimedOutboxMessages, 2)
}

func TestDeadLetterMoveTablePolicy(t *testing.T) {
	ctx := context.Background()
	tuning := TuningFromConfig(&config.StoreConfig{
		PartitionCount: 10000, MaxPartitionsPerInstance: 100, LeaseSeconds: 300,
		StaleThresholdSeconds: 600, MaxClaimBatch: 100, MaxRetries: 1,
		EventSuffix: "Event", DeadLetterPolicy: config.DeadLetterMoveTable,
	})
	s, err := Open(ctx, "", tuning, metrics.NoopSink{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1", Flags: SkipClaim,
		NewOutboxMessages: []NewOutboxMessage{{MessageId: "O1", CorrelationId: envelope.NewId(), MessageType: "Cmd", StreamId: "O1", Topic: "t", PayloadBytes: []byte("{}")}},
	})
	require.NoError(t, err)

	_, err = s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1", Flags: SkipClaim,
		OutboxFailures: []Failure{{MessageId: "O1", Reason: FailureReason{Kind: KindTransientTransport, Message: "boom"}}},
	})
	require.NoError(t, err)

	var outboxCount, deadCount int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox WHERE message_id = 'O1'").Scan(&outboxCount))
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox_dead_letter WHERE message_id = 'O1'").Scan(&deadCount))
	require.Equal(t, 0, outboxCount)
	require.Equal(t, 1, deadCount)
}

func TestPerspectiveCheckpointAdvancesOnlyForward(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1", Flags: SkipClaim,
		PerspectiveCompletions: []PerspectiveReport{{StreamId: "S1", PerspectiveName: "P1", LastEventId: "E5", LastSequenceNumber: 5, Status: PerspectiveUpToDate}},
	})
	require.NoError(t, err)

	_, err = s.ProcessWorkBatch(ctx, Request{
		InstanceId: "I1", Flags: SkipClaim,
		PerspectiveCompletions: []PerspectiveReport{{StreamId: "S1", PerspectiveName: "P1", LastEventId: "E3", LastSequenceNumber: 3, Status: PerspectiveUpToDate}},
	})
	require.NoError(t, err)

	var seq int64
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT last_sequence_number FROM perspective_checkpoints WHERE stream_id='S1' AND perspective_name='P1'").Scan(&seq))
	require.Equal(t, int64(5), seq, "checkpoint must not move backward")
}

func TestBackoffScheduleDelayGrowsExponentially(t *testing.T) {
	b := BackoffSchedule{BaseMs: 500, Factor: 2, JitterPct: 0}
	require.Equal(t, 500*time.Millisecond, b.Delay(0))
	require.Equal(t, 1000*time.Millisecond, b.Delay(1))
	require.Equal(t, 2000*time.Millisecond, b.Delay(2))
}

func TestBackoffScheduleRespectsMaxDelay(t *testing.T) {
	b := BackoffSchedule{BaseMs: 500, Factor: 2, JitterPct: 0, MaxDelaySec: 1}
	require.Equal(t, time.Second, b.Delay(10))
}
