// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package store implements the transactional outbox/inbox/event-store
// engine: a single atomic ProcessWorkBatch operation backed by DuckDB.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/workcoordinator/internal/config"
	"github.com/tomtom215/workcoordinator/internal/envelope"
	"github.com/tomtom215/workcoordinator/internal/metrics"
)

// Tuning holds the Store-wide defaults applied when a Request leaves a
// tuning field at its zero value.
type Tuning struct {
	PartitionCount           int
	MaxPartitionsPerInstance int
	LeaseSeconds             int
	StaleThresholdSeconds    int
	MaxClaimBatch            int
	MaxRetries               int
	EventSuffix              string
	DeadLetterPolicy         config.DeadLetterPolicy
	Backoff                  BackoffSchedule
}

// TuningFromConfig derives Store tuning from the top-level config.
func TuningFromConfig(c *config.StoreConfig) Tuning {
	return Tuning{
		PartitionCount:           c.PartitionCount,
		MaxPartitionsPerInstance: c.MaxPartitionsPerInstance,
		LeaseSeconds:             c.LeaseSeconds,
		StaleThresholdSeconds:    c.StaleThresholdSeconds,
		MaxClaimBatch:            c.MaxClaimBatch,
		MaxRetries:               c.MaxRetries,
		EventSuffix:              c.EventSuffix,
		DeadLetterPolicy:         c.DeadLetterPolicy,
		Backoff: BackoffSchedule{
			BaseMs:      c.BackoffBaseMs,
			Factor:      c.BackoffFactor,
			JitterPct:   c.BackoffJitterPct,
			MaxDelaySec: c.BackoffMaxDelaySec,
		},
	}
}

// Store hosts the durable outbox/inbox/event-store/receptor/checkpoint
// tables and exposes the single atomic ProcessWorkBatch operation.
//
// DuckDB serializes writers at the connection level and has no
// FOR UPDATE SKIP LOCKED; batchMu provides the non-blocking-across-disjoint-
// claims guarantee the spec calls for by making each ProcessWorkBatch call
// a short, fully-serialized transaction instead (see DESIGN.md,
// "`internal/store` (C1 Store)").
type Store struct {
	db     *sql.DB
	tuning Tuning
	sink   metrics.Sink
	batchMu sync.Mutex

	globalSeq int64
	seqMu     sync.Mutex
}

// Open creates (or attaches to) the DuckDB file at path, migrates the
// schema, and returns a ready Store. An empty path opens an in-memory
// database, used by tests.
func Open(ctx context.Context, path string, tuning Tuning, sink metrics.Sink) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open duckdb: %w", err)
	}
	// DuckDB's single-process writer model means a larger pool just adds
	// contention; a dedicated single connection matches the batchMu
	// serialization already imposed on ProcessWorkBatch.
	db.SetMaxOpenConns(1)

	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, tuning: tuning, sink: sink}
	if err := s.loadGlobalSequence(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadGlobalSequence(ctx context.Context) error {
	var max int64
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(global_sequence), 0) FROM event_store")
	if err := row.Scan(&max); err != nil {
		return fmt.Errorf("store: load global sequence: %w", err)
	}
	s.globalSeq = max
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (t Tuning) resolve(r *Request) Tuning {
	out := t
	if r.PartitionCount > 0 {
		out.PartitionCount = r.PartitionCount
	}
	if r.MaxPartitionsPerInstance > 0 {
		out.MaxPartitionsPerInstance = r.MaxPartitionsPerInstance
	}
	if r.LeaseSeconds > 0 {
		out.LeaseSeconds = r.LeaseSeconds
	}
	if r.StaleThresholdSeconds > 0 {
		out.StaleThresholdSeconds = r.StaleThresholdSeconds
	}
	if r.MaxClaimBatch > 0 {
		out.MaxClaimBatch = r.MaxClaimBatch
	}
	return out
}

func validate(r *Request, t Tuning) error {
	if r.InstanceId == "" {
		return &ValidationError{Field: "instance_id", Message: "required"}
	}
	if t.PartitionCount <= 0 {
		return &ValidationError{Field: "partition_count", Message: "must be > 0"}
	}
	if t.MaxPartitionsPerInstance < 1 {
		return &ValidationError{Field: "max_partitions_per_instance", Message: "must be >= 1"}
	}
	if t.LeaseSeconds <= 0 {
		return &ValidationError{Field: "lease_seconds", Message: "must be > 0"}
	}
	for _, m := range r.NewOutboxMessages {
		if m.StreamId == "" {
			return &ValidationError{Field: "stream_id", Message: "required on outbox message " + m.MessageId}
		}
	}
	for _, m := range r.NewInboxMessages {
		if m.StreamId == "" {
			return &ValidationError{Field: "stream_id", Message: "required on inbox message " + m.MessageId}
		}
	}
	return nil
}

// ProcessWorkBatch runs the 13-step batch transaction described by the
// governing spec: completions/failures first, then new-row inserts
// (with event-store append for events), upserts, lease renewal,
// partition assignment, and finally claim.
func (s *Store) ProcessWorkBatch(ctx context.Context, req Request) (resp Response, err error) {
	t := s.tuning.resolve(&req)
	if err := validate(&req, t); err != nil {
		return Response{}, err
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		s.sink.ObserveStoreBatch(time.Since(start), outcome)
	}()

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		outcome = "begin_error"
		return Response{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	if err = s.deleteOutboxCompletions(ctx, tx, req.OutboxCompletions); err != nil {
		outcome = "error"
		return Response{}, err
	}
	deadOutbox, err := s.failRows(ctx, tx, "outbox", req.OutboxFailures, t, now)
	if err != nil {
		outcome = "error"
		return Response{}, err
	}

	insertedInbox, err := s.insertNewInbox(ctx, tx, req.NewInboxMessages, t.PartitionCount)
	if err != nil {
		outcome = "error"
		return Response{}, err
	}

	if err = s.deleteRows(ctx, tx, "inbox", req.InboxCompletions); err != nil {
		outcome = "error"
		return Response{}, err
	}
	deadInbox, err := s.failRows(ctx, tx, "inbox", req.InboxFailures, t, now)
	if err != nil {
		outcome = "error"
		return Response{}, err
	}

	insertedOutbox, err := s.insertNewOutbox(ctx, tx, req.NewOutboxMessages, t)
	if err != nil {
		outcome = "error"
		return Response{}, err
	}

	if err = s.insertEventStoreRows(ctx, tx, req.NewOutboxMessages, insertedOutbox, t); err != nil {
		outcome = "concurrency_error"
		return Response{}, err
	}

	if err = s.upsertReceptorReports(ctx, tx, req.ReceptorCompletions, req.ReceptorFailures); err != nil {
		outcome = "error"
		return Response{}, err
	}
	if err = s.upsertPerspectiveReports(ctx, tx, req.PerspectiveCompletions, req.PerspectiveFailures); err != nil {
		outcome = "error"
		return Response{}, err
	}

	if err = s.renewLeases(ctx, tx, "outbox", req.RenewOutboxLeaseIds, req.InstanceId, t.LeaseSeconds, now); err != nil {
		outcome = "error"
		return Response{}, err
	}
	if err = s.renewLeases(ctx, tx, "inbox", req.RenewInboxLeaseIds, req.InstanceId, t.LeaseSeconds, now); err != nil {
		outcome = "error"
		return Response{}, err
	}

	var assigned []int
	if req.Flags&SkipClaim == 0 {
		assigned, err = s.assignPartitions(ctx, tx, req.InstanceId, t, now)
		if err != nil {
			outcome = "error"
			return Response{}, err
		}
		resp.ClaimedOutboxMessages, err = s.claimOutbox(ctx, tx, req.InstanceId, assigned, t, now)
		if err != nil {
			outcome = "error"
			return Response{}, err
		}
		resp.ClaimedInboxMessages, err = s.claimInbox(ctx, tx, req.InstanceId, assigned, t, now)
		if err != nil {
			outcome = "error"
			return Response{}, err
		}
	}
	resp.AssignedPartitions = assigned

	if err = tx.Commit(); err != nil {
		outcome = "commit_error"
		return Response{}, fmt.Errorf("store: commit: %w", err)
	}

	s.sink.IncStoreClaimed("outbox", len(resp.ClaimedOutboxMessages))
	s.sink.IncStoreClaimed("inbox", len(resp.ClaimedInboxMessages))
	s.sink.IncStoreDeadLettered("outbox", deadOutbox)
	s.sink.IncStoreDeadLettered("inbox", deadInbox)
	_ = insertedInbox
	return resp, nil
}

// deleteOutboxCompletions performs step 1: delete outbox rows for
// completed messages.
func (s *Store) deleteOutboxCompletions(ctx context.Context, tx *sql.Tx, completions []OutboxCompletion) error {
	return s.deleteRows(ctx, tx, "outbox", completions)
}

func (s *Store) deleteRows(ctx context.Context, tx *sql.Tx, table string, completions []OutboxCompletion) error {
	if len(completions) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE message_id = ?", table))
	if err != nil {
		return fmt.Errorf("store: prepare delete %s: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()
	for _, c := range completions {
		if _, err := stmt.ExecContext(ctx, c.MessageId); err != nil {
			return fmt.Errorf("store: delete %s row %s: %w", table, c.MessageId, err)
		}
	}
	return nil
}

// failRows performs steps 2/5: increment retry count, record the error,
// and either schedule a backoff-gated retry (row reverts to its pending
// status with LeaseExpiry pushed out by BackoffSchedule.Delay, so the
// claim query's (lease_expiry IS NULL OR lease_expiry < now) filter
// withholds it until the delay elapses) or, once the retry budget is
// exhausted or the failure is permanent, mark it Failed and dead-letter
// it. Returns the count of rows newly dead-lettered.
func (s *Store) failRows(ctx context.Context, tx *sql.Tx, table string, failures []Failure, t Tuning, now time.Time) (int, error) {
	if len(failures) == 0 {
		return 0, nil
	}
	pendingStatus := "stored"
	if table == "inbox" {
		pendingStatus = "received"
	}

	markFailed, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`UPDATE %s SET retry_count = retry_count + 1, last_error = ?, status = 'failed', instance_id = NULL, lease_expiry = NULL
		 WHERE message_id = ?`, table))
	if err != nil {
		return 0, fmt.Errorf("store: prepare fail %s: %w", table, err)
	}
	defer func() { _ = markFailed.Close() }()

	scheduleRetry, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`UPDATE %s SET retry_count = retry_count + 1, last_error = ?, status = ?, instance_id = NULL, lease_expiry = ?
		 WHERE message_id = ?`, table))
	if err != nil {
		return 0, fmt.Errorf("store: prepare retry %s: %w", table, err)
	}
	defer func() { _ = scheduleRetry.Close() }()

	dead := 0
	for _, f := range failures {
		retryCount, err := s.currentRetryCount(ctx, tx, table, f.MessageId)
		if err != nil {
			return dead, err
		}
		exhausted := retryCount+1 >= t.MaxRetries

		if exhausted || f.Reason.Permanent {
			if _, err := markFailed.ExecContext(ctx, f.Reason.Error(), f.MessageId); err != nil {
				return dead, fmt.Errorf("store: fail %s row %s: %w", table, f.MessageId, err)
			}
			if err := s.deadLetter(ctx, tx, table, f.MessageId, t); err != nil {
				return dead, err
			}
			dead++
			continue
		}

		retryAt := now.Add(t.Backoff.Delay(retryCount))
		if _, err := scheduleRetry.ExecContext(ctx, f.Reason.Error(), pendingStatus, retryAt, f.MessageId); err != nil {
			return dead, fmt.Errorf("store: schedule retry for %s row %s: %w", table, f.MessageId, err)
		}
	}
	return dead, nil
}

// currentRetryCount reads a row's retry_count before this failure is
// applied. A missing row (already completed or dead-lettered by a
// concurrent batch) reports 0 rather than erroring, since the
// subsequent UPDATE ... WHERE message_id = ? is then simply a no-op.
func (s *Store) currentRetryCount(ctx context.Context, tx *sql.Tx, table, messageId string) (int, error) {
	var retryCount int
	row := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT retry_count FROM %s WHERE message_id = ?", table), messageId)
	if err := row.Scan(&retryCount); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("store: read retry_count for %s: %w", messageId, err)
	}
	return retryCount, nil
}

// deadLetter applies the configured DeadLetterPolicy to a row that has
// exhausted its retry budget: either leave it in place with Status=Failed
// (already set by failRows; MarkTerminal is a no-op here beyond that) or
// move it to the dedicated dead-letter table.
func (s *Store) deadLetter(ctx context.Context, tx *sql.Tx, table, messageId string, t Tuning) error {
	if t.DeadLetterPolicy != config.DeadLetterMoveTable {
		return nil
	}
	switch table {
	case "outbox":
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox_dead_letter
			SELECT message_id, correlation_id, causation_id, message_type, stream_id,
			       partition_number, sequence_order, topic, payload_bytes, retry_count,
			       last_error, created_at, CURRENT_TIMESTAMP
			FROM outbox WHERE message_id = ?
			ON CONFLICT (message_id) DO NOTHING`, messageId)
		if err != nil {
			return fmt.Errorf("store: move outbox to dead letter: %w", err)
		}
	case "inbox":
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inbox_dead_letter
			SELECT message_id, correlation_id, causation_id, message_type, stream_id,
			       partition_number, sequence_order, source_topic, payload_bytes, retry_count,
			       last_error, received_at, CURRENT_TIMESTAMP
			FROM inbox WHERE message_id = ?
			ON CONFLICT (message_id) DO NOTHING`, messageId)
		if err != nil {
			return fmt.Errorf("store: move inbox to dead letter: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE message_id = ?", table), messageId); err != nil {
		return fmt.Errorf("store: delete %s row after dead letter move: %w", table, err)
	}
	return nil
}

// insertNewInbox performs step 3: insert inbox rows, deduplicating by
// MessageId (ON CONFLICT DO NOTHING). Returns the set of MessageIds that
// were actually inserted (i.e. were not duplicates).
func (s *Store) insertNewInbox(ctx context.Context, tx *sql.Tx, msgs []NewInboxMessage, partitionCount int) (map[string]bool, error) {
	inserted := make(map[string]bool, len(msgs))
	if len(msgs) == 0 {
		return inserted, nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO inbox (message_id, correlation_id, causation_id, message_type, stream_id,
		                    partition_number, sequence_order, source_topic, payload_bytes, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'received')
		ON CONFLICT (message_id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("store: prepare insert inbox: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range msgs {
		seq, err := s.nextStreamSequence(ctx, tx, "inbox", m.StreamId)
		if err != nil {
			return nil, err
		}
		partition := envelope.PartitionFor(m.StreamId, partitionCount)
		res, err := stmt.ExecContext(ctx, m.MessageId, m.CorrelationId, nullIfEmpty(m.CausationId), m.MessageType,
			m.StreamId, partition, seq, m.SourceTopic, m.PayloadBytes)
		if err != nil {
			return nil, fmt.Errorf("store: insert inbox row %s: %w", m.MessageId, err)
		}
		n, _ := res.RowsAffected()
		inserted[m.MessageId] = n > 0
	}
	return inserted, nil
}

// insertNewOutbox performs step 6: insert outbox rows with derived
// PartitionNumber and per-stream SequenceOrder.
func (s *Store) insertNewOutbox(ctx context.Context, tx *sql.Tx, msgs []NewOutboxMessage, t Tuning) (map[string]bool, error) {
	inserted := make(map[string]bool, len(msgs))
	if len(msgs) == 0 {
		return inserted, nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outbox (message_id, correlation_id, causation_id, message_type, stream_id,
		                     partition_number, sequence_order, topic, payload_bytes, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'stored')
		ON CONFLICT (message_id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("store: prepare insert outbox: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range msgs {
		seq, err := s.nextStreamSequence(ctx, tx, "outbox", m.StreamId)
		if err != nil {
			return nil, err
		}
		partition := envelope.PartitionFor(m.StreamId, t.PartitionCount)
		res, err := stmt.ExecContext(ctx, m.MessageId, m.CorrelationId, nullIfEmpty(m.CausationId), m.MessageType,
			m.StreamId, partition, seq, m.Topic, m.PayloadBytes)
		if err != nil {
			return nil, fmt.Errorf("store: insert outbox row %s: %w", m.MessageId, err)
		}
		n, _ := res.RowsAffected()
		inserted[m.MessageId] = n > 0
	}
	return inserted, nil
}

// nextStreamSequence returns a strictly increasing per-stream sequence
// number derived from the global monotonic counter: simpler than a
// per-stream counter table and still satisfies the spec's minimum
// requirement (strictly increasing per StreamId), since the global
// counter is strictly increasing for every insert regardless of stream.
func (s *Store) nextStreamSequence(ctx context.Context, tx *sql.Tx, table, streamId string) (int64, error) {
	row := tx.QueryRowContext(ctx, "SELECT nextval('global_sequence_seq')")
	var seq int64
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("store: next sequence for %s/%s: %w", table, streamId, err)
	}
	return seq, nil
}

// insertEventStoreRows performs step 7: append an event_store row for
// every newly-inserted outbox message that qualifies as an event.
// Version is max(version where stream_id=...) + 1; a duplicate
// (stream_id, version) fails the whole transaction as ConcurrencyError.
func (s *Store) insertEventStoreRows(ctx context.Context, tx *sql.Tx, msgs []NewOutboxMessage, inserted map[string]bool, t Tuning) error {
	for _, m := range msgs {
		if !inserted[m.MessageId] {
			continue
		}
		if !envelope.IsEvent(m.IsEvent, m.MessageType, t.EventSuffix) {
			continue
		}
		var version int64
		row := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) + 1 FROM event_store WHERE stream_id = ?", m.StreamId)
		if err := row.Scan(&version); err != nil {
			return fmt.Errorf("store: compute event version for stream %s: %w", m.StreamId, err)
		}

		s.seqMu.Lock()
		s.globalSeq++
		globalSeq := s.globalSeq
		s.seqMu.Unlock()

		aggregateType := envelope.AggregateType(m.MessageType, t.EventSuffix)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO event_store (event_id, stream_id, aggregate_type, version, global_sequence, payload_bytes)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.MessageId, m.StreamId, aggregateType, version, globalSeq, m.PayloadBytes)
		if err != nil {
			return &ConcurrencyError{StreamId: m.StreamId, Version: version}
		}
	}
	return nil
}

func (s *Store) upsertReceptorReports(ctx context.Context, tx *sql.Tx, completions, failures []ReceptorReport) error {
	all := make([]ReceptorReport, 0, len(completions)+len(failures))
	all = append(all, completions...)
	all = append(all, failures...)
	if len(all) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO receptor_processing (event_id, receptor_name, status, last_error, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (event_id, receptor_name) DO UPDATE SET
			status = EXCLUDED.status, last_error = EXCLUDED.last_error, updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("store: prepare upsert receptor_processing: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, r := range all {
		if _, err := stmt.ExecContext(ctx, r.EventId, r.ReceptorName, string(r.Status), nullIfEmpty(r.LastError)); err != nil {
			return fmt.Errorf("store: upsert receptor_processing (%s,%s): %w", r.EventId, r.ReceptorName, err)
		}
	}
	return nil
}

// upsertPerspectiveReports performs step 9: advance a checkpoint only if
// the new LastSequenceNumber is >= the existing one (invariant #5).
func (s *Store) upsertPerspectiveReports(ctx context.Context, tx *sql.Tx, completions, failures []PerspectiveReport) error {
	all := make([]PerspectiveReport, 0, len(completions)+len(failures))
	all = append(all, completions...)
	all = append(all, failures...)
	if len(all) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO perspective_checkpoints (stream_id, perspective_name, last_event_id, last_sequence_number, status, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (stream_id, perspective_name) DO UPDATE SET
			last_event_id = CASE WHEN EXCLUDED.last_sequence_number >= perspective_checkpoints.last_sequence_number
			                      THEN EXCLUDED.last_event_id ELSE perspective_checkpoints.last_event_id END,
			last_sequence_number = CASE WHEN EXCLUDED.last_sequence_number >= perspective_checkpoints.last_sequence_number
			                             THEN EXCLUDED.last_sequence_number ELSE perspective_checkpoints.last_sequence_number END,
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("store: prepare upsert perspective_checkpoints: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	for _, p := range all {
		if _, err := stmt.ExecContext(ctx, p.StreamId, p.PerspectiveName, p.LastEventId, p.LastSequenceNumber, string(p.Status)); err != nil {
			return fmt.Errorf("store: upsert perspective_checkpoints (%s,%s): %w", p.StreamId, p.PerspectiveName, err)
		}
	}
	return nil
}

// renewLeases performs step 10: extend LeaseExpiry only for rows still
// owned by instanceId.
func (s *Store) renewLeases(ctx context.Context, tx *sql.Tx, table string, ids []string, instanceId string, leaseSeconds int, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	newExpiry := now.Add(time.Duration(leaseSeconds) * time.Second)
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"UPDATE %s SET lease_expiry = ? WHERE message_id = ? AND instance_id = ?", table))
	if err != nil {
		return fmt.Errorf("store: prepare renew %s lease: %w", table, err)
	}
	defer func() { _ = stmt.Close() }()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, newExpiry, id, instanceId); err != nil {
			return fmt.Errorf("store: renew %s lease for %s: %w", table, id, err)
		}
	}
	return nil
}

// assignPartitions performs step 11: assign up to
// min(maxPartitionsPerInstance, available) idle or stale partitions to
// instanceId across both outbox and inbox: partitions holding claimable
// work first (ascending), then idle partitions lowest-first.
func (s *Store) assignPartitions(ctx context.Context, tx *sql.Tx, instanceId string, t Tuning, now time.Time) ([]int, error) {
	owned := map[int]bool{}
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT partition_number FROM (
			SELECT partition_number FROM outbox WHERE instance_id = ? AND lease_expiry > ?
			UNION
			SELECT partition_number FROM inbox WHERE instance_id = ? AND lease_expiry > ?
		)`, instanceId, now, instanceId, now)
	if err != nil {
		return nil, fmt.Errorf("store: query owned partitions: %w", err)
	}
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("store: scan owned partition: %w", err)
		}
		owned[p] = true
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	need := t.MaxPartitionsPerInstance - len(owned)
	if need <= 0 {
		return sortedKeys(owned), nil
	}

	// A partition is assignable if no other live instance holds a
	// non-expired lease in it. Find partitions currently held by a live
	// (non-stale) instance, then assign lowest-numbered partitions not
	// in that set, up to `need`.
	liveHeld := map[int]bool{}
	heldRows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT partition_number FROM (
			SELECT partition_number FROM outbox WHERE instance_id IS NOT NULL AND instance_id != ? AND lease_expiry > ?
			UNION
			SELECT partition_number FROM inbox WHERE instance_id IS NOT NULL AND instance_id != ? AND lease_expiry > ?
		)`, instanceId, now, instanceId, now)
	if err != nil {
		return nil, fmt.Errorf("store: query live-held partitions: %w", err)
	}
	for heldRows.Next() {
		var p int
		if err := heldRows.Scan(&p); err != nil {
			_ = heldRows.Close()
			return nil, fmt.Errorf("store: scan live-held partition: %w", err)
		}
		liveHeld[p] = true
	}
	if err := heldRows.Err(); err != nil {
		_ = heldRows.Close()
		return nil, err
	}
	_ = heldRows.Close()

	// Prefer partitions that actually hold claimable work over blindly
	// sweeping partition numbers from zero: with a large PartitionCount
	// relative to MaxPartitionsPerInstance, almost every low-numbered
	// partition is empty, so a lowest-number-first sweep would rarely
	// land on a partition any stream actually hashed into.
	pendingRows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT partition_number FROM (
			SELECT partition_number FROM outbox WHERE status = 'stored' OR (status = 'claimed' AND (lease_expiry IS NULL OR lease_expiry < ?))
			UNION
			SELECT partition_number FROM inbox WHERE status = 'received' OR (status = 'claimed' AND (lease_expiry IS NULL OR lease_expiry < ?))
		)
		ORDER BY partition_number ASC`, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: query pending partitions: %w", err)
	}
	var pending []int
	for pendingRows.Next() {
		var p int
		if err := pendingRows.Scan(&p); err != nil {
			_ = pendingRows.Close()
			return nil, fmt.Errorf("store: scan pending partition: %w", err)
		}
		pending = append(pending, p)
	}
	if err := pendingRows.Err(); err != nil {
		_ = pendingRows.Close()
		return nil, err
	}
	_ = pendingRows.Close()

	for _, p := range pending {
		if need <= 0 {
			break
		}
		if owned[p] || liveHeld[p] {
			continue
		}
		owned[p] = true
		need--
	}

	// Any remaining quota is filled with idle partitions lowest-numbered
	// first, so a newly started instance still reserves spare capacity
	// ahead of work arriving, exactly as spec.md's deterministic
	// lowest-partition-first fallback describes.
	for p := 0; p < t.PartitionCount && need > 0; p++ {
		if owned[p] || liveHeld[p] {
			continue
		}
		owned[p] = true
		need--
	}
	return sortedKeys(owned), nil
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// claimOutbox performs the outbox half of step 12: claim stored rows in
// assigned partitions, ordered by sequence, limited to maxClaimBatch.
func (s *Store) claimOutbox(ctx context.Context, tx *sql.Tx, instanceId string, partitions []int, t Tuning, now time.Time) ([]OutboxRow, error) {
	if len(partitions) == 0 {
		return nil, nil
	}
	ids, err := s.selectClaimable(ctx, tx, "outbox", partitions, t.MaxClaimBatch, now)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	newExpiry := now.Add(time.Duration(t.LeaseSeconds) * time.Second)
	claimed := make([]OutboxRow, 0, len(ids))
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE outbox SET instance_id = ?, lease_expiry = ?, status = 'claimed' WHERE message_id = ?`,
			instanceId, newExpiry, id); err != nil {
			return nil, fmt.Errorf("store: claim outbox row %s: %w", id, err)
		}
		row, err := s.readOutboxRow(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, row)
	}
	return claimed, nil
}

func (s *Store) claimInbox(ctx context.Context, tx *sql.Tx, instanceId string, partitions []int, t Tuning, now time.Time) ([]InboxRow, error) {
	if len(partitions) == 0 {
		return nil, nil
	}
	ids, err := s.selectClaimable(ctx, tx, "inbox", partitions, t.MaxClaimBatch, now)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	newExpiry := now.Add(time.Duration(t.LeaseSeconds) * time.Second)
	claimed := make([]InboxRow, 0, len(ids))
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE inbox SET instance_id = ?, lease_expiry = ?, status = 'claimed' WHERE message_id = ?`,
			instanceId, newExpiry, id); err != nil {
			return nil, fmt.Errorf("store: claim inbox row %s: %w", id, err)
		}
		row, err := s.readInboxRow(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, row)
	}
	return claimed, nil
}

func (s *Store) selectClaimable(ctx context.Context, tx *sql.Tx, table string, partitions []int, limit int, now time.Time) ([]string, error) {
	placeholders := make([]any, 0, len(partitions)+2)
	inClause := ""
	for i, p := range partitions {
		if i > 0 {
			inClause += ","
		}
		inClause += "?"
		placeholders = append(placeholders, p)
	}
	var statusCol string
	switch table {
	case "outbox":
		statusCol = "stored"
	case "inbox":
		statusCol = "received"
	}
	// A row is claimable in two cases: it is still in its freshly-inserted
	// or freshly-retry-scheduled pending status ('stored'/'received'), or
	// it was claimed by an instance whose lease has since lapsed (crash
	// recovery). Either way the gate is the same: LeaseExpiry must be
	// unset or in the past, which also doubles as the backoff gate a
	// retry-scheduled row carries in LeaseExpiry.
	query := fmt.Sprintf(`
		SELECT message_id FROM %s
		WHERE partition_number IN (%s)
		  AND (status = '%s' OR status = 'claimed')
		  AND (lease_expiry IS NULL OR lease_expiry < ?)
		ORDER BY sequence_order ASC
		LIMIT ?`, table, inClause, statusCol)
	placeholders = append(placeholders, now, limit)

	rows, err := tx.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, fmt.Errorf("store: select claimable %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan claimable %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) readOutboxRow(ctx context.Context, tx *sql.Tx, messageId string) (OutboxRow, error) {
	var r OutboxRow
	var causationId, instanceId, lastError sql.NullString
	var leaseExpiry sql.NullTime
	row := tx.QueryRowContext(ctx, `
		SELECT message_id, correlation_id, causation_id, message_type, stream_id, partition_number,
		       sequence_order, topic, payload_bytes, status, instance_id, lease_expiry, retry_count, last_error, created_at
		FROM outbox WHERE message_id = ?`, messageId)
	var status string
	if err := row.Scan(&r.MessageId, &r.CorrelationId, &causationId, &r.MessageType, &r.StreamId, &r.PartitionNumber,
		&r.SequenceOrder, &r.Topic, &r.PayloadBytes, &status, &instanceId, &leaseExpiry, &r.RetryCount, &lastError, &r.CreatedAt); err != nil {
		return r, fmt.Errorf("store: read outbox row %s: %w", messageId, err)
	}
	r.Status = RowStatus(status)
	r.CausationId = causationId.String
	r.InstanceId = instanceId.String
	r.LastError = lastError.String
	if leaseExpiry.Valid {
		r.LeaseExpiry = leaseExpiry.Time
	}
	return r, nil
}

func (s *Store) readInboxRow(ctx context.Context, tx *sql.Tx, messageId string) (InboxRow, error) {
	var r InboxRow
	var causationId, instanceId, lastError sql.NullString
	var leaseExpiry sql.NullTime
	row := tx.QueryRowContext(ctx, `
		SELECT message_id, correlation_id, causation_id, message_type, stream_id, partition_number,
		       sequence_order, source_topic, payload_bytes, status, instance_id, lease_expiry, retry_count, last_error, received_at
		FROM inbox WHERE message_id = ?`, messageId)
	var status string
	if err := row.Scan(&r.MessageId, &r.CorrelationId, &causationId, &r.MessageType, &r.StreamId, &r.PartitionNumber,
		&r.SequenceOrder, &r.SourceTopic, &r.PayloadBytes, &status, &instanceId, &leaseExpiry, &r.RetryCount, &lastError, &r.ReceivedAt); err != nil {
		return r, fmt.Errorf("store: read inbox row %s: %w", messageId, err)
	}
	r.Status = RowStatus(status)
	r.CausationId = causationId.String
	r.InstanceId = instanceId.String
	r.LastError = lastError.String
	if leaseExpiry.Valid {
		r.LeaseExpiry = leaseExpiry.Time
	}
	return r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
