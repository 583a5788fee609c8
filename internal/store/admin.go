// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeadLetterRow is a row moved to outbox_dead_letter or inbox_dead_letter
// by deadLetter once its retry budget is exhausted under
// config.DeadLetterMoveTable.
type DeadLetterRow struct {
	MessageId      string
	CorrelationId  string
	CausationId    string
	MessageType    string
	StreamId       string
	Topic          string
	PayloadBytes   []byte
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	DeadLetteredAt time.Time
}

// CheckpointRow is one perspective_checkpoints row: the read side's view
// of how far a (stream, perspective) pair has been projected.
type CheckpointRow struct {
	StreamId           string
	PerspectiveName    string
	LastEventId        string
	LastSequenceNumber int64
	Status             PerspectiveStatus
	UpdatedAt          time.Time
}

// ListDeadLetterOutbox returns dead-lettered outbox messages, most
// recently dead-lettered first, for operator inspection. This spans
// both config.DeadLetterPolicy values: rows moved to outbox_dead_letter
// under DeadLetterMoveTable, and rows left in place with Status=Failed
// under the default DeadLetterMarkTerminal, so operators see every
// dead-lettered message regardless of which policy is configured.
func (s *Store) ListDeadLetterOutbox(ctx context.Context, limit, offset int) ([]DeadLetterRow, error) {
	return s.listDeadLetter(ctx, "outbox_dead_letter", "outbox", "topic", "created_at", limit, offset)
}

// ListDeadLetterInbox is ListDeadLetterOutbox for the inbox side.
func (s *Store) ListDeadLetterInbox(ctx context.Context, limit, offset int) ([]DeadLetterRow, error) {
	return s.listDeadLetter(ctx, "inbox_dead_letter", "inbox", "source_topic", "received_at", limit, offset)
}

func (s *Store) listDeadLetter(ctx context.Context, deadTable, liveTable, topicColumn, timeColumn string, limit, offset int) ([]DeadLetterRow, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT message_id, correlation_id, causation_id, message_type, stream_id,
		       %[1]s, payload_bytes, retry_count, last_error, %[2]s, dead_lettered_at
		FROM %[3]s
		UNION ALL
		SELECT message_id, correlation_id, causation_id, message_type, stream_id,
		       %[1]s, payload_bytes, retry_count, last_error, %[2]s, CAST(NULL AS TIMESTAMPTZ)
		FROM %[4]s WHERE status = 'failed'
		ORDER BY COALESCE(dead_lettered_at, %[2]s) DESC
		LIMIT ? OFFSET ?`, topicColumn, timeColumn, deadTable, liveTable)

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", deadTable, err)
	}
	defer rows.Close()

	var out []DeadLetterRow
	for rows.Next() {
		var r DeadLetterRow
		var causationId, lastError sql.NullString
		var deadLetteredAt sql.NullTime
		if err := rows.Scan(&r.MessageId, &r.CorrelationId, &causationId, &r.MessageType, &r.StreamId,
			&r.Topic, &r.PayloadBytes, &r.RetryCount, &lastError, &r.CreatedAt, &deadLetteredAt); err != nil {
			return nil, fmt.Errorf("store: scan %s row: %w", deadTable, err)
		}
		r.CausationId = causationId.String
		r.LastError = lastError.String
		if deadLetteredAt.Valid {
			r.DeadLetteredAt = deadLetteredAt.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RetryDeadLetterOutbox reinstates a dead-lettered outbox message so the
// next claim picks it up again. It handles both dead-letter
// representations: a row in outbox_dead_letter (DeadLetterMoveTable) is
// moved back into outbox; a row still in outbox with Status=Failed
// (DeadLetterMarkTerminal, the default) has its status and retry_count
// reset in place. It is the operator-triggered counterpart to the
// automatic deadLetter move.
func (s *Store) RetryDeadLetterOutbox(ctx context.Context, messageId string) error {
	return s.retryDeadLetter(ctx, "outbox", messageId)
}

// RetryDeadLetterInbox is RetryDeadLetterOutbox for the inbox table.
func (s *Store) RetryDeadLetterInbox(ctx context.Context, messageId string) error {
	return s.retryDeadLetter(ctx, "inbox", messageId)
}

func (s *Store) retryDeadLetter(ctx context.Context, table, messageId string) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin retry dead letter tx: %w", err)
	}
	defer tx.Rollback()

	pendingStatus := "stored"
	if table == "inbox" {
		pendingStatus = "received"
	}

	var res sql.Result
	switch table {
	case "outbox":
		res, err = tx.ExecContext(ctx, `
			INSERT INTO outbox
			SELECT message_id, correlation_id, causation_id, message_type, stream_id,
			       partition_number, sequence_order, topic, payload_bytes, 'stored',
			       NULL, NULL, 0, NULL, created_at
			FROM outbox_dead_letter WHERE message_id = ?
			ON CONFLICT (message_id) DO NOTHING`, messageId)
	case "inbox":
		res, err = tx.ExecContext(ctx, `
			INSERT INTO inbox
			SELECT message_id, correlation_id, causation_id, message_type, stream_id,
			       partition_number, sequence_order, source_topic, payload_bytes, 'received',
			       NULL, NULL, 0, NULL, received_at
			FROM inbox_dead_letter WHERE message_id = ?
			ON CONFLICT (message_id) DO NOTHING`, messageId)
	default:
		return fmt.Errorf("store: retryDeadLetter: unknown table %q", table)
	}
	if err != nil {
		return fmt.Errorf("store: reinsert %s from dead letter: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s_dead_letter WHERE message_id = ?", table), messageId); err != nil {
			return fmt.Errorf("store: delete %s_dead_letter row after retry: %w", table, err)
		}
		return tx.Commit()
	}

	// No dead_letter-table row: fall back to the mark-terminal
	// representation, a row still in the live table with Status=Failed.
	res, err = tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET status = ?, retry_count = 0, last_error = NULL, instance_id = NULL, lease_expiry = NULL
		 WHERE message_id = ? AND status = 'failed'`, table), pendingStatus, messageId)
	if err != nil {
		return fmt.Errorf("store: reset failed %s row %s: %w", table, messageId, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: no dead-lettered %s row found for message %q", table, messageId)
	}
	return tx.Commit()
}

// ListCheckpoints returns perspective_checkpoints rows, optionally
// filtered to a single stream, for operator visibility into read-model
// lag. An empty streamId returns every stream's checkpoints.
func (s *Store) ListCheckpoints(ctx context.Context, streamId string) ([]CheckpointRow, error) {
	query := `SELECT stream_id, perspective_name, last_event_id, last_sequence_number, status, updated_at
		FROM perspective_checkpoints`
	args := []any{}
	if streamId != "" {
		query += ` WHERE stream_id = ?`
		args = append(args, streamId)
	}
	query += ` ORDER BY stream_id, perspective_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointRow
	for rows.Next() {
		var c CheckpointRow
		var status string
		if err := rows.Scan(&c.StreamId, &c.PerspectiveName, &c.LastEventId, &c.LastSequenceNumber, &status, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan checkpoint row: %w", err)
		}
		c.Status = PerspectiveStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ForceAdvanceCheckpoint lets an operator manually set a perspective's
// checkpoint, for recovering a read model stuck behind a poison event
// after the underlying bug has been fixed out of band.
func (s *Store) ForceAdvanceCheckpoint(ctx context.Context, streamId, perspectiveName, lastEventId string, lastSequenceNumber int64) error {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO perspective_checkpoints (stream_id, perspective_name, last_event_id, last_sequence_number, status, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (stream_id, perspective_name) DO UPDATE SET
			last_event_id = EXCLUDED.last_event_id,
			last_sequence_number = EXCLUDED.last_sequence_number,
			status = EXCLUDED.status,
			updated_at = CURRENT_TIMESTAMP`,
		streamId, perspectiveName, lastEventId, lastSequenceNumber, string(PerspectiveUpToDate))
	if err != nil {
		return fmt.Errorf("store: force advance checkpoint (%s,%s): %w", streamId, perspectiveName, err)
	}
	return nil
}
