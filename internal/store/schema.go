// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tomtom215/workcoordinator/internal/logging"
)

// schemaStatements is executed one statement at a time on open: DuckDB's
// Go driver does not support multi-statement Exec calls.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS outbox (
		message_id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		causation_id TEXT,
		message_type TEXT NOT NULL,
		stream_id TEXT NOT NULL,
		partition_number INTEGER NOT NULL,
		sequence_order BIGINT NOT NULL,
		topic TEXT NOT NULL,
		payload_bytes BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'stored',
		instance_id TEXT,
		lease_expiry TIMESTAMPTZ,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_claim ON outbox(partition_number, sequence_order) WHERE status = 'stored'`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_lease ON outbox(lease_expiry)`,

	`CREATE TABLE IF NOT EXISTS outbox_dead_letter (
		message_id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		causation_id TEXT,
		message_type TEXT NOT NULL,
		stream_id TEXT NOT NULL,
		partition_number INTEGER NOT NULL,
		sequence_order BIGINT NOT NULL,
		topic TEXT NOT NULL,
		payload_bytes BLOB NOT NULL,
		retry_count INTEGER NOT NULL,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		dead_lettered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS inbox (
		message_id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		causation_id TEXT,
		message_type TEXT NOT NULL,
		stream_id TEXT NOT NULL,
		partition_number INTEGER NOT NULL,
		sequence_order BIGINT NOT NULL,
		source_topic TEXT NOT NULL,
		payload_bytes BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'received',
		instance_id TEXT,
		lease_expiry TIMESTAMPTZ,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		received_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inbox_claim ON inbox(partition_number, sequence_order) WHERE status = 'received'`,
	`CREATE INDEX IF NOT EXISTS idx_inbox_lease ON inbox(lease_expiry)`,

	`CREATE TABLE IF NOT EXISTS inbox_dead_letter (
		message_id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		causation_id TEXT,
		message_type TEXT NOT NULL,
		stream_id TEXT NOT NULL,
		partition_number INTEGER NOT NULL,
		sequence_order BIGINT NOT NULL,
		source_topic TEXT NOT NULL,
		payload_bytes BLOB NOT NULL,
		retry_count INTEGER NOT NULL,
		last_error TEXT,
		received_at TIMESTAMPTZ NOT NULL,
		dead_lettered_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS event_store (
		event_id TEXT PRIMARY KEY,
		stream_id TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		version BIGINT NOT NULL,
		global_sequence BIGINT NOT NULL,
		payload_bytes BLOB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(stream_id, version)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_store_stream_version ON event_store(stream_id, version)`,

	`CREATE TABLE IF NOT EXISTS receptor_processing (
		event_id TEXT NOT NULL,
		receptor_name TEXT NOT NULL,
		status TEXT NOT NULL,
		last_error TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (event_id, receptor_name)
	)`,

	`CREATE TABLE IF NOT EXISTS perspective_checkpoints (
		stream_id TEXT NOT NULL,
		perspective_name TEXT NOT NULL,
		last_event_id TEXT NOT NULL,
		last_sequence_number BIGINT NOT NULL,
		status TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (stream_id, perspective_name)
	)`,

	`CREATE SEQUENCE IF NOT EXISTS global_sequence_seq START 1`,
}

// migrate applies the schema, one statement per call as DuckDB requires.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: schema migration: %w", err)
		}
	}
	// Force a checkpoint so a crash right after table creation can't leave
	// an un-replayable WAL entry behind (mirrors the DuckDB TIMESTAMPTZ
	// DEFAULT CURRENT_TIMESTAMP WAL-replay caveat).
	if _, err := db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("store: checkpoint after schema migration failed")
	}
	return nil
}
