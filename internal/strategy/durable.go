// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package strategy

import (
	"context"
	"fmt"

	"github.com/tomtom215/workcoordinator/internal/logging"
	"github.com/tomtom215/workcoordinator/internal/store"
	"github.com/tomtom215/workcoordinator/internal/wal"
)

// DurableCoordinator wraps a Coordinator with a BadgerDB write-ahead log:
// every store.Request is written to the WAL before ProcessWorkBatch is
// called and confirmed (freeing the WAL entry) only once the call
// succeeds. A crash between the WAL write and the DuckDB commit leaves
// the request recoverable from ReplayPending instead of silently lost
// from the in-memory buffer a bare Strategy variant would otherwise
// drop. With the package built without -tags wal, wal.Open returns the
// no-op WAL and this decorator becomes a pass-through.
type DurableCoordinator struct {
	inner Coordinator
	log   wal.WAL
}

// NewDurableCoordinator opens (or, without -tags wal, stubs) the WAL at
// path and wraps inner with it.
func NewDurableCoordinator(inner Coordinator, path string) (*DurableCoordinator, error) {
	cfg := wal.DefaultConfig()
	cfg.Enabled = true
	cfg.Path = path
	log, err := wal.Open(&cfg)
	if err != nil {
		return nil, fmt.Errorf("strategy: open durable buffer: %w", err)
	}
	return &DurableCoordinator{inner: inner, log: log}, nil
}

// ProcessWorkBatch implements Coordinator.
func (d *DurableCoordinator) ProcessWorkBatch(ctx context.Context, req store.Request) (store.Response, error) {
	entryId, err := d.log.Write(ctx, req)
	if err != nil {
		return store.Response{}, fmt.Errorf("strategy: durable buffer write: %w", err)
	}

	resp, err := d.inner.ProcessWorkBatch(ctx, req)
	if err != nil {
		return resp, err
	}

	if entryId != "" {
		if confirmErr := d.log.Confirm(ctx, entryId); confirmErr != nil {
			logging.Warn().Err(confirmErr).Str("entry_id", entryId).Msg("durable buffer confirm failed, entry will be replayed")
		}
	}
	return resp, nil
}

// ReplayPending resubmits every unconfirmed WAL entry to the inner
// coordinator, for use at startup before a DurableCoordinator is handed
// to a Strategy variant and put in front of live traffic.
func (d *DurableCoordinator) ReplayPending(ctx context.Context) error {
	pending, err := d.log.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("strategy: list pending durable buffer entries: %w", err)
	}
	for _, entry := range pending {
		var req store.Request
		if err := entry.UnmarshalPayload(&req); err != nil {
			logging.Error().Err(err).Str("entry_id", entry.ID).Msg("durable buffer entry could not be decoded, skipping")
			continue
		}
		if _, err := d.inner.ProcessWorkBatch(ctx, req); err != nil {
			logging.Error().Err(err).Str("entry_id", entry.ID).Msg("durable buffer replay failed, will retry on next startup")
			continue
		}
		if err := d.log.Confirm(ctx, entry.ID); err != nil {
			logging.Warn().Err(err).Str("entry_id", entry.ID).Msg("durable buffer confirm after replay failed")
		}
	}
	return nil
}

// Close releases the underlying WAL.
func (d *DurableCoordinator) Close() error { return d.log.Close() }

var _ Coordinator = (*DurableCoordinator)(nil)
