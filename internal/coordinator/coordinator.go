// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package coordinator provides WorkCoordinator, the typed facade over
// the Store: it accepts and returns the ProcessWorkBatch contract
// verbatim and adds nothing beyond argument validation.
package coordinator

import (
	"context"

	"github.com/tomtom215/workcoordinator/internal/store"
)

// WorkCoordinator is a typed contract over the Store. It holds no
// state of its own: Strategy owns the buffer, Store owns the rows.
type WorkCoordinator struct {
	store *store.Store
}

// New wraps a Store with coordinator-level argument validation.
func New(s *store.Store) *WorkCoordinator {
	return &WorkCoordinator{store: s}
}

// ProcessWorkBatch validates bounds on the tuning fields that are set,
// then delegates to the Store unchanged. Validation failures never
// reach the Store, so nothing persists. It is idempotent against retry
// of identical new-message arrays, since duplicate MessageIds collapse
// inside the Store.
func (c *WorkCoordinator) ProcessWorkBatch(ctx context.Context, req store.Request) (store.Response, error) {
	if err := validateBounds(req); err != nil {
		return store.Response{}, err
	}
	return c.store.ProcessWorkBatch(ctx, req)
}

func validateBounds(req store.Request) error {
	if req.PartitionCount < 0 {
		return &store.ValidationError{Field: "partition_count", Message: "must not be negative"}
	}
	if req.MaxPartitionsPerInstance < 0 {
		return &store.ValidationError{Field: "max_partitions_per_instance", Message: "must not be negative"}
	}
	if req.LeaseSeconds < 0 {
		return &store.ValidationError{Field: "lease_seconds", Message: "must not be negative"}
	}
	if req.MaxClaimBatch < 0 {
		return &store.ValidationError{Field: "max_claim_batch", Message: "must not be negative"}
	}
	return nil
}
