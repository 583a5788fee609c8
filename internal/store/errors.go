// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package store

import "fmt"

// ValidationError reports a malformed batch request: a missing StreamId
// on an event, out-of-range tuning, or similar. Nothing persists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("store: validation: %s: %s", e.Field, e.Message)
}

// ConcurrencyError reports an event-store version conflict. The whole
// batch is aborted; the caller typically re-reads state and retries.
type ConcurrencyError struct {
	StreamId string
	Version  int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("store: concurrency conflict on stream %s version %d", e.StreamId, e.Version)
}

// ErrorKind classifies a handler/transport failure recorded against an
// outbox or inbox row.
type ErrorKind string

const (
	KindTransientTransport ErrorKind = "transient_transport"
	KindPermanentTransport ErrorKind = "permanent_transport"
	KindHandler            ErrorKind = "handler"
	KindCancelled          ErrorKind = "cancelled"
)

// FailureReason is the structured shape of a queued outbox/inbox
// failure: what happened, and whether it should dead-letter immediately
// regardless of retry count.
type FailureReason struct {
	Kind      ErrorKind
	Message   string
	Permanent bool
}

func (f FailureReason) Error() string {
	return fmt.Sprintf("store: %s: %s", f.Kind, f.Message)
}
