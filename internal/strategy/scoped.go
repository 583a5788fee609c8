// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/store"
)

// Scoped accumulates everything queued within an ambient scope and
// flushes exactly once when the scope closes, whether the scope ended
// normally or exceptionally. Use Close to end the scope; closing twice
// is a no-op returning the first Close's result.
type Scoped struct {
	identity    Identity
	coordinator Coordinator
	sink        metrics.Sink
	buf         buffer

	mu     sync.Mutex
	closed bool
	resp   store.Response
	err    error
}

// NewScoped constructs a Scoped-variant Strategy bound to one scope.
// The caller is responsible for calling Close exactly once, typically
// via defer, regardless of how the scope exits.
func NewScoped(identity Identity, c Coordinator, sink metrics.Sink) *Scoped {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Scoped{identity: identity, coordinator: c, sink: sink}
}

func (s *Scoped) QueueOutbox(m store.NewOutboxMessage)          { s.buf.queueOutbox(m) }
func (s *Scoped) QueueInbox(m store.NewInboxMessage)            { s.buf.queueInbox(m) }
func (s *Scoped) QueueOutboxCompletion(messageId string)        { s.buf.queueOutboxCompletion(messageId) }
func (s *Scoped) QueueInboxCompletion(messageId string)         { s.buf.queueInboxCompletion(messageId) }
func (s *Scoped) QueueOutboxFailure(messageId string, reason store.FailureReason) {
	s.buf.queueOutboxFailure(messageId, reason)
}
func (s *Scoped) QueueInboxFailure(messageId string, reason store.FailureReason) {
	s.buf.queueInboxFailure(messageId, reason)
}
func (s *Scoped) QueueReceptorCompletion(r store.ReceptorReport)       { s.buf.queueReceptorCompletion(r) }
func (s *Scoped) QueueReceptorFailure(r store.ReceptorReport)          { s.buf.queueReceptorFailure(r) }
func (s *Scoped) QueuePerspectiveCompletion(p store.PerspectiveReport) { s.buf.queuePerspectiveCompletion(p) }
func (s *Scoped) QueuePerspectiveFailure(p store.PerspectiveReport)    { s.buf.queuePerspectiveFailure(p) }
func (s *Scoped) RenewOutbox(messageId string)                         { s.buf.renewOutbox(messageId) }
func (s *Scoped) RenewInbox(messageId string)                          { s.buf.renewInbox(messageId) }

// Flush is available mid-scope but does not end it; most callers
// should rely on Close to perform the scope's single flush.
func (s *Scoped) Flush(ctx context.Context) (store.Response, error) {
	req := assemble(s.identity, &s.buf)
	start := time.Now()
	resp, err := s.coordinator.ProcessWorkBatch(ctx, req)
	recordFlush(s.sink, "scoped", start, 1)
	return resp, err
}

// Close ends the scope, flushing once. If the scope is ending because
// of a panic or error upstream, the caller should still invoke Close
// (e.g. via defer) so whatever was queued before the failure is not
// silently dropped; any flush error propagates to the scope owner via
// the returned error.
func (s *Scoped) Close(ctx context.Context) (store.Response, error) {
	s.mu.Lock()
	if s.closed {
		resp, err := s.resp, s.err
		s.mu.Unlock()
		return resp, err
	}
	s.closed = true
	s.mu.Unlock()

	resp, err := s.Flush(ctx)

	s.mu.Lock()
	s.resp, s.err = resp, err
	s.mu.Unlock()
	return resp, err
}

var _ Strategy = (*Scoped)(nil)
