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

// Immediate flushes on every Queue call. Used where latency dominates
// and batching is undesirable. Since the interface's Queue methods
// don't return an error, Immediate records the outcome of its
// self-triggered flush and surfaces it through the next explicit Flush
// call (which also flushes whatever (normally empty) buffer remains).
type Immediate struct {
	identity    Identity
	coordinator Coordinator
	sink        metrics.Sink
	buf         buffer

	mu      sync.Mutex
	lastErr error
}

// NewImmediate constructs an Immediate-variant Strategy.
func NewImmediate(identity Identity, c Coordinator, sink metrics.Sink) *Immediate {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &Immediate{identity: identity, coordinator: c, sink: sink}
}

func (s *Immediate) flushNow() {
	req := assemble(s.identity, &s.buf)
	start := time.Now()
	_, err := s.coordinator.ProcessWorkBatch(context.Background(), req)
	recordFlush(s.sink, "immediate", start, 1)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Immediate) QueueOutbox(m store.NewOutboxMessage) {
	s.buf.queueOutbox(m)
	s.flushNow()
}
func (s *Immediate) QueueInbox(m store.NewInboxMessage) {
	s.buf.queueInbox(m)
	s.flushNow()
}
func (s *Immediate) QueueOutboxCompletion(messageId string) {
	s.buf.queueOutboxCompletion(messageId)
	s.flushNow()
}
func (s *Immediate) QueueOutboxFailure(messageId string, reason store.FailureReason) {
	s.buf.queueOutboxFailure(messageId, reason)
	s.flushNow()
}
func (s *Immediate) QueueInboxCompletion(messageId string) {
	s.buf.queueInboxCompletion(messageId)
	s.flushNow()
}
func (s *Immediate) QueueInboxFailure(messageId string, reason store.FailureReason) {
	s.buf.queueInboxFailure(messageId, reason)
	s.flushNow()
}
func (s *Immediate) QueueReceptorCompletion(r store.ReceptorReport) {
	s.buf.queueReceptorCompletion(r)
	s.flushNow()
}
func (s *Immediate) QueueReceptorFailure(r store.ReceptorReport) {
	s.buf.queueReceptorFailure(r)
	s.flushNow()
}
func (s *Immediate) QueuePerspectiveCompletion(p store.PerspectiveReport) {
	s.buf.queuePerspectiveCompletion(p)
	s.flushNow()
}
func (s *Immediate) QueuePerspectiveFailure(p store.PerspectiveReport) {
	s.buf.queuePerspectiveFailure(p)
	s.flushNow()
}
func (s *Immediate) RenewOutbox(messageId string) {
	s.buf.renewOutbox(messageId)
	s.flushNow()
}
func (s *Immediate) RenewInbox(messageId string) {
	s.buf.renewInbox(messageId)
	s.flushNow()
}

// Flush returns the outcome of the most recent self-triggered flush (if
// any), then flushes whatever remains buffered (normally empty, since
// every Queue call already flushed).
func (s *Immediate) Flush(ctx context.Context) (store.Response, error) {
	s.mu.Lock()
	pending := s.lastErr
	s.lastErr = nil
	s.mu.Unlock()
	if pending != nil {
		return store.Response{}, pending
	}
	req := assemble(s.identity, &s.buf)
	return s.coordinator.ProcessWorkBatch(ctx, req)
}

var _ Strategy = (*Immediate)(nil)
