// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/workcoordinator/internal/logging"
	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/store"
)

// Interval runs a background flush loop: it flushes whenever
// flushIntervalMs elapses or the buffer reaches flushBatchThreshold
// items, whichever happens first. Stop drains and flushes whatever
// remains before the background goroutine exits.
type Interval struct {
	identity    Identity
	coordinator Coordinator
	sink        metrics.Sink
	buf         buffer

	interval  time.Duration
	threshold int

	tick   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	stopMu sync.Mutex
	once   sync.Once
}

// NewInterval starts the background flush loop immediately. interval
// and threshold come from StrategyConfig (defaults flushIntervalMs=100,
// flushBatchThreshold=256).
func NewInterval(identity Identity, c Coordinator, sink metrics.Sink, interval time.Duration, threshold int) *Interval {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if threshold <= 0 {
		threshold = 256
	}
	s := &Interval{
		identity:    identity,
		coordinator: c,
		sink:        sink,
		interval:    interval,
		threshold:   threshold,
		tick:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Interval) maybeWake() {
	if s.buf.size() >= s.threshold {
		select {
		case s.tick <- struct{}{}:
		default:
		}
	}
}

func (s *Interval) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flushBuffered()
		case <-s.tick:
			s.flushBuffered()
		case <-s.stop:
			s.flushBuffered()
			return
		}
	}
}

func (s *Interval) flushBuffered() {
	if s.buf.size() == 0 {
		return
	}
	req := assemble(s.identity, &s.buf)
	start := time.Now()
	_, err := s.coordinator.ProcessWorkBatch(context.Background(), req)
	recordFlush(s.sink, "interval", start, 1)
	if err != nil {
		logging.Error().Err(err).Msg("interval strategy background flush failed")
	}
}

func (s *Interval) QueueOutbox(m store.NewOutboxMessage) {
	s.buf.queueOutbox(m)
	s.maybeWake()
}
func (s *Interval) QueueInbox(m store.NewInboxMessage) {
	s.buf.queueInbox(m)
	s.maybeWake()
}
func (s *Interval) QueueOutboxCompletion(messageId string) {
	s.buf.queueOutboxCompletion(messageId)
	s.maybeWake()
}
func (s *Interval) QueueOutboxFailure(messageId string, reason store.FailureReason) {
	s.buf.queueOutboxFailure(messageId, reason)
	s.maybeWake()
}
func (s *Interval) QueueInboxCompletion(messageId string) {
	s.buf.queueInboxCompletion(messageId)
	s.maybeWake()
}
func (s *Interval) QueueInboxFailure(messageId string, reason store.FailureReason) {
	s.buf.queueInboxFailure(messageId, reason)
	s.maybeWake()
}
func (s *Interval) QueueReceptorCompletion(r store.ReceptorReport) {
	s.buf.queueReceptorCompletion(r)
	s.maybeWake()
}
func (s *Interval) QueueReceptorFailure(r store.ReceptorReport) {
	s.buf.queueReceptorFailure(r)
	s.maybeWake()
}
func (s *Interval) QueuePerspectiveCompletion(p store.PerspectiveReport) {
	s.buf.queuePerspectiveCompletion(p)
	s.maybeWake()
}
func (s *Interval) QueuePerspectiveFailure(p store.PerspectiveReport) {
	s.buf.queuePerspectiveFailure(p)
	s.maybeWake()
}
func (s *Interval) RenewOutbox(messageId string) {
	s.buf.renewOutbox(messageId)
	s.maybeWake()
}
func (s *Interval) RenewInbox(messageId string) {
	s.buf.renewInbox(messageId)
	s.maybeWake()
}

// Flush performs a synchronous, on-demand flush in addition to the
// background loop's own cadence.
func (s *Interval) Flush(ctx context.Context) (store.Response, error) {
	req := assemble(s.identity, &s.buf)
	start := time.Now()
	resp, err := s.coordinator.ProcessWorkBatch(ctx, req)
	recordFlush(s.sink, "interval", start, 1)
	return resp, err
}

// Stop signals the background loop to perform one final synchronous
// flush and exit, then waits for it to finish. Safe to call once.
func (s *Interval) Stop() {
	s.once.Do(func() {
		close(s.stop)
		<-s.done
	})
}

var _ Strategy = (*Interval)(nil)
