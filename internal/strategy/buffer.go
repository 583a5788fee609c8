// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package strategy

import (
	"sync"

	"github.com/tomtom215/workcoordinator/internal/store"
)

// buffer is the thread-safe mutable scope buffer every variant wraps.
// All public methods lock-protect a plain append, preserving insertion
// order across QueueOutbox/QueueInbox calls within a scope.
type buffer struct {
	mu sync.Mutex

	outboxCompletions []store.OutboxCompletion
	outboxFailures    []store.Failure
	inboxCompletions  []store.OutboxCompletion
	inboxFailures     []store.Failure

	receptorCompletions    []store.ReceptorReport
	receptorFailures       []store.ReceptorReport
	perspectiveCompletions []store.PerspectiveReport
	perspectiveFailures    []store.PerspectiveReport

	newOutboxMessages []store.NewOutboxMessage
	newInboxMessages  []store.NewInboxMessage

	renewOutboxLeaseIds []string
	renewInboxLeaseIds  []string
}

func (b *buffer) queueOutbox(m store.NewOutboxMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newOutboxMessages = append(b.newOutboxMessages, m)
}

func (b *buffer) queueInbox(m store.NewInboxMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.newInboxMessages = append(b.newInboxMessages, m)
}

func (b *buffer) queueOutboxCompletion(messageId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outboxCompletions = append(b.outboxCompletions, store.OutboxCompletion{MessageId: messageId})
}

func (b *buffer) queueOutboxFailure(messageId string, reason store.FailureReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outboxFailures = append(b.outboxFailures, store.Failure{MessageId: messageId, Reason: reason})
}

func (b *buffer) queueInboxCompletion(messageId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxCompletions = append(b.inboxCompletions, store.OutboxCompletion{MessageId: messageId})
}

func (b *buffer) queueInboxFailure(messageId string, reason store.FailureReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inboxFailures = append(b.inboxFailures, store.Failure{MessageId: messageId, Reason: reason})
}

func (b *buffer) queueReceptorCompletion(r store.ReceptorReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receptorCompletions = append(b.receptorCompletions, r)
}

func (b *buffer) queueReceptorFailure(r store.ReceptorReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receptorFailures = append(b.receptorFailures, r)
}

func (b *buffer) queuePerspectiveCompletion(p store.PerspectiveReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.perspectiveCompletions = append(b.perspectiveCompletions, p)
}

func (b *buffer) queuePerspectiveFailure(p store.PerspectiveReport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.perspectiveFailures = append(b.perspectiveFailures, p)
}

func (b *buffer) renewOutbox(messageId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renewOutboxLeaseIds = append(b.renewOutboxLeaseIds, messageId)
}

func (b *buffer) renewInbox(messageId string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.renewInboxLeaseIds = append(b.renewInboxLeaseIds, messageId)
}

// drain empties the buffer and returns its contents, under lock, so a
// concurrent Queue call during a Flush lands in the next batch instead
// of being lost or double-sent.
func (b *buffer) drain() (
	outboxCompletions []store.OutboxCompletion, outboxFailures []store.Failure,
	inboxCompletions []store.OutboxCompletion, inboxFailures []store.Failure,
	receptorCompletions, receptorFailures []store.ReceptorReport,
	perspectiveCompletions, perspectiveFailures []store.PerspectiveReport,
	newOutboxMessages []store.NewOutboxMessage, newInboxMessages []store.NewInboxMessage,
	renewOutboxLeaseIds, renewInboxLeaseIds []string,
) {
	b.mu.Lock()
	defer b.mu.Unlock()

	outboxCompletions, b.outboxCompletions = b.outboxCompletions, nil
	outboxFailures, b.outboxFailures = b.outboxFailures, nil
	inboxCompletions, b.inboxCompletions = b.inboxCompletions, nil
	inboxFailures, b.inboxFailures = b.inboxFailures, nil
	receptorCompletions, b.receptorCompletions = b.receptorCompletions, nil
	receptorFailures, b.receptorFailures = b.receptorFailures, nil
	perspectiveCompletions, b.perspectiveCompletions = b.perspectiveCompletions, nil
	perspectiveFailures, b.perspectiveFailures = b.perspectiveFailures, nil
	newOutboxMessages, b.newOutboxMessages = b.newOutboxMessages, nil
	newInboxMessages, b.newInboxMessages = b.newInboxMessages, nil
	renewOutboxLeaseIds, b.renewOutboxLeaseIds = b.renewOutboxLeaseIds, nil
	renewInboxLeaseIds, b.renewInboxLeaseIds = b.renewInboxLeaseIds, nil
	return
}

// size reports the total queued item count, used by Interval to decide
// whether flushBatchThreshold has been reached.
func (b *buffer) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outboxCompletions) + len(b.outboxFailures) + len(b.inboxCompletions) + len(b.inboxFailures) +
		len(b.receptorCompletions) + len(b.receptorFailures) + len(b.perspectiveCompletions) + len(b.perspectiveFailures) +
		len(b.newOutboxMessages) + len(b.newInboxMessages) + len(b.renewOutboxLeaseIds) + len(b.renewInboxLeaseIds)
}
