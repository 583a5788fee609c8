// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package strategy implements WorkCoordinatorStrategy: it amortizes
// coordinator calls by buffering queued outbox/inbox inserts and
// completions until a flush point, in one of three variants (Immediate,
// Scoped, Interval) selected per service at startup.
package strategy

import (
	"context"
	"time"

	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/store"
)

// Coordinator is the subset of WorkCoordinator a Strategy depends on.
type Coordinator interface {
	ProcessWorkBatch(ctx context.Context, req store.Request) (store.Response, error)
}

// Identity is the instance metadata attached to every assembled batch.
type Identity struct {
	InstanceId  string
	ServiceName string
	HostName    string
	ProcessId   int32
}

// Strategy is the common surface of all three variants.
type Strategy interface {
	QueueOutbox(m store.NewOutboxMessage)
	QueueInbox(m store.NewInboxMessage)
	QueueOutboxCompletion(messageId string)
	QueueOutboxFailure(messageId string, reason store.FailureReason)
	QueueInboxCompletion(messageId string)
	QueueInboxFailure(messageId string, reason store.FailureReason)
	QueueReceptorCompletion(r store.ReceptorReport)
	QueueReceptorFailure(r store.ReceptorReport)
	QueuePerspectiveCompletion(p store.PerspectiveReport)
	QueuePerspectiveFailure(p store.PerspectiveReport)
	RenewOutbox(messageId string)
	RenewInbox(messageId string)

	// Flush assembles one WorkBatch from the buffered items, calls the
	// coordinator, and returns the claimed work. It never returns a nil
	// Response; arrays may be empty.
	Flush(ctx context.Context) (store.Response, error)
}

func assemble(identity Identity, b *buffer) store.Request {
	outboxCompletions, outboxFailures, inboxCompletions, inboxFailures,
		receptorCompletions, receptorFailures, perspectiveCompletions, perspectiveFailures,
		newOutboxMessages, newInboxMessages, renewOutboxLeaseIds, renewInboxLeaseIds := b.drain()

	return store.Request{
		InstanceId:  identity.InstanceId,
		ServiceName: identity.ServiceName,
		HostName:    identity.HostName,
		ProcessId:   identity.ProcessId,

		OutboxCompletions: outboxCompletions,
		OutboxFailures:    outboxFailures,
		InboxCompletions:  inboxCompletions,
		InboxFailures:     inboxFailures,

		ReceptorCompletions:    receptorCompletions,
		ReceptorFailures:       receptorFailures,
		PerspectiveCompletions: perspectiveCompletions,
		PerspectiveFailures:    perspectiveFailures,

		NewOutboxMessages: newOutboxMessages,
		NewInboxMessages:  newInboxMessages,

		RenewOutboxLeaseIds: renewOutboxLeaseIds,
		RenewInboxLeaseIds:  renewInboxLeaseIds,
	}
}

func recordFlush(sink metrics.Sink, variant string, start time.Time, batchSize int) {
	sink.ObserveStrategyFlush(variant, time.Since(start), batchSize)
}
