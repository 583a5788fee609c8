// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/workcoordinator/internal/cache"
	"github.com/tomtom215/workcoordinator/internal/dispatcher"
	"github.com/tomtom215/workcoordinator/internal/envelope"
	"github.com/tomtom215/workcoordinator/internal/logging"
	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/store"
	"github.com/tomtom215/workcoordinator/internal/strategy"
	"github.com/tomtom215/workcoordinator/internal/streamproc"
	"github.com/tomtom215/workcoordinator/internal/transport"
)

// dedupCacheTTL bounds how long a message ID is remembered in the
// in-process pre-filter. It only needs to cover broker-level redelivery
// of an unacked message, not the inbox table's permanent dedup window.
const dedupCacheTTL = 5 * time.Minute

func inboxMessageFrom(msg transport.InboundMessage) store.NewInboxMessage {
	return store.NewInboxMessage{
		MessageId:     msg.MessageId,
		CorrelationId: msg.Envelope.CorrelationId,
		CausationId:   msg.Envelope.CausationId,
		MessageType:   msg.Envelope.MessageType,
		StreamId:      msg.Envelope.StreamId,
		SourceTopic:   msg.Topic,
		PayloadBytes:  msg.PayloadBytes,
	}
}

// ConsumerWorker receives messages off a Transport subscription,
// durably records them in the inbox table via its Strategy, invokes
// every perspective registered for the event (through the Dispatcher)
// once that record is confirmed durable, and only then acknowledges
// the broker. A crash at any point before the final flush commits
// simply redelivers, relying on the inbox table's dedup to make
// reprocessing safe.
type ConsumerWorker struct {
	name       string
	strategy   strategy.Strategy
	transport  transport.Transport
	dispatcher *dispatcher.Dispatcher
	streamProc *streamproc.Processor
	sink       metrics.Sink
	dedup      cache.Cacher
	msgLog     *logging.MessageLogger

	state stateBox
}

// NewConsumerWorker wires a ConsumerWorker. disp may be nil for a
// deployment that only durably records inbox messages without running
// any local read-model perspectives. maxStreamParallelism bounds how
// many distinct streams this worker invokes perspectives for
// concurrently (see config.StreamProcessorConfig). It keeps an
// in-process TTL cache of recently seen message IDs so a message
// redelivered by the broker before its ack lands skips straight to an
// ack instead of paying for a Flush round-trip the inbox table's ON
// CONFLICT DO NOTHING would have discarded anyway.
func NewConsumerWorker(name string, s strategy.Strategy, t transport.Transport, disp *dispatcher.Dispatcher, maxStreamParallelism int, sink metrics.Sink) *ConsumerWorker {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	return &ConsumerWorker{
		name:       name,
		strategy:   s,
		transport:  t,
		dispatcher: disp,
		streamProc: streamproc.New(maxStreamParallelism),
		sink:       sink,
		dedup:      cache.New(dedupCacheTTL),
		msgLog:     logging.NewMessageLogger().WithFields(map[string]interface{}{"worker": name}),
	}
}

func (w *ConsumerWorker) String() string { return w.name }

// State reports the worker's current lifecycle stage.
func (w *ConsumerWorker) State() State { return w.state.get() }

// Serve implements suture.Service: receive, insert into the inbox,
// invoke perspectives, ack, repeat. A flush failure leaves the broker
// message un-acked so it is redelivered rather than silently dropped.
func (w *ConsumerWorker) Serve(ctx context.Context) error {
	w.state.set(StateStarting)
	defer w.dedup.Close()

	inbound, err := w.transport.Receive(ctx)
	if err != nil {
		w.state.set(StateStopped)
		return err
	}
	w.state.set(StateRunning)

	for {
		select {
		case <-ctx.Done():
			w.state.set(StateDraining)
			w.drainFinalFlush()
			w.state.set(StateStopped)
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				w.state.set(StateStopped)
				return nil
			}
			w.consumeOne(ctx, msg)
		}
	}
}

func (w *ConsumerWorker) consumeOne(ctx context.Context, msg transport.InboundMessage) {
	w.msgLog.LogMessageReceived(ctx, msg.MessageId, msg.Topic, msg.Envelope.MessageType)

	if _, seen := w.dedup.Get(msg.MessageId); seen {
		w.msgLog.LogDuplicate(ctx, msg.MessageId, "in-process cache hit")
		w.sink.IncWorkerConsume("dedup_skipped")
		if msg.Ack != nil {
			msg.Ack()
		}
		return
	}

	start := time.Now()
	w.strategy.QueueInbox(inboxMessageFrom(msg))

	resp, err := w.strategy.Flush(ctx)
	if err != nil {
		w.msgLog.LogMessageFailed(ctx, msg.MessageId, err)
		w.sink.IncWorkerConsume("flush_failed")
		if msg.Nack != nil {
			msg.Nack()
		}
		return
	}

	if len(resp.ClaimedInboxMessages) == 0 {
		// Nothing claimed: this row already existed (broker redelivery
		// ahead of our own ack, or another instance inserted it first).
		w.dedup.Set(msg.MessageId, struct{}{})
		w.msgLog.LogDuplicate(ctx, msg.MessageId, "inbox insert claimed nothing")
		w.sink.IncWorkerConsume("duplicate")
		if msg.Ack != nil {
			msg.Ack()
		}
		return
	}

	rowsByMessage := make(map[string]store.InboxRow, len(resp.ClaimedInboxMessages))
	items := make([]streamproc.Item, len(resp.ClaimedInboxMessages))
	for i, row := range resp.ClaimedInboxMessages {
		rowsByMessage[row.MessageId] = row
		items[i] = streamproc.Item{MessageId: row.MessageId, StreamId: row.StreamId, SequenceOrder: row.SequenceOrder}
	}

	w.streamProc.Process(ctx, items, func(ctx context.Context, item streamproc.Item) error {
		return w.invokePerspectives(ctx, rowsByMessage[item.MessageId])
	})

	if _, err := w.strategy.Flush(ctx); err != nil {
		w.msgLog.LogMessageFailed(ctx, msg.MessageId, err)
		w.sink.IncWorkerConsume("completion_flush_failed")
		if msg.Nack != nil {
			msg.Nack()
		}
		return
	}

	w.dedup.Set(msg.MessageId, struct{}{})
	w.msgLog.LogMessageProcessed(ctx, msg.MessageId, time.Since(start).Milliseconds())
	w.sink.IncWorkerConsume("stored")
	if msg.Ack != nil {
		msg.Ack()
	}
}

// invokePerspectives runs every perspective registered for row's event
// type and queues the resulting InboxCompletion/InboxFailure and one
// PerspectiveCompletion/PerspectiveFailure per perspective. It only
// ever runs after row has survived a flush, so perspectives never
// observe a non-durable event.
func (w *ConsumerWorker) invokePerspectives(ctx context.Context, row store.InboxRow) error {
	if w.dispatcher == nil {
		w.strategy.QueueInboxCompletion(row.MessageId)
		return nil
	}

	env := envelope.Envelope{
		MessageId:     row.MessageId,
		CorrelationId: row.CorrelationId,
		CausationId:   row.CausationId,
		MessageType:   row.MessageType,
		StreamId:      row.StreamId,
		SequenceOrder: row.SequenceOrder,
	}
	outcomes := w.dispatcher.PublishAsync(ctx, env, row.PayloadBytes)

	anyFailed := false
	for _, o := range outcomes {
		report := store.PerspectiveReport{
			StreamId:           row.StreamId,
			PerspectiveName:    o.Name,
			LastEventId:        row.MessageId,
			LastSequenceNumber: row.SequenceOrder,
		}
		if o.Err != nil {
			anyFailed = true
			report.Status = store.PerspectiveFailed
			report.LastError = o.Err.Error()
			w.strategy.QueuePerspectiveFailure(report)
			w.msgLog.LogMessageFailed(ctx, row.MessageId, o.Err)
			continue
		}
		report.Status = store.PerspectiveUpToDate
		w.strategy.QueuePerspectiveCompletion(report)
	}

	if anyFailed {
		w.strategy.QueueInboxFailure(row.MessageId, store.FailureReason{
			Kind:    store.KindHandler,
			Message: "one or more perspectives failed",
		})
		return fmt.Errorf("worker: perspectives failed for message %s", row.MessageId)
	}

	w.strategy.QueueInboxCompletion(row.MessageId)
	return nil
}

func (w *ConsumerWorker) drainFinalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := w.strategy.Flush(ctx); err != nil {
		logging.Warn().Err(err).Str("worker", w.name).Msg("consumer worker final drain flush failed")
	}
}
