// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/workcoordinator/internal/config"
	"github.com/tomtom215/workcoordinator/internal/envelope"
	"github.com/tomtom215/workcoordinator/internal/logging"
	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/store"
	"github.com/tomtom215/workcoordinator/internal/strategy"
	"github.com/tomtom215/workcoordinator/internal/streamproc"
	"github.com/tomtom215/workcoordinator/internal/transport"
)

// PublisherWorker claims outbox rows via its Strategy and publishes
// them to a Transport, reporting completion or failure back through
// the same Strategy. Publishing within one claimed batch runs through
// an OrderedStreamProcessor so messages sharing a StreamId are
// delivered strictly in SequenceOrder while distinct streams publish
// concurrently. One PublisherWorker owns one Transport connection; a
// host typically runs several, one per partition-owning instance.
type PublisherWorker struct {
	name       string
	strategy   strategy.Strategy
	transport  transport.Transport
	sink       metrics.Sink
	breaker    *gobreaker.CircuitBreaker[any]
	limiter    *rate.Limiter
	streamProc *streamproc.Processor

	idleBackoff  time.Duration
	leaseSeconds int

	msgLog *logging.MessageLogger
	state  stateBox
}

// NewPublisherWorker wires a PublisherWorker from config.WorkerConfig.
// name identifies the worker in logs and suture's service listing.
// maxStreamParallelism bounds how many distinct streams this worker
// publishes concurrently (see config.StreamProcessorConfig).
func NewPublisherWorker(name string, s strategy.Strategy, t transport.Transport, leaseSeconds int, cfg config.WorkerConfig, maxStreamParallelism int, sink metrics.Sink) *PublisherWorker {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.CircuitBreakerMaxRequests,
		Interval:    cfg.CircuitBreakerInterval,
		Timeout:     cfg.CircuitBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitBreakerFailureThreshold
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			sink.SetCircuitBreakerState(name, float64(to))
		},
	})

	var limiter *rate.Limiter
	if cfg.PublishRatePerSecond > 0 {
		burst := cfg.PublishBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.PublishRatePerSecond), burst)
	}

	idleBackoff := time.Duration(cfg.IdleBackoffMs) * time.Millisecond
	if idleBackoff <= 0 {
		idleBackoff = 250 * time.Millisecond
	}

	return &PublisherWorker{
		name:         name,
		strategy:     s,
		transport:    t,
		sink:         sink,
		breaker:      breaker,
		limiter:      limiter,
		streamProc:   streamproc.New(maxStreamParallelism),
		idleBackoff:  idleBackoff,
		leaseSeconds: leaseSeconds,
		msgLog:       logging.NewMessageLogger().WithFields(map[string]interface{}{"worker": name}),
	}
}

func (w *PublisherWorker) String() string { return w.name }

// State reports the worker's current lifecycle stage.
func (w *PublisherWorker) State() State { return w.state.get() }

// Serve implements suture.Service: claim, publish, report, repeat,
// until ctx is cancelled, at which point it drains in-flight work and
// stops.
func (w *PublisherWorker) Serve(ctx context.Context) error {
	w.state.set(StateStarting)
	w.state.set(StateRunning)

	leaseRenewEvery := time.Duration(w.leaseSeconds) * time.Second / 3
	if leaseRenewEvery <= 0 {
		leaseRenewEvery = time.Second
	}
	renewTicker := time.NewTicker(leaseRenewEvery)
	defer renewTicker.Stop()

	claimed := make(map[string]struct{})
	var claimedMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			w.state.set(StateDraining)
			w.drainFinalFlush()
			w.state.set(StateStopped)
			return ctx.Err()
		case <-renewTicker.C:
			claimedMu.Lock()
			for messageId := range claimed {
				w.strategy.RenewOutbox(messageId)
			}
			claimedMu.Unlock()
		default:
		}

		resp, err := w.strategy.Flush(ctx)
		if err != nil {
			logging.Error().Err(err).Str("worker", w.name).Msg("publisher worker flush failed")
			w.sleep(ctx)
			continue
		}
		if len(resp.ClaimedOutboxMessages) == 0 {
			w.sleep(ctx)
			continue
		}

		rowsByMessage := make(map[string]store.OutboxRow, len(resp.ClaimedOutboxMessages))
		items := make([]streamproc.Item, len(resp.ClaimedOutboxMessages))
		claimedMu.Lock()
		for i, row := range resp.ClaimedOutboxMessages {
			rowsByMessage[row.MessageId] = row
			items[i] = streamproc.Item{MessageId: row.MessageId, StreamId: row.StreamId, SequenceOrder: row.SequenceOrder}
			claimed[row.MessageId] = struct{}{}
		}
		claimedMu.Unlock()

		// A batch can take longer to publish than leaseSeconds, so renewal
		// must keep running for the whole streamproc.Process call, not just
		// between batches.
		batchDone := make(chan struct{})
		go func() {
			for {
				select {
				case <-batchDone:
					return
				case <-ctx.Done():
					return
				case <-renewTicker.C:
					claimedMu.Lock()
					for messageId := range claimed {
						w.strategy.RenewOutbox(messageId)
					}
					claimedMu.Unlock()
				}
			}
		}()

		w.streamProc.Process(ctx, items, func(ctx context.Context, item streamproc.Item) error {
			row := rowsByMessage[item.MessageId]
			err := w.publishOne(ctx, row)
			claimedMu.Lock()
			delete(claimed, row.MessageId)
			claimedMu.Unlock()
			return err
		})
		close(batchDone)
	}
}

func (w *PublisherWorker) drainFinalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := w.strategy.Flush(ctx); err != nil {
		logging.Warn().Err(err).Str("worker", w.name).Msg("publisher worker final drain flush failed")
	}
}

func (w *PublisherWorker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.idleBackoff):
	}
}

func (w *PublisherWorker) publishOne(ctx context.Context, row store.OutboxRow) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	env := envelope.Envelope{
		MessageId:     row.MessageId,
		CorrelationId: row.CorrelationId,
		CausationId:   row.CausationId,
		MessageType:   row.MessageType,
		StreamId:      row.StreamId,
	}

	_, err := w.breaker.Execute(func() (any, error) {
		result, pubErr := w.transport.Publish(ctx, row.Topic, row.MessageId, row.PayloadBytes, env)
		if pubErr != nil {
			return nil, publishError{result: result, cause: pubErr}
		}
		return nil, nil
	})

	if err == nil {
		w.sink.IncWorkerPublish("delivered")
		w.msgLog.LogMessagePublished(ctx, row.MessageId, row.Topic)
		w.strategy.QueueOutboxCompletion(row.MessageId)
		return nil
	}

	if pe, ok := err.(publishError); ok {
		w.reportFailure(ctx, row.MessageId, pe)
		return pe
	}

	// Circuit breaker open or some other non-publish error: treat as
	// transient so the lease expires and another instance retries.
	w.sink.IncWorkerPublish("breaker_open")
	pe := publishError{result: transport.Transient, cause: err}
	w.reportFailure(ctx, row.MessageId, pe)
	return pe
}

func (w *PublisherWorker) reportFailure(ctx context.Context, messageId string, pe publishError) {
	kind := store.KindTransientTransport
	permanent := false
	if pe.result == transport.Permanent {
		kind = store.KindPermanentTransport
		permanent = true
	}
	w.sink.IncWorkerPublish(pe.result.String())
	w.msgLog.LogMessageFailed(ctx, messageId, pe.cause)
	w.strategy.QueueOutboxFailure(messageId, store.FailureReason{
		Kind:      kind,
		Message:   pe.cause.Error(),
		Permanent: permanent,
	})
}

type publishError struct {
	result transport.Result
	cause  error
}

func (e publishError) Error() string {
	return fmt.Sprintf("%s: %v", e.result, e.cause)
}

func (e publishError) Unwrap() error { return e.cause }
