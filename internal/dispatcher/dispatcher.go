// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package dispatcher implements Dispatcher (C7): the single place a
// domain caller asks for a message to be sent, a local handler to be
// invoked, or a durably-stored event to be fanned out to read models.
// It owns message identity and correlation generation; routing targets
// are resolved once at startup and held in a plain map, not a DI
// container.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/workcoordinator/internal/envelope"
	"github.com/tomtom215/workcoordinator/internal/metrics"
	"github.com/tomtom215/workcoordinator/internal/strategy"
	"github.com/tomtom215/workcoordinator/internal/store"
)

// ReceptorResult is what a ReceptorFunc hands back to the Dispatcher:
// the outcome to durably record, and whether that outcome is itself an
// event (queued IsEvent=true, appended to the event store on the next
// flush) or a plain reply (queued IsEvent=false). The receptor decides;
// the Dispatcher never guesses from which method the caller used.
type ReceptorResult struct {
	// MessageType of the outcome. Empty reuses the invoking message's
	// own type, which is only correct for a command that replies with
	// itself; a receptor that emits a differently-typed event or reply
	// must set this.
	MessageType string
	// StreamId the outcome belongs to. Empty reuses the invoking
	// message's StreamId.
	StreamId     string
	PayloadBytes []byte
	IsEvent      bool
}

// ReceptorFunc handles one command/message locally, synchronously, and
// reports what happened.
type ReceptorFunc func(ctx context.Context, env envelope.Envelope, payload []byte) (ReceptorResult, error)

// PerspectiveFunc handles one event locally, synchronously, updating a
// read model.
type PerspectiveFunc func(ctx context.Context, env envelope.Envelope, payload []byte) error

// Route describes where a queued outbox row should land.
type Route struct {
	Topic string
}

// DeliveryStatus reports whether SendAsync's outbox write is durable.
type DeliveryStatus string

const (
	Accepted DeliveryStatus = "accepted"
	Rejected DeliveryStatus = "rejected"
)

// DeliveryReceipt is SendAsync's result: Status=Accepted means the
// outbox row was queued for the strategy's next flush, not that the
// flush has already committed.
type DeliveryReceipt struct {
	MessageId     string
	CorrelationId string
	Timestamp     time.Time
	Destination   string
	Status        DeliveryStatus
}

// Dispatcher is the routing facade over Strategy. SendAsync invokes a
// receptor and queues whatever it returns; LocalInvokeAsync calls a
// receptor directly with no outbox write; PublishAsync fans a
// durably-persisted event out to every registered perspective.
type Dispatcher struct {
	strategy strategy.Strategy
	sink     metrics.Sink

	commandRoutes map[string]Route
	eventRoutes   map[string]Route
	receptors     map[string]ReceptorFunc
	perspectives  map[string]map[string]PerspectiveFunc

	partitionCount int
	eventSuffix    string
}

// Config holds the routing tables a Dispatcher is constructed with.
// All maps are resolved once at startup by the caller (typically
// cmd/server's wiring code) and never mutated afterward. Perspectives
// is keyed eventType -> perspectiveName -> handler; the name is what
// PublishAsync's outcomes and perspective_checkpoints rows are keyed
// on.
type Config struct {
	CommandRoutes  map[string]Route
	EventRoutes    map[string]Route
	Receptors      map[string]ReceptorFunc
	Perspectives   map[string]map[string]PerspectiveFunc
	PartitionCount int
	EventSuffix    string
}

// New constructs a Dispatcher.
func New(s strategy.Strategy, sink metrics.Sink, cfg Config) *Dispatcher {
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if cfg.CommandRoutes == nil {
		cfg.CommandRoutes = map[string]Route{}
	}
	if cfg.EventRoutes == nil {
		cfg.EventRoutes = map[string]Route{}
	}
	if cfg.Receptors == nil {
		cfg.Receptors = map[string]ReceptorFunc{}
	}
	if cfg.Perspectives == nil {
		cfg.Perspectives = map[string]map[string]PerspectiveFunc{}
	}
	return &Dispatcher{
		strategy:       s,
		sink:           sink,
		commandRoutes:  cfg.CommandRoutes,
		eventRoutes:    cfg.EventRoutes,
		receptors:      cfg.Receptors,
		perspectives:   cfg.Perspectives,
		partitionCount: cfg.PartitionCount,
		eventSuffix:    cfg.EventSuffix,
	}
}

// SendAsync invokes the receptor registered for messageType and queues
// whatever it returns for durable out-of-process delivery via the
// outbox: IsEvent=true if the receptor's result is an event, false
// otherwise. The outbox route is resolved from the result's own type,
// not from messageType, since a receptor may reply with something
// other than what it was asked.
func (d *Dispatcher) SendAsync(ctx context.Context, messageType, streamId string, payload []byte, causationId string) (DeliveryReceipt, error) {
	fn, ok := d.receptors[messageType]
	if !ok {
		d.sink.IncDispatch("send", "unrouted")
		return DeliveryReceipt{}, fmt.Errorf("dispatcher: no receptor registered for command type %q", messageType)
	}

	env := envelope.New(messageType, streamId, "", causationId, d.partitionCount)
	result, err := fn(ctx, env, payload)
	if err != nil {
		d.sink.IncDispatch("send", "failed")
		d.strategy.QueueReceptorFailure(store.ReceptorReport{
			EventId:      env.MessageId,
			ReceptorName: messageType,
			Status:       store.ReceptorFailed,
			LastError:    err.Error(),
		})
		return DeliveryReceipt{MessageId: env.MessageId, CorrelationId: env.CorrelationId, Timestamp: time.Now(), Status: Rejected},
			store.FailureReason{Kind: store.KindHandler, Message: err.Error()}
	}

	outType := result.MessageType
	if outType == "" {
		outType = messageType
	}
	outStream := result.StreamId
	if outStream == "" {
		outStream = env.StreamId
	}

	var route Route
	if result.IsEvent {
		route, ok = d.eventRoutes[outType]
	} else {
		route, ok = d.commandRoutes[outType]
	}
	if !ok {
		d.sink.IncDispatch("send", "unrouted_result")
		return DeliveryReceipt{}, fmt.Errorf("dispatcher: receptor for %q produced unrouted type %q", messageType, outType)
	}
	if result.IsEvent && !envelope.IsEvent(true, outType, d.eventSuffix) {
		d.sink.IncDispatch("send", "rejected")
		return DeliveryReceipt{}, fmt.Errorf("dispatcher: event type %q does not end in suffix %q", outType, d.eventSuffix)
	}

	d.strategy.QueueOutbox(store.NewOutboxMessage{
		MessageId:     env.MessageId,
		CorrelationId: env.CorrelationId,
		CausationId:   env.CausationId,
		MessageType:   outType,
		StreamId:      outStream,
		Topic:         route.Topic,
		PayloadBytes:  result.PayloadBytes,
		IsEvent:       result.IsEvent,
	})
	d.strategy.QueueReceptorCompletion(store.ReceptorReport{
		EventId:      env.MessageId,
		ReceptorName: messageType,
		Status:       store.ReceptorCompleted,
	})
	d.sink.IncDispatch("send", "queued")

	return DeliveryReceipt{
		MessageId:     env.MessageId,
		CorrelationId: env.CorrelationId,
		Timestamp:     time.Now(),
		Destination:   route.Topic,
		Status:        Accepted,
	}, nil
}

// LocalInvokeAsync dispatches directly to an in-process receptor,
// skipping the outbox entirely: no envelope overhead beyond identity
// generation, no durable write, just the receptor's own result.
func (d *Dispatcher) LocalInvokeAsync(ctx context.Context, messageType, streamId string, payload []byte, causationId string) (ReceptorResult, error) {
	fn, ok := d.receptors[messageType]
	if !ok {
		d.sink.IncDispatch("local_invoke", "unrouted")
		return ReceptorResult{}, fmt.Errorf("dispatcher: no local receptor registered for %q", messageType)
	}

	env := envelope.New(messageType, streamId, "", causationId, d.partitionCount)
	result, err := fn(ctx, env, payload)
	if err != nil {
		d.sink.IncDispatch("local_invoke", "failed")
		return ReceptorResult{}, store.FailureReason{Kind: store.KindHandler, Message: err.Error()}
	}
	d.sink.IncDispatch("local_invoke", "handled")
	return result, nil
}

// PerspectiveOutcome is what one named perspective did with an event,
// so the caller can upsert a perspective_checkpoints row per name.
type PerspectiveOutcome struct {
	Name string
	Err  error
}

// PublishAsync fans a durably-persisted event out to every perspective
// registered for env.MessageType, running them in parallel. It is
// called once the event's inbox row has survived a flush (see
// ConsumerWorker), never before: perspectives must only ever observe
// events the store has already made durable. It returns one outcome
// per registered perspective so the caller can report
// PerspectiveCompletion/PerspectiveFailure individually; errors.Join
// the non-nil Errs to learn whether the whole fan-out succeeded.
func (d *Dispatcher) PublishAsync(ctx context.Context, env envelope.Envelope, payload []byte) []PerspectiveOutcome {
	byName := d.perspectives[env.MessageType]
	if len(byName) == 0 {
		d.sink.IncDispatch("publish", "no_perspectives")
		return nil
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}

	outcomes := make([]PerspectiveOutcome, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			outcomes[i] = PerspectiveOutcome{Name: name, Err: byName[name](ctx, env, payload)}
		}(i, name)
	}
	wg.Wait()

	failed := false
	for _, o := range outcomes {
		if o.Err != nil {
			failed = true
			break
		}
	}
	if failed {
		d.sink.IncDispatch("publish", "failed")
	} else {
		d.sink.IncDispatch("publish", "delivered")
	}
	return outcomes
}
