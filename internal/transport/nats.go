// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/tomtom215/workcoordinator/internal/envelope"
	"github.com/tomtom215/workcoordinator/internal/logging"
)

// NATSTransport is the production Transport, backed by Watermill's NATS
// JetStream adapter. One instance holds both the publish and (if a
// QueueGroup is configured) the receive side of a connection.
type NATSTransport struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	cfg        Config
	logger     watermill.LoggerAdapter
}

// NewNATSTransport dials NATS and configures JetStream publish and
// (when cfg.QueueGroup is set) durable consume sides.
func NewNATSTransport(cfg Config) (*NATSTransport, error) {
	logger := watermill.NewStdLogger(false, false)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.ErrorHandler(func(nc *natsgo.Conn, sub *natsgo.Subscription, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("transport: NATS connection error")
			}
		}),
	}

	// A pre-provisioned StreamName means a separate process owns stream
	// creation (mirrors StreamInitializer in the wider deployment); with
	// none given, each side auto-provisions so a bare coordinator works
	// stand-alone too.
	autoProvision := cfg.StreamName == ""

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: autoProvision,
			TrackMsgId:    true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("transport: create publisher: %w", err)
	}

	t := &NATSTransport{publisher: pub, cfg: cfg, logger: logger}

	if cfg.QueueGroup != "" {
		subOpts := []natsgo.SubOpt{natsgo.DeliverNew()}
		if cfg.StreamName != "" {
			subOpts = append(subOpts, natsgo.BindStream(cfg.StreamName))
		}
		sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
			URL:              cfg.URL,
			QueueGroupPrefix: cfg.QueueGroup,
			SubscribersCount: 1,
			AckWaitTimeout:   30 * time.Second,
			NatsOptions:      natsOpts,
			Unmarshaler:      &wmNats.NATSMarshaler{},
			JetStream: wmNats.JetStreamConfig{
				Disabled:         false,
				AutoProvision:    autoProvision,
				AckAsync:         false,
				SubscribeOptions: subOpts,
				DurablePrefix:    cfg.DurableName,
			},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("transport: create subscriber: %w", err)
		}
		t.subscriber = sub
	}

	return t, nil
}

func (t *NATSTransport) Publish(ctx context.Context, topic, messageId string, payload []byte, env envelope.Envelope) (Result, error) {
	msg := message.NewMessage(messageId, payload)
	msg.Metadata.Set("Nats-Msg-Id", messageId)
	msg.Metadata.Set("message_type", env.MessageType)
	msg.Metadata.Set("stream_id", env.StreamId)
	msg.Metadata.Set("correlation_id", env.CorrelationId)
	msg.SetContext(ctx)

	if err := t.publisher.Publish(topic, msg); err != nil {
		return classifyPublishError(err), err
	}
	return Delivered, nil
}

// classifyPublishError maps a Watermill/NATS publish error to a
// Transient or Permanent outcome. Connection, timeout, and no-responder
// errors are retried; anything that indicates the broker rejected the
// message outright (oversized payload, auth) will not be fixed by a
// retry and is treated as permanent.
func classifyPublishError(err error) Result {
	switch err {
	case natsgo.ErrMaxPayload, natsgo.ErrAuthorization, natsgo.ErrAuthExpired:
		return Permanent
	default:
		return Transient
	}
}

func (t *NATSTransport) Receive(ctx context.Context) (<-chan InboundMessage, error) {
	if t.subscriber == nil {
		return nil, fmt.Errorf("transport: no queue group configured, this transport is publish-only")
	}
	wmMessages, err := t.subscriber.Subscribe(ctx, t.cfg.SubscribeSubject)
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe: %w", err)
	}

	out := make(chan InboundMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-wmMessages:
				if !ok {
					return
				}
				out <- toInboundMessage(msg)
			}
		}
	}()
	return out, nil
}

func toInboundMessage(msg *message.Message) InboundMessage {
	env := envelope.Envelope{
		MessageId:     msg.UUID,
		CorrelationId: msg.Metadata.Get("correlation_id"),
		MessageType:   msg.Metadata.Get("message_type"),
		StreamId:      msg.Metadata.Get("stream_id"),
	}
	return InboundMessage{
		MessageId:    msg.UUID,
		PayloadBytes: msg.Payload,
		Envelope:     env,
		Ack:          func() { msg.Ack() },
		Nack:         func() { msg.Nack() },
	}
}

func (t *NATSTransport) Close() error {
	if t.subscriber != nil {
		if err := t.subscriber.Close(); err != nil {
			return err
		}
	}
	return t.publisher.Close()
}
