// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// MessageLogger provides structured logging for the outbox/inbox
// message lifecycle: receive, publish, dedup, flush, dead-letter.
// PublisherWorker and ConsumerWorker use it instead of calling Ctx(ctx)
// directly so every message-lifecycle log line carries the same field
// names regardless of which worker emits it.
type MessageLogger struct {
	logger zerolog.Logger
}

// NewMessageLogger creates a logger configured for message-lifecycle
// events. If no logger is given, uses the global logger with a
// component field identifying the worker.
func NewMessageLogger() *MessageLogger {
	return &MessageLogger{
		logger: With().Str("component", "worker").Logger(),
	}
}

// NewMessageLoggerWithLogger creates a MessageLogger with a custom logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value (copy-on-write semantics)
func NewMessageLoggerWithLogger(logger zerolog.Logger) *MessageLogger {
	return &MessageLogger{
		logger: logger.With().Str("component", "worker").Logger(),
	}
}

// WithFields returns a new MessageLogger with additional default fields.
func (e *MessageLogger) WithFields(fields map[string]interface{}) *MessageLogger {
	ctx := e.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &MessageLogger{logger: ctx.Logger()}
}

// Debug logs a debug message.
func (e *MessageLogger) Debug(msg string, fields ...interface{}) {
	event := e.logger.Debug()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Info logs an info message.
func (e *MessageLogger) Info(msg string, fields ...interface{}) {
	event := e.logger.Info()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Warn logs a warning message.
func (e *MessageLogger) Warn(msg string, fields ...interface{}) {
	event := e.logger.Warn()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// Error logs an error message.
func (e *MessageLogger) Error(msg string, fields ...interface{}) {
	event := e.logger.Error()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// DebugContext logs a debug message with context (for correlation ID).
func (e *MessageLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := e.loggerWithContext(ctx)
	event := logger.Debug()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// InfoContext logs an info message with context.
func (e *MessageLogger) InfoContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := e.loggerWithContext(ctx)
	event := logger.Info()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// WarnContext logs a warning message with context.
func (e *MessageLogger) WarnContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := e.loggerWithContext(ctx)
	event := logger.Warn()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// ErrorContext logs an error message with context.
func (e *MessageLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {
	logger := e.loggerWithContext(ctx)
	event := logger.Error()
	event = addFieldPairs(event, fields)
	event.Msg(msg)
}

// loggerWithContext returns a logger with context fields added.
func (e *MessageLogger) loggerWithContext(ctx context.Context) zerolog.Logger {
	logCtx := e.logger.With()

	if correlationID := CorrelationIDFromContext(ctx); correlationID != "" {
		logCtx = logCtx.Str("correlation_id", correlationID)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}

	return logCtx.Logger()
}

// ============================================================
// Message-lifecycle logging methods
// ============================================================

// LogMessageReceived logs when a message is received off a transport subscription.
func (e *MessageLogger) LogMessageReceived(ctx context.Context, messageId, topic, messageType string) {
	e.InfoContext(ctx, "message received",
		"message_id", messageId,
		"topic", topic,
		"message_type", messageType,
	)
}

// LogMessageProcessed logs when a message is durably stored and acked.
func (e *MessageLogger) LogMessageProcessed(ctx context.Context, messageId string, durationMs int64) {
	e.InfoContext(ctx, "message processed",
		"message_id", messageId,
		"duration_ms", durationMs,
	)
}

// LogMessageFailed logs when message processing fails.
func (e *MessageLogger) LogMessageFailed(ctx context.Context, messageId string, err error) {
	logger := e.loggerWithContext(ctx)
	event := logger.Error().
		Str("message_id", messageId).
		Err(err)
	event.Msg("message processing failed")
}

// LogDuplicate logs when the in-process dedup cache skips a redelivered message.
func (e *MessageLogger) LogDuplicate(ctx context.Context, messageId, reason string) {
	e.DebugContext(ctx, "duplicate message skipped",
		"message_id", messageId,
		"reason", reason,
	)
}

// LogDeadLetter logs when a message is moved to the dead-letter state.
func (e *MessageLogger) LogDeadLetter(ctx context.Context, messageId string, err error, retryCount int) {
	logger := e.loggerWithContext(ctx)
	event := logger.Warn().
		Str("message_id", messageId).
		Err(err).
		Int("retry_count", retryCount)
	event.Msg("message dead-lettered")
}

// LogBatchFlush logs batch flush operations.
func (e *MessageLogger) LogBatchFlush(ctx context.Context, count int, durationMs int64) {
	e.InfoContext(ctx, "batch flush completed",
		"message_count", count,
		"duration_ms", durationMs,
	)
}

// LogMessagePublished logs when a message is published to the transport.
func (e *MessageLogger) LogMessagePublished(ctx context.Context, messageId, topic string) {
	e.DebugContext(ctx, "message published",
		"message_id", messageId,
		"topic", topic,
	)
}

// LogSubscriptionStarted logs when a subscription is started.
func (e *MessageLogger) LogSubscriptionStarted(topic, queue string) {
	e.Info("subscription started",
		"topic", topic,
		"queue", queue,
	)
}

// LogSubscriptionStopped logs when a subscription is stopped.
func (e *MessageLogger) LogSubscriptionStopped(topic string) {
	e.Info("subscription stopped",
		"topic", topic,
	)
}
