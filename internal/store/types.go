// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package store

import "time"

// MessageStatus mirrors MessageProcessingStatus: a bitset-compatible
// status for outbox/inbox rows.
type MessageStatus int

const (
	StatusStored MessageStatus = 1 << iota
	StatusPublished
	StatusCompleted
	StatusFailed
)

// RowStatus is the row-level lifecycle state, distinct from the
// bitset reply status used on completion/failure reports.
type RowStatus string

const (
	RowStored   RowStatus = "stored"
	RowClaimed  RowStatus = "claimed"
	RowFailed   RowStatus = "failed"
	RowReceived RowStatus = "received" // inbox-only initial state
)

// ReceptorStatus is the lifecycle of one (event, receptor) invocation.
type ReceptorStatus string

const (
	ReceptorInProgress ReceptorStatus = "in_progress"
	ReceptorCompleted  ReceptorStatus = "completed"
	ReceptorFailed     ReceptorStatus = "failed"
)

// PerspectiveStatus is the lifecycle of one (stream, perspective) checkpoint.
type PerspectiveStatus string

const (
	PerspectiveUpToDate PerspectiveStatus = "up_to_date"
	PerspectiveLagging  PerspectiveStatus = "lagging"
	PerspectiveFailed   PerspectiveStatus = "failed"
)

// Flags is the request-level tuning bitset.
type Flags uint32

const (
	// SkipClaim skips partition assignment and claim (step 11-12), useful
	// for a pure-flush call that only reports completions/failures.
	SkipClaim Flags = 1 << iota
)

// OutboxCompletion reports a successfully published outbox row for deletion.
type OutboxCompletion struct {
	MessageId string
}

// Failure reports a failed outbox or inbox row.
type Failure struct {
	MessageId string
	Reason    FailureReason
}

// ReceptorReport upserts a receptor_processing row.
type ReceptorReport struct {
	EventId       string
	ReceptorName  string
	Status        ReceptorStatus
	LastError     string
}

// PerspectiveReport upserts a perspective_checkpoints row.
type PerspectiveReport struct {
	StreamId          string
	PerspectiveName   string
	LastEventId       string
	LastSequenceNumber int64
	Status            PerspectiveStatus
	LastError         string
}

// NewOutboxMessage describes a message to enqueue on the outbox.
type NewOutboxMessage struct {
	MessageId     string
	CorrelationId string
	CausationId   string
	MessageType   string
	StreamId      string
	Topic         string
	PayloadBytes  []byte
	IsEvent       bool
}

// NewInboxMessage describes an externally received message to dedup
// through the inbox.
type NewInboxMessage struct {
	MessageId     string
	CorrelationId string
	CausationId   string
	MessageType   string
	StreamId      string
	SourceTopic   string
	PayloadBytes  []byte
}

// OutboxRow is a claimed or persisted outbox row, as returned by
// ProcessWorkBatch.
type OutboxRow struct {
	MessageId       string
	CorrelationId   string
	CausationId     string
	MessageType     string
	StreamId        string
	PartitionNumber int
	SequenceOrder   int64
	Topic           string
	PayloadBytes    []byte
	Status          RowStatus
	InstanceId      string
	LeaseExpiry     time.Time
	RetryCount      int
	LastError       string
	CreatedAt       time.Time
}

// InboxRow is a claimed or persisted inbox row.
type InboxRow struct {
	MessageId       string
	CorrelationId   string
	CausationId     string
	MessageType     string
	StreamId        string
	PartitionNumber int
	SequenceOrder   int64
	SourceTopic     string
	PayloadBytes    []byte
	Status          RowStatus
	InstanceId      string
	LeaseExpiry     time.Time
	RetryCount      int
	LastError       string
	ReceivedAt      time.Time
}

// Request is the process_work_batch input: instance identity, batches of
// completions/failures, new messages, lease renewals, and per-call
// tuning overrides.
type Request struct {
	InstanceId  string
	ServiceName string
	HostName    string
	ProcessId   int32
	Metadata    map[string]any

	OutboxCompletions []OutboxCompletion
	OutboxFailures    []Failure
	InboxCompletions  []OutboxCompletion
	InboxFailures     []Failure

	ReceptorCompletions    []ReceptorReport
	ReceptorFailures       []ReceptorReport
	PerspectiveCompletions []PerspectiveReport
	PerspectiveFailures    []PerspectiveReport

	NewOutboxMessages []NewOutboxMessage
	NewInboxMessages  []NewInboxMessage

	RenewOutboxLeaseIds []string
	RenewInboxLeaseIds  []string

	Flags Flags

	// Per-call overrides; zero value means "use the Store's configured
	// default" (see Tuning in store.go).
	PartitionCount           int
	MaxPartitionsPerInstance int
	LeaseSeconds             int
	StaleThresholdSeconds    int
	MaxClaimBatch            int
}

// Response is the process_work_batch output.
type Response struct {
	ClaimedOutboxMessages []OutboxRow
	ClaimedInboxMessages  []InboxRow
	AssignedPartitions    []int
}
