// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package config

import (
	"fmt"
	"runtime"
	"time"
)

// DeadLetterPolicy selects how a row that exhausted its retry budget is
// handled: left in place with a terminal flag, or moved to a dedicated
// dead-letter table.
type DeadLetterPolicy string

const (
	// DeadLetterMarkTerminal leaves the row in outbox/inbox with
	// Status=Failed and a terminal flag; it is excluded from claims.
	DeadLetterMarkTerminal DeadLetterPolicy = "mark_terminal"
	// DeadLetterMoveTable moves the row to outbox_dead_letter /
	// inbox_dead_letter.
	DeadLetterMoveTable DeadLetterPolicy = "move_table"
)

// StoreConfig tunes the Store's (C1) partitioning, leasing and claim
// behavior. Field names mirror the recognized options in spec.md §6.
type StoreConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string `koanf:"path"`

	PartitionCount           int              `koanf:"partition_count"`
	MaxPartitionsPerInstance int              `koanf:"max_partitions_per_instance"`
	LeaseSeconds             int              `koanf:"lease_seconds"`
	StaleThresholdSeconds    int              `koanf:"stale_threshold_seconds"`
	MaxClaimBatch            int              `koanf:"max_claim_batch"`
	MaxRetries               int              `koanf:"max_retries"`
	EventSuffix              string           `koanf:"event_suffix"`
	DeadLetterPolicy         DeadLetterPolicy `koanf:"dead_letter_policy"`
	DedupWindow              time.Duration    `koanf:"dedup_window"`

	// Backoff schedule applied to outbox/inbox retries: baseMs * factor^n,
	// jittered by +/-BackoffJitterPct percent.
	BackoffBaseMs      int     `koanf:"backoff_base_ms"`
	BackoffFactor      float64 `koanf:"backoff_factor"`
	BackoffJitterPct   float64 `koanf:"backoff_jitter_percent"`
	BackoffMaxDelaySec int     `koanf:"backoff_max_delay_seconds"`
}

// StrategyConfig tunes WorkCoordinatorStrategy (C3).
type StrategyConfig struct {
	Variant              string `koanf:"variant"` // immediate | scoped | interval
	FlushIntervalMs      int    `koanf:"flush_interval_ms"`
	FlushBatchThreshold  int    `koanf:"flush_batch_threshold"`
	DurableBufferEnabled bool   `koanf:"durable_buffer_enabled"`
	DurableBufferPath    string `koanf:"durable_buffer_path"`
}

// StreamProcessorConfig tunes OrderedStreamProcessor (C4).
type StreamProcessorConfig struct {
	MaxStreamParallelism int `koanf:"max_stream_parallelism"`
}

// WorkerConfig tunes PublisherWorker (C5) and ConsumerWorker (C6).
type WorkerConfig struct {
	IdleBackoffMs        int     `koanf:"idle_backoff_ms"`
	PublishRatePerSecond float64 `koanf:"publish_rate_per_second"`
	PublishBurst         int     `koanf:"publish_burst"`

	CircuitBreakerMaxRequests      uint32        `koanf:"circuit_breaker_max_requests"`
	CircuitBreakerInterval         time.Duration `koanf:"circuit_breaker_interval"`
	CircuitBreakerTimeout          time.Duration `koanf:"circuit_breaker_timeout"`
	CircuitBreakerFailureThreshold uint32        `koanf:"circuit_breaker_failure_threshold"`
}

// TransportConfig configures the NATS JetStream Transport.
type TransportConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	StreamName     string `koanf:"stream_name"`
	DurableName    string `koanf:"durable_name"`
	QueueGroup     string `koanf:"queue_group"`
	SubscribeSubject string `koanf:"subscribe_subject"`
}

// AdminAPIConfig configures the operator-facing HTTP surface.
type AdminAPIConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	JWTSecret       string        `koanf:"jwt_secret"`
	TokenTTL        time.Duration `koanf:"token_ttl"`
	RateLimitReqs   int           `koanf:"rate_limit_requests"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`

	// Operators maps operator name to its bcrypt-hashed API key and the
	// roles granted to it (see internal/adminapi's Casbin policy.csv for
	// the "viewer"/"operator" roles it recognizes).
	Operators map[string]OperatorConfig `koanf:"operators"`
}

// OperatorConfig is one entry of AdminAPIConfig.Operators.
type OperatorConfig struct {
	APIKeyHash string   `koanf:"api_key_hash"`
	Roles      []string `koanf:"roles"`
}

// Config is the root configuration object for a work coordinator host.
type Config struct {
	InstanceServiceName string `koanf:"instance_service_name"`

	Store     StoreConfig           `koanf:"store"`
	Strategy  StrategyConfig        `koanf:"strategy"`
	Stream    StreamProcessorConfig `koanf:"stream"`
	Worker    WorkerConfig          `koanf:"worker"`
	Transport TransportConfig       `koanf:"transport"`
	AdminAPI  AdminAPIConfig        `koanf:"admin_api"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// Default returns a Config populated with the defaults named in spec.md §6.
func Default() *Config {
	return &Config{
		InstanceServiceName: "workcoordinator",
		Store: StoreConfig{
			Path:                     "/data/workcoordinator.duckdb",
			PartitionCount:           10000,
			MaxPartitionsPerInstance: 100,
			LeaseSeconds:             300,
			StaleThresholdSeconds:    600,
			MaxClaimBatch:            100,
			MaxRetries:               8,
			EventSuffix:              "Event",
			DeadLetterPolicy:         DeadLetterMarkTerminal,
			DedupWindow:              7 * 24 * time.Hour,
			BackoffBaseMs:            500,
			BackoffFactor:            2,
			BackoffJitterPct:         20,
			BackoffMaxDelaySec:       300,
		},
		Strategy: StrategyConfig{
			Variant:              "interval",
			FlushIntervalMs:      100,
			FlushBatchThreshold:  256,
			DurableBufferEnabled: true,
			DurableBufferPath:    "/data/workcoordinator-strategy-wal",
		},
		Stream: StreamProcessorConfig{
			MaxStreamParallelism: runtime.NumCPU(),
		},
		Worker: WorkerConfig{
			IdleBackoffMs:                  100,
			PublishRatePerSecond:           500,
			PublishBurst:                   100,
			CircuitBreakerMaxRequests:      3,
			CircuitBreakerInterval:         30 * time.Second,
			CircuitBreakerTimeout:          10 * time.Second,
			CircuitBreakerFailureThreshold: 5,
		},
		Transport: TransportConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			StreamName:       "WORKCOORD_EVENTS",
			DurableName:      "workcoordinator",
			QueueGroup:       "workcoordinator",
			SubscribeSubject: "workcoordinator.>",
		},
		AdminAPI: AdminAPIConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8090,
			TokenTTL:        24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Validate checks the tuning bounds called out by WorkCoordinator (C2):
// partitionCount and leaseSeconds must be positive, maxPartitionsPerInstance
// must be at least 1.
func (c *Config) Validate() error {
	if c.Store.PartitionCount <= 0 {
		return fmt.Errorf("config: store.partition_count must be > 0, got %d", c.Store.PartitionCount)
	}
	if c.Store.MaxPartitionsPerInstance < 1 {
		return fmt.Errorf("config: store.max_partitions_per_instance must be >= 1, got %d", c.Store.MaxPartitionsPerInstance)
	}
	if c.Store.LeaseSeconds <= 0 {
		return fmt.Errorf("config: store.lease_seconds must be > 0, got %d", c.Store.LeaseSeconds)
	}
	if c.Store.MaxClaimBatch <= 0 {
		return fmt.Errorf("config: store.max_claim_batch must be > 0, got %d", c.Store.MaxClaimBatch)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("config: store.max_retries must be >= 0, got %d", c.Store.MaxRetries)
	}
	if c.Store.EventSuffix == "" {
		return fmt.Errorf("config: store.event_suffix must not be empty")
	}
	switch c.Store.DeadLetterPolicy {
	case DeadLetterMarkTerminal, DeadLetterMoveTable:
	default:
		return fmt.Errorf("config: store.dead_letter_policy %q is not one of mark_terminal, move_table", c.Store.DeadLetterPolicy)
	}
	switch c.Strategy.Variant {
	case "immediate", "scoped", "interval":
	default:
		return fmt.Errorf("config: strategy.variant %q is not one of immediate, scoped, interval", c.Strategy.Variant)
	}
	if c.Strategy.FlushIntervalMs <= 0 {
		return fmt.Errorf("config: strategy.flush_interval_ms must be > 0, got %d", c.Strategy.FlushIntervalMs)
	}
	if c.Stream.MaxStreamParallelism <= 0 {
		return fmt.Errorf("config: stream.max_stream_parallelism must be > 0, got %d", c.Stream.MaxStreamParallelism)
	}
	if c.AdminAPI.Enabled && len(c.AdminAPI.JWTSecret) < 32 {
		return fmt.Errorf("config: admin_api.jwt_secret must be at least 32 characters when admin_api.enabled=true")
	}
	return nil
}
