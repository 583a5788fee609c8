// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a config file is searched for,
// in order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/workcoordinator/config.yaml",
	"/etc/workcoordinator/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix is stripped from environment variable names before they are
// mapped onto koanf dotted paths, e.g. WORKCOORD_STORE_LEASE_SECONDS ->
// store.lease_seconds.
const envPrefix = "WORKCOORD_"

// Load assembles a Config from defaults, an optional YAML file, and
// environment variables, in that priority order, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if err := splitCommaSeparated(k, "admin_api.cors_origins"); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitCommaSeparated rewrites a path's string value into a []string when
// it arrived as a comma-separated environment variable rather than a YAML
// sequence.
func splitCommaSeparated(k *koanf.Koanf, path string) error {
	val := k.Get(path)
	switch val.(type) {
	case nil, []interface{}, []string:
		return nil
	}
	strVal, ok := val.(string)
	if !ok || strVal == "" {
		return nil
	}
	parts := strings.Split(strVal, ",")
	trimmed := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			trimmed = append(trimmed, p)
		}
	}
	if len(trimmed) == 0 {
		return nil
	}
	return k.Set(path, trimmed)
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envFieldMappings maps the trailing, lower-cased portion of an environment
// variable name (after envPrefix is stripped) to its koanf dotted path.
// Explicit per-field mapping, rather than a blanket underscore-to-dot
// rewrite, is required because leaf field names are themselves
// underscore_separated (e.g. "lease_seconds").
var envFieldMappings = map[string]string{
	"instance_service_name": "instance_service_name",

	"store_path":                        "store.path",
	"store_partition_count":             "store.partition_count",
	"store_max_partitions_per_instance": "store.max_partitions_per_instance",
	"store_lease_seconds":               "store.lease_seconds",
	"store_stale_threshold_seconds":     "store.stale_threshold_seconds",
	"store_max_claim_batch":             "store.max_claim_batch",
	"store_max_retries":                 "store.max_retries",
	"store_event_suffix":                "store.event_suffix",
	"store_dead_letter_policy":          "store.dead_letter_policy",
	"store_dedup_window":                "store.dedup_window",
	"store_backoff_base_ms":             "store.backoff_base_ms",
	"store_backoff_factor":              "store.backoff_factor",
	"store_backoff_jitter_percent":      "store.backoff_jitter_percent",
	"store_backoff_max_delay_seconds":   "store.backoff_max_delay_seconds",

	"strategy_variant":                "strategy.variant",
	"strategy_flush_interval_ms":      "strategy.flush_interval_ms",
	"strategy_flush_batch_threshold":  "strategy.flush_batch_threshold",
	"strategy_durable_buffer_enabled": "strategy.durable_buffer_enabled",
	"strategy_durable_buffer_path":    "strategy.durable_buffer_path",

	"stream_max_stream_parallelism": "stream.max_stream_parallelism",

	"worker_idle_backoff_ms":                    "worker.idle_backoff_ms",
	"worker_publish_rate_per_second":             "worker.publish_rate_per_second",
	"worker_publish_burst":                       "worker.publish_burst",
	"worker_circuit_breaker_max_requests":        "worker.circuit_breaker_max_requests",
	"worker_circuit_breaker_interval":            "worker.circuit_breaker_interval",
	"worker_circuit_breaker_timeout":             "worker.circuit_breaker_timeout",
	"worker_circuit_breaker_failure_threshold":   "worker.circuit_breaker_failure_threshold",

	"transport_enabled":         "transport.enabled",
	"transport_url":             "transport.url",
	"transport_embedded_server": "transport.embedded_server",
	"transport_store_dir":       "transport.store_dir",
	"transport_stream_name":     "transport.stream_name",
	"transport_durable_name":    "transport.durable_name",
	"transport_queue_group":     "transport.queue_group",

	"admin_api_enabled":           "admin_api.enabled",
	"admin_api_host":              "admin_api.host",
	"admin_api_port":              "admin_api.port",
	"admin_api_jwt_secret":        "admin_api.jwt_secret",
	"admin_api_token_ttl":         "admin_api.token_ttl",
	"admin_api_rate_limit_requests": "admin_api.rate_limit_requests",
	"admin_api_rate_limit_window":  "admin_api.rate_limit_window",
	"admin_api_cors_origins":       "admin_api.cors_origins",

	"log_level":  "log_level",
	"log_format": "log_format",
}

// envTransformFunc maps WORKCOORD_-prefixed environment variable names onto
// koanf dotted config paths, e.g. WORKCOORD_STORE_LEASE_SECONDS ->
// store.lease_seconds.
func envTransformFunc(key string) string {
	lower := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	if mapped, ok := envFieldMappings[lower]; ok {
		return mapped
	}
	return lower
}
