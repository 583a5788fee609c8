// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

/*
Package config loads the work coordinator's tuning parameters.

Values are assembled through a layered koanf pipeline in priority order:

 1. Built-in defaults (Default()).
 2. An optional YAML file (config.yaml, config.yml, or $CONFIG_PATH).
 3. Environment variables prefixed WORKCOORD_ (highest priority).

# Usage

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}
	st, err := store.Open(ctx, cfg.Store.Path, store.TuningFromConfig(&cfg.Store), sink)

The returned Config is immutable after Load returns and is safe for
concurrent reads from multiple goroutines.
*/
package config
