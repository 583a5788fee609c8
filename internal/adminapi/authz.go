// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package adminapi

import (
	"bufio"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Enforcer wraps a Casbin synced enforcer over the admin API's RBAC
// model: two roles, viewer (read) and operator (read and mutate),
// checked against path-matched objects.
type Enforcer struct {
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads the embedded RBAC model and policy.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("adminapi: load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("adminapi: create casbin enforcer: %w", err)
	}
	if err := loadEmbeddedPolicy(e); err != nil {
		return nil, err
	}
	return &Enforcer{enforcer: e}, nil
}

// loadEmbeddedPolicy parses embeddedPolicy's "p, ..." and "g, ..." lines
// directly into e, since there is no file on disk for a file-adapter to
// read from.
func loadEmbeddedPolicy(e *casbin.SyncedEnforcer) error {
	scanner := bufio.NewScanner(strings.NewReader(embeddedPolicy))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		switch fields[0] {
		case "p":
			if _, err := e.AddPolicy(toAny(fields[1:])...); err != nil {
				return fmt.Errorf("adminapi: add policy %q: %w", line, err)
			}
		case "g":
			if _, err := e.AddGroupingPolicy(toAny(fields[1:])...); err != nil {
				return fmt.Errorf("adminapi: add grouping policy %q: %w", line, err)
			}
		default:
			return fmt.Errorf("adminapi: unrecognized policy line %q", line)
		}
	}
	return scanner.Err()
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Allow reports whether any of subjectRoles is permitted act on object,
// by OR-ing Casbin's per-role decision (a caller with several roles is
// authorized if any role grants the permission).
func (e *Enforcer) Allow(subjectRoles []string, object, act string) (bool, error) {
	for _, role := range subjectRoles {
		ok, err := e.enforcer.Enforce(role, object, act)
		if err != nil {
			return false, fmt.Errorf("adminapi: enforce(%s,%s,%s): %w", role, object, act, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
