// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

// Package streamproc implements OrderedStreamProcessor: it groups a
// claimed batch by StreamId, processes the streams concurrently up to
// a bounded parallelism, but processes every stream's own messages one
// at a time and in SequenceOrder, so a handler never sees message N+1
// of a stream before message N has finished.
package streamproc

import (
	"context"
	"sort"
	"sync"
)

// Item is the minimal shape OrderedStreamProcessor needs from a claimed
// outbox or inbox row. Callers adapt store.OutboxRow/store.InboxRow into
// this before calling Process.
type Item struct {
	MessageId     string
	StreamId      string
	SequenceOrder int64
	Payload       any
}

// Outcome reports what happened to one Item.
type Outcome struct {
	Item Item
	Err  error
}

// Handler processes a single Item. A non-nil error aborts the rest of
// that Item's stream group for this batch; sibling streams are
// unaffected.
type Handler func(ctx context.Context, item Item) error

// Processor bounds how many distinct streams are handled concurrently.
type Processor struct {
	maxParallelism int
}

// New constructs a Processor. maxParallelism <= 0 defaults to 1
// (fully sequential), matching the spec's safe default when the
// configured CPU-count-derived value is unavailable.
func New(maxParallelism int) *Processor {
	if maxParallelism <= 0 {
		maxParallelism = 1
	}
	return &Processor{maxParallelism: maxParallelism}
}

// Process groups items by StreamId, sorts each group by SequenceOrder
// (ties broken by MessageId lexicographic order), and runs the groups
// through a bounded worker pool. Within a group, items run strictly in
// order: a failure aborts the remainder of that group, reported with
// ctx.Err() if the failure was due to cancellation, and the handler's
// error otherwise. Other groups continue unaffected. The returned
// slice has one Outcome per input Item; items that never ran because an earlier sibling in their group failed
// are reported with the aborting error and are not re-attempted.
func (p *Processor) Process(ctx context.Context, items []Item, handle Handler) []Outcome {
	groups := groupByStream(items)

	results := make([]Outcome, 0, len(items))
	var mu sync.Mutex
	sem := make(chan struct{}, p.maxParallelism)
	var wg sync.WaitGroup

	for _, group := range groups {
		group := group
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			out := processGroup(ctx, group, handle)
			mu.Lock()
			results = append(results, out...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func processGroup(ctx context.Context, group []Item, handle Handler) []Outcome {
	out := make([]Outcome, 0, len(group))
	aborted := false
	var abortErr error

	for _, item := range group {
		if aborted {
			out = append(out, Outcome{Item: item, Err: abortErr})
			continue
		}
		select {
		case <-ctx.Done():
			aborted = true
			abortErr = ctx.Err()
			out = append(out, Outcome{Item: item, Err: abortErr})
			continue
		default:
		}

		err := handle(ctx, item)
		out = append(out, Outcome{Item: item, Err: err})
		if err != nil {
			aborted = true
			abortErr = err
		}
	}
	return out
}

func groupByStream(items []Item) [][]Item {
	byStream := make(map[string][]Item)
	order := make([]string, 0)
	for _, item := range items {
		if _, ok := byStream[item.StreamId]; !ok {
			order = append(order, item.StreamId)
		}
		byStream[item.StreamId] = append(byStream[item.StreamId], item)
	}

	groups := make([][]Item, 0, len(order))
	for _, streamId := range order {
		group := byStream[streamId]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].SequenceOrder != group[j].SequenceOrder {
				return group[i].SequenceOrder < group[j].SequenceOrder
			}
			return group[i].MessageId < group[j].MessageId
		})
		groups = append(groups, group)
	}
	return groups
}
