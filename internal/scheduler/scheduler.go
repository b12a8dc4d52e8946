// Package scheduler computes planned dates for a profile's events from
// anchor/offset edges, a start date, and optional fixed dates.
//
// Compute is a pure function: it reads nothing but its arguments and never
// writes anywhere. Callers resolve inclusion rules up front and pass the
// activity map in, which keeps two identical calls byte-for-byte identical.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/eventline/internal/domain"
	"github.com/djlord-it/eventline/internal/profile"
)

// ErrCycleDetected is a defensive guard: the dependency validator rejects
// cyclic edges at write time, so hitting this means the stored edge set is
// corrupt. It is not a recovery path.
var ErrCycleDetected = errors.New("cyclic dependency detected while resolving anchors")

// PlannedEvent is one row of a dry-run result.
type PlannedEvent struct {
	EventCode       string
	AnchorEventCode string // "" for a root event

	// AnchorUsedEventCode is the active ancestor the date was actually
	// resolved against; it differs from AnchorEventCode when inactive
	// ancestors were skipped. Reported even for fixed dates.
	AnchorUsedEventCode string

	OffsetMinutes int
	PlannedDate   *time.Time // nil when the event is inactive
	IsActive      bool
}

type resolved struct {
	date       time.Time
	anchorUsed string
}

type run struct {
	graph  *profile.Graph
	start  time.Time
	fixed  map[string]time.Time
	active map[string]bool
	memo   map[string]resolved
}

// Compute resolves planned dates for every edge.
//
// fixed maps event codes to dates used as-is (already-executed or sticky
// manual dates); active maps event codes to their inclusion verdict, with
// absent codes treated as active. Inactive events report a nil planned date
// and are skipped when serving as anchors. A root or exhausted anchor chain
// resolves to start. Output is ordered by sequence, then event code;
// sequence never affects the date math.
func Compute(
	edges []domain.ProfileEvent,
	start time.Time,
	fixed map[string]time.Time,
	active map[string]bool,
) ([]PlannedEvent, error) {
	r := &run{
		graph:  profile.NewGraph(edges),
		start:  start,
		fixed:  fixed,
		active: active,
	}
	r.memo = make(map[string]resolved, r.graph.Len())

	ordered := r.graph.Ordered()
	out := make([]PlannedEvent, 0, len(ordered))
	for _, node := range ordered {
		item := PlannedEvent{
			EventCode:       node.EventCode,
			AnchorEventCode: node.Anchor(),
			OffsetMinutes:   node.OffsetMinutes,
			IsActive:        r.isActive(node.EventCode),
		}

		if item.IsActive {
			res, err := r.resolve(node.EventCode)
			if err != nil {
				return nil, err
			}
			date := res.date
			item.PlannedDate = &date
			item.AnchorUsedEventCode = res.anchorUsed
		}

		out = append(out, item)
	}

	return out, nil
}

func (r *run) isActive(code string) bool {
	v, ok := r.active[code]
	return !ok || v
}

// firstActiveAnchor climbs the anchor chain starting at from, skipping
// inactive events. It returns "" when the chain is rooted or exhausted,
// meaning the caller falls back to the start date. walked carries the
// per-walk trail for the defensive cycle check.
func (r *run) firstActiveAnchor(from string, walked map[string]bool) (string, error) {
	current := from
	for current != "" {
		if walked[current] {
			return "", fmt.Errorf("%w: repeated %q", ErrCycleDetected, current)
		}
		walked[current] = true

		node, ok := r.graph.Lookup(current)
		if !ok {
			// Anchor not in the profile map: fall back to the start boundary.
			return "", nil
		}
		if r.isActive(current) {
			return current, nil
		}
		current = node.Anchor()
	}
	return "", nil
}

// resolve computes the planned date of one event with an explicit stack
// instead of recursion. onStack doubles as the cross-event trail: needing
// an anchor that is already pending means the edge set is cyclic.
func (r *run) resolve(code string) (resolved, error) {
	stack := []string{code}
	onStack := map[string]bool{code: true}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		if _, done := r.memo[current]; done {
			stack = stack[:len(stack)-1]
			delete(onStack, current)
			continue
		}

		node, ok := r.graph.Lookup(current)
		if !ok {
			r.memo[current] = resolved{date: r.start}
			continue
		}

		walked := make(map[string]bool, len(onStack))
		for k := range onStack {
			walked[k] = true
		}
		delete(walked, current)

		anchor, err := r.firstActiveAnchor(node.Anchor(), walked)
		if err != nil {
			return resolved{}, err
		}

		if fixedDate, isFixed := r.fixed[current]; isFixed {
			// Fixed dates are never recomputed; the anchor is still
			// reported for observability.
			r.memo[current] = resolved{date: fixedDate, anchorUsed: anchor}
			continue
		}

		if anchor == "" {
			r.memo[current] = resolved{
				date: r.start.Add(time.Duration(node.OffsetMinutes) * time.Minute),
			}
			continue
		}

		dep, done := r.memo[anchor]
		if !done {
			if onStack[anchor] {
				return resolved{}, fmt.Errorf("%w: pending %q", ErrCycleDetected, anchor)
			}
			stack = append(stack, anchor)
			onStack[anchor] = true
			continue
		}

		r.memo[current] = resolved{
			date:       dep.date.Add(time.Duration(node.OffsetMinutes) * time.Minute),
			anchorUsed: anchor,
		}
	}

	return r.memo[code], nil
}
