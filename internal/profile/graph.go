// Package profile models a profile's dependency edges as a parent-pointer
// forest and validates mutations against it.
//
// Each event has at most one anchor, so the edge set is indexed by event
// code; the index is the sole owner of the structure and no node references
// another directly.
package profile

import (
	"sort"
	"strings"

	"github.com/djlord-it/eventline/internal/domain"
)

// Graph indexes a single profile's edges by event code.
type Graph struct {
	edges map[string]domain.ProfileEvent
}

// NewGraph builds the index from a profile's edge rows. Later duplicates
// are ignored; the store's unique constraint prevents them from existing.
func NewGraph(edges []domain.ProfileEvent) *Graph {
	idx := make(map[string]domain.ProfileEvent, len(edges))
	for _, e := range edges {
		code := strings.TrimSpace(e.EventCode)
		if code == "" {
			continue
		}
		if _, ok := idx[code]; ok {
			continue
		}
		e.EventCode = code
		idx[code] = e
	}
	return &Graph{edges: idx}
}

// Lookup returns the edge for an event code.
func (g *Graph) Lookup(eventCode string) (domain.ProfileEvent, bool) {
	e, ok := g.edges[eventCode]
	return e, ok
}

// Len returns the number of indexed events.
func (g *Graph) Len() int {
	return len(g.edges)
}

// Ordered returns the edges sorted by sequence, then event code.
func (g *Graph) Ordered() []domain.ProfileEvent {
	out := make([]domain.ProfileEvent, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].EventCode < out[j].EventCode
	})
	return out
}
