package profile

import (
	"errors"
	"strings"

	"github.com/djlord-it/eventline/internal/domain"
)

var (
	ErrSelfReference        = errors.New("anchor event code cannot match event code")
	ErrAnchorOutsideProfile = errors.New("anchor event code must reference an event in the same profile")
	ErrCycleDetected        = errors.New("cyclic dependency detected in profile events")
	ErrDuplicateEvent       = errors.New("event code already mapped in profile")
)

// Validate checks a candidate edge against the profile's current edge set.
//
// excludeID removes the edge being replaced before the candidate is
// inserted; pass 0 for a create. The walk follows anchor pointers from
// every node with a per-walk trail, so any repeat within one walk is a
// cycle regardless of where the candidate lands.
func Validate(edges []domain.ProfileEvent, candidate domain.ProfileEvent, excludeID int64) error {
	code := strings.TrimSpace(candidate.EventCode)
	anchor := strings.TrimSpace(candidate.Anchor())

	if anchor != "" && anchor == code {
		return ErrSelfReference
	}

	anchors := make(map[string]string, len(edges)+1)
	for _, e := range edges {
		if excludeID != 0 && e.ID == excludeID {
			continue
		}
		if e.EventCode == code {
			return ErrDuplicateEvent
		}
		anchors[e.EventCode] = e.Anchor()
	}
	anchors[code] = anchor

	if anchor != "" {
		if _, ok := anchors[anchor]; !ok {
			return ErrAnchorOutsideProfile
		}
	}

	visited := make(map[string]bool, len(anchors))
	for node := range anchors {
		if visited[node] {
			continue
		}
		trail := make(map[string]bool)
		for current := node; current != ""; current = anchors[current] {
			if trail[current] {
				return ErrCycleDetected
			}
			trail[current] = true
			if _, ok := anchors[current]; !ok {
				break
			}
		}
		for n := range trail {
			visited[n] = true
		}
	}

	return nil
}
