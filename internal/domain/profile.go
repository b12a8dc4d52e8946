package domain

import "time"

// EventProfile names a set of milestone events wired together as
// anchor/offset dependencies. ProfileVersion is bumped on every edge
// mutation and acts as a coarse optimistic token.
type EventProfile struct {
	ID          int64
	Name        string
	Description string

	ProfileVersion int

	EffectiveFrom *time.Time
	EffectiveTo   *time.Time
	Timezone      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveAt reports whether the profile window covers t.
// A nil bound is open-ended.
func (p EventProfile) EffectiveAt(t time.Time) bool {
	if p.EffectiveFrom != nil && t.Before(*p.EffectiveFrom) {
		return false
	}
	if p.EffectiveTo != nil && t.After(*p.EffectiveTo) {
		return false
	}
	return true
}

// ProfileEvent is one edge of a profile's dependency forest: the event,
// its optional anchor within the same profile, and the signed offset in
// minutes applied to the anchor's resolved date. A nil anchor means the
// event is rooted on the run's start date.
type ProfileEvent struct {
	ID        int64
	ProfileID int64

	EventCode       string
	AnchorEventCode *string
	OffsetMinutes   int
	Sequence        int
	IsMandatory     bool

	// InclusionRuleID references an externally evaluated boolean predicate.
	// Nil means the event is unconditionally active.
	InclusionRuleID *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Anchor returns the anchor event code, or "" for a root event.
func (e ProfileEvent) Anchor() string {
	if e.AnchorEventCode == nil {
		return ""
	}
	return *e.AnchorEventCode
}
