package api

import "time"

// TimelineRequest is the shared body of the dry-run, preview, and save
// endpoints.
type TimelineRequest struct {
	ParentType string     `json:"parent_type"`
	ParentID   int64      `json:"parent_id"`
	StartDate  *time.Time `json:"start_date,omitempty"`

	// Profile selection. An explicit id wins over rule resolution.
	ProfileID       int64  `json:"profile_id,omitempty"`
	ProfileRuleSlug string `json:"profile_rule_slug,omitempty"`

	// RuleContext is forwarded unchanged to the decision engine.
	RuleContext map[string]any `json:"rule_context,omitempty"`

	// Recalculate defaults to true; false keeps persisted planned dates.
	Recalculate *bool `json:"recalculate,omitempty"`

	Items []TimelineItemRequest `json:"items,omitempty"`
}

// TimelineItemRequest overrides one event on preview or save.
type TimelineItemRequest struct {
	EventCode      string     `json:"event_code"`
	IsActive       *bool      `json:"is_active,omitempty"`
	PlannedDate    *time.Time `json:"planned_date,omitempty"`
	ManualOverride *bool      `json:"planned_date_manual_override,omitempty"`
	BaselineDate   *time.Time `json:"baseline_date,omitempty"`
	ActualDate     *time.Time `json:"actual_date,omitempty"`
	Status         string     `json:"status,omitempty"`
	StatusReason   string     `json:"status_reason,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`
}

// ProfileRequest creates or patches an event profile.
type ProfileRequest struct {
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	Timezone      string     `json:"timezone,omitempty"`
}

type ProfileResponse struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	ProfileVersion int    `json:"profile_version"`
	EffectiveFrom  string `json:"effective_from,omitempty"`
	EffectiveTo    string `json:"effective_to,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type ListProfilesResponse struct {
	Profiles []ProfileResponse `json:"profiles"`
}

// ProfileEventRequest creates or patches one anchor/offset edge.
type ProfileEventRequest struct {
	EventCode       string `json:"event_code"`
	AnchorEventCode string `json:"anchor_event_code,omitempty"`
	OffsetMinutes   int    `json:"offset_minutes"`
	Sequence        int    `json:"sequence"`
	IsMandatory     bool   `json:"is_mandatory"`
	InclusionRuleID string `json:"inclusion_rule_id,omitempty"`
}

type ProfileEventResponse struct {
	ID              int64  `json:"id"`
	ProfileID       int64  `json:"profile_id"`
	EventCode       string `json:"event_code"`
	AnchorEventCode string `json:"anchor_event_code,omitempty"`
	OffsetMinutes   int    `json:"offset_minutes"`
	Sequence        int    `json:"sequence"`
	IsMandatory     bool   `json:"is_mandatory"`
	InclusionRuleID string `json:"inclusion_rule_id,omitempty"`
	ProfileVersion  int    `json:"profile_version,omitempty"`
}

type ListProfileEventsResponse struct {
	ProfileID int64                  `json:"profile_id"`
	Events    []ProfileEventResponse `json:"events"`
}

type InstanceResponse struct {
	ID             string `json:"id"`
	EventCode      string `json:"event_code"`
	ProfileID      int64  `json:"profile_id"`
	ProfileVersion int    `json:"profile_version"`
	BaselineDate   string `json:"baseline_date,omitempty"`
	PlannedDate    string `json:"planned_date,omitempty"`
	ActualDate     string `json:"actual_date,omitempty"`
	ManualOverride bool   `json:"planned_date_manual_override"`
	Status         string `json:"status"`
	StatusReason   string `json:"status_reason,omitempty"`
	Timezone       string `json:"timezone"`
	UpdatedAt      string `json:"updated_at"`
	UpdatedBy      string `json:"updated_by,omitempty"`
}

type ListInstancesResponse struct {
	ParentType string             `json:"parent_type"`
	ParentID   int64              `json:"parent_id"`
	Events     []InstanceResponse `json:"events"`
}

// LockErrorResponse is the 409 body for document lock rejections.
type LockErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	LockedBy  string `json:"locked_by,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
