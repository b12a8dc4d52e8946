package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	StatusPlanned   EventStatus = "PLANNED"
	StatusCompleted EventStatus = "COMPLETED"
	StatusDelayed   EventStatus = "DELAYED"
)

// NormalizeStatus derives the effective status: an explicit valid status
// wins, otherwise COMPLETED when an actual date exists, else PLANNED.
func NormalizeStatus(s EventStatus, actualDate *time.Time) EventStatus {
	switch s {
	case StatusPlanned, StatusCompleted, StatusDelayed:
		return s
	}
	if actualDate != nil {
		return StatusCompleted
	}
	return StatusPlanned
}

// EventInstance is one persisted timeline row for a parent document.
// Rows are unique per (parent, event_code) and replaced wholesale on save.
type EventInstance struct {
	ID uuid.UUID

	ParentType   ParentType
	ParentID     int64
	ParentNumber string

	// Snapshot of the profile that produced the row.
	ProfileID      int64
	ProfileVersion int

	EventCode string

	BaselineDate *time.Time
	PlannedDate  *time.Time
	ActualDate   *time.Time

	// ManualOverride marks PlannedDate as user-supplied; it survives
	// automatic recomputation until the user enters a new value.
	ManualOverride bool

	Status       EventStatus
	StatusReason string
	Timezone     string

	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	UpdatedBy string
}

// Executed reports whether the event has an actual date.
func (i EventInstance) Executed() bool {
	return i.ActualDate != nil
}
