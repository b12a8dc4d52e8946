// Package reconciler merges freshly computed planned dates with previously
// persisted event instances.
//
// Reconciliation produces data, not errors: differences surface as Changed
// flags on the merged rows, and only an explicit save commits the result.
// The rules, in order per event: persisted manual overrides are sticky,
// executed events are frozen, and everything else follows the computation
// with a minute-truncated comparison deciding whether anything moved.
package reconciler

import (
	"time"

	"github.com/djlord-it/eventline/internal/domain"
	"github.com/djlord-it/eventline/internal/scheduler"
)

// SaveItem is the caller's per-event payload on save. Nil pointer fields
// mean "not supplied".
type SaveItem struct {
	EventCode string

	// IsActive overrides the rule engine's inclusion verdict for this event.
	IsActive       *bool
	PlannedDate    *time.Time
	ManualOverride *bool
	BaselineDate   *time.Time
	ActualDate     *time.Time
	Status         domain.EventStatus
	StatusReason   string
	Timezone       string
}

// NewManualValue reports whether the item explicitly supplies a new manual
// planned date, which is the only thing that unsticks an override or a
// frozen executed event.
func (it SaveItem) NewManualValue() bool {
	return it.ManualOverride != nil && *it.ManualOverride && it.PlannedDate != nil
}

// Input carries run-wide reconciliation state.
type Input struct {
	StartDate time.Time

	// ExecutionStarted is true once any sibling event of the parent has an
	// actual date, persisted or supplied; it freezes every baseline.
	ExecutionStarted bool

	// ProfileTimezone fills rows that carry no timezone of their own.
	ProfileTimezone string
}

// Row is one merged timeline row.
type Row struct {
	EventCode           string
	AnchorEventCode     string
	AnchorUsedEventCode string
	OffsetMinutes       int
	IsActive            bool

	PlannedDate      *time.Time
	SavedPlannedDate *time.Time
	ManualOverride   bool
	BaselineDate     *time.Time
	ActualDate       *time.Time

	Status       domain.EventStatus
	StatusReason string
	Timezone     string

	// Changed reports that the resolved planned date differs from the
	// persisted one after stickiness and freeze rules were applied.
	Changed bool
}

// ExecutionStarted scans persisted rows and payload items for any actual date.
func ExecutionStarted(persisted []domain.EventInstance, payload map[string]SaveItem) bool {
	for _, row := range persisted {
		if row.Executed() {
			return true
		}
	}
	for _, item := range payload {
		if item.ActualDate != nil {
			return true
		}
	}
	return false
}

// Reconcile merges computed events with persisted rows and the caller's
// payload. Every computed event yields exactly one row, in computation order.
func Reconcile(
	computed []scheduler.PlannedEvent,
	persisted []domain.EventInstance,
	payload map[string]SaveItem,
	in Input,
) []Row {
	existingByCode := make(map[string]domain.EventInstance, len(persisted))
	for _, row := range persisted {
		if _, ok := existingByCode[row.EventCode]; !ok {
			existingByCode[row.EventCode] = row
		}
	}

	out := make([]Row, 0, len(computed))
	for _, ev := range computed {
		existing, hasExisting := existingByCode[ev.EventCode]
		item, hasItem := payload[ev.EventCode]

		row := Row{
			EventCode:           ev.EventCode,
			AnchorEventCode:     ev.AnchorEventCode,
			AnchorUsedEventCode: ev.AnchorUsedEventCode,
			OffsetMinutes:       ev.OffsetMinutes,
			IsActive:            ev.IsActive,
		}
		if hasExisting {
			row.SavedPlannedDate = existing.PlannedDate
			row.ManualOverride = existing.ManualOverride
			row.ActualDate = existing.ActualDate
			row.StatusReason = existing.StatusReason
			row.Timezone = existing.Timezone
		}
		if hasItem {
			if item.ActualDate != nil {
				row.ActualDate = item.ActualDate
			}
			if item.StatusReason != "" {
				row.StatusReason = item.StatusReason
			}
			if item.Timezone != "" {
				row.Timezone = item.Timezone
			}
		}
		if row.Timezone == "" {
			row.Timezone = in.ProfileTimezone
		}
		if row.Timezone == "" {
			row.Timezone = "UTC"
		}

		newManual := hasItem && item.NewManualValue()

		switch {
		case newManual:
			row.PlannedDate = item.PlannedDate
			row.ManualOverride = true
			row.Changed = plannedDateChanged(existing.PlannedDate, item.PlannedDate)

		case hasExisting && existing.ManualOverride:
			// Sticky: a persisted manual plan survives recomputation.
			row.PlannedDate = existing.PlannedDate
			row.ManualOverride = true

		case hasExisting && existing.Executed():
			// Frozen: history must not move once an actual is reported.
			row.PlannedDate = existing.PlannedDate

		case hasExisting:
			if plannedDateChanged(existing.PlannedDate, ev.PlannedDate) {
				row.PlannedDate = ev.PlannedDate
				row.Changed = true
			} else {
				row.PlannedDate = existing.PlannedDate
			}

		default:
			row.PlannedDate = ev.PlannedDate
			row.Changed = ev.PlannedDate != nil
		}

		row.BaselineDate = resolveBaseline(row, existing, hasExisting, item, hasItem, in)
		row.Status = resolveStatus(item.Status, existing.Status, row.ActualDate)

		out = append(out, row)
	}

	return out
}

// resolveBaseline tracks the plan until execution starts, then freezes at
// the established value for every sibling.
func resolveBaseline(
	row Row,
	existing domain.EventInstance, hasExisting bool,
	item SaveItem, hasItem bool,
	in Input,
) *time.Time {
	if !in.ExecutionStarted {
		if row.PlannedDate != nil {
			return row.PlannedDate
		}
		start := in.StartDate
		return &start
	}

	if hasExisting && existing.BaselineDate != nil {
		return existing.BaselineDate
	}
	if hasItem && item.BaselineDate != nil {
		return item.BaselineDate
	}
	if row.PlannedDate != nil {
		return row.PlannedDate
	}
	start := in.StartDate
	return &start
}

// resolveStatus: a caller-supplied status always wins, then an actual date
// forces COMPLETED, then a valid persisted status survives.
func resolveStatus(supplied, persisted domain.EventStatus, actualDate *time.Time) domain.EventStatus {
	switch supplied {
	case domain.StatusPlanned, domain.StatusCompleted, domain.StatusDelayed:
		return supplied
	}
	if actualDate != nil {
		return domain.StatusCompleted
	}
	return domain.NormalizeStatus(persisted, nil)
}

// plannedDateChanged compares two planned dates truncated to the minute.
func plannedDateChanged(saved, recalculated *time.Time) bool {
	if saved == nil && recalculated == nil {
		return false
	}
	if saved == nil || recalculated == nil {
		return true
	}
	return !saved.Truncate(time.Minute).Equal(recalculated.Truncate(time.Minute))
}
