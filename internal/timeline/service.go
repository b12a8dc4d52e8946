// Package timeline orchestrates profile resolution, dry-run computation,
// reconciliation, and persistence for one parent document at a time.
package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/djlord-it/eventline/internal/analytics"
	"github.com/djlord-it/eventline/internal/domain"
	"github.com/djlord-it/eventline/internal/lock"
	"github.com/djlord-it/eventline/internal/metrics"
	"github.com/djlord-it/eventline/internal/reconciler"
	"github.com/djlord-it/eventline/internal/rules"
	"github.com/djlord-it/eventline/internal/scheduler"
)

var (
	// ErrParentNotFound means the purchase order or shipment does not exist
	// and the caller supplied no start date to compute against.
	ErrParentNotFound = errors.New("parent document not found")

	// ErrProfileNotEffective means the resolved profile's validity window
	// does not cover the computation start date.
	ErrProfileNotEffective = errors.New("event profile not effective at start date")

	// ErrNoEvents means the resolved profile has no event edges to compute.
	ErrNoEvents = errors.New("event profile has no events")
)

// Store is the persistence surface the service needs.
type Store interface {
	GetProfile(ctx context.Context, profileID int64) (domain.EventProfile, error)
	ListProfileEvents(ctx context.Context, profileID int64) ([]domain.ProfileEvent, error)
	ListInstancesByParent(ctx context.Context, parentType domain.ParentType, parentID int64) ([]domain.EventInstance, error)
	ReplaceInstances(ctx context.Context, parentType domain.ParentType, parentID int64, instances []domain.EventInstance) (deleted, inserted int, err error)
	ResolveParentInfo(ctx context.Context, parentType domain.ParentType, parentID int64) (time.Time, string, error)
}

// LockValidator proves write ownership before any save.
type LockValidator interface {
	ValidateForWrite(ctx context.Context, parentType domain.ParentType, parentID int64, actor, token string) error
}

// ActivitySink records operation counters; failures are logged, never returned.
type ActivitySink interface {
	Write(ctx context.Context, activity analytics.Activity, config analytics.Config) error
}

// Service wires the timeline pipeline together.
type Service struct {
	store Store
	rules *rules.Resolver
	locks LockValidator
	sink  metrics.Sink

	activity    ActivitySink
	activityCfg analytics.Config

	clock func() time.Time
}

func New(store Store, resolver *rules.Resolver, locks LockValidator, sink metrics.Sink) *Service {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	return &Service{
		store: store,
		rules: resolver,
		locks: locks,
		sink:  sink,
		clock: time.Now,
	}
}

// WithActivity attaches the optional save-activity sink.
func (s *Service) WithActivity(sink ActivitySink, cfg analytics.Config) *Service {
	s.activity = sink
	s.activityCfg = cfg
	return s
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Request identifies the parent document and the resolution inputs shared
// by every timeline operation.
type Request struct {
	ParentType domain.ParentType
	ParentID   int64

	// StartDate is the computation boundary when the parent document has
	// no creation timestamp on record. A stored creation timestamp wins.
	StartDate *time.Time

	// RuleContext is forwarded to the decision engine; profile_id and
	// profile_rule_slug are read from it during resolution.
	RuleContext map[string]any

	Actor string
}

// PreviewRequest computes a merged view without persisting anything.
type PreviewRequest struct {
	Request

	// Recalculate re-runs the scheduler; false returns persisted rows only.
	Recalculate bool

	// Items are caller overrides merged per event code.
	Items map[string]reconciler.SaveItem
}

// SaveRequest persists the reconciled timeline under an edit lock.
type SaveRequest struct {
	Request

	Recalculate bool
	Items       map[string]reconciler.SaveItem
	LockToken   string
}

// EventView is one row of a dry-run, preview, or save echo.
type EventView struct {
	EventCode           string             `json:"event_code"`
	AnchorEventCode     string             `json:"anchor_event_code,omitempty"`
	AnchorUsedEventCode string             `json:"anchor_used_event_code,omitempty"`
	OffsetMinutes       int                `json:"offset_minutes"`
	IsActive            bool               `json:"is_active"`
	PlannedDate         *time.Time         `json:"planned_date"`
	SavedPlannedDate    *time.Time         `json:"saved_planned_date,omitempty"`
	BaselineDate        *time.Time         `json:"baseline_date,omitempty"`
	ActualDate          *time.Time         `json:"actual_date,omitempty"`
	ManualOverride      bool               `json:"planned_date_manual_override"`
	Status              domain.EventStatus `json:"status"`
	StatusReason        string             `json:"status_reason,omitempty"`
	Timezone            string             `json:"timezone"`
	IsUnsavedChange     bool               `json:"is_unsaved_change"`
}

// Result is the response of DryRun and Preview.
type Result struct {
	ParentType     domain.ParentType `json:"parent_type"`
	ParentID       int64             `json:"parent_id"`
	ParentNumber   string            `json:"parent_number,omitempty"`
	ProfileID      int64             `json:"profile_id"`
	ProfileVersion int               `json:"profile_version"`
	StartDate      time.Time         `json:"start_date"`
	Events         []EventView       `json:"events"`
}

// SaveResult reports what the replace-all transaction did.
type SaveResult struct {
	DeletedCount   int   `json:"deleted_count"`
	InsertedCount  int   `json:"inserted_count"`
	ProfileID      int64 `json:"profile_id"`
	ProfileVersion int   `json:"profile_version"`
}

// resolution is the shared per-request context built before any computation.
type resolution struct {
	profile      domain.EventProfile
	edges        []domain.ProfileEvent
	start        time.Time
	parentNumber string
	active       map[string]bool
}

func (s *Service) resolve(ctx context.Context, req Request) (resolution, error) {
	run := s.rules.NewRun()

	profileID, err := run.ResolveProfileID(ctx, req.ParentType, req.RuleContext)
	if err != nil {
		return resolution{}, err
	}

	prof, err := s.store.GetProfile(ctx, profileID)
	if errors.Is(err, sql.ErrNoRows) {
		return resolution{}, fmt.Errorf("%w: profile %d does not exist", rules.ErrProfileNotResolvable, profileID)
	}
	if err != nil {
		return resolution{}, fmt.Errorf("load profile %d: %w", profileID, err)
	}

	edges, err := s.store.ListProfileEvents(ctx, profileID)
	if err != nil {
		return resolution{}, fmt.Errorf("load profile %d events: %w", profileID, err)
	}
	if len(edges) == 0 {
		return resolution{}, fmt.Errorf("%w: profile %d", ErrNoEvents, profileID)
	}

	start, parentNumber, err := s.resolveStart(ctx, req)
	if err != nil {
		return resolution{}, err
	}
	if !prof.EffectiveAt(start) {
		return resolution{}, fmt.Errorf("%w: profile %d at %s", ErrProfileNotEffective, profileID, start.Format(time.RFC3339))
	}

	active, err := s.resolveActivity(ctx, run, edges, req.RuleContext)
	if err != nil {
		return resolution{}, err
	}

	return resolution{
		profile:      prof,
		edges:        edges,
		start:        start,
		parentNumber: parentNumber,
		active:       active,
	}, nil
}

// resolveStart prefers the parent document's creation timestamp over a
// caller-supplied start date.
func (s *Service) resolveStart(ctx context.Context, req Request) (time.Time, string, error) {
	createdAt, number, err := s.store.ResolveParentInfo(ctx, req.ParentType, req.ParentID)
	if err == nil {
		return createdAt, number, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, "", fmt.Errorf("resolve parent %s/%d: %w", req.ParentType, req.ParentID, err)
	}
	if req.StartDate != nil {
		return *req.StartDate, "", nil
	}
	return time.Time{}, "", fmt.Errorf("%w: %s/%d", ErrParentNotFound, req.ParentType, req.ParentID)
}

// resolveActivity evaluates every distinct inclusion rule once.
func (s *Service) resolveActivity(ctx context.Context, run *rules.Run, edges []domain.ProfileEvent, ruleContext map[string]any) (map[string]bool, error) {
	active := make(map[string]bool, len(edges))
	for _, edge := range edges {
		if edge.InclusionRuleID == nil {
			continue
		}
		begin := s.clock()
		included, err := run.EvaluateInclusion(ctx, *edge.InclusionRuleID, ruleContext)
		s.sink.RuleEvaluationCompleted(metrics.ClassifyRuleOutcome(included, err), s.clock().Sub(begin))
		if err != nil {
			return nil, fmt.Errorf("inclusion rule %q for event %q: %w", *edge.InclusionRuleID, edge.EventCode, err)
		}
		active[edge.EventCode] = included
	}
	return active, nil
}

// DryRun computes planned dates from scratch, ignoring persisted rows.
func (s *Service) DryRun(ctx context.Context, req Request) (Result, error) {
	res, err := s.resolve(ctx, req)
	if err != nil {
		return Result{}, err
	}

	begin := s.clock()
	computed, err := scheduler.Compute(res.edges, res.start, nil, res.active)
	s.sink.DryRunCompleted(s.clock().Sub(begin), len(computed), err)
	if err != nil {
		return Result{}, err
	}

	out := s.newResult(req, res)
	for _, ev := range computed {
		out.Events = append(out.Events, EventView{
			EventCode:           ev.EventCode,
			AnchorEventCode:     ev.AnchorEventCode,
			AnchorUsedEventCode: ev.AnchorUsedEventCode,
			OffsetMinutes:       ev.OffsetMinutes,
			IsActive:            ev.IsActive,
			PlannedDate:         ev.PlannedDate,
			Status:              domain.StatusPlanned,
			Timezone:            timezoneOrUTC(res.profile.Timezone),
			IsUnsavedChange:     ev.PlannedDate != nil,
		})
	}

	s.recordActivity(ctx, req, analytics.OpDryRun)
	return out, nil
}

// Preview merges a fresh computation with persisted rows without writing.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (Result, error) {
	res, err := s.resolve(ctx, req.Request)
	if err != nil {
		return Result{}, err
	}

	persisted, err := s.store.ListInstancesByParent(ctx, req.ParentType, req.ParentID)
	if err != nil {
		return Result{}, fmt.Errorf("load persisted timeline: %w", err)
	}

	out := s.newResult(req.Request, res)

	if !req.Recalculate {
		out.Events = persistedViews(res.edges, persisted)
		return out, nil
	}

	rows, err := s.reconcile(res, persisted, req.Items, false)
	if err != nil {
		return Result{}, err
	}
	for _, row := range rows {
		out.Events = append(out.Events, viewFromRow(row))
	}
	return out, nil
}

// Save reconciles and atomically replaces the parent's timeline. The edit
// lock is validated before anything is computed or written.
func (s *Service) Save(ctx context.Context, req SaveRequest) (SaveResult, error) {
	if err := s.locks.ValidateForWrite(ctx, req.ParentType, req.ParentID, req.Actor, req.LockToken); err != nil {
		if failure, ok := lock.AsFailure(err); ok {
			s.sink.LockRejected(string(failure.Code))
		}
		return SaveResult{}, err
	}

	res, err := s.resolve(ctx, req.Request)
	if err != nil {
		return SaveResult{}, err
	}

	persisted, err := s.store.ListInstancesByParent(ctx, req.ParentType, req.ParentID)
	if err != nil {
		return SaveResult{}, fmt.Errorf("load persisted timeline: %w", err)
	}

	rows, err := s.reconcile(res, persisted, req.Items, !req.Recalculate)
	if err != nil {
		return SaveResult{}, err
	}

	instances := make([]domain.EventInstance, 0, len(rows))
	for _, row := range rows {
		if !row.IsActive {
			// Excluded events leave no rows behind; preview still shows them.
			continue
		}
		instances = append(instances, domain.EventInstance{
			ParentType:     req.ParentType,
			ParentID:       req.ParentID,
			ParentNumber:   res.parentNumber,
			ProfileID:      res.profile.ID,
			ProfileVersion: res.profile.ProfileVersion,
			EventCode:      row.EventCode,
			BaselineDate:   row.BaselineDate,
			PlannedDate:    row.PlannedDate,
			ActualDate:     row.ActualDate,
			ManualOverride: row.ManualOverride,
			Status:         row.Status,
			StatusReason:   row.StatusReason,
			Timezone:       row.Timezone,
			CreatedBy:      req.Actor,
			UpdatedBy:      req.Actor,
		})
	}

	begin := s.clock()
	deleted, inserted, err := s.store.ReplaceInstances(ctx, req.ParentType, req.ParentID, instances)
	s.sink.SaveCompleted(s.clock().Sub(begin), deleted, inserted, err)
	if err != nil {
		return SaveResult{}, fmt.Errorf("replace timeline rows: %w", err)
	}

	log.Printf("timeline: saved %s/%d profile=%d v%d deleted=%d inserted=%d by %s",
		req.ParentType, req.ParentID, res.profile.ID, res.profile.ProfileVersion, deleted, inserted, req.Actor)

	s.recordActivity(ctx, req.Request, analytics.OpSave)
	return SaveResult{
		DeletedCount:   deleted,
		InsertedCount:  inserted,
		ProfileID:      res.profile.ID,
		ProfileVersion: res.profile.ProfileVersion,
	}, nil
}

// reconcile computes planned dates with executed and sticky manual dates
// pinned, then merges against persisted rows and the caller's payload.
// keepPersisted additionally pins every persisted planned date, turning the
// run into a pure payload merge.
func (s *Service) reconcile(res resolution, persisted []domain.EventInstance, items map[string]reconciler.SaveItem, keepPersisted bool) ([]reconciler.Row, error) {
	fixed := make(map[string]time.Time)
	for _, row := range persisted {
		switch {
		case row.Executed():
			fixed[row.EventCode] = *row.ActualDate
		case row.ManualOverride && row.PlannedDate != nil:
			fixed[row.EventCode] = *row.PlannedDate
		case keepPersisted && row.PlannedDate != nil:
			fixed[row.EventCode] = *row.PlannedDate
		}
	}
	for code, item := range items {
		if item.NewManualValue() {
			fixed[code] = *item.PlannedDate
		}
		if item.ActualDate != nil {
			fixed[code] = *item.ActualDate
		}
	}

	active := res.active
	if hasActivityOverride(items) {
		merged := make(map[string]bool, len(res.active)+len(items))
		for k, v := range res.active {
			merged[k] = v
		}
		for code, item := range items {
			if item.IsActive != nil {
				merged[code] = *item.IsActive
			}
		}
		active = merged
	}

	begin := s.clock()
	computed, err := scheduler.Compute(res.edges, res.start, fixed, active)
	s.sink.DryRunCompleted(s.clock().Sub(begin), len(computed), err)
	if err != nil {
		return nil, err
	}

	return reconciler.Reconcile(computed, persisted, items, reconciler.Input{
		StartDate:        res.start,
		ExecutionStarted: reconciler.ExecutionStarted(persisted, items),
		ProfileTimezone:  res.profile.Timezone,
	}), nil
}

func hasActivityOverride(items map[string]reconciler.SaveItem) bool {
	for _, item := range items {
		if item.IsActive != nil {
			return true
		}
	}
	return false
}

func (s *Service) newResult(req Request, res resolution) Result {
	return Result{
		ParentType:     req.ParentType,
		ParentID:       req.ParentID,
		ParentNumber:   res.parentNumber,
		ProfileID:      res.profile.ID,
		ProfileVersion: res.profile.ProfileVersion,
		StartDate:      res.start,
	}
}

func (s *Service) recordActivity(ctx context.Context, req Request, op string) {
	if s.activity == nil {
		return
	}
	err := s.activity.Write(ctx, analytics.Activity{
		ParentType: req.ParentType,
		ParentID:   req.ParentID,
		Operation:  op,
		OccurredAt: s.clock(),
	}, s.activityCfg)
	if err != nil {
		log.Printf("timeline: activity write failed for %s/%d: %v", req.ParentType, req.ParentID, err)
	}
}

func viewFromRow(row reconciler.Row) EventView {
	return EventView{
		EventCode:           row.EventCode,
		AnchorEventCode:     row.AnchorEventCode,
		AnchorUsedEventCode: row.AnchorUsedEventCode,
		OffsetMinutes:       row.OffsetMinutes,
		IsActive:            row.IsActive,
		PlannedDate:         row.PlannedDate,
		SavedPlannedDate:    row.SavedPlannedDate,
		BaselineDate:        row.BaselineDate,
		ActualDate:          row.ActualDate,
		ManualOverride:      row.ManualOverride,
		Status:              row.Status,
		StatusReason:        row.StatusReason,
		Timezone:            row.Timezone,
		IsUnsavedChange:     row.Changed,
	}
}

// persistedViews renders stored rows in profile sequence order without
// recomputation. Rows whose event code left the profile sort last by code.
func persistedViews(edges []domain.ProfileEvent, persisted []domain.EventInstance) []EventView {
	order := make(map[string]int, len(edges))
	anchors := make(map[string]domain.ProfileEvent, len(edges))
	for i, edge := range edges {
		order[edge.EventCode] = i
		anchors[edge.EventCode] = edge
	}

	sorted := make([]domain.EventInstance, len(persisted))
	copy(sorted, persisted)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessPersisted(order, sorted[i], sorted[j])
	})

	out := make([]EventView, 0, len(sorted))
	for _, row := range sorted {
		view := EventView{
			EventCode:        row.EventCode,
			IsActive:         true,
			PlannedDate:      row.PlannedDate,
			SavedPlannedDate: row.PlannedDate,
			BaselineDate:     row.BaselineDate,
			ActualDate:       row.ActualDate,
			ManualOverride:   row.ManualOverride,
			Status:           domain.NormalizeStatus(row.Status, row.ActualDate),
			StatusReason:     row.StatusReason,
			Timezone:         timezoneOrUTC(row.Timezone),
		}
		if edge, ok := anchors[row.EventCode]; ok {
			view.AnchorEventCode = edge.Anchor()
			view.OffsetMinutes = edge.OffsetMinutes
		}
		out = append(out, view)
	}
	return out
}

func lessPersisted(order map[string]int, a, b domain.EventInstance) bool {
	ai, aok := order[a.EventCode]
	bi, bok := order[b.EventCode]
	switch {
	case aok && bok:
		return ai < bi
	case aok:
		return true
	case bok:
		return false
	default:
		return a.EventCode < b.EventCode
	}
}

func timezoneOrUTC(tz string) string {
	if tz == "" {
		return "UTC"
	}
	return tz
}
