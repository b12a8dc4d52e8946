package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/eventline/internal/domain"
	"github.com/djlord-it/eventline/internal/profile"
)

// ErrDuplicate maps unique-constraint violations (profile names, edge
// codes) so callers can answer with a conflict instead of a server error.
var ErrDuplicate = errors.New("row already exists")

// Store implements the timeline, rules, and api persistence interfaces
// using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	clock     func() time.Time
}

// New creates a store. opTimeout bounds every single database operation.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout, clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- profiles ---

func (s *Store) CreateProfile(ctx context.Context, p domain.EventProfile, actor string) (domain.EventProfile, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := s.clock().UTC()
	err := s.db.QueryRowContext(ctx, queryInsertProfile,
		p.Name, nullString(p.Description), p.EffectiveFrom, p.EffectiveTo, nullString(p.Timezone), now, actor,
	).Scan(&p.ID)
	if isUniqueViolation(err) {
		return domain.EventProfile{}, fmt.Errorf("profile %q: %w", p.Name, ErrDuplicate)
	}
	if err != nil {
		return domain.EventProfile{}, fmt.Errorf("insert profile: %w", err)
	}
	p.ProfileVersion = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, profileID int64) (domain.EventProfile, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanProfile(s.db.QueryRowContext(ctx, queryGetProfile, profileID))
}

// FindProfileIDByName tries an exact match first, then case-insensitive.
func (s *Store) FindProfileIDByName(ctx context.Context, name string) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(ctx, queryFindProfileIDByName, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		err = s.db.QueryRowContext(ctx, queryFindProfileIDByNameFold, name).Scan(&id)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListProfiles(ctx context.Context, limit, offset int, name string) ([]domain.EventProfile, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListProfiles, limit, offset, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProfile(ctx context.Context, p domain.EventProfile, actor string) (domain.EventProfile, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := s.clock().UTC()
	err := s.db.QueryRowContext(ctx, queryUpdateProfile,
		p.ID, p.Name, nullString(p.Description), p.EffectiveFrom, p.EffectiveTo, nullString(p.Timezone), now, actor,
	).Scan(&p.ProfileVersion)
	if isUniqueViolation(err) {
		return domain.EventProfile{}, fmt.Errorf("profile %q: %w", p.Name, ErrDuplicate)
	}
	if err != nil {
		return domain.EventProfile{}, err
	}
	p.UpdatedAt = now
	return p, nil
}

func (s *Store) DeleteProfile(ctx context.Context, profileID int64) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteProfile, profileID)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- profile events (edges) ---

func (s *Store) ListProfileEvents(ctx context.Context, profileID int64) ([]domain.ProfileEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return listProfileEvents(ctx, s.db, profileID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listProfileEvents(ctx context.Context, q querier, profileID int64) ([]domain.ProfileEvent, error) {
	rows, err := q.QueryContext(ctx, queryListProfileEvents, profileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProfileEvent
	for rows.Next() {
		e, err := scanProfileEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetProfileEvent(ctx context.Context, profileID int64, eventCode string) (domain.ProfileEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()
	return scanProfileEvent(s.db.QueryRowContext(ctx, queryGetProfileEvent, profileID, eventCode))
}

// CreateProfileEvent validates the candidate edge against the profile's
// current edge set, bumps the profile version, and inserts, all in one
// transaction. Validation failures persist nothing.
func (s *Store) CreateProfileEvent(ctx context.Context, e domain.ProfileEvent, actor string) (domain.ProfileEvent, int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProfileEvent{}, 0, fmt.Errorf("begin edge insert: %w", err)
	}
	defer tx.Rollback()

	edges, err := listProfileEvents(ctx, tx, e.ProfileID)
	if err != nil {
		return domain.ProfileEvent{}, 0, fmt.Errorf("load profile edges: %w", err)
	}
	if err := profile.Validate(edges, e, 0); err != nil {
		return domain.ProfileEvent{}, 0, err
	}

	now := s.clock().UTC()
	var version int
	if err := tx.QueryRowContext(ctx, queryBumpProfileVersion, e.ProfileID, now, actor).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ProfileEvent{}, 0, fmt.Errorf("profile %d: %w", e.ProfileID, sql.ErrNoRows)
		}
		return domain.ProfileEvent{}, 0, fmt.Errorf("bump profile version: %w", err)
	}

	err = tx.QueryRowContext(ctx, queryInsertProfileEvent,
		e.ProfileID, e.EventCode, e.AnchorEventCode, e.OffsetMinutes, e.Sequence, e.IsMandatory, e.InclusionRuleID, now, actor,
	).Scan(&e.ID)
	if isUniqueViolation(err) {
		return domain.ProfileEvent{}, 0, fmt.Errorf("edge %q: %w", e.EventCode, ErrDuplicate)
	}
	if err != nil {
		return domain.ProfileEvent{}, 0, fmt.Errorf("insert profile edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.ProfileEvent{}, 0, fmt.Errorf("commit edge insert: %w", err)
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	return e, version, nil
}

// UpdateProfileEvent revalidates with the replaced edge excluded, bumps the
// profile version, and updates in one transaction.
func (s *Store) UpdateProfileEvent(ctx context.Context, e domain.ProfileEvent, actor string) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin edge update: %w", err)
	}
	defer tx.Rollback()

	edges, err := listProfileEvents(ctx, tx, e.ProfileID)
	if err != nil {
		return 0, fmt.Errorf("load profile edges: %w", err)
	}
	excludeID := int64(0)
	for _, existing := range edges {
		if existing.EventCode == e.EventCode {
			excludeID = existing.ID
			break
		}
	}
	if excludeID == 0 {
		return 0, sql.ErrNoRows
	}
	if err := profile.Validate(edges, e, excludeID); err != nil {
		return 0, err
	}

	now := s.clock().UTC()
	var version int
	if err := tx.QueryRowContext(ctx, queryBumpProfileVersion, e.ProfileID, now, actor).Scan(&version); err != nil {
		return 0, fmt.Errorf("bump profile version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryUpdateProfileEvent,
		e.ProfileID, e.EventCode, e.AnchorEventCode, e.OffsetMinutes, e.Sequence, e.IsMandatory, e.InclusionRuleID, now, actor,
	); err != nil {
		return 0, fmt.Errorf("update profile edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit edge update: %w", err)
	}
	return version, nil
}

func (s *Store) DeleteProfileEvent(ctx context.Context, profileID int64, eventCode string, actor string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin edge delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, queryDeleteProfileEvent, profileID, eventCode)
	if err != nil {
		return fmt.Errorf("delete profile edge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	var version int
	if err := tx.QueryRowContext(ctx, queryBumpProfileVersion, profileID, s.clock().UTC(), actor).Scan(&version); err != nil {
		return fmt.Errorf("bump profile version: %w", err)
	}

	return tx.Commit()
}

// --- event instances ---

func (s *Store) ListInstancesByParent(ctx context.Context, parentType domain.ParentType, parentID int64) ([]domain.EventInstance, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListInstancesByParent, string(parentType), parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// ReplaceInstances deletes the parent's row set and bulk-inserts the new
// one as a single transaction. Any failure rolls the whole replacement
// back, leaving the prior rows untouched.
func (s *Store) ReplaceInstances(ctx context.Context, parentType domain.ParentType, parentID int64, instances []domain.EventInstance) (deleted, inserted int, err error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin timeline save: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, queryDeleteInstancesByParent, string(parentType), parentID)
	if err != nil {
		return 0, 0, fmt.Errorf("delete timeline rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	now := s.clock().UTC()
	for _, inst := range instances {
		id := inst.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		poID, shipID := parentFKValues(parentType, parentID)
		poNumber, shipNumber := parentNumbers(parentType, inst.ParentNumber)
		if _, err := tx.ExecContext(ctx, queryInsertInstance,
			id, parentID, poID, shipID, poNumber, shipNumber,
			inst.ProfileID, inst.ProfileVersion, inst.EventCode,
			inst.BaselineDate, inst.PlannedDate, inst.ManualOverride, inst.ActualDate,
			string(inst.Status), nullString(inst.StatusReason), inst.Timezone, now, inst.UpdatedBy,
		); err != nil {
			return 0, 0, fmt.Errorf("insert timeline row %q: %w", inst.EventCode, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit timeline save: %w", err)
	}
	return int(n), len(instances), nil
}

// ResolveParentInfo returns the parent document's creation timestamp and
// human-readable number. The creation timestamp always wins over a
// caller-supplied start date.
func (s *Store) ResolveParentInfo(ctx context.Context, parentType domain.ParentType, parentID int64) (time.Time, string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	query := queryGetShipmentInfo
	if parentType == domain.ParentPurchaseOrder {
		query = queryGetPurchaseOrderInfo
	}

	var number sql.NullString
	var createdAt time.Time
	if err := s.db.QueryRowContext(ctx, query, parentID).Scan(&number, &createdAt); err != nil {
		return time.Time{}, "", err
	}
	return createdAt, number.String, nil
}

// PingContext exposes database health for the /health endpoint.
func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(r rowScanner) (domain.EventProfile, error) {
	var p domain.EventProfile
	var description, timezone sql.NullString
	var from, to sql.NullTime
	err := r.Scan(&p.ID, &p.Name, &description, &p.ProfileVersion, &from, &to, &timezone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.EventProfile{}, err
	}
	p.Description = description.String
	p.Timezone = timezone.String
	if from.Valid {
		t := from.Time
		p.EffectiveFrom = &t
	}
	if to.Valid {
		t := to.Time
		p.EffectiveTo = &t
	}
	return p, nil
}

func scanProfileEvent(r rowScanner) (domain.ProfileEvent, error) {
	var e domain.ProfileEvent
	var anchor, rule sql.NullString
	err := r.Scan(&e.ID, &e.ProfileID, &e.EventCode, &anchor, &e.OffsetMinutes, &e.Sequence, &e.IsMandatory, &rule, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return domain.ProfileEvent{}, err
	}
	if anchor.Valid && strings.TrimSpace(anchor.String) != "" {
		a := anchor.String
		e.AnchorEventCode = &a
	}
	if rule.Valid && strings.TrimSpace(rule.String) != "" {
		id := rule.String
		e.InclusionRuleID = &id
	}
	return e, nil
}

func scanInstance(r rowScanner) (domain.EventInstance, error) {
	var inst domain.EventInstance
	var poID, shipID sql.NullInt64
	var poNumber, shipNumber, statusReason sql.NullString
	var baseline, planned, actual sql.NullTime
	var status string
	err := r.Scan(&inst.ID, &inst.ParentID, &poID, &shipID, &poNumber, &shipNumber,
		&inst.ProfileID, &inst.ProfileVersion, &inst.EventCode,
		&baseline, &planned, &inst.ManualOverride, &actual,
		&status, &statusReason, &inst.Timezone, &inst.CreatedAt, &inst.UpdatedAt, &inst.CreatedBy, &inst.UpdatedBy)
	if err != nil {
		return domain.EventInstance{}, err
	}
	if poID.Valid {
		inst.ParentType = domain.ParentPurchaseOrder
		inst.ParentNumber = poNumber.String
	} else if shipID.Valid {
		inst.ParentType = domain.ParentShipment
		inst.ParentNumber = shipNumber.String
	}
	if baseline.Valid {
		t := baseline.Time
		inst.BaselineDate = &t
	}
	if planned.Valid {
		t := planned.Time
		inst.PlannedDate = &t
	}
	if actual.Valid {
		t := actual.Time
		inst.ActualDate = &t
	}
	inst.Status = domain.EventStatus(status)
	inst.StatusReason = statusReason.String
	return inst, nil
}

// parentFKValues populates exactly one of the two physical parent columns.
func parentFKValues(parentType domain.ParentType, parentID int64) (po, ship sql.NullInt64) {
	if parentType == domain.ParentPurchaseOrder {
		return sql.NullInt64{Int64: parentID, Valid: true}, sql.NullInt64{}
	}
	return sql.NullInt64{}, sql.NullInt64{Int64: parentID, Valid: true}
}

func parentNumbers(parentType domain.ParentType, number string) (po, ship sql.NullString) {
	if number == "" {
		return sql.NullString{}, sql.NullString{}
	}
	if parentType == domain.ParentPurchaseOrder {
		return sql.NullString{String: number, Valid: true}, sql.NullString{}
	}
	return sql.NullString{}, sql.NullString{String: number, Valid: true}
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
