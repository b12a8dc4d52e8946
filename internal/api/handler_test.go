package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/eventline/internal/domain"
	"github.com/djlord-it/eventline/internal/lock"
	"github.com/djlord-it/eventline/internal/profile"
	"github.com/djlord-it/eventline/internal/rules"
	"github.com/djlord-it/eventline/internal/store/postgres"
	"github.com/djlord-it/eventline/internal/timeline"
)

type mockTimeline struct {
	mu sync.Mutex

	dryRunResult timeline.Result
	dryRunErr    error
	dryRunReq    timeline.Request

	previewResult timeline.Result
	previewErr    error
	previewReq    timeline.PreviewRequest

	saveResult timeline.SaveResult
	saveErr    error
	saveReq    timeline.SaveRequest
}

func (m *mockTimeline) DryRun(ctx context.Context, req timeline.Request) (timeline.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dryRunReq = req
	return m.dryRunResult, m.dryRunErr
}

func (m *mockTimeline) Preview(ctx context.Context, req timeline.PreviewRequest) (timeline.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previewReq = req
	return m.previewResult, m.previewErr
}

func (m *mockTimeline) Save(ctx context.Context, req timeline.SaveRequest) (timeline.SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveReq = req
	return m.saveResult, m.saveErr
}

type mockProfileStore struct {
	mu sync.Mutex

	profile    domain.EventProfile
	profileErr error

	profiles    []domain.EventProfile
	profilesErr error

	created    domain.EventProfile
	createErr  error
	createdArg domain.EventProfile

	updated   domain.EventProfile
	updateErr error

	deleteErr error

	events    []domain.ProfileEvent
	eventsErr error

	event    domain.ProfileEvent
	eventErr error

	createdEvent   domain.ProfileEvent
	createdVersion int
	createEventErr error

	updateEventVersion int
	updateEventErr     error

	deleteEventErr error

	instances    []domain.EventInstance
	instancesErr error
}

func (m *mockProfileStore) CreateProfile(ctx context.Context, p domain.EventProfile, actor string) (domain.EventProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createdArg = p
	return m.created, m.createErr
}

func (m *mockProfileStore) GetProfile(ctx context.Context, profileID int64) (domain.EventProfile, error) {
	return m.profile, m.profileErr
}

func (m *mockProfileStore) ListProfiles(ctx context.Context, limit, offset int, name string) ([]domain.EventProfile, error) {
	return m.profiles, m.profilesErr
}

func (m *mockProfileStore) UpdateProfile(ctx context.Context, p domain.EventProfile, actor string) (domain.EventProfile, error) {
	return m.updated, m.updateErr
}

func (m *mockProfileStore) DeleteProfile(ctx context.Context, profileID int64) error {
	return m.deleteErr
}

func (m *mockProfileStore) ListProfileEvents(ctx context.Context, profileID int64) ([]domain.ProfileEvent, error) {
	return m.events, m.eventsErr
}

func (m *mockProfileStore) GetProfileEvent(ctx context.Context, profileID int64, eventCode string) (domain.ProfileEvent, error) {
	return m.event, m.eventErr
}

func (m *mockProfileStore) CreateProfileEvent(ctx context.Context, e domain.ProfileEvent, actor string) (domain.ProfileEvent, int, error) {
	return m.createdEvent, m.createdVersion, m.createEventErr
}

func (m *mockProfileStore) UpdateProfileEvent(ctx context.Context, e domain.ProfileEvent, actor string) (int, error) {
	return m.updateEventVersion, m.updateEventErr
}

func (m *mockProfileStore) DeleteProfileEvent(ctx context.Context, profileID int64, eventCode, actor string) error {
	return m.deleteEventErr
}

func (m *mockProfileStore) ListInstancesByParent(ctx context.Context, parentType domain.ParentType, parentID int64) ([]domain.EventInstance, error) {
	return m.instances, m.instancesErr
}

type mockPinger struct{ err error }

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func timelineBody() TimelineRequest {
	return TimelineRequest{
		ParentType: "purchase_order",
		ParentID:   42,
		ProfileID:  7,
	}
}

func TestHealth(t *testing.T) {
	h := NewHandler(&mockTimeline{}, &mockProfileStore{})

	rec := doJSON(t, h, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h = h.WithHealthChecker(&mockPinger{})
	rec = doJSON(t, h, http.MethodGet, "/health?verbose=true", nil, nil)
	resp := decodeResponse[HealthResponse](t, rec)
	if rec.Code != http.StatusOK || resp.Components["database"] != "healthy" {
		t.Fatalf("verbose health = %d %+v", rec.Code, resp)
	}

	h = NewHandler(&mockTimeline{}, &mockProfileStore{}).WithHealthChecker(&mockPinger{err: errors.New("refused")})
	rec = doJSON(t, h, http.MethodGet, "/health?verbose=true", nil, nil)
	resp = decodeResponse[HealthResponse](t, rec)
	if rec.Code != http.StatusServiceUnavailable || resp.Status != "degraded" {
		t.Fatalf("degraded health = %d %+v", rec.Code, resp)
	}
}

func TestDryRun_BuildsRequest(t *testing.T) {
	tl := &mockTimeline{dryRunResult: timeline.Result{ProfileID: 7, ProfileVersion: 3}}
	h := NewHandler(tl, &mockProfileStore{})

	body := timelineBody()
	body.ProfileRuleSlug = "po_events"
	body.RuleContext = map[string]any{"mode": "AIR"}

	rec := doJSON(t, h, http.MethodPost, "/timeline/dry-run", body, map[string]string{UserHeader: "buyer@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if tl.dryRunReq.ParentType != domain.ParentPurchaseOrder || tl.dryRunReq.ParentID != 42 {
		t.Fatalf("parent = %s/%d", tl.dryRunReq.ParentType, tl.dryRunReq.ParentID)
	}
	if tl.dryRunReq.Actor != "buyer@example.com" {
		t.Fatalf("actor = %q", tl.dryRunReq.Actor)
	}
	ruleCtx := tl.dryRunReq.RuleContext
	if ruleCtx["profile_id"] != int64(7) || ruleCtx["profile_rule_slug"] != "po_events" || ruleCtx["mode"] != "AIR" {
		t.Fatalf("rule context = %v", ruleCtx)
	}
}

func TestTimeline_Validation(t *testing.T) {
	h := NewHandler(&mockTimeline{}, &mockProfileStore{})
	planned := time.Now()
	override := true

	cases := []struct {
		name string
		body TimelineRequest
	}{
		{"missing parent type", TimelineRequest{ParentID: 42}},
		{"unknown parent type", TimelineRequest{ParentType: "INVOICE", ParentID: 42}},
		{"zero parent id", TimelineRequest{ParentType: "PURCHASE_ORDER"}},
		{"item without event code", TimelineRequest{ParentType: "PURCHASE_ORDER", ParentID: 42,
			Items: []TimelineItemRequest{{PlannedDate: &planned}}}},
		{"manual override without date", TimelineRequest{ParentType: "PURCHASE_ORDER", ParentID: 42,
			Items: []TimelineItemRequest{{EventCode: "PO_SENT", ManualOverride: &override}}}},
		{"unknown status", TimelineRequest{ParentType: "PURCHASE_ORDER", ParentID: 42,
			Items: []TimelineItemRequest{{EventCode: "PO_SENT", Status: "WISHFUL"}}}},
		{"bad timezone", TimelineRequest{ParentType: "PURCHASE_ORDER", ParentID: 42,
			Items: []TimelineItemRequest{{EventCode: "PO_SENT", Timezone: "Mars/Olympus"}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/timeline/dry-run", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTimeline_InvalidJSON(t *testing.T) {
	h := NewHandler(&mockTimeline{}, &mockProfileStore{})

	req := httptest.NewRequest(http.MethodPost, "/timeline/dry-run", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestTimeline_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"engine down", fmt.Errorf("rule: %w", rules.ErrEngineUnavailable), http.StatusBadGateway},
		{"bad contract", fmt.Errorf("rule: %w", rules.ErrInclusionContract), http.StatusBadRequest},
		{"unresolvable profile", fmt.Errorf("slug: %w", rules.ErrProfileNotResolvable), http.StatusBadRequest},
		{"profile window", fmt.Errorf("profile 7: %w", timeline.ErrProfileNotEffective), http.StatusBadRequest},
		{"empty profile", fmt.Errorf("profile 7: %w", timeline.ErrNoEvents), http.StatusBadRequest},
		{"missing parent", fmt.Errorf("po 42: %w", timeline.ErrParentNotFound), http.StatusNotFound},
		{"database down", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockTimeline{dryRunErr: tc.err}, &mockProfileStore{})
			rec := doJSON(t, h, http.MethodPost, "/timeline/dry-run", timelineBody(), nil)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestSave_LockConflict(t *testing.T) {
	expires := time.Date(2026, 4, 10, 12, 30, 0, 0, time.UTC)
	tl := &mockTimeline{saveErr: &lock.Failure{
		Code:      lock.CodeNotOwner,
		Message:   "edit lock is held by another user",
		LockedBy:  "other@example.com",
		ExpiresAt: &expires,
	}}
	h := NewHandler(tl, &mockProfileStore{})

	rec := doJSON(t, h, http.MethodPost, "/timeline/save", timelineBody(), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	resp := decodeResponse[LockErrorResponse](t, rec)
	if resp.Code != "LOCK_NOT_OWNER" || resp.LockedBy != "other@example.com" {
		t.Fatalf("lock body = %+v", resp)
	}
	if resp.ExpiresAt != "2026-04-10T12:30:00Z" {
		t.Fatalf("expires_at = %q", resp.ExpiresAt)
	}
}

func TestSave_ForwardsLockTokenAndItems(t *testing.T) {
	tl := &mockTimeline{saveResult: timeline.SaveResult{DeletedCount: 2, InsertedCount: 3}}
	h := NewHandler(tl, &mockProfileStore{})

	actual := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	body := timelineBody()
	recalc := false
	body.Recalculate = &recalc
	body.Items = []TimelineItemRequest{
		{EventCode: "PO_APPROVED", ActualDate: &actual, Status: "completed"},
	}

	rec := doJSON(t, h, http.MethodPost, "/timeline/save", body, map[string]string{
		UserHeader:       "buyer@example.com",
		lock.TokenHeader: "tok-123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if tl.saveReq.LockToken != "tok-123" {
		t.Fatalf("lock token = %q", tl.saveReq.LockToken)
	}
	if tl.saveReq.Recalculate {
		t.Fatal("recalculate flag lost")
	}
	item, ok := tl.saveReq.Items["PO_APPROVED"]
	if !ok {
		t.Fatalf("items = %v", tl.saveReq.Items)
	}
	if item.ActualDate == nil || !item.ActualDate.Equal(actual) {
		t.Fatalf("actual = %v", item.ActualDate)
	}
	if item.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED", item.Status)
	}

	resp := decodeResponse[timeline.SaveResult](t, rec)
	if resp.DeletedCount != 2 || resp.InsertedCount != 3 {
		t.Fatalf("save echo = %+v", resp)
	}
}

func TestRecalculateDefaultsToTrue(t *testing.T) {
	tl := &mockTimeline{}
	h := NewHandler(tl, &mockProfileStore{})

	rec := doJSON(t, h, http.MethodPost, "/timeline/preview", timelineBody(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !tl.previewReq.Recalculate {
		t.Fatal("recalculate must default to true")
	}
}

func TestRouting(t *testing.T) {
	h := NewHandler(&mockTimeline{}, &mockProfileStore{})

	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/nope", http.StatusNotFound},
		{http.MethodDelete, "/timeline/save", http.StatusNotFound},
		{http.MethodGet, "/profiles/abc", http.StatusBadRequest},
		{http.MethodGet, "/profiles/-3", http.StatusBadRequest},
		{http.MethodPut, "/profiles/1", http.StatusNotFound},
		{http.MethodGet, "/profiles/1/events/PO_SENT", http.StatusNotFound},
		{http.MethodGet, "/parents/PURCHASE_ORDER/42", http.StatusNotFound},
		{http.MethodGet, "/parents/INVOICE/42/events", http.StatusBadRequest},
		{http.MethodGet, "/parents/PURCHASE_ORDER/zero/events", http.StatusBadRequest},
	}

	for _, tc := range cases {
		rec := doJSON(t, h, tc.method, tc.path, nil, nil)
		if rec.Code != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, rec.Code, tc.want)
		}
	}
}

func TestCreateProfile(t *testing.T) {
	store := &mockProfileStore{created: domain.EventProfile{ID: 7, Name: "PO_EVENTS_DEFAULT_V1", ProfileVersion: 1}}
	h := NewHandler(&mockTimeline{}, store)

	rec := doJSON(t, h, http.MethodPost, "/profiles", ProfileRequest{Name: "  PO_EVENTS_DEFAULT_V1  "}, map[string]string{UserHeader: "admin@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[ProfileResponse](t, rec)
	if resp.ID != 7 || resp.ProfileVersion != 1 {
		t.Fatalf("created = %+v", resp)
	}
	if store.createdArg.Name != "PO_EVENTS_DEFAULT_V1" {
		t.Fatalf("name not trimmed: %q", store.createdArg.Name)
	}

	// Empty name never reaches the store.
	rec = doJSON(t, h, http.MethodPost, "/profiles", ProfileRequest{Name: "   "}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	store.createErr = fmt.Errorf("profile: %w", postgres.ErrDuplicate)
	rec = doJSON(t, h, http.MethodPost, "/profiles", ProfileRequest{Name: "PO_EVENTS_DEFAULT_V1"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestListProfiles_PaginationBounds(t *testing.T) {
	h := NewHandler(&mockTimeline{}, &mockProfileStore{})

	for _, query := range []string{"limit=0", "limit=1001", "limit=x", "offset=-1"} {
		rec := doJSON(t, h, http.MethodGet, "/profiles?"+query, nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", query, rec.Code)
		}
	}
}

func TestGetProfile_NotFound(t *testing.T) {
	h := NewHandler(&mockTimeline{}, &mockProfileStore{profileErr: sql.ErrNoRows})

	rec := doJSON(t, h, http.MethodGet, "/profiles/99", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCreateProfileEvent(t *testing.T) {
	anchor := "PO_APPROVED"
	store := &mockProfileStore{
		createdEvent:   domain.ProfileEvent{ID: 12, ProfileID: 1, EventCode: "PO_SENT", AnchorEventCode: &anchor, OffsetMinutes: 1440, Sequence: 20},
		createdVersion: 7,
	}
	h := NewHandler(&mockTimeline{}, store)

	body := ProfileEventRequest{EventCode: "PO_SENT", AnchorEventCode: "PO_APPROVED", OffsetMinutes: 1440, Sequence: 20}
	rec := doJSON(t, h, http.MethodPost, "/profiles/1/events", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[ProfileEventResponse](t, rec)
	if resp.ID != 12 || resp.ProfileVersion != 7 || resp.AnchorEventCode != "PO_APPROVED" {
		t.Fatalf("created edge = %+v", resp)
	}

	store.createEventErr = fmt.Errorf("edge: %w", profile.ErrCycleDetected)
	rec = doJSON(t, h, http.MethodPost, "/profiles/1/events", body, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("cycle = %d, want 400", rec.Code)
	}

	store.createEventErr = fmt.Errorf("edge: %w", postgres.ErrDuplicate)
	rec = doJSON(t, h, http.MethodPost, "/profiles/1/events", body, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate = %d, want 409", rec.Code)
	}
}

func TestUpdateProfileEvent_UsesPathEventCode(t *testing.T) {
	store := &mockProfileStore{
		updateEventVersion: 5,
		event:              domain.ProfileEvent{ID: 12, ProfileID: 1, EventCode: "PO_SENT", OffsetMinutes: 2880},
	}
	h := NewHandler(&mockTimeline{}, store)

	// The body carries no event code; the path segment is authoritative.
	rec := doJSON(t, h, http.MethodPatch, "/profiles/1/events/PO_SENT", ProfileEventRequest{OffsetMinutes: 2880}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[ProfileEventResponse](t, rec)
	if resp.EventCode != "PO_SENT" || resp.ProfileVersion != 5 || resp.OffsetMinutes != 2880 {
		t.Fatalf("updated edge = %+v", resp)
	}
}

func TestDeleteProfileEvent(t *testing.T) {
	h := NewHandler(&mockTimeline{}, &mockProfileStore{})
	rec := doJSON(t, h, http.MethodDelete, "/profiles/1/events/PO_SENT", nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	h = NewHandler(&mockTimeline{}, &mockProfileStore{deleteEventErr: sql.ErrNoRows})
	rec = doJSON(t, h, http.MethodDelete, "/profiles/1/events/GHOST", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListParentEvents(t *testing.T) {
	planned := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	actual := planned.Add(2 * time.Hour)
	store := &mockProfileStore{instances: []domain.EventInstance{{
		ID:         uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		ParentType: domain.ParentPurchaseOrder, ParentID: 42,
		ProfileID: 7, ProfileVersion: 3,
		EventCode:   "PO_APPROVED",
		PlannedDate: &planned, ActualDate: &actual,
		Timezone:  "UTC",
		UpdatedBy: "buyer@example.com",
	}}}
	h := NewHandler(&mockTimeline{}, store)

	rec := doJSON(t, h, http.MethodGet, "/parents/purchase_order/42/events", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse[ListInstancesResponse](t, rec)
	if resp.ParentType != "PURCHASE_ORDER" || resp.ParentID != 42 {
		t.Fatalf("parent echo = %+v", resp)
	}
	if len(resp.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(resp.Events))
	}
	ev := resp.Events[0]
	if ev.Status != "COMPLETED" {
		t.Fatalf("status = %q, want normalized COMPLETED", ev.Status)
	}
	if ev.PlannedDate != "2026-03-02T00:00:00Z" || ev.ActualDate != "2026-03-02T02:00:00Z" {
		t.Fatalf("times = %q/%q", ev.PlannedDate, ev.ActualDate)
	}
}

func TestRequestBodyTooLarge(t *testing.T) {
	h := NewHandler(&mockTimeline{}, &mockProfileStore{})

	big := strings.Repeat("x", maxRequestBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/timeline/dry-run",
		strings.NewReader(`{"parent_type":"PURCHASE_ORDER","parent_id":42,"rule_context":{"pad":"`+big+`"}}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}
