// Package api exposes the timeline engine over HTTP.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/djlord-it/eventline/internal/domain"
	"github.com/djlord-it/eventline/internal/lock"
	"github.com/djlord-it/eventline/internal/profile"
	"github.com/djlord-it/eventline/internal/reconciler"
	"github.com/djlord-it/eventline/internal/rules"
	"github.com/djlord-it/eventline/internal/store/postgres"
	"github.com/djlord-it/eventline/internal/timeline"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// UserHeader identifies the acting user on write requests.
const UserHeader = "X-User-Email"

// Timeline is the orchestration surface the handler needs.
type Timeline interface {
	DryRun(ctx context.Context, req timeline.Request) (timeline.Result, error)
	Preview(ctx context.Context, req timeline.PreviewRequest) (timeline.Result, error)
	Save(ctx context.Context, req timeline.SaveRequest) (timeline.SaveResult, error)
}

// ProfileStore is the profile administration surface the handler needs.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p domain.EventProfile, actor string) (domain.EventProfile, error)
	GetProfile(ctx context.Context, profileID int64) (domain.EventProfile, error)
	ListProfiles(ctx context.Context, limit, offset int, name string) ([]domain.EventProfile, error)
	UpdateProfile(ctx context.Context, p domain.EventProfile, actor string) (domain.EventProfile, error)
	DeleteProfile(ctx context.Context, profileID int64) error
	ListProfileEvents(ctx context.Context, profileID int64) ([]domain.ProfileEvent, error)
	GetProfileEvent(ctx context.Context, profileID int64, eventCode string) (domain.ProfileEvent, error)
	CreateProfileEvent(ctx context.Context, e domain.ProfileEvent, actor string) (domain.ProfileEvent, int, error)
	UpdateProfileEvent(ctx context.Context, e domain.ProfileEvent, actor string) (int, error)
	DeleteProfileEvent(ctx context.Context, profileID int64, eventCode, actor string) error
	ListInstancesByParent(ctx context.Context, parentType domain.ParentType, parentID int64) ([]domain.EventInstance, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	timeline Timeline
	store    ProfileStore
	db       HealthChecker
}

func NewHandler(tl Timeline, store ProfileStore) *Handler {
	return &Handler{timeline: tl, store: store}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/timeline/dry-run" && r.Method == http.MethodPost:
		h.dryRun(w, r)

	case path == "/timeline/preview" && r.Method == http.MethodPost:
		h.preview(w, r)

	case path == "/timeline/save" && r.Method == http.MethodPost:
		h.save(w, r)

	case path == "/profiles" && r.Method == http.MethodPost:
		h.createProfile(w, r)

	case path == "/profiles" && r.Method == http.MethodGet:
		h.listProfiles(w, r)

	case strings.HasPrefix(path, "/profiles/"):
		h.routeProfile(w, r)

	case strings.HasPrefix(path, "/parents/") && r.Method == http.MethodGet:
		h.listParentEvents(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// routeProfile dispatches /profiles/{id}[/events[/{event_code}]].
func (h *Handler) routeProfile(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	profileID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || profileID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		h.getProfile(w, r, profileID)
	case len(parts) == 2 && r.Method == http.MethodPatch:
		h.updateProfile(w, r, profileID)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		h.deleteProfile(w, r, profileID)
	case len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodPost:
		h.createProfileEvent(w, r, profileID)
	case len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodGet:
		h.listProfileEvents(w, r, profileID)
	case len(parts) == 4 && parts[2] == "events" && r.Method == http.MethodPatch:
		h.updateProfileEvent(w, r, profileID, parts[3])
	case len(parts) == 4 && parts[2] == "events" && r.Method == http.MethodDelete:
		h.deleteProfileEvent(w, r, profileID, parts[3])
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) dryRun(w http.ResponseWriter, r *http.Request) {
	var req TimelineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateTimelineRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.timeline.DryRun(r.Context(), h.timelineRequest(r, req))
	if err != nil {
		writeTimelineError(w, "dry-run", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req TimelineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateTimelineRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.timeline.Preview(r.Context(), timeline.PreviewRequest{
		Request:     h.timelineRequest(r, req),
		Recalculate: recalculate(req),
		Items:       saveItems(req.Items),
	})
	if err != nil {
		writeTimelineError(w, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	var req TimelineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateTimelineRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.timeline.Save(r.Context(), timeline.SaveRequest{
		Request:     h.timelineRequest(r, req),
		Recalculate: recalculate(req),
		Items:       saveItems(req.Items),
		LockToken:   r.Header.Get(lock.TokenHeader),
	})
	if err != nil {
		writeTimelineError(w, "save", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) timelineRequest(r *http.Request, req TimelineRequest) timeline.Request {
	// Validated upstream; the error path is unreachable here.
	parentType, _ := domain.ParseParentType(req.ParentType)

	ruleContext := make(map[string]any, len(req.RuleContext)+2)
	for k, v := range req.RuleContext {
		ruleContext[k] = v
	}
	if req.ProfileID > 0 {
		ruleContext["profile_id"] = req.ProfileID
	}
	if req.ProfileRuleSlug != "" {
		ruleContext["profile_rule_slug"] = req.ProfileRuleSlug
	}

	return timeline.Request{
		ParentType:  parentType,
		ParentID:    req.ParentID,
		StartDate:   req.StartDate,
		RuleContext: ruleContext,
		Actor:       strings.TrimSpace(r.Header.Get(UserHeader)),
	}
}

func recalculate(req TimelineRequest) bool {
	return req.Recalculate == nil || *req.Recalculate
}

func saveItems(items []TimelineItemRequest) map[string]reconciler.SaveItem {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]reconciler.SaveItem, len(items))
	for _, item := range items {
		status, _ := parseStatus(item.Status)
		out[item.EventCode] = reconciler.SaveItem{
			EventCode:      item.EventCode,
			IsActive:       item.IsActive,
			PlannedDate:    item.PlannedDate,
			ManualOverride: item.ManualOverride,
			BaselineDate:   item.BaselineDate,
			ActualDate:     item.ActualDate,
			Status:         status,
			StatusReason:   item.StatusReason,
			Timezone:       item.Timezone,
		}
	}
	return out
}

// writeTimelineError maps orchestration errors onto transport codes: caller
// mistakes are 400, lock rejections 409, rule engine outages 502.
func writeTimelineError(w http.ResponseWriter, op string, err error) {
	if failure, ok := lock.AsFailure(err); ok {
		writeJSON(w, http.StatusConflict, LockErrorResponse{
			Error:     failure.Message,
			Code:      string(failure.Code),
			LockedBy:  failure.LockedBy,
			ExpiresAt: formatTimePtr(failure.ExpiresAt),
		})
		return
	}

	switch {
	case errors.Is(err, rules.ErrEngineUnavailable):
		log.Printf("api: %s rule engine error: %v", op, err)
		writeError(w, http.StatusBadGateway, "rule engine unavailable")
	case errors.Is(err, rules.ErrInclusionContract),
		errors.Is(err, rules.ErrProfileNotResolvable),
		errors.Is(err, timeline.ErrProfileNotEffective),
		errors.Is(err, timeline.ErrNoEvents):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, timeline.ErrParentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "timeline "+op+" failed")
	}
}

func (h *Handler) listParentEvents(w http.ResponseWriter, r *http.Request) {
	// Path: /parents/{type}/{id}/events
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "parents" || parts[3] != "events" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	parentType, err := domain.ParseParentType(parts[1])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	parentID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || parentID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid parent id")
		return
	}

	instances, err := h.store.ListInstancesByParent(r.Context(), parentType, parentID)
	if err != nil {
		log.Printf("api: list parent events error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	resp := ListInstancesResponse{
		ParentType: string(parentType),
		ParentID:   parentID,
		Events:     make([]InstanceResponse, len(instances)),
	}
	for i, inst := range instances {
		resp.Events[i] = InstanceResponse{
			ID:             inst.ID.String(),
			EventCode:      inst.EventCode,
			ProfileID:      inst.ProfileID,
			ProfileVersion: inst.ProfileVersion,
			BaselineDate:   formatTimePtr(inst.BaselineDate),
			PlannedDate:    formatTimePtr(inst.PlannedDate),
			ActualDate:     formatTimePtr(inst.ActualDate),
			ManualOverride: inst.ManualOverride,
			Status:         string(domain.NormalizeStatus(inst.Status, inst.ActualDate)),
			StatusReason:   inst.StatusReason,
			Timezone:       inst.Timezone,
			UpdatedAt:      formatTime(inst.UpdatedAt),
			UpdatedBy:      inst.UpdatedBy,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > MaxLimit {
			return 0, 0, errors.New("limit must be between 1 and 1000")
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must not be negative")
		}
	}
	return limit, offset, nil
}

// writeStoreError maps store errors for the profile admin endpoints.
func writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, postgres.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, profile.ErrSelfReference),
		errors.Is(err, profile.ErrAnchorOutsideProfile),
		errors.Is(err, profile.ErrCycleDetected),
		errors.Is(err, profile.ErrDuplicateEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
