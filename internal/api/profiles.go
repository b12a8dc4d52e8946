package api

import (
	"net/http"
	"strings"

	"github.com/djlord-it/eventline/internal/domain"
)

func (h *Handler) createProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateProfileRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.store.CreateProfile(r.Context(), domain.EventProfile{
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		Timezone:      req.Timezone,
	}, actor(r))
	if err != nil {
		writeStoreError(w, "create profile", err)
		return
	}

	writeJSON(w, http.StatusCreated, profileResponse(created))
}

func (h *Handler) listProfiles(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	profiles, err := h.store.ListProfiles(r.Context(), limit, offset, r.URL.Query().Get("name"))
	if err != nil {
		writeStoreError(w, "list profiles", err)
		return
	}

	resp := ListProfilesResponse{Profiles: make([]ProfileResponse, len(profiles))}
	for i, p := range profiles {
		resp.Profiles[i] = profileResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getProfile(w http.ResponseWriter, r *http.Request, profileID int64) {
	p, err := h.store.GetProfile(r.Context(), profileID)
	if err != nil {
		writeStoreError(w, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(p))
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request, profileID int64) {
	var req ProfileRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateProfileRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.store.UpdateProfile(r.Context(), domain.EventProfile{
		ID:            profileID,
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		Timezone:      req.Timezone,
	}, actor(r))
	if err != nil {
		writeStoreError(w, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(updated))
}

func (h *Handler) deleteProfile(w http.ResponseWriter, r *http.Request, profileID int64) {
	if err := h.store.DeleteProfile(r.Context(), profileID); err != nil {
		writeStoreError(w, "delete profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listProfileEvents(w http.ResponseWriter, r *http.Request, profileID int64) {
	if _, err := h.store.GetProfile(r.Context(), profileID); err != nil {
		writeStoreError(w, "get profile", err)
		return
	}

	events, err := h.store.ListProfileEvents(r.Context(), profileID)
	if err != nil {
		writeStoreError(w, "list profile events", err)
		return
	}

	resp := ListProfileEventsResponse{
		ProfileID: profileID,
		Events:    make([]ProfileEventResponse, len(events)),
	}
	for i, e := range events {
		resp.Events[i] = profileEventResponse(e, 0)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createProfileEvent(w http.ResponseWriter, r *http.Request, profileID int64) {
	var req ProfileEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateProfileEventRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, version, err := h.store.CreateProfileEvent(r.Context(), profileEventFromRequest(profileID, req), actor(r))
	if err != nil {
		writeStoreError(w, "create profile event", err)
		return
	}
	writeJSON(w, http.StatusCreated, profileEventResponse(created, version))
}

func (h *Handler) updateProfileEvent(w http.ResponseWriter, r *http.Request, profileID int64, eventCode string) {
	var req ProfileEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.EventCode = eventCode
	if err := validateProfileEventRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	version, err := h.store.UpdateProfileEvent(r.Context(), profileEventFromRequest(profileID, req), actor(r))
	if err != nil {
		writeStoreError(w, "update profile event", err)
		return
	}

	updated, err := h.store.GetProfileEvent(r.Context(), profileID, eventCode)
	if err != nil {
		writeStoreError(w, "get profile event", err)
		return
	}
	writeJSON(w, http.StatusOK, profileEventResponse(updated, version))
}

func (h *Handler) deleteProfileEvent(w http.ResponseWriter, r *http.Request, profileID int64, eventCode string) {
	if err := h.store.DeleteProfileEvent(r.Context(), profileID, eventCode, actor(r)); err != nil {
		writeStoreError(w, "delete profile event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func profileResponse(p domain.EventProfile) ProfileResponse {
	return ProfileResponse{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		ProfileVersion: p.ProfileVersion,
		EffectiveFrom:  formatTimePtr(p.EffectiveFrom),
		EffectiveTo:    formatTimePtr(p.EffectiveTo),
		Timezone:       p.Timezone,
		CreatedAt:      formatTime(p.CreatedAt),
		UpdatedAt:      formatTime(p.UpdatedAt),
	}
}

func profileEventFromRequest(profileID int64, req ProfileEventRequest) domain.ProfileEvent {
	e := domain.ProfileEvent{
		ProfileID:     profileID,
		EventCode:     strings.TrimSpace(req.EventCode),
		OffsetMinutes: req.OffsetMinutes,
		Sequence:      req.Sequence,
		IsMandatory:   req.IsMandatory,
	}
	if anchor := strings.TrimSpace(req.AnchorEventCode); anchor != "" {
		e.AnchorEventCode = &anchor
	}
	if rule := strings.TrimSpace(req.InclusionRuleID); rule != "" {
		e.InclusionRuleID = &rule
	}
	return e
}

func profileEventResponse(e domain.ProfileEvent, version int) ProfileEventResponse {
	resp := ProfileEventResponse{
		ID:             e.ID,
		ProfileID:      e.ProfileID,
		EventCode:      e.EventCode,
		OffsetMinutes:  e.OffsetMinutes,
		Sequence:       e.Sequence,
		IsMandatory:    e.IsMandatory,
		ProfileVersion: version,
	}
	if e.AnchorEventCode != nil {
		resp.AnchorEventCode = *e.AnchorEventCode
	}
	if e.InclusionRuleID != nil {
		resp.InclusionRuleID = *e.InclusionRuleID
	}
	return resp
}
