package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/djlord-it/eventline/internal/domain"
)

func validateTimelineRequest(req TimelineRequest) error {
	if req.ParentType == "" {
		return fmt.Errorf("parent_type is required")
	}
	if _, err := domain.ParseParentType(req.ParentType); err != nil {
		return err
	}
	if req.ParentID <= 0 {
		return fmt.Errorf("parent_id must be positive")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.EventCode) == "" {
			return fmt.Errorf("items[%d]: event_code is required", i)
		}
		if item.ManualOverride != nil && *item.ManualOverride && item.PlannedDate == nil {
			return fmt.Errorf("items[%d]: planned_date is required with a manual override", i)
		}
		if item.Status != "" {
			if _, err := parseStatus(item.Status); err != nil {
				return fmt.Errorf("items[%d]: %w", i, err)
			}
		}
		if item.Timezone != "" {
			if err := validateTimezone(item.Timezone); err != nil {
				return fmt.Errorf("items[%d]: invalid timezone: %w", i, err)
			}
		}
	}
	return nil
}

func parseStatus(s string) (domain.EventStatus, error) {
	status := domain.EventStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch status {
	case domain.StatusPlanned, domain.StatusCompleted, domain.StatusDelayed:
		return status, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func validateProfileRequest(req ProfileRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if req.Timezone != "" {
		if err := validateTimezone(req.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}
	if req.EffectiveFrom != nil && req.EffectiveTo != nil && req.EffectiveTo.Before(*req.EffectiveFrom) {
		return fmt.Errorf("effective_to must not precede effective_from")
	}
	return nil
}

func validateProfileEventRequest(req ProfileEventRequest) error {
	if strings.TrimSpace(req.EventCode) == "" {
		return fmt.Errorf("event_code is required")
	}
	if req.Sequence < 0 {
		return fmt.Errorf("sequence must not be negative")
	}
	return nil
}

func validateTimezone(tz string) error {
	_, err := time.LoadLocation(tz)
	return err
}
