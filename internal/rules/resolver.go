package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/djlord-it/eventline/internal/domain"
)

// ProfileDirectory looks up stored profiles by name. Lookups are
// case-insensitive on the second try; implementations return sql.ErrNoRows
// when no profile matches.
type ProfileDirectory interface {
	FindProfileIDByName(ctx context.Context, name string) (int64, error)
}

// Config carries the per-object-type resolution tables as explicit state
// injected at construction.
type Config struct {
	// Enabled gates rule-based profile resolution. When false, the fixed
	// default profile name per parent type is resolved instead.
	Enabled bool

	// FallbackSlugs are tried, in order, after the caller's own rule slug.
	FallbackSlugs map[domain.ParentType][]string

	// DefaultProfiles maps each parent type to the profile name used when
	// rule-based resolution is disabled.
	DefaultProfiles map[domain.ParentType]string
}

// DefaultConfig returns the resolution tables for the two supported
// parent types.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		FallbackSlugs: map[domain.ParentType][]string{
			domain.ParentPurchaseOrder: {"po_events", "purchase_order_default_profile_v1"},
			domain.ParentShipment:      {"shipment_events", "shipment_default_profile_v1"},
		},
		DefaultProfiles: map[domain.ParentType]string{
			domain.ParentPurchaseOrder: "PO_EVENTS_DEFAULT_V1",
			domain.ParentShipment:      "SHIPMENT_EVENTS_DEFAULT_V1",
		},
	}
}

// Resolver answers "which profile" and "is this event active" questions,
// delegating to the rule port and memoizing per resolution run.
type Resolver struct {
	cfg  Config
	port Port
	dir  ProfileDirectory
}

func New(cfg Config, port Port, dir ProfileDirectory) *Resolver {
	return &Resolver{cfg: cfg, port: port, dir: dir}
}

// Run memoizes rule answers for one computation. Runs are not safe for
// concurrent use; each request gets its own.
type Run struct {
	r        *Resolver
	boolMemo map[string]bool
	refMemo  map[string]ProfileRef
}

func (r *Resolver) NewRun() *Run {
	return &Run{
		r:        r,
		boolMemo: make(map[string]bool),
		refMemo:  make(map[string]ProfileRef),
	}
}

// EvaluateInclusion resolves an inclusion rule to a boolean, memoized by
// rule id within the run.
func (run *Run) EvaluateInclusion(ctx context.Context, ruleID string, ruleContext map[string]any) (bool, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return true, nil
	}
	if v, ok := run.boolMemo[ruleID]; ok {
		return v, nil
	}
	v, err := run.r.port.EvaluateBoolean(ctx, ruleID, ruleContext)
	if err != nil {
		return false, err
	}
	run.boolMemo[ruleID] = v
	return v, nil
}

// ResolveProfileID picks the profile for a computation.
//
// Order: an explicit profile_id in the context wins; otherwise the caller's
// profile rule slug plus the configured fallback slugs are tried in order,
// skipping slugs the engine does not know; when rule resolution is disabled
// the fixed default profile name for the parent type is looked up instead.
func (run *Run) ResolveProfileID(ctx context.Context, parentType domain.ParentType, ruleContext map[string]any) (int64, error) {
	if id, ok := asID(ruleContext["profile_id"]); ok {
		return id, nil
	}

	if !run.r.cfg.Enabled {
		name := run.r.cfg.DefaultProfiles[parentType]
		if name == "" {
			return 0, fmt.Errorf("%w: no default profile configured for %s", ErrProfileNotResolvable, parentType)
		}
		id, err := run.r.dir.FindProfileIDByName(ctx, name)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: default profile %q not found for %s", ErrProfileNotResolvable, name, parentType)
		}
		if err != nil {
			return 0, err
		}
		return id, nil
	}

	slug, _ := ruleContext["profile_rule_slug"].(string)
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return 0, fmt.Errorf("%w: profile_id or profile_rule_slug is required", ErrProfileNotResolvable)
	}

	var lastErr error
	for _, candidate := range run.candidateSlugs(slug, parentType) {
		ref, err := run.resolveRef(ctx, candidate, ruleContext)
		if errors.Is(err, ErrRuleNotFound) {
			lastErr = err
			continue
		}
		if err != nil {
			return 0, err
		}

		if ref.ID > 0 {
			return ref.ID, nil
		}
		if ref.Name != "" {
			id, err := run.r.dir.FindProfileIDByName(ctx, ref.Name)
			if err == nil {
				return id, nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return 0, err
			}
			lastErr = fmt.Errorf("rule %q named unknown profile %q", candidate, ref.Name)
			continue
		}
		lastErr = fmt.Errorf("rule %q returned neither profile id nor name", candidate)
	}

	if lastErr != nil {
		return 0, fmt.Errorf("%w: slug %q for %s: %v", ErrProfileNotResolvable, slug, parentType, lastErr)
	}
	return 0, fmt.Errorf("%w: slug %q for %s", ErrProfileNotResolvable, slug, parentType)
}

func (run *Run) resolveRef(ctx context.Context, slug string, ruleContext map[string]any) (ProfileRef, error) {
	if ref, ok := run.refMemo[slug]; ok {
		return ref, nil
	}
	ref, err := run.r.port.ResolveProfile(ctx, slug, ruleContext)
	if err != nil {
		return ProfileRef{}, err
	}
	run.refMemo[slug] = ref
	return ref, nil
}

// candidateSlugs orders the caller slug ahead of the configured fallbacks,
// deduplicated case-insensitively.
func (run *Run) candidateSlugs(slug string, parentType domain.ParentType) []string {
	ordered := append([]string{slug}, run.r.cfg.FallbackSlugs[parentType]...)

	seen := make(map[string]bool, len(ordered))
	out := make([]string, 0, len(ordered))
	for _, s := range ordered {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
