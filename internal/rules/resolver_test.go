package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/djlord-it/eventline/internal/domain"
)

// mockPort answers rule evaluations from fixed tables and counts calls.
type mockPort struct {
	mu        sync.Mutex
	booleans  map[string]bool
	profiles  map[string]ProfileRef
	boolCalls map[string]int
	refCalls  map[string]int
	failWith  error
}

func newMockPort() *mockPort {
	return &mockPort{
		booleans:  make(map[string]bool),
		profiles:  make(map[string]ProfileRef),
		boolCalls: make(map[string]int),
		refCalls:  make(map[string]int),
	}
}

func (p *mockPort) EvaluateBoolean(ctx context.Context, ruleID string, ruleContext map[string]any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.boolCalls[ruleID]++
	if p.failWith != nil {
		return false, p.failWith
	}
	v, ok := p.booleans[ruleID]
	if !ok {
		return false, fmt.Errorf("rule %q: %w", ruleID, ErrRuleNotFound)
	}
	return v, nil
}

func (p *mockPort) ResolveProfile(ctx context.Context, slug string, ruleContext map[string]any) (ProfileRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refCalls[slug]++
	if p.failWith != nil {
		return ProfileRef{}, p.failWith
	}
	ref, ok := p.profiles[slug]
	if !ok {
		return ProfileRef{}, fmt.Errorf("rule %q: %w", slug, ErrRuleNotFound)
	}
	return ref, nil
}

// mockDirectory maps profile names to ids.
type mockDirectory struct {
	names map[string]int64
}

func (d *mockDirectory) FindProfileIDByName(ctx context.Context, name string) (int64, error) {
	if id, ok := d.names[name]; ok {
		return id, nil
	}
	return 0, sql.ErrNoRows
}

func newResolver(port Port, dir ProfileDirectory, enabled bool) *Resolver {
	cfg := DefaultConfig()
	cfg.Enabled = enabled
	return New(cfg, port, dir)
}

func TestEvaluateInclusion_EmptyRuleIsActive(t *testing.T) {
	port := newMockPort()
	run := newResolver(port, &mockDirectory{}, true).NewRun()

	included, err := run.EvaluateInclusion(context.Background(), "  ", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !included {
		t.Fatal("empty rule id must mean unconditionally active")
	}
	if len(port.boolCalls) != 0 {
		t.Fatal("empty rule id must not reach the engine")
	}
}

func TestEvaluateInclusion_MemoizedPerRun(t *testing.T) {
	port := newMockPort()
	port.booleans["air_freight_only"] = true
	resolver := newResolver(port, &mockDirectory{}, true)
	run := resolver.NewRun()

	for i := 0; i < 3; i++ {
		included, err := run.EvaluateInclusion(context.Background(), "air_freight_only", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !included {
			t.Fatal("expected included")
		}
	}
	if got := port.boolCalls["air_freight_only"]; got != 1 {
		t.Fatalf("engine called %d times within one run, want 1", got)
	}

	// A fresh run re-asks.
	if _, err := resolver.NewRun().EvaluateInclusion(context.Background(), "air_freight_only", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := port.boolCalls["air_freight_only"]; got != 2 {
		t.Fatalf("engine called %d times across two runs, want 2", got)
	}
}

func TestResolveProfileID_ExplicitIDWins(t *testing.T) {
	port := newMockPort()
	run := newResolver(port, &mockDirectory{}, true).NewRun()

	id, err := run.ResolveProfileID(context.Background(), domain.ParentPurchaseOrder, map[string]any{
		"profile_id":        float64(42), // JSON numbers decode as float64
		"profile_rule_slug": "po_events",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42 {
		t.Fatalf("resolved %d, want 42", id)
	}
	if len(port.refCalls) != 0 {
		t.Fatal("explicit profile_id must not reach the engine")
	}
}

// Unknown slugs fall through to the configured candidates in order.
func TestResolveProfileID_SlugFallthrough(t *testing.T) {
	port := newMockPort()
	port.profiles["purchase_order_default_profile_v1"] = ProfileRef{ID: 7}
	run := newResolver(port, &mockDirectory{}, true).NewRun()

	id, err := run.ResolveProfileID(context.Background(), domain.ParentPurchaseOrder, map[string]any{
		"profile_rule_slug": "custom_po_rule",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 7 {
		t.Fatalf("resolved %d, want 7", id)
	}
	if port.refCalls["custom_po_rule"] != 1 || port.refCalls["po_events"] != 1 {
		t.Fatalf("candidates not tried in order: %v", port.refCalls)
	}
}

// A rule answering with a profile name resolves through the directory.
func TestResolveProfileID_NameLookup(t *testing.T) {
	port := newMockPort()
	port.profiles["po_events"] = ProfileRef{Name: "PO_EVENTS_EXPRESS_V2"}
	dir := &mockDirectory{names: map[string]int64{"PO_EVENTS_EXPRESS_V2": 11}}
	run := newResolver(port, dir, true).NewRun()

	id, err := run.ResolveProfileID(context.Background(), domain.ParentPurchaseOrder, map[string]any{
		"profile_rule_slug": "po_events",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 11 {
		t.Fatalf("resolved %d, want 11", id)
	}
}

func TestResolveProfileID_DisabledUsesDefaultName(t *testing.T) {
	port := newMockPort()
	dir := &mockDirectory{names: map[string]int64{"SHIPMENT_EVENTS_DEFAULT_V1": 3}}
	run := newResolver(port, dir, false).NewRun()

	id, err := run.ResolveProfileID(context.Background(), domain.ParentShipment, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 3 {
		t.Fatalf("resolved %d, want 3", id)
	}
	if len(port.refCalls) != 0 {
		t.Fatal("disabled resolution must not reach the engine")
	}
}

func TestResolveProfileID_ExhaustedCandidates(t *testing.T) {
	port := newMockPort()
	run := newResolver(port, &mockDirectory{}, true).NewRun()

	_, err := run.ResolveProfileID(context.Background(), domain.ParentShipment, map[string]any{
		"profile_rule_slug": "nothing_here",
	})
	if !errors.Is(err, ErrProfileNotResolvable) {
		t.Fatalf("expected ErrProfileNotResolvable, got %v", err)
	}
}

// Transport failures abort resolution instead of falling through.
func TestResolveProfileID_EngineFailureAborts(t *testing.T) {
	port := newMockPort()
	port.failWith = fmt.Errorf("%w: connection refused", ErrEngineUnavailable)
	run := newResolver(port, &mockDirectory{}, true).NewRun()

	_, err := run.ResolveProfileID(context.Background(), domain.ParentPurchaseOrder, map[string]any{
		"profile_rule_slug": "po_events",
	})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestExtractBoolean(t *testing.T) {
	cases := []struct {
		name    string
		result  any
		want    bool
		wantErr bool
	}{
		{name: "literal true", result: true, want: true},
		{name: "literal false", result: false, want: false},
		{name: "is_included key", result: map[string]any{"is_included": true}, want: true},
		{name: "include key", result: map[string]any{"include": false}, want: false},
		{name: "single entry map", result: map[string]any{"whatever": true}, want: true},
		{name: "string rejected", result: "true", wantErr: true},
		{name: "number rejected", result: float64(1), wantErr: true},
		{name: "nil rejected", result: nil, wantErr: true},
		{name: "ambiguous map rejected", result: map[string]any{"a": true, "b": false}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractBoolean(tc.result, "r1")
			if tc.wantErr {
				if !errors.Is(err, ErrInclusionContract) {
					t.Fatalf("expected ErrInclusionContract, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %t, want %t", got, tc.want)
			}
		})
	}
}

func TestExtractProfileRef(t *testing.T) {
	cases := []struct {
		name   string
		result any
		want   ProfileRef
	}{
		{name: "bare number", result: float64(5), want: ProfileRef{ID: 5}},
		{name: "profile_id key", result: map[string]any{"profile_id": float64(5)}, want: ProfileRef{ID: 5}},
		{name: "digit string id", result: map[string]any{"id": "12"}, want: ProfileRef{ID: 12}},
		{name: "profile_name key", result: map[string]any{"profile_name": "PO_V1"}, want: ProfileRef{Name: "PO_V1"}},
		{name: "bare string name", result: "  SHIP_V2 ", want: ProfileRef{Name: "SHIP_V2"}},
		{name: "single entry map name", result: map[string]any{"x": "PO_V3"}, want: ProfileRef{Name: "PO_V3"}},
		{name: "nothing usable", result: map[string]any{"a": 1.5, "b": true}, want: ProfileRef{}},
		{name: "zero id rejected", result: float64(0), want: ProfileRef{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractProfileRef(tc.result)
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
