package rules

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func decisionServer(t *testing.T, status int, result any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/evaluate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			TableSlug string         `json:"table_slug"`
			Context   map[string]any `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.TableSlug == "" {
			t.Error("table_slug missing from request")
		}
		w.WriteHeader(status)
		if status >= 200 && status < 300 {
			json.NewEncoder(w).Encode(map[string]any{"result": result})
		}
	}))
}

func TestDecisionClient_EvaluateBoolean(t *testing.T) {
	srv := decisionServer(t, http.StatusOK, true)
	defer srv.Close()

	client := NewDecisionClient(srv.URL, time.Second)
	included, err := client.EvaluateBoolean(context.Background(), "air_freight_only", map[string]any{"mode": "AIR"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !included {
		t.Fatal("expected included")
	}
}

func TestDecisionClient_ContractViolation(t *testing.T) {
	srv := decisionServer(t, http.StatusOK, "yes")
	defer srv.Close()

	client := NewDecisionClient(srv.URL, time.Second)
	_, err := client.EvaluateBoolean(context.Background(), "air_freight_only", nil)
	if !errors.Is(err, ErrInclusionContract) {
		t.Fatalf("expected ErrInclusionContract, got %v", err)
	}
}

func TestDecisionClient_NotFound(t *testing.T) {
	srv := decisionServer(t, http.StatusNotFound, nil)
	defer srv.Close()

	client := NewDecisionClient(srv.URL, time.Second)
	_, err := client.ResolveProfile(context.Background(), "ghost_slug", nil)
	if !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestDecisionClient_ServerError(t *testing.T) {
	srv := decisionServer(t, http.StatusInternalServerError, nil)
	defer srv.Close()

	client := NewDecisionClient(srv.URL, time.Second)
	_, err := client.EvaluateBoolean(context.Background(), "air_freight_only", nil)
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestDecisionClient_Unreachable(t *testing.T) {
	srv := decisionServer(t, http.StatusOK, true)
	srv.Close() // refuse connections

	client := NewDecisionClient(srv.URL, time.Second)
	_, err := client.EvaluateBoolean(context.Background(), "air_freight_only", nil)
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestDecisionClient_ResolveProfile(t *testing.T) {
	srv := decisionServer(t, http.StatusOK, map[string]any{"profile_id": 9})
	defer srv.Close()

	client := NewDecisionClient(srv.URL, time.Second)
	ref, err := client.ResolveProfile(context.Background(), "po_events", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.ID != 9 {
		t.Fatalf("resolved %+v, want ID 9", ref)
	}
}
