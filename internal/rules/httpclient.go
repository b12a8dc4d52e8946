package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DecisionClient implements Port against the external decision engine's
// evaluate endpoint.
type DecisionClient struct {
	baseURL string
	client  *http.Client
}

// NewDecisionClient creates a client with a bounded request timeout.
// Retry policy belongs to the engine deployment, not this client.
func NewDecisionClient(baseURL string, timeout time.Duration) *DecisionClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DecisionClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type evaluateRequest struct {
	TableSlug string         `json:"table_slug"`
	Context   map[string]any `json:"context"`
}

type evaluateResponse struct {
	Result any `json:"result"`
}

func (c *DecisionClient) evaluate(ctx context.Context, slug string, ruleContext map[string]any) (any, error) {
	if ruleContext == nil {
		ruleContext = map[string]any{}
	}
	body, err := json.Marshal(evaluateRequest{TableSlug: slug, Context: ruleContext})
	if err != nil {
		return nil, fmt.Errorf("marshal rule request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rule request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request %q: %v", ErrEngineUnavailable, slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("rule %q: %w", slug, ErrRuleNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("%w: status %d for %q: %s", ErrEngineUnavailable, resp.StatusCode, slug, snippet)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode rule response for %q: %w", slug, err)
	}
	return out.Result, nil
}

func (c *DecisionClient) EvaluateBoolean(ctx context.Context, ruleID string, ruleContext map[string]any) (bool, error) {
	result, err := c.evaluate(ctx, ruleID, ruleContext)
	if err != nil {
		return false, err
	}
	return ExtractBoolean(result, ruleID)
}

func (c *DecisionClient) ResolveProfile(ctx context.Context, slug string, ruleContext map[string]any) (ProfileRef, error) {
	result, err := c.evaluate(ctx, slug, ruleContext)
	if err != nil {
		return ProfileRef{}, err
	}
	return ExtractProfileRef(result), nil
}

// ExtractBoolean enforces the strict-boolean contract: a literal boolean,
// a predictable key holding one, or a single-entry map holding one.
func ExtractBoolean(result any, ruleID string) (bool, error) {
	if b, ok := result.(bool); ok {
		return b, nil
	}

	if m, ok := result.(map[string]any); ok {
		for _, key := range []string{"is_included", "include", "is_active", "value", "result"} {
			if b, ok := m[key].(bool); ok {
				return b, nil
			}
		}
		if len(m) == 1 {
			for _, v := range m {
				if b, ok := v.(bool); ok {
					return b, nil
				}
			}
		}
	}

	snippet, _ := json.Marshal(result)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return false, fmt.Errorf("%w: rule %q got %s", ErrInclusionContract, ruleID, snippet)
}

// ExtractProfileRef pulls a profile id or name out of a rule result.
// An empty ref means the rule answered with neither.
func ExtractProfileRef(result any) ProfileRef {
	if id, ok := asID(result); ok {
		return ProfileRef{ID: id}
	}

	if m, ok := result.(map[string]any); ok {
		for _, key := range []string{"profile_id", "event_profile_id", "id"} {
			if id, ok := asID(m[key]); ok {
				return ProfileRef{ID: id}
			}
		}
		for _, key := range []string{"profile_name", "event_profile_name", "name", "profile"} {
			if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
				return ProfileRef{Name: strings.TrimSpace(s)}
			}
		}
		if len(m) == 1 {
			for _, v := range m {
				if id, ok := asID(v); ok {
					return ProfileRef{ID: id}
				}
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					return ProfileRef{Name: strings.TrimSpace(s)}
				}
			}
		}
	}

	if s, ok := result.(string); ok {
		if name := strings.TrimSpace(s); name != "" {
			return ProfileRef{Name: name}
		}
	}

	return ProfileRef{}
}

// asID accepts integers, JSON numbers, and digit strings.
func asID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		if n > 0 {
			return n, true
		}
	case int:
		if n > 0 {
			return int64(n), true
		}
	case float64:
		if n > 0 && n == float64(int64(n)) {
			return int64(n), true
		}
	case json.Number:
		if id, err := n.Int64(); err == nil && id > 0 {
			return id, true
		}
	case string:
		if id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil && id > 0 {
			return id, true
		}
	}
	return 0, false
}
