// Package rules resolves event profiles and inclusion predicates through
// an external rule engine.
package rules

import (
	"context"
	"errors"
)

var (
	// ErrProfileNotResolvable means no candidate rule or default produced a
	// usable profile. The resolver never guesses.
	ErrProfileNotResolvable = errors.New("unable to resolve event profile")

	// ErrInclusionContract means the rule engine answered an inclusion rule
	// with something other than a clean boolean. Answers are never coerced.
	ErrInclusionContract = errors.New("inclusion rule must return a strict boolean result")

	// ErrRuleNotFound means the engine has no rule for the given slug;
	// profile resolution falls through to the next candidate.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrEngineUnavailable means the rule engine could not be reached or
	// answered outside its contract status range. Callers map it to an
	// upstream failure, not a caller mistake.
	ErrEngineUnavailable = errors.New("rule engine unavailable")
)

// ProfileRef is a rule engine's answer to a profile rule: a numeric id,
// a profile name, or neither.
type ProfileRef struct {
	ID   int64
	Name string
}

// Port is the external rule engine boundary.
type Port interface {
	// EvaluateBoolean evaluates an inclusion rule. The result must be a
	// literal boolean or a single predictable key holding one.
	EvaluateBoolean(ctx context.Context, ruleID string, ruleContext map[string]any) (bool, error)

	// ResolveProfile evaluates a profile rule slug into a profile id or name.
	ResolveProfile(ctx context.Context, slug string, ruleContext map[string]any) (ProfileRef, error)
}
