package service

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// maxFilterLength is the maximum allowed length for scope filter expressions.
const maxFilterLength = 1024

// maxFilterCostBudget caps CEL runtime cost for a single filter evaluation.
const maxFilterCostBudget = 100_000

// ScopeResolver discovers scopes via the store's document listing, optionally
// narrowed by a CEL filter expression evaluated per document. The filter sees
// the variables name (string), realm (string), rule_count (int), and
// default_action (string).
type ScopeResolver struct {
	store policy.Store
	env   *cel.Env
}

// NewScopeResolver creates a ScopeResolver.
func NewScopeResolver(store policy.Store) (*ScopeResolver, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("realm", cel.StringType),
		cel.Variable("rule_count", cel.IntType),
		cel.Variable("default_action", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter environment: %w", err)
	}
	return &ScopeResolver{store: store, env: env}, nil
}

// Resolve lists the realm's documents and returns the scopes whose listing
// entry satisfies the filter expression. An empty filter matches everything.
func (r *ScopeResolver) Resolve(ctx context.Context, realm policy.Realm, filter string) ([]policy.Scope, error) {
	infos, err := r.store.ListDocuments(ctx, realm)
	if err != nil {
		return nil, fmt.Errorf("list documents in %s: %w", realm, err)
	}

	if filter == "" {
		scopes := make([]policy.Scope, len(infos))
		for i, info := range infos {
			scopes[i] = info.Scope
		}
		return scopes, nil
	}

	prg, err := r.compileFilter(filter)
	if err != nil {
		return nil, err
	}

	var scopes []policy.Scope
	for _, info := range infos {
		out, _, err := prg.ContextEval(ctx, map[string]any{
			"name":           info.Scope.Name,
			"realm":          string(info.Scope.Realm),
			"rule_count":     info.RuleCount,
			"default_action": string(info.DefaultAction),
		})
		if err != nil {
			return nil, fmt.Errorf("evaluate filter for %s: %w", info.Scope, err)
		}
		matched, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("filter must evaluate to bool, got %T", out.Value())
		}
		if matched {
			scopes = append(scopes, info.Scope)
		}
	}
	return scopes, nil
}

// compileFilter parses and type-checks a filter with runtime cost capped.
func (r *ScopeResolver) compileFilter(filter string) (cel.Program, error) {
	if len(filter) > maxFilterLength {
		return nil, fmt.Errorf("filter exceeds maximum length of %d", maxFilterLength)
	}
	ast, issues := r.env.Compile(filter)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile filter: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter must evaluate to bool, got %s", ast.OutputType())
	}
	prg, err := r.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxFilterCostBudget),
	)
	if err != nil {
		return nil, fmt.Errorf("create filter program: %w", err)
	}
	return prg, nil
}
