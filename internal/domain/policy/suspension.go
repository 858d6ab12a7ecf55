package policy

import (
	"context"
	"time"
)

// SuspendedRule preserves the exact original definition of a rule that was
// evicted from a document while a restriction is active, so restoration is
// lossless.
type SuspendedRule struct {
	// RuleName is the evicted rule's name.
	RuleName string `json:"rule_name"`
	// Original is the rule exactly as it appeared before eviction,
	// including its original priority.
	Original Rule `json:"original"`
}

// Suspension is the per-scope record created when a restriction is enabled
// and consumed when it is disabled. At most one suspension exists per scope.
type Suspension struct {
	// Scope the record belongs to.
	Scope Scope `json:"scope"`
	// PriorDefault is the document's default action before the restriction
	// flipped it, restored verbatim on disable.
	PriorDefault Action `json:"prior_default"`
	// Rules are the evicted conflicting rules, in eviction order.
	Rules []SuspendedRule `json:"rules,omitempty"`
	// CreatedAt is when the suspension was recorded (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the suspension.
func (s *Suspension) Clone() *Suspension {
	if s == nil {
		return nil
	}
	out := *s
	if s.Rules != nil {
		out.Rules = make([]SuspendedRule, len(s.Rules))
		for i := range s.Rules {
			out.Rules[i] = SuspendedRule{
				RuleName: s.Rules[i].RuleName,
				Original: s.Rules[i].Original.Clone(),
			}
		}
	}
	return &out
}

// Rule returns the suspended rule with the given name, or nil when absent.
func (s *Suspension) Rule(name string) *SuspendedRule {
	if s == nil {
		return nil
	}
	for i := range s.Rules {
		if s.Rules[i].RuleName == name {
			return &s.Rules[i]
		}
	}
	return nil
}

// SuspensionStore remembers suspensions between enable and disable. It is
// best-effort: the remote store remains the sole source of truth for which
// rules are active, this store only enables lossless restoration when its
// record survives.
type SuspensionStore interface {
	// Save records the suspension for its scope, replacing any previous
	// record for that scope.
	Save(ctx context.Context, s *Suspension) error
	// Load returns the suspension recorded for the scope, or (nil, nil)
	// when none exists.
	Load(ctx context.Context, scope Scope) (*Suspension, error)
	// Clear removes the scope's suspension record. Clearing an absent
	// record is not an error.
	Clear(ctx context.Context, scope Scope) error
}
