// Package reconcile computes desired policy documents from current snapshots
// plus operator intent. All functions are pure: they never perform I/O, never
// mutate their inputs, and always return deep copies.
//
// The transformation invariants:
//
//   - Every rule not named by the intent appears in the output value-identical
//     to the input, in its original relative order.
//   - Rule priorities stay pairwise distinct and non-negative; renumbering
//     touches the minimum number of rules needed to restore uniqueness.
//   - The restriction rule, when present, holds priority 0.
package reconcile

import (
	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// ConflictSpec names a rule type whose semantics override or race with the
// restriction rule, plus the definition to synthesize when its suspension
// record was lost and the rule must be recreated on disable.
type ConflictSpec struct {
	// Name of the conflicting rule.
	Name string
	// Fallback is the definition inserted on disable when no suspension
	// record exists for Name. Its Priority is the insertion priority.
	Fallback policy.Rule
}

// DisableReport details what ComputeDisable did beyond removing the
// restriction rule.
type DisableReport struct {
	// Restored are names reinserted from their exact suspended originals.
	Restored []string
	// Fabricated are names reinserted from ConflictSpec fallbacks because
	// their suspension record was missing. A fabricated rule is a flagged
	// compromise: the true original definition was lost.
	Fabricated []string
}

// ComputeEnable computes the document that enforces the restriction rule:
// conflicting rules are evicted (captured in the returned Suspension with
// their original definitions), the restriction rule is inserted at priority
// 0, and the default action flips to Block with the prior default captured.
//
// When the document already satisfies the restriction — the restriction rule
// present at priority 0 with this exact definition, no conflicting rule
// present, default action Block — the returned document is structurally
// equal to the input, the Suspension is nil, and changed is false. Callers
// use changed=false to skip a redundant write.
func ComputeEnable(doc *policy.Document, restriction policy.Rule, conflicting []string) (*policy.Document, *policy.Suspension, bool) {
	isConflict := make(map[string]bool, len(conflicting))
	for _, name := range conflicting {
		isConflict[name] = true
	}

	out := doc.Clone()
	out.DefaultAction = policy.ActionBlock

	var suspended []policy.SuspendedRule
	kept := make([]policy.Rule, 0, len(out.Rules)+1)
	for _, rule := range out.Rules {
		switch {
		case isConflict[rule.Name]:
			// Captured with its original priority; not in the output.
			suspended = append(suspended, policy.SuspendedRule{RuleName: rule.Name, Original: rule})
		case rule.Name == restriction.Name:
			// Replaced by the fresh definition inserted below.
		default:
			kept = append(kept, rule)
		}
	}

	// A surviving rule at priority 0 yields to the restriction rule: it
	// alone moves to the lowest unused priority >= 1.
	if occupant := ruleAtPriority(kept, 0); occupant != nil {
		occupant.Priority = lowestUnusedPriority(kept, 1)
	}

	ins := restriction.Clone()
	ins.Priority = 0
	out.Rules = append([]policy.Rule{ins}, kept...)

	if out.Equal(doc) {
		return doc.Clone(), nil, false
	}

	// CreatedAt is stamped by the caller when the suspension is persisted.
	susp := &policy.Suspension{
		Scope:        doc.Scope,
		PriorDefault: doc.DefaultAction,
		Rules:        suspended,
	}
	return out, susp, true
}

// ComputeDisable computes the document with the restriction lifted: the
// restriction rule is removed (absence is already-satisfied, not an error),
// every suspended rule is reinserted at its original priority, and the
// default action reverts to the suspension's captured prior default, or
// Allow when no suspension record exists.
//
// When a rule named by expected has neither a suspension record nor a
// surviving rule in the document, its ConflictSpec fallback is inserted
// instead and reported as fabricated. A surviving rule that collides with a
// reinserted priority is renumbered with the same minimal-touch policy as
// ComputeEnable; the restored rule always keeps its original priority.
func ComputeDisable(doc *policy.Document, restrictionName string, susp *policy.Suspension, expected []ConflictSpec) (*policy.Document, DisableReport, bool) {
	out := doc.Clone()

	kept := make([]policy.Rule, 0, len(out.Rules))
	for _, rule := range out.Rules {
		if rule.Name == restrictionName {
			continue
		}
		kept = append(kept, rule)
	}

	var report DisableReport
	if susp != nil {
		for _, sr := range susp.Rules {
			if ruleNamed(kept, sr.RuleName) != nil {
				// Already present (restored by another writer); the
				// surviving definition wins.
				continue
			}
			kept = insertAtPriority(kept, sr.Original.Clone())
			report.Restored = append(report.Restored, sr.RuleName)
		}
	}

	for _, spec := range expected {
		if susp.Rule(spec.Name) != nil || ruleNamed(kept, spec.Name) != nil {
			continue
		}
		kept = insertAtPriority(kept, spec.Fallback.Clone())
		report.Fabricated = append(report.Fabricated, spec.Name)
	}

	out.Rules = kept
	if susp != nil {
		out.DefaultAction = susp.PriorDefault
	} else {
		out.DefaultAction = policy.ActionAllow
	}

	if out.Equal(doc) {
		return doc.Clone(), DisableReport{}, false
	}
	return out, report, true
}

// insertAtPriority inserts rule into rules keeping the rule's own priority.
// A surviving rule already holding that priority is renumbered to the lowest
// unused priority; survivors keep their relative order and the new rule is
// placed where its priority sorts relative to its neighbors.
func insertAtPriority(rules []policy.Rule, rule policy.Rule) []policy.Rule {
	if occupant := ruleAtPriority(rules, rule.Priority); occupant != nil {
		occupant.Priority = lowestUnusedPriority(append(rules, rule), 0)
	}

	at := len(rules)
	for i := range rules {
		if rules[i].Priority > rule.Priority {
			at = i
			break
		}
	}
	out := make([]policy.Rule, 0, len(rules)+1)
	out = append(out, rules[:at]...)
	out = append(out, rule)
	out = append(out, rules[at:]...)
	return out
}

// ruleAtPriority returns a pointer to the rule holding the given priority.
func ruleAtPriority(rules []policy.Rule, priority int) *policy.Rule {
	for i := range rules {
		if rules[i].Priority == priority {
			return &rules[i]
		}
	}
	return nil
}

// ruleNamed returns a pointer to the rule with the given name.
func ruleNamed(rules []policy.Rule, name string) *policy.Rule {
	for i := range rules {
		if rules[i].Name == name {
			return &rules[i]
		}
	}
	return nil
}

// lowestUnusedPriority returns the smallest priority >= from not held by any
// rule in rules.
func lowestUnusedPriority(rules []policy.Rule, from int) int {
	used := make(map[int]bool, len(rules))
	for i := range rules {
		used[rules[i].Priority] = true
	}
	p := from
	for used[p] {
		p++
	}
	return p
}
