// Package service contains the application services: the retrying applier,
// the address set manager, and the lockdown orchestrator that drives both.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
	"github.com/Edge-Lockdown/edgelockdown/internal/domain/reconcile"
)

// OutcomeStatus is the per-scope result of an Enable or Disable call.
type OutcomeStatus string

const (
	// OutcomeApplied means at least one remote write was accepted.
	OutcomeApplied OutcomeStatus = "applied"
	// OutcomeNoOp means the scope already satisfied the intent; no write
	// was issued.
	OutcomeNoOp OutcomeStatus = "noop_already_satisfied"
	// OutcomeFailed means the scope could not be brought to the desired
	// state. Sibling scopes are unaffected.
	OutcomeFailed OutcomeStatus = "failed"
)

// ScopeOutcome reports what happened to one scope.
type ScopeOutcome struct {
	// Scope the outcome belongs to.
	Scope policy.Scope
	// Status classifies the outcome.
	Status OutcomeStatus
	// Reason carries the failure cause when Status is failed.
	Reason string
	// Propagation is the advisory attached to applied writes: acceptance
	// does not mean the protected resource enforces the change yet.
	Propagation string
	// Warnings lists non-fatal notes (dropped addresses, fabricated rules).
	Warnings []string
}

// Result enumerates per-scope outcomes of one operation. A multi-scope call
// reports partial success explicitly instead of aborting siblings.
type Result struct {
	// OperationID correlates log lines with this invocation.
	OperationID string
	// Outcomes holds one entry per requested scope, in request order.
	Outcomes []ScopeOutcome
}

// Failed reports whether any scope failed.
func (r *Result) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			return true
		}
	}
	return false
}

// ScopeStatus is the read-only lockdown state of one scope.
type ScopeStatus struct {
	// Scope the status belongs to.
	Scope policy.Scope
	// Restricted is true when the restriction rule is present at priority 0.
	Restricted bool
	// DefaultAction is the document's current default.
	DefaultAction policy.Action
	// RuleCount is the number of rules in the document.
	RuleCount int
	// SuspensionHeld is true when a suspension record exists for the scope.
	SuspensionHeld bool
}

// LockdownConfig parameterizes the rules the orchestrator manages.
type LockdownConfig struct {
	// RestrictionRuleName is the name of the managed allowlist rule.
	RestrictionRuleName string
	// AddressSetPrefix prefixes the per-scope address set names.
	AddressSetPrefix string
	// IPVersion is the address family of managed address sets.
	IPVersion policy.IPVersion
	// Conflicts are the rule types suspended while the restriction is
	// active, with fallback definitions for lost suspension records.
	Conflicts []reconcile.ConflictSpec
}

// conflictNames extracts the conflicting rule names.
func (c LockdownConfig) conflictNames() []string {
	names := make([]string, len(c.Conflicts))
	for i, spec := range c.Conflicts {
		names[i] = spec.Name
	}
	return names
}

// LockdownService orchestrates enabling and disabling the IP-allowlist
// restriction across scopes: it ensures address sets, drives the reconciler
// through the retrying applier, and maintains suspension records.
//
// Within one process a scope is mutated by at most one goroutine at a time;
// across processes the store's version tokens are the only synchronization.
type LockdownService struct {
	cfg         LockdownConfig
	applier     *Applier
	addrSets    *AddressSetService
	suspensions policy.SuspensionStore
	store       policy.Store
	logger      *slog.Logger
	metrics     *Metrics

	mu         sync.Mutex
	scopeLocks map[policy.Scope]*sync.Mutex
}

// NewLockdownService wires the orchestrator. metrics may be nil.
func NewLockdownService(cfg LockdownConfig, store policy.Store, suspensions policy.SuspensionStore, logger *slog.Logger, metrics *Metrics) *LockdownService {
	return &LockdownService{
		cfg:         cfg,
		applier:     NewApplier(store, logger, metrics),
		addrSets:    NewAddressSetService(store, logger, metrics),
		suspensions: suspensions,
		store:       store,
		logger:      logger,
		metrics:     metrics,
		scopeLocks:  make(map[policy.Scope]*sync.Mutex),
	}
}

// SetBackoff overrides the retry budget of both the document applier and the
// address set manager.
func (s *LockdownService) SetBackoff(b Backoff) {
	s.applier.SetBackoff(b)
	s.addrSets.SetBackoff(b)
}

// Enable restricts every scope to the given addresses: the per-scope address
// set is created or refreshed, conflicting rules are suspended, the
// restriction rule lands at priority 0, and the default action flips to
// Block. Already-restricted scopes only get their address sets refreshed.
// Per-scope failures do not abort sibling scopes.
func (s *LockdownService) Enable(ctx context.Context, scopes []policy.Scope, addrs []string) *Result {
	result := &Result{OperationID: uuid.NewString()}
	for _, scope := range scopes {
		result.Outcomes = append(result.Outcomes, s.enableScope(ctx, result.OperationID, scope, addrs))
	}
	return result
}

// enableScope brings one scope into the restricted state.
func (s *LockdownService) enableScope(ctx context.Context, opID string, scope policy.Scope, addrs []string) ScopeOutcome {
	unlock := s.lockScope(scope)
	defer unlock()

	log := s.logger.With("op", opID, "scope", scope.String())
	outcome := ScopeOutcome{Scope: scope}

	ensured, err := s.addrSets.Ensure(ctx, scope.Realm, s.addressSetName(scope), s.cfg.IPVersion, addrs)
	if err != nil {
		return s.fail(log, outcome, "enable", err)
	}
	for _, w := range ensured.Warnings {
		outcome.Warnings = append(outcome.Warnings, "dropped address "+w.String())
	}

	restriction := policy.Rule{
		Name:     s.cfg.RestrictionRuleName,
		Priority: 0,
		Predicate: policy.Predicate{
			Kind:    policy.PredicateAddressSetMatch,
			SetRefs: []policy.AddressSetRef{ensured.Ref},
		},
		Action: policy.ActionAllow,
	}

	// The suspension produced by the final, winning recompute.
	var computed *policy.Suspension
	applied, err := s.applier.Apply(ctx, scope, func(doc *policy.Document) (*policy.Document, bool, error) {
		newDoc, susp, changed := reconcile.ComputeEnable(doc, restriction, s.cfg.conflictNames())
		computed = susp
		return newDoc, changed, nil
	})
	if err != nil {
		return s.fail(log, outcome, "enable", err)
	}

	if applied.Status == ApplyApplied && computed != nil {
		if err := s.saveSuspension(ctx, scope, computed); err != nil {
			// The write is already accepted; losing the record only costs
			// exact restoration later. Surface it as a warning.
			log.Warn("failed to persist suspension record", "error", err)
			outcome.Warnings = append(outcome.Warnings, "suspension record not persisted: "+err.Error())
		}
	}

	s.countOp("enable", applied.Status)
	if applied.Status == ApplyApplied || ensured.Written {
		outcome.Status = OutcomeApplied
		outcome.Propagation = PropagationAdvisory
		log.Info("restriction enabled", "document_written", applied.Status == ApplyApplied,
			"address_set_written", ensured.Written)
	} else {
		outcome.Status = OutcomeNoOp
		log.Info("restriction already in place")
	}
	return outcome
}

// Disable lifts the restriction on every scope: the restriction rule is
// removed, suspended conflicting rules are restored at their original
// priorities, and the default action reverts. With deleteAddressSets the
// managed address set is removed once the document no longer references it.
func (s *LockdownService) Disable(ctx context.Context, scopes []policy.Scope, deleteAddressSets bool) *Result {
	result := &Result{OperationID: uuid.NewString()}
	for _, scope := range scopes {
		result.Outcomes = append(result.Outcomes, s.disableScope(ctx, result.OperationID, scope, deleteAddressSets))
	}
	return result
}

// disableScope returns one scope to the unrestricted state.
func (s *LockdownService) disableScope(ctx context.Context, opID string, scope policy.Scope, deleteAddressSets bool) ScopeOutcome {
	unlock := s.lockScope(scope)
	defer unlock()

	log := s.logger.With("op", opID, "scope", scope.String())
	outcome := ScopeOutcome{Scope: scope}

	susp, err := s.suspensions.Load(ctx, scope)
	if err != nil {
		// A lost record degrades restoration to fallbacks, it does not
		// block the disable.
		log.Warn("failed to load suspension record", "error", err)
		outcome.Warnings = append(outcome.Warnings, "suspension record unreadable: "+err.Error())
		susp = nil
	}

	var report reconcile.DisableReport
	applied, err := s.applier.Apply(ctx, scope, func(doc *policy.Document) (*policy.Document, bool, error) {
		newDoc, r, changed := reconcile.ComputeDisable(doc, s.cfg.RestrictionRuleName, susp, s.cfg.Conflicts)
		report = r
		return newDoc, changed, nil
	})
	if errors.Is(err, policy.ErrNotFound) {
		// No document means no restriction to lift.
		s.countOp("disable", ApplyNoOp)
		outcome.Status = OutcomeNoOp
		log.Info("no document for scope, nothing to disable")
		return outcome
	}
	if err != nil {
		return s.fail(log, outcome, "disable", err)
	}

	for _, name := range report.Fabricated {
		log.Warn("suspension record missing, fabricated fallback definition", "rule", name)
		outcome.Warnings = append(outcome.Warnings, "rule "+name+" restored from fallback definition, not its original")
	}

	// The suspension is consumed by a successful disable, including the
	// no-op case where another writer already restored the document.
	if err := s.suspensions.Clear(ctx, scope); err != nil {
		log.Warn("failed to clear suspension record", "error", err)
		outcome.Warnings = append(outcome.Warnings, "suspension record not cleared: "+err.Error())
	}

	if deleteAddressSets {
		if err := s.addrSets.Delete(ctx, scope.Realm, s.addressSetName(scope)); err != nil {
			return s.fail(log, outcome, "disable", err)
		}
	}

	s.countOp("disable", applied.Status)
	if applied.Status == ApplyApplied {
		outcome.Status = OutcomeApplied
		outcome.Propagation = PropagationAdvisory
		log.Info("restriction disabled", "restored", report.Restored, "fabricated", report.Fabricated)
	} else {
		outcome.Status = OutcomeNoOp
		log.Info("restriction already lifted")
	}
	return outcome
}

// Status reports the lockdown state of each scope without mutating anything.
func (s *LockdownService) Status(ctx context.Context, scopes []policy.Scope) ([]ScopeStatus, error) {
	statuses := make([]ScopeStatus, 0, len(scopes))
	for _, scope := range scopes {
		doc, err := s.store.GetDocument(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("get document %s: %w", scope, err)
		}
		susp, err := s.suspensions.Load(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("load suspension %s: %w", scope, err)
		}
		restriction := doc.Rule(s.cfg.RestrictionRuleName)
		statuses = append(statuses, ScopeStatus{
			Scope:          scope,
			Restricted:     restriction != nil && restriction.Priority == 0,
			DefaultAction:  doc.DefaultAction,
			RuleCount:      len(doc.Rules),
			SuspensionHeld: susp != nil,
		})
	}
	return statuses, nil
}

// saveSuspension records the suspension unless one already exists for the
// scope: a repeated enable must not overwrite the original record, or the
// true pre-restriction state would be lost.
func (s *LockdownService) saveSuspension(ctx context.Context, scope policy.Scope, susp *policy.Suspension) error {
	existing, err := s.suspensions.Load(ctx, scope)
	if err != nil {
		return fmt.Errorf("load existing suspension: %w", err)
	}
	if existing != nil {
		return nil
	}
	susp.CreatedAt = time.Now().UTC()
	if err := s.suspensions.Save(ctx, susp); err != nil {
		return fmt.Errorf("save suspension: %w", err)
	}
	return nil
}

// addressSetName derives the managed address set name for a scope.
func (s *LockdownService) addressSetName(scope policy.Scope) string {
	return s.cfg.AddressSetPrefix + "-" + scope.Name + "-" + string(s.cfg.IPVersion)
}

// lockScope serializes mutations per scope within this process.
func (s *LockdownService) lockScope(scope policy.Scope) func() {
	s.mu.Lock()
	l, ok := s.scopeLocks[scope]
	if !ok {
		l = &sync.Mutex{}
		s.scopeLocks[scope] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// fail logs and classifies a per-scope failure.
func (s *LockdownService) fail(log *slog.Logger, outcome ScopeOutcome, op string, err error) ScopeOutcome {
	s.metricsOpFailed(op)
	log.Error("operation failed", "operation", op, "error", err)
	outcome.Status = OutcomeFailed
	outcome.Reason = err.Error()
	return outcome
}

// countOp records one reconcile operation result.
func (s *LockdownService) countOp(op string, status ApplyStatus) {
	if s.metrics == nil {
		return
	}
	result := "applied"
	if status == ApplyNoOp {
		result = "noop"
	}
	s.metrics.ReconcileOpsTotal.WithLabelValues(op, result).Inc()
}

// metricsOpFailed records one failed reconcile operation.
func (s *LockdownService) metricsOpFailed(op string) {
	if s.metrics != nil {
		s.metrics.ReconcileOpsTotal.WithLabelValues(op, "failed").Inc()
	}
}
