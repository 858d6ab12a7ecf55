package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// PropagationAdvisory accompanies every accepted write. Acceptance by the
// policy store makes no claim about when the protected resource observes the
// change; propagation can take minutes and is never awaited.
const PropagationAdvisory = "accepted; enforcement at the protected resource may lag by several minutes"

// MutateFunc computes the desired document from a fresh snapshot. It must be
// a full recomputation: the applier calls it again from a fresh read after
// every lost write, never patching stale output. changed=false means the
// snapshot already satisfies the intent and no write is needed.
type MutateFunc func(doc *policy.Document) (newDoc *policy.Document, changed bool, err error)

// ApplyStatus is the terminal state of one Apply call.
type ApplyStatus string

const (
	// ApplyApplied means a conditional write was accepted.
	ApplyApplied ApplyStatus = "applied"
	// ApplyNoOp means the document already satisfied the intent; no write
	// was issued.
	ApplyNoOp ApplyStatus = "noop"
)

// ApplyResult describes an accepted (or skipped) mutation.
type ApplyResult struct {
	// Status is Applied or NoOp.
	Status ApplyStatus
	// Version is the new version token after an applied write, or the
	// observed token for a no-op.
	Version string
	// Attempts is the number of read-compute-write cycles performed.
	Attempts int
	// Propagation is the advisory attached to applied writes.
	Propagation string
}

// Backoff is the retry budget for optimistic-concurrency conflicts and
// transient store unavailability. Delays double per retry starting at Base.
type Backoff struct {
	// Base is the first delay.
	Base time.Duration
	// MaxRetries is how many times a failed cycle is rerun after the
	// initial attempt.
	MaxRetries int
}

// DefaultBackoff retries five times with delays 2s, 4s, 8s, 16s, 32s
// (about 62s of waiting worst case) before escalating to a hard error.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, MaxRetries: 5}
}

// delay returns the wait before rerunning after the given retry ordinal.
func (b Backoff) delay(retry int) time.Duration {
	return b.Base << retry
}

// Applier performs read-modify-write cycles against the policy store with
// optimistic-concurrency retry. A lost write restarts the entire cycle —
// fresh read, full recompute, new conditional write. Cancellation is honored
// only between remote calls, so a cancelled Apply never leaves a
// half-applied mutation.
type Applier struct {
	store   policy.Store
	backoff Backoff
	logger  *slog.Logger
	metrics *Metrics

	// sleep is replaced in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewApplier creates an Applier with the default backoff budget.
// metrics may be nil.
func NewApplier(store policy.Store, logger *slog.Logger, metrics *Metrics) *Applier {
	return &Applier{
		store:   store,
		backoff: DefaultBackoff(),
		logger:  logger,
		metrics: metrics,
		sleep:   ctxSleep,
	}
}

// SetBackoff overrides the retry budget.
func (a *Applier) SetBackoff(b Backoff) {
	a.backoff = b
}

// Apply fetches the scope's document, applies mutate, and submits a
// conditional write with the fetched version token.
//
// A version conflict or transient unavailability reruns the whole cycle
// after backoff, up to the budget, then fails hard. Any other store error
// aborts immediately. Success means the write was accepted; the result
// carries a propagation advisory, not a visibility guarantee.
func (a *Applier) Apply(ctx context.Context, scope policy.Scope, mutate MutateFunc) (ApplyResult, error) {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.ApplyDuration.WithLabelValues(string(scope.Realm)).Observe(time.Since(start).Seconds())
		}
	}()

	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return ApplyResult{}, fmt.Errorf("apply cancelled: %w", err)
		}

		doc, err := a.store.GetDocument(ctx, scope)
		if err != nil {
			if errors.Is(err, policy.ErrUnavailable) && retry < a.backoff.MaxRetries {
				a.countUnavailable(scope)
				a.waitRetry(ctx, scope, retry, "store unavailable on read", err)
				continue
			}
			a.countAttempt(scope, "error")
			return ApplyResult{}, fmt.Errorf("get document %s: %w", scope, err)
		}

		newDoc, changed, err := mutate(doc)
		if err != nil {
			a.countAttempt(scope, "error")
			return ApplyResult{}, fmt.Errorf("compute document %s: %w", scope, err)
		}
		if !changed {
			a.countAttempt(scope, "noop")
			return ApplyResult{Status: ApplyNoOp, Version: doc.Version, Attempts: retry + 1}, nil
		}

		newVersion, err := a.store.PutDocument(ctx, newDoc, doc.Version)
		if err == nil {
			a.countAttempt(scope, "applied")
			a.logger.Info("document write accepted",
				"scope", scope.String(), "attempts", retry+1, "version", newVersion)
			return ApplyResult{
				Status:      ApplyApplied,
				Version:     newVersion,
				Attempts:    retry + 1,
				Propagation: PropagationAdvisory,
			}, nil
		}

		switch {
		case errors.Is(err, policy.ErrVersionConflict):
			a.countAttempt(scope, "conflict")
			if a.metrics != nil {
				a.metrics.VersionConflictsTotal.WithLabelValues(string(scope.Realm)).Inc()
			}
			if retry >= a.backoff.MaxRetries {
				return ApplyResult{}, fmt.Errorf("put document %s: lost to concurrent writers %d times: %w",
					scope, retry+1, err)
			}
			a.waitRetry(ctx, scope, retry, "lost write to concurrent writer", err)

		case errors.Is(err, policy.ErrUnavailable):
			a.countAttempt(scope, "unavailable")
			if retry >= a.backoff.MaxRetries {
				return ApplyResult{}, fmt.Errorf("put document %s: store unavailable after %d attempts: %w",
					scope, retry+1, err)
			}
			a.countUnavailable(scope)
			a.waitRetry(ctx, scope, retry, "store unavailable on write", err)

		default:
			a.countAttempt(scope, "error")
			return ApplyResult{}, fmt.Errorf("put document %s: %w", scope, err)
		}
	}
}

// waitRetry logs the retry cause and sleeps the backoff delay. The sleep is
// interrupted by context cancellation; the cancellation itself is observed
// at the top of the next cycle, between remote calls.
func (a *Applier) waitRetry(ctx context.Context, scope policy.Scope, retry int, cause string, err error) {
	d := a.backoff.delay(retry)
	a.logger.Warn("retrying apply",
		"scope", scope.String(), "cause", cause, "retry", retry+1, "backoff", d, "error", err)
	_ = a.sleep(ctx, d)
}

// countUnavailable records one transient-unavailability retry, kept distinct
// from version conflicts in both logs and metrics.
func (a *Applier) countUnavailable(scope policy.Scope) {
	if a.metrics != nil {
		a.metrics.RemoteRetriesTotal.WithLabelValues(string(scope.Realm)).Inc()
	}
}

// countAttempt records one cycle outcome.
func (a *Applier) countAttempt(scope policy.Scope, outcome string) {
	if a.metrics != nil {
		a.metrics.ApplyAttemptsTotal.WithLabelValues(string(scope.Realm), outcome).Inc()
	}
}

// ctxSleep waits for d or until ctx is done, whichever comes first.
func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
