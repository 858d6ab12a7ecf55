package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
	"github.com/Edge-Lockdown/edgelockdown/internal/domain/validation"
)

// EnsureResult describes the outcome of ensuring one address set.
type EnsureResult struct {
	// Ref is the opaque store reference usable inside rule predicates.
	Ref policy.AddressSetRef
	// Warnings lists addresses dropped during validation.
	Warnings []validation.Warning
	// Written is true when a create or update was issued; false when the
	// remote content already matched and the write was skipped.
	Written bool
}

// AddressSetService idempotently creates or updates named address sets
// against the remote store (the value-set side of a lockdown: rule
// predicates only ever reference sets, never inline addresses).
type AddressSetService struct {
	store   policy.Store
	backoff Backoff
	logger  *slog.Logger
	metrics *Metrics

	// sleep is replaced in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAddressSetService creates an AddressSetService with the default backoff
// budget. metrics may be nil.
func NewAddressSetService(store policy.Store, logger *slog.Logger, metrics *Metrics) *AddressSetService {
	return &AddressSetService{
		store:   store,
		backoff: DefaultBackoff(),
		logger:  logger,
		metrics: metrics,
		sleep:   ctxSleep,
	}
}

// SetBackoff overrides the retry budget.
func (s *AddressSetService) SetBackoff(b Backoff) {
	s.backoff = b
}

// Ensure validates addrs against the declared IP version and makes the named
// set hold exactly the valid entries. Invalid entries are dropped and
// reported as warnings; an input with zero valid entries fails before any
// remote call. Re-ensuring an unchanged list is detected by content
// fingerprint and skips the write entirely.
func (s *AddressSetService) Ensure(ctx context.Context, realm policy.Realm, name string, version policy.IPVersion, addrs []string) (EnsureResult, error) {
	valid, warnings, err := validation.ParseCIDRs(version, addrs)
	if err != nil {
		return EnsureResult{Warnings: warnings}, fmt.Errorf("validate addresses for %s/%s: %w", realm, name, err)
	}
	for _, w := range warnings {
		s.logger.Warn("dropping invalid address", "set", name, "address", w.Address, "reason", w.Reason)
	}

	want := fingerprintAddresses(valid)

	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return EnsureResult{}, fmt.Errorf("ensure address set cancelled: %w", err)
		}

		set, err := s.store.GetAddressSet(ctx, realm, name)
		switch {
		case errors.Is(err, policy.ErrNotFound):
			created, err := s.store.CreateAddressSet(ctx, realm, &policy.AddressSet{
				Name:      name,
				IPVersion: version,
				Addresses: valid,
			})
			if err == nil {
				s.countWrite("create")
				s.logger.Info("address set created", "realm", realm, "set", name, "addresses", len(valid))
				return EnsureResult{Ref: created.Ref, Warnings: warnings, Written: true}, nil
			}
			// A concurrent creator winning the race surfaces as a conflict;
			// the next cycle takes the update path.
			if retryable, rerr := s.checkRetry(ctx, retry, "create", name, err); retryable {
				continue
			} else if rerr != nil {
				return EnsureResult{}, rerr
			}

		case err != nil:
			if retryable, rerr := s.checkRetry(ctx, retry, "get", name, err); retryable {
				continue
			} else if rerr != nil {
				return EnsureResult{}, rerr
			}

		default:
			if set.IPVersion != version {
				return EnsureResult{}, fmt.Errorf("address set %s/%s holds %s entries, want %s",
					realm, name, set.IPVersion, version)
			}
			if fingerprintAddresses(set.Addresses) == want {
				s.countWrite("skip")
				s.logger.Debug("address set unchanged, skipping write", "realm", realm, "set", name)
				return EnsureResult{Ref: set.Ref, Warnings: warnings, Written: false}, nil
			}

			updated := set.Clone()
			updated.Addresses = valid
			if _, err := s.store.PutAddressSet(ctx, realm, updated, set.Version); err == nil {
				s.countWrite("update")
				s.logger.Info("address set updated", "realm", realm, "set", name, "addresses", len(valid))
				return EnsureResult{Ref: set.Ref, Warnings: warnings, Written: true}, nil
			} else if retryable, rerr := s.checkRetry(ctx, retry, "update", name, err); retryable {
				continue
			} else if rerr != nil {
				return EnsureResult{}, rerr
			}
		}
	}
}

// Delete removes the named address set. An absent set is already the desired
// state and is not an error.
func (s *AddressSetService) Delete(ctx context.Context, realm policy.Realm, name string) error {
	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("delete address set cancelled: %w", err)
		}

		set, err := s.store.GetAddressSet(ctx, realm, name)
		if errors.Is(err, policy.ErrNotFound) {
			return nil
		}
		if err != nil {
			if retryable, rerr := s.checkRetry(ctx, retry, "get", name, err); retryable {
				continue
			} else if rerr != nil {
				return rerr
			}
		}

		err = s.store.DeleteAddressSet(ctx, realm, name, set.Version)
		if err == nil || errors.Is(err, policy.ErrNotFound) {
			s.countWrite("delete")
			s.logger.Info("address set deleted", "realm", realm, "set", name)
			return nil
		}
		if retryable, rerr := s.checkRetry(ctx, retry, "delete", name, err); retryable {
			continue
		} else if rerr != nil {
			return rerr
		}
	}
}

// checkRetry decides whether an address set operation error is retryable
// within the budget. It returns (true, nil) after sleeping when the cycle
// should rerun, or (false, err) with the terminal error.
func (s *AddressSetService) checkRetry(ctx context.Context, retry int, op, name string, err error) (bool, error) {
	transient := errors.Is(err, policy.ErrVersionConflict) || errors.Is(err, policy.ErrUnavailable)
	if !transient || retry >= s.backoff.MaxRetries {
		return false, fmt.Errorf("%s address set %s: %w", op, name, err)
	}
	d := s.backoff.delay(retry)
	s.logger.Warn("retrying address set operation",
		"op", op, "set", name, "retry", retry+1, "backoff", d, "error", err)
	_ = s.sleep(ctx, d)
	return true, nil
}

// countWrite records one address set write outcome.
func (s *AddressSetService) countWrite(kind string) {
	if s.metrics != nil {
		s.metrics.AddressSetWritesTotal.WithLabelValues(kind).Inc()
	}
}

// fingerprintAddresses hashes the canonical sorted address list. Two sets
// with the same fingerprint hold the same addresses regardless of order.
func fingerprintAddresses(addrs []string) string {
	sorted := append([]string(nil), addrs...)
	sort.Strings(sorted)
	h := xxhash.New()
	for _, a := range sorted {
		_, _ = h.WriteString(a)
		_, _ = h.WriteString("\n")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
