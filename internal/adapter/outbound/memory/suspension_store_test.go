package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

func sampleSuspension() *policy.Suspension {
	return &policy.Suspension{
		Scope:        policy.Scope{Realm: policy.RealmEdge, Name: "checkout"},
		PriorDefault: policy.ActionAllow,
		Rules: []policy.SuspendedRule{{
			RuleName: "geo-fence",
			Original: policy.Rule{
				Name:     "geo-fence",
				Priority: 2,
				Predicate: policy.Predicate{
					Kind:    policy.PredicateGeographyMatch,
					Regions: []string{"US"},
				},
				Action: policy.ActionAllow,
			},
		}},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSuspensionStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewSuspensionStore()
	ctx := context.Background()
	susp := sampleSuspension()

	got, err := s.Load(ctx, susp.Scope)
	if err != nil || got != nil {
		t.Fatalf("Load() before save = %+v, %v; want nil, nil", got, err)
	}

	if err := s.Save(ctx, susp); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err = s.Load(ctx, susp.Scope)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got == nil || got.PriorDefault != policy.ActionAllow || got.Rule("geo-fence") == nil {
		t.Fatalf("Load() = %+v, want the saved record", got)
	}

	if err := s.Clear(ctx, susp.Scope); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	got, _ = s.Load(ctx, susp.Scope)
	if got != nil {
		t.Error("record still present after Clear")
	}

	// Clearing again is not an error.
	if err := s.Clear(ctx, susp.Scope); err != nil {
		t.Errorf("Clear() of an absent record: %v", err)
	}
}

func TestSuspensionStoreIsolatesCallers(t *testing.T) {
	t.Parallel()

	s := NewSuspensionStore()
	ctx := context.Background()
	susp := sampleSuspension()

	if err := s.Save(ctx, susp); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	// Mutating the saved value or a loaded copy must not reach the store.
	susp.Rules[0].Original.Priority = 99
	loaded, _ := s.Load(ctx, susp.Scope)
	loaded.Rules[0].Original.Predicate.Regions[0] = "XX"

	again, _ := s.Load(ctx, susp.Scope)
	if again.Rules[0].Original.Priority != 2 {
		t.Error("store aliases the caller's suspension")
	}
	if again.Rules[0].Original.Predicate.Regions[0] != "US" {
		t.Error("Load leaked internal storage to the caller")
	}
}
