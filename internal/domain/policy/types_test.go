package policy

import (
	"encoding/json"
	"testing"
)

func TestParseScope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Scope
		wantErr bool
	}{
		{name: "edge scope", in: "edge/checkout", want: Scope{Realm: RealmEdge, Name: "checkout"}},
		{name: "regional scope", in: "regional/payments-api", want: Scope{Realm: RealmRegional, Name: "payments-api"}},
		{name: "unknown realm", in: "global/checkout", wantErr: true},
		{name: "missing name", in: "edge/", wantErr: true},
		{name: "missing separator", in: "edge", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseScope(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseScope(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScope(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseScope(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
		})
	}
}

func TestDocumentEqualIgnoresVersion(t *testing.T) {
	t.Parallel()

	a := &Document{
		Scope:         Scope{Realm: RealmEdge, Name: "checkout"},
		DefaultAction: ActionAllow,
		Rules:         []Rule{{Name: "r", Priority: 1, Action: ActionBlock}},
		Version:       "v1",
	}
	b := a.Clone()
	b.Version = "v99"

	if !a.Equal(b) {
		t.Error("documents differing only in Version should compare equal")
	}

	b.DefaultAction = ActionBlock
	if a.Equal(b) {
		t.Error("documents with different default actions should not compare equal")
	}
}

func TestDocumentCloneIndependence(t *testing.T) {
	t.Parallel()

	orig := &Document{
		Scope:         Scope{Realm: RealmEdge, Name: "checkout"},
		DefaultAction: ActionAllow,
		Rules: []Rule{{
			Name:     "geo-fence",
			Priority: 0,
			Predicate: Predicate{
				Kind:    PredicateGeographyMatch,
				Regions: []string{"US", "CA"},
			},
			Action:     ActionAllow,
			Visibility: json.RawMessage(`{"sampled":true}`),
		}},
		Extras: json.RawMessage(`{"k":1}`),
	}

	clone := orig.Clone()
	clone.Rules[0].Predicate.Regions[0] = "XX"
	clone.Rules[0].Visibility[1] = 'X'
	clone.Extras[1] = 'X'
	clone.Rules[0].Priority = 42

	if orig.Rules[0].Predicate.Regions[0] != "US" {
		t.Error("clone shares the Regions slice with the original")
	}
	if string(orig.Rules[0].Visibility) != `{"sampled":true}` {
		t.Error("clone shares the Visibility bytes with the original")
	}
	if string(orig.Extras) != `{"k":1}` {
		t.Error("clone shares the Extras bytes with the original")
	}
	if orig.Rules[0].Priority != 0 {
		t.Error("clone shares rule storage with the original")
	}
}

func TestRuleEqual(t *testing.T) {
	t.Parallel()

	base := Rule{
		Name:     "rate-shaper",
		Priority: 5,
		Predicate: Predicate{
			Kind:    PredicateAddressSetMatch,
			SetRefs: []AddressSetRef{"ref:edge/a"},
		},
		Action: ActionCount,
	}

	if !base.Equal(base.Clone()) {
		t.Error("a rule should equal its clone")
	}

	changed := base.Clone()
	changed.Predicate.SetRefs[0] = "ref:edge/b"
	if base.Equal(changed) {
		t.Error("rules with different set refs should not compare equal")
	}

	payloadA := base.Clone()
	payloadA.Predicate = Predicate{Kind: PredicateOpaque, Payload: json.RawMessage(`{"a":1}`)}
	payloadB := payloadA.Clone()
	payloadB.Predicate.Payload = json.RawMessage(`{"a":2}`)
	if payloadA.Equal(payloadB) {
		t.Error("rules with different opaque payloads should not compare equal")
	}
}

func TestValidatePriorities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rules   []Rule
		wantErr bool
	}{
		{name: "empty", rules: nil},
		{name: "distinct", rules: []Rule{{Name: "a", Priority: 0}, {Name: "b", Priority: 3}}},
		{name: "duplicate", rules: []Rule{{Name: "a", Priority: 1}, {Name: "b", Priority: 1}}, wantErr: true},
		{name: "negative", rules: []Rule{{Name: "a", Priority: -1}}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePriorities(tt.rules)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePriorities() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSuspensionRuleLookup(t *testing.T) {
	t.Parallel()

	var nilSusp *Suspension
	if nilSusp.Rule("geo-fence") != nil {
		t.Error("lookup on a nil suspension should return nil")
	}
	if nilSusp.Clone() != nil {
		t.Error("cloning a nil suspension should return nil")
	}

	susp := &Suspension{
		Scope:        Scope{Realm: RealmEdge, Name: "checkout"},
		PriorDefault: ActionAllow,
		Rules: []SuspendedRule{
			{RuleName: "geo-fence", Original: Rule{Name: "geo-fence", Priority: 2}},
		},
	}
	if susp.Rule("geo-fence") == nil {
		t.Error("expected to find the suspended rule")
	}
	if susp.Rule("rate-shaper") != nil {
		t.Error("unexpected hit for an absent rule")
	}

	clone := susp.Clone()
	clone.Rules[0].Original.Priority = 9
	if susp.Rules[0].Original.Priority != 2 {
		t.Error("clone shares rule storage with the original")
	}
}
