// Package policy contains domain types for versioned access-control policy
// documents: ordered rule lists with distinct priorities, the address sets
// their predicates reference, and the store contracts for the remote policy
// service that owns them.
package policy

import (
	"bytes"
	"fmt"
	"strings"
)

// Realm identifies the class of protected resource a policy document guards.
type Realm string

const (
	// RealmEdge is the edge-facing (CDN/global) policy realm.
	RealmEdge Realm = "edge"
	// RealmRegional is the regional API-facing policy realm.
	RealmRegional Realm = "regional"
)

// Valid reports whether the realm is one of the known values.
func (r Realm) Valid() bool {
	return r == RealmEdge || r == RealmRegional
}

// Scope identifies one independently-versioned policy document instance.
type Scope struct {
	// Realm is the resource class this document guards.
	Realm Realm
	// Name is the document name, unique within the realm.
	Name string
}

// String renders the scope as "realm/name".
func (s Scope) String() string {
	return string(s.Realm) + "/" + s.Name
}

// ParseScope parses a "realm/name" string into a Scope.
func ParseScope(s string) (Scope, error) {
	realm, name, ok := strings.Cut(s, "/")
	if !ok || name == "" {
		return Scope{}, fmt.Errorf("invalid scope %q: want realm/name", s)
	}
	sc := Scope{Realm: Realm(realm), Name: name}
	if !sc.Realm.Valid() {
		return Scope{}, fmt.Errorf("invalid scope %q: unknown realm %q", s, realm)
	}
	return sc, nil
}

// Action is the verdict a rule (or a document's default) applies to traffic.
type Action string

const (
	// ActionAllow permits matching traffic.
	ActionAllow Action = "allow"
	// ActionBlock rejects matching traffic.
	ActionBlock Action = "block"
	// ActionCount observes matching traffic without enforcement.
	ActionCount Action = "count"
)

// IPVersion selects the address family of an address set.
type IPVersion string

const (
	// IPv4 address sets hold IPv4 CIDR ranges.
	IPv4 IPVersion = "v4"
	// IPv6 address sets hold IPv6 CIDR ranges.
	IPv6 IPVersion = "v6"
)

// AddressSetRef is an opaque reference to an address set, as issued by the
// remote store. Rule predicates embed refs, never address set contents.
type AddressSetRef string

// PredicateKind discriminates the Predicate tagged union.
type PredicateKind string

const (
	// PredicateAddressSetMatch matches source addresses against address sets.
	PredicateAddressSetMatch PredicateKind = "address_set_match"
	// PredicateGeographyMatch matches the request's origin region codes.
	PredicateGeographyMatch PredicateKind = "geography_match"
	// PredicateOpaque is any predicate this engine does not interpret.
	// The payload is carried through writes byte-for-byte.
	PredicateOpaque PredicateKind = "opaque"
)

// Predicate is the matching condition of a rule. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type Predicate struct {
	// Kind selects the union arm.
	Kind PredicateKind `json:"kind"`
	// SetRefs are the address sets matched when Kind is address_set_match.
	SetRefs []AddressSetRef `json:"set_refs,omitempty"`
	// Regions are the ISO region codes matched when Kind is geography_match.
	Regions []string `json:"regions,omitempty"`
	// Payload is the uninterpreted predicate body when Kind is opaque.
	Payload RawExtra `json:"payload,omitempty"`
}

// Clone returns a deep copy of the predicate.
func (p Predicate) Clone() Predicate {
	out := Predicate{Kind: p.Kind}
	if p.SetRefs != nil {
		out.SetRefs = append([]AddressSetRef(nil), p.SetRefs...)
	}
	if p.Regions != nil {
		out.Regions = append([]string(nil), p.Regions...)
	}
	out.Payload = cloneRaw(p.Payload)
	return out
}

// Equal reports structural equality of two predicates.
func (p Predicate) Equal(o Predicate) bool {
	if p.Kind != o.Kind || len(p.SetRefs) != len(o.SetRefs) || len(p.Regions) != len(o.Regions) {
		return false
	}
	for i := range p.SetRefs {
		if p.SetRefs[i] != o.SetRefs[i] {
			return false
		}
	}
	for i := range p.Regions {
		if p.Regions[i] != o.Regions[i] {
			return false
		}
	}
	return bytes.Equal(p.Payload, o.Payload)
}

// Rule is a named, prioritized predicate/action pair within a document.
type Rule struct {
	// Name is unique within one document.
	Name string `json:"name"`
	// Priority orders evaluation: lower values are evaluated first.
	// Priorities are distinct non-negative integers within a document.
	Priority int `json:"priority"`
	// Predicate is the matching condition.
	Predicate Predicate `json:"predicate"`
	// Action is applied when the predicate matches.
	Action Action `json:"action"`
	// Visibility is opaque monitoring/sampling metadata carried through
	// writes untouched.
	Visibility RawExtra `json:"visibility,omitempty"`
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	out := r
	out.Predicate = r.Predicate.Clone()
	out.Visibility = cloneRaw(r.Visibility)
	return out
}

// Equal reports structural (value) equality of two rules.
func (r Rule) Equal(o Rule) bool {
	return r.Name == o.Name &&
		r.Priority == o.Priority &&
		r.Action == o.Action &&
		r.Predicate.Equal(o.Predicate) &&
		bytes.Equal(r.Visibility, o.Visibility)
}

// RulesEqual reports element-wise structural equality of two rule lists,
// including order.
func RulesEqual(a, b []Rule) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// CloneRules deep-copies a rule list.
func CloneRules(rules []Rule) []Rule {
	if rules == nil {
		return nil
	}
	out := make([]Rule, len(rules))
	for i := range rules {
		out[i] = rules[i].Clone()
	}
	return out
}

// ValidatePriorities checks the document-level priority invariant: every
// priority is a non-negative integer and no two rules share one.
func ValidatePriorities(rules []Rule) error {
	seen := make(map[int]string, len(rules))
	for i := range rules {
		p := rules[i].Priority
		if p < 0 {
			return fmt.Errorf("rule %q has negative priority %d", rules[i].Name, p)
		}
		if prev, ok := seen[p]; ok {
			return fmt.Errorf("rules %q and %q share priority %d", prev, rules[i].Name, p)
		}
		seen[p] = rules[i].Name
	}
	return nil
}

// Document is the ordered rule list plus default action governing one
// protected resource. Documents are owned by the remote store; callers only
// ever hold an immutable snapshot plus a freshly computed replacement.
type Document struct {
	// Scope identifies this document instance.
	Scope Scope `json:"scope"`
	// DefaultAction applies to traffic no rule matched.
	DefaultAction Action `json:"default_action"`
	// Rules is the ordered rule sequence. Priorities are distinct.
	Rules []Rule `json:"rules"`
	// Extras is store-side configuration this engine never interprets
	// (custom response bodies and the like), carried through byte-for-byte.
	Extras RawExtra `json:"extras,omitempty"`
	// Version is the opaque compare-and-swap token of this snapshot.
	Version string `json:"version,omitempty"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Rules = CloneRules(d.Rules)
	out.Extras = cloneRaw(d.Extras)
	return &out
}

// Rule returns the rule with the given name, or nil when absent.
func (d *Document) Rule(name string) *Rule {
	for i := range d.Rules {
		if d.Rules[i].Name == name {
			return &d.Rules[i]
		}
	}
	return nil
}

// Equal reports structural equality of the documents' content. Version
// tokens are excluded: two snapshots of identical content compare equal.
func (d *Document) Equal(o *Document) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.Scope == o.Scope &&
		d.DefaultAction == o.DefaultAction &&
		RulesEqual(d.Rules, o.Rules) &&
		bytes.Equal(d.Extras, o.Extras)
}

// AddressSet is a named, mutable collection of CIDR ranges referenced by
// rule predicates.
type AddressSet struct {
	// Name is unique within a realm.
	Name string `json:"name"`
	// IPVersion is the address family of every entry.
	IPVersion IPVersion `json:"ip_version"`
	// Addresses are canonical CIDR strings.
	Addresses []string `json:"addresses"`
	// Ref is the opaque reference issued by the store, usable in predicates.
	Ref AddressSetRef `json:"ref,omitempty"`
	// Version is the opaque compare-and-swap token of this snapshot.
	Version string `json:"version,omitempty"`
}

// Clone returns a deep copy of the address set.
func (s *AddressSet) Clone() *AddressSet {
	if s == nil {
		return nil
	}
	out := *s
	out.Addresses = append([]string(nil), s.Addresses...)
	return &out
}
