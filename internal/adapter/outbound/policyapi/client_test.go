package policyapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

var clientScope = policy.Scope{Realm: policy.RealmEdge, Name: "checkout"}

func TestGetDocument(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/v1/realms/edge/documents/checkout" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("Authorization = %q, want the bearer token", got)
		}
		w.Header().Set("ETag", `"v7"`)
		_ = json.NewEncoder(w).Encode(wireDocument{
			Scope:         wireScope{Realm: policy.RealmEdge, Name: "checkout"},
			DefaultAction: policy.ActionAllow,
			Rules: []policy.Rule{
				{Name: "rate-shaper", Priority: 5, Action: policy.ActionCount},
			},
			Extras: json.RawMessage(`{"block_response":{"status":403}}`),
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithAuthToken("sekrit"))
	doc, err := c.GetDocument(context.Background(), clientScope)
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if doc.Version != "v7" {
		t.Errorf("Version = %q, want the unquoted ETag v7", doc.Version)
	}
	if doc.Scope != clientScope {
		t.Errorf("Scope = %v, want %v", doc.Scope, clientScope)
	}
	if len(doc.Rules) != 1 || doc.Rules[0].Name != "rate-shaper" {
		t.Errorf("Rules = %+v", doc.Rules)
	}
	if string(doc.Extras) != `{"block_response":{"status":403}}` {
		t.Errorf("Extras = %s, want carried through byte-for-byte", doc.Extras)
	}
}

func TestPutDocumentSendsIfMatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		if got := r.Header.Get("If-Match"); got != `"v7"` {
			t.Errorf("If-Match = %q, want quoted v7", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}
		var body wireDocument
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.DefaultAction != policy.ActionBlock {
			t.Errorf("body default action = %q, want block", body.DefaultAction)
		}
		w.Header().Set("ETag", `"v8"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	doc := &policy.Document{
		Scope:         clientScope,
		DefaultAction: policy.ActionBlock,
	}
	newVersion, err := c.PutDocument(context.Background(), doc, "v7")
	if err != nil {
		t.Fatalf("PutDocument() error: %v", err)
	}
	if newVersion != "v8" {
		t.Errorf("new version = %q, want v8", newVersion)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, want: policy.ErrNotFound},
		{name: "conflict", status: http.StatusConflict, want: policy.ErrVersionConflict},
		{name: "precondition failed", status: http.StatusPreconditionFailed, want: policy.ErrVersionConflict},
		{name: "throttled", status: http.StatusTooManyRequests, want: policy.ErrUnavailable},
		{name: "server error", status: http.StatusInternalServerError, want: policy.ErrUnavailable},
		{name: "bad gateway", status: http.StatusBadGateway, want: policy.ErrUnavailable},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := NewClient(srv.URL)
			_, err := c.GetDocument(context.Background(), clientScope)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnexpectedStatusIsNotRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "teapot", http.StatusTeapot)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetDocument(context.Background(), clientScope)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, sentinel := range []error{policy.ErrNotFound, policy.ErrVersionConflict, policy.ErrUnavailable} {
		if errors.Is(err, sentinel) {
			t.Errorf("4xx client errors must not map onto %v", sentinel)
		}
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL)
	_, err := c.GetDocument(context.Background(), clientScope)
	if !errors.Is(err, policy.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable for a transport failure", err)
	}
}

func TestAddressSetEndpoints(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /v1/realms/edge/address-sets":
			var body wireAddressSet
			_ = json.NewDecoder(r.Body).Decode(&body)
			body.Ref = policy.AddressSetRef("ref:edge/" + body.Name)
			w.Header().Set("ETag", `"s1"`)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(body)
		case "GET /v1/realms/edge/address-sets/allowlist":
			w.Header().Set("ETag", `"s1"`)
			_ = json.NewEncoder(w).Encode(wireAddressSet{
				Name:      "allowlist",
				IPVersion: policy.IPv4,
				Addresses: []string{"203.0.113.0/24"},
				Ref:       "ref:edge/allowlist",
			})
		case "DELETE /v1/realms/edge/address-sets/allowlist":
			if got := r.Header.Get("If-Match"); got != `"s1"` {
				t.Errorf("delete If-Match = %q, want quoted s1", got)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	created, err := c.CreateAddressSet(ctx, policy.RealmEdge, &policy.AddressSet{
		Name:      "allowlist",
		IPVersion: policy.IPv4,
		Addresses: []string{"203.0.113.0/24"},
	})
	if err != nil {
		t.Fatalf("CreateAddressSet() error: %v", err)
	}
	if created.Ref != "ref:edge/allowlist" || created.Version != "s1" {
		t.Errorf("created = %+v, want the issued ref and version", created)
	}

	got, err := c.GetAddressSet(ctx, policy.RealmEdge, "allowlist")
	if err != nil {
		t.Fatalf("GetAddressSet() error: %v", err)
	}
	if got.Version != "s1" || len(got.Addresses) != 1 {
		t.Errorf("got = %+v", got)
	}

	if err := c.DeleteAddressSet(ctx, policy.RealmEdge, "allowlist", "s1"); err != nil {
		t.Fatalf("DeleteAddressSet() error: %v", err)
	}
}

func TestPathEscaping(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Header().Set("ETag", `"v1"`)
		_ = json.NewEncoder(w).Encode(wireDocument{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.GetDocument(context.Background(), policy.Scope{Realm: policy.RealmEdge, Name: "a/b c"})
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if gotPath != "/v1/realms/edge/documents/a%2Fb%20c" {
		t.Errorf("path = %q, want the escaped document name", gotPath)
	}
}
