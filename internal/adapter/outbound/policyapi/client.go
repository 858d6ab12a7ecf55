// Package policyapi provides the HTTP client for the remote policy store.
// It implements policy.Store against the store's REST contract: documents
// and address sets are fetched with their version token in the ETag header,
// and every write is conditional via If-Match.
package policyapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

// maxResponseBodySize caps response bodies read from the store.
// Prevents OOM from an unbounded response.
const maxResponseBodySize = 10 * 1024 * 1024 // 10MB

// Client talks to the remote policy store over HTTPS. It performs no
// retries: the single-call-per-operation discipline belongs to the caller.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithAuthToken sets the bearer token sent on every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = token
	}
}

// NewClient creates a client for the policy store at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireDocument is the store's document representation. The Version field is
// carried in the ETag header, not the body.
type wireDocument struct {
	Scope         wireScope       `json:"scope"`
	DefaultAction policy.Action   `json:"default_action"`
	Rules         []policy.Rule   `json:"rules"`
	Extras        policy.RawExtra `json:"extras,omitempty"`
}

// wireScope is the scope as the store serializes it.
type wireScope struct {
	Realm policy.Realm `json:"realm"`
	Name  string       `json:"name"`
}

// wireDocumentInfo is one document listing entry.
type wireDocumentInfo struct {
	Scope         wireScope     `json:"scope"`
	DefaultAction policy.Action `json:"default_action"`
	RuleCount     int           `json:"rule_count"`
}

// wireAddressSet is the store's address set representation.
type wireAddressSet struct {
	Name      string               `json:"name"`
	IPVersion policy.IPVersion     `json:"ip_version"`
	Addresses []string             `json:"addresses"`
	Ref       policy.AddressSetRef `json:"ref,omitempty"`
}

// GetDocument fetches the document for a scope. The returned document's
// Version holds the response ETag.
func (c *Client) GetDocument(ctx context.Context, scope policy.Scope) (*policy.Document, error) {
	var wire wireDocument
	etag, err := c.do(ctx, http.MethodGet, c.documentPath(scope), "", nil, &wire)
	if err != nil {
		return nil, err
	}
	return &policy.Document{
		Scope:         policy.Scope{Realm: wire.Scope.Realm, Name: wire.Scope.Name},
		DefaultAction: wire.DefaultAction,
		Rules:         wire.Rules,
		Extras:        wire.Extras,
		Version:       etag,
	}, nil
}

// PutDocument submits a conditional full-document write and returns the new
// version token.
func (c *Client) PutDocument(ctx context.Context, doc *policy.Document, version string) (string, error) {
	body := wireDocument{
		Scope:         wireScope{Realm: doc.Scope.Realm, Name: doc.Scope.Name},
		DefaultAction: doc.DefaultAction,
		Rules:         doc.Rules,
		Extras:        doc.Extras,
	}
	return c.do(ctx, http.MethodPut, c.documentPath(doc.Scope), version, body, nil)
}

// ListDocuments lists documents in a realm.
func (c *Client) ListDocuments(ctx context.Context, realm policy.Realm) ([]policy.DocumentInfo, error) {
	var wire []wireDocumentInfo
	if _, err := c.do(ctx, http.MethodGet, c.realmPath(realm)+"/documents", "", nil, &wire); err != nil {
		return nil, err
	}
	infos := make([]policy.DocumentInfo, len(wire))
	for i, w := range wire {
		infos[i] = policy.DocumentInfo{
			Scope:         policy.Scope{Realm: w.Scope.Realm, Name: w.Scope.Name},
			DefaultAction: w.DefaultAction,
			RuleCount:     w.RuleCount,
		}
	}
	return infos, nil
}

// GetAddressSet fetches an address set by realm and name.
func (c *Client) GetAddressSet(ctx context.Context, realm policy.Realm, name string) (*policy.AddressSet, error) {
	var wire wireAddressSet
	etag, err := c.do(ctx, http.MethodGet, c.addressSetPath(realm, name), "", nil, &wire)
	if err != nil {
		return nil, err
	}
	return &policy.AddressSet{
		Name:      wire.Name,
		IPVersion: wire.IPVersion,
		Addresses: wire.Addresses,
		Ref:       wire.Ref,
		Version:   etag,
	}, nil
}

// CreateAddressSet creates a new address set and returns it with the
// store-issued reference and initial version token.
func (c *Client) CreateAddressSet(ctx context.Context, realm policy.Realm, set *policy.AddressSet) (*policy.AddressSet, error) {
	body := wireAddressSet{Name: set.Name, IPVersion: set.IPVersion, Addresses: set.Addresses}
	var wire wireAddressSet
	etag, err := c.do(ctx, http.MethodPost, c.realmPath(realm)+"/address-sets", "", body, &wire)
	if err != nil {
		return nil, err
	}
	return &policy.AddressSet{
		Name:      wire.Name,
		IPVersion: wire.IPVersion,
		Addresses: wire.Addresses,
		Ref:       wire.Ref,
		Version:   etag,
	}, nil
}

// PutAddressSet submits a conditional address set update and returns the new
// version token.
func (c *Client) PutAddressSet(ctx context.Context, realm policy.Realm, set *policy.AddressSet, version string) (string, error) {
	body := wireAddressSet{Name: set.Name, IPVersion: set.IPVersion, Addresses: set.Addresses}
	return c.do(ctx, http.MethodPut, c.addressSetPath(realm, set.Name), version, body, nil)
}

// DeleteAddressSet removes an address set conditionally on its version token.
func (c *Client) DeleteAddressSet(ctx context.Context, realm policy.Realm, name string, version string) error {
	_, err := c.do(ctx, http.MethodDelete, c.addressSetPath(realm, name), version, nil, nil)
	return err
}

// ListAddressSets lists address sets in a realm.
func (c *Client) ListAddressSets(ctx context.Context, realm policy.Realm) ([]policy.AddressSetInfo, error) {
	var wire []wireAddressSet
	if _, err := c.do(ctx, http.MethodGet, c.realmPath(realm)+"/address-sets", "", nil, &wire); err != nil {
		return nil, err
	}
	infos := make([]policy.AddressSetInfo, len(wire))
	for i, w := range wire {
		infos[i] = policy.AddressSetInfo{
			Realm:     realm,
			Name:      w.Name,
			IPVersion: w.IPVersion,
			Ref:       w.Ref,
		}
	}
	return infos, nil
}

// do issues one request. version, when non-empty, is sent as If-Match. The
// response ETag (without quotes) is returned; a non-nil out is decoded from
// the response body. Status codes map onto the domain error taxonomy:
// 404 → ErrNotFound, 409/412 → ErrVersionConflict, 429 and 5xx →
// ErrUnavailable.
func (c *Client) do(ctx context.Context, method, path, version string, in, out any) (string, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if version != "" {
		req.Header.Set("If-Match", `"`+version+`"`)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %w", method, path, policy.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return "", fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	if err := checkStatus(method, path, resp.StatusCode, data); err != nil {
		return "", err
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return "", fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return strings.Trim(resp.Header.Get("ETag"), `"`), nil
}

// checkStatus maps a non-2xx response onto the domain error taxonomy.
func checkStatus(method, path string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var base error
	switch {
	case status == http.StatusNotFound:
		base = policy.ErrNotFound
	case status == http.StatusConflict || status == http.StatusPreconditionFailed:
		base = policy.ErrVersionConflict
	case status == http.StatusTooManyRequests || status >= 500:
		base = policy.ErrUnavailable
	default:
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, path, status, bodySnippet(body))
	}
	return fmt.Errorf("%s %s: status %d: %w", method, path, status, base)
}

// bodySnippet truncates an error body for log-safe messages.
func bodySnippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// documentPath returns the REST path for a scope's document.
func (c *Client) documentPath(scope policy.Scope) string {
	return c.realmPath(scope.Realm) + "/documents/" + url.PathEscape(scope.Name)
}

// addressSetPath returns the REST path for an address set.
func (c *Client) addressSetPath(realm policy.Realm, name string) string {
	return c.realmPath(realm) + "/address-sets/" + url.PathEscape(name)
}

// realmPath returns the REST path prefix for a realm.
func (c *Client) realmPath(realm policy.Realm) string {
	return "/v1/realms/" + url.PathEscape(string(realm))
}
