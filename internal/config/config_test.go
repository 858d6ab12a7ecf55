package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Lockdown.RestrictionRule != "ip-allowlist-lockdown" {
		t.Errorf("RestrictionRule = %q", cfg.Lockdown.RestrictionRule)
	}
	if cfg.Lockdown.AddressSetPrefix != "lockdown-allowlist" {
		t.Errorf("AddressSetPrefix = %q", cfg.Lockdown.AddressSetPrefix)
	}
	if cfg.Lockdown.IPVersion != "v4" {
		t.Errorf("IPVersion = %q, want v4", cfg.Lockdown.IPVersion)
	}
	if cfg.Suspension.Backend != "memory" {
		t.Errorf("Suspension.Backend = %q, want memory", cfg.Suspension.Backend)
	}
	if cfg.Retry.Base != 2*time.Second || cfg.Retry.MaxRetries != 5 {
		t.Errorf("Retry = %+v, want base 2s and 5 retries", cfg.Retry)
	}
	if cfg.Store.Timeout != 30*time.Second {
		t.Errorf("Store.Timeout = %v, want 30s", cfg.Store.Timeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestScopesParsing(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Lockdown.Scopes = []string{"edge/checkout", "regional/payments"}

	scopes, err := cfg.Scopes()
	if err != nil {
		t.Fatalf("Scopes() error: %v", err)
	}
	want := []policy.Scope{
		{Realm: policy.RealmEdge, Name: "checkout"},
		{Realm: policy.RealmRegional, Name: "payments"},
	}
	if len(scopes) != len(want) {
		t.Fatalf("got %v, want %v", scopes, want)
	}
	for i := range want {
		if scopes[i] != want[i] {
			t.Errorf("scope %d = %v, want %v", i, scopes[i], want[i])
		}
	}

	cfg.Lockdown.Scopes = []string{"moon/checkout"}
	if _, err := cfg.Scopes(); err == nil {
		t.Error("expected an error for an unknown realm")
	}
}

func TestConflictSpecs(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Lockdown.Conflicts = []ConflictConfig{
		{Name: "geo-fence", FallbackRegions: []string{"US", "CA"}, FallbackPriority: 3},
		{Name: "geo-throttle", FallbackRegions: []string{"GB"}, FallbackAction: "count"},
	}

	specs := cfg.ConflictSpecs()
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}

	fence := specs[0].Fallback
	if fence.Name != "geo-fence" || fence.Priority != 3 {
		t.Errorf("fallback = %+v", fence)
	}
	if fence.Predicate.Kind != policy.PredicateGeographyMatch || len(fence.Predicate.Regions) != 2 {
		t.Errorf("fallback predicate = %+v, want geography match over two regions", fence.Predicate)
	}
	if fence.Action != policy.ActionAllow {
		t.Errorf("fallback action = %q, want the allow default", fence.Action)
	}
	if specs[1].Fallback.Action != policy.ActionCount {
		t.Errorf("explicit action = %q, want count", specs[1].Fallback.Action)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edgelockdown.yaml")
	content := `
store:
  endpoint: https://policy.example.com
  timeout: 45s
lockdown:
  restriction_rule: emergency-allowlist
  ip_version: v6
  scopes:
    - edge/checkout
suspension:
  backend: file
  path: /var/lib/edgelockdown/suspensions.json
retry:
  base: 1s
  max_retries: 3
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	viper.Reset()
	InitViper(path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Store.Endpoint != "https://policy.example.com" {
		t.Errorf("Endpoint = %q", cfg.Store.Endpoint)
	}
	if cfg.Store.Timeout != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", cfg.Store.Timeout)
	}
	if cfg.Lockdown.RestrictionRule != "emergency-allowlist" {
		t.Errorf("RestrictionRule = %q", cfg.Lockdown.RestrictionRule)
	}
	if cfg.Lockdown.IPVersion != "v6" {
		t.Errorf("IPVersion = %q", cfg.Lockdown.IPVersion)
	}
	// Defaults fill what the file omits.
	if cfg.Lockdown.AddressSetPrefix != "lockdown-allowlist" {
		t.Errorf("AddressSetPrefix = %q, want the default", cfg.Lockdown.AddressSetPrefix)
	}
	if cfg.Suspension.Backend != "file" || cfg.Suspension.Path == "" {
		t.Errorf("Suspension = %+v", cfg.Suspension)
	}
	if cfg.Retry.Base != time.Second || cfg.Retry.MaxRetries != 3 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
}

// TestYAMLTagsRoundTrip: a marshaled Config loads back with the same values,
// which keeps the yaml struct tags and the viper mapstructure keys aligned.
func TestYAMLTagsRoundTrip(t *testing.T) {
	in := Default()
	in.Store.Endpoint = "https://policy.example.com"
	in.Lockdown.Scopes = []string{"edge/checkout"}
	in.Lockdown.Conflicts = []ConflictConfig{
		{Name: "geo-fence", FallbackRegions: []string{"US"}, FallbackPriority: 2},
	}
	in.Suspension = SuspensionConfig{Backend: "sqlite", Path: "/tmp/s.db"}

	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("yaml.Marshal() error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "edgelockdown.yaml")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	viper.Reset()
	InitViper(path)
	out, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if out.Store.Endpoint != in.Store.Endpoint {
		t.Errorf("Endpoint = %q, want %q", out.Store.Endpoint, in.Store.Endpoint)
	}
	if out.Suspension != in.Suspension {
		t.Errorf("Suspension = %+v, want %+v", out.Suspension, in.Suspension)
	}
	if len(out.Lockdown.Conflicts) != 1 || out.Lockdown.Conflicts[0].Name != "geo-fence" {
		t.Errorf("Conflicts = %+v", out.Lockdown.Conflicts)
	}
	if out.Lockdown.Conflicts[0].FallbackPriority != 2 {
		t.Errorf("FallbackPriority = %d, want 2", out.Lockdown.Conflicts[0].FallbackPriority)
	}
	if out.Retry.Base != in.Retry.Base {
		t.Errorf("Retry.Base = %v, want %v", out.Retry.Base, in.Retry.Base)
	}
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	viper.Reset()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir() error: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	t.Setenv("EDGE_LOCKDOWN_STORE_ENDPOINT", "https://env.example.com")
	t.Setenv("HOME", t.TempDir())
	InitViper("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Store.Endpoint != "https://env.example.com" {
		t.Errorf("Endpoint = %q, want the environment override", cfg.Store.Endpoint)
	}
	if cfg.Lockdown.RestrictionRule != "ip-allowlist-lockdown" {
		t.Errorf("RestrictionRule = %q, want the default", cfg.Lockdown.RestrictionRule)
	}
}

func TestFindConfigFileInPaths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("empty dir matched %q", got)
	}

	// The binary itself (no extension) is never matched.
	_ = os.WriteFile(filepath.Join(dir, "edgelockdown"), []byte("\x7fELF"), 0755)
	if got := findConfigFileInPaths([]string{dir}); got != "" {
		t.Errorf("binary matched as config: %q", got)
	}

	ymlPath := filepath.Join(dir, "edgelockdown.yml")
	_ = os.WriteFile(ymlPath, []byte("log:\n  level: info\n"), 0644)
	if got := findConfigFileInPaths([]string{dir}); got != ymlPath {
		t.Errorf("got %q, want %q", got, ymlPath)
	}

	yamlPath := filepath.Join(dir, "edgelockdown.yaml")
	_ = os.WriteFile(yamlPath, []byte("log:\n  level: info\n"), 0644)
	if got := findConfigFileInPaths([]string{dir}); got != yamlPath {
		t.Errorf("got %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
