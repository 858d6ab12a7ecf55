// Package config provides configuration loading and validation for
// edgelockdown. Configuration comes from edgelockdown.yaml (searched in the
// standard locations) with EDGE_LOCKDOWN_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
	"github.com/Edge-Lockdown/edgelockdown/internal/domain/reconcile"
)

// Config is the top-level configuration.
type Config struct {
	// Store configures the remote policy store client.
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// Lockdown configures the managed restriction.
	Lockdown LockdownConfig `yaml:"lockdown" mapstructure:"lockdown"`

	// Suspension selects where suspension records live.
	Suspension SuspensionConfig `yaml:"suspension" mapstructure:"suspension"`

	// Retry overrides the optimistic-concurrency retry budget.
	Retry RetryConfig `yaml:"retry" mapstructure:"retry"`

	// Log configures logging.
	Log LogConfig `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the remote policy store client.
type StoreConfig struct {
	// Endpoint is the base URL of the policy store API.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint" validate:"required,url"`
	// AuthToken is the bearer token sent on every request. Usually supplied
	// via EDGE_LOCKDOWN_STORE_AUTH_TOKEN rather than the config file.
	AuthToken string `yaml:"auth_token" mapstructure:"auth_token"`
	// Timeout is the per-request timeout (e.g. "30s").
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LockdownConfig configures the managed restriction rule and its conflicts.
type LockdownConfig struct {
	// RestrictionRule is the name of the managed allowlist rule.
	RestrictionRule string `yaml:"restriction_rule" mapstructure:"restriction_rule" validate:"required"`
	// AddressSetPrefix prefixes the per-scope address set names.
	AddressSetPrefix string `yaml:"address_set_prefix" mapstructure:"address_set_prefix" validate:"required"`
	// IPVersion is the address family of managed address sets: v4 or v6.
	IPVersion string `yaml:"ip_version" mapstructure:"ip_version" validate:"oneof=v4 v6"`
	// Scopes are the default target scopes as "realm/name" strings.
	Scopes []string `yaml:"scopes" mapstructure:"scopes" validate:"omitempty,dive,scope"`
	// Conflicts are the rule types suspended while the restriction is
	// active.
	Conflicts []ConflictConfig `yaml:"conflicts" mapstructure:"conflicts" validate:"omitempty,dive"`
}

// ConflictConfig names one conflicting rule type and the fallback definition
// synthesized when its suspension record was lost.
type ConflictConfig struct {
	// Name of the conflicting rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// FallbackRegions are the region codes of the synthesized
	// geography-match fallback rule.
	FallbackRegions []string `yaml:"fallback_regions" mapstructure:"fallback_regions" validate:"required,min=1"`
	// FallbackPriority is the priority the fallback is inserted at.
	FallbackPriority int `yaml:"fallback_priority" mapstructure:"fallback_priority" validate:"gte=0"`
	// FallbackAction is the synthesized rule's action (default allow).
	FallbackAction string `yaml:"fallback_action" mapstructure:"fallback_action" validate:"omitempty,oneof=allow block count"`
}

// SuspensionConfig selects the suspension record backend.
type SuspensionConfig struct {
	// Backend is memory, file, or sqlite. Memory records are lost on
	// process exit; disable then restores conflicts from fallbacks.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=memory file sqlite"`
	// Path is the record file or database path; required for file and
	// sqlite backends.
	Path string `yaml:"path" mapstructure:"path" validate:"required_unless=Backend memory"`
}

// RetryConfig overrides the retry budget for conflicting and unavailable
// store operations.
type RetryConfig struct {
	// Base is the first backoff delay (doubles per retry).
	Base time.Duration `yaml:"base" mapstructure:"base"`
	// MaxRetries is how many times a failed cycle reruns.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"gte=0,lte=10"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration defaults applied before file and
// environment values.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Timeout: 30 * time.Second,
		},
		Lockdown: LockdownConfig{
			RestrictionRule:  "ip-allowlist-lockdown",
			AddressSetPrefix: "lockdown-allowlist",
			IPVersion:        "v4",
		},
		Suspension: SuspensionConfig{
			Backend: "memory",
		},
		Retry: RetryConfig{
			Base:       2 * time.Second,
			MaxRetries: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Scopes parses the configured target scopes.
func (c *Config) Scopes() ([]policy.Scope, error) {
	scopes := make([]policy.Scope, 0, len(c.Lockdown.Scopes))
	for _, raw := range c.Lockdown.Scopes {
		scope, err := policy.ParseScope(raw)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// ConflictSpecs builds the reconciler's conflict specifications from the
// configured conflict rules.
func (c *Config) ConflictSpecs() []reconcile.ConflictSpec {
	specs := make([]reconcile.ConflictSpec, 0, len(c.Lockdown.Conflicts))
	for _, cc := range c.Lockdown.Conflicts {
		action := policy.Action(cc.FallbackAction)
		if cc.FallbackAction == "" {
			action = policy.ActionAllow
		}
		specs = append(specs, reconcile.ConflictSpec{
			Name: cc.Name,
			Fallback: policy.Rule{
				Name:     cc.Name,
				Priority: cc.FallbackPriority,
				Predicate: policy.Predicate{
					Kind:    policy.PredicateGeographyMatch,
					Regions: append([]string(nil), cc.FallbackRegions...),
				},
				Action: action,
			},
		})
	}
	return specs
}

// Load builds the configuration from defaults, the Viper-loaded file, and
// environment overrides, then validates it. InitViper must have been called
// first.
func Load() (*Config, error) {
	cfg := Default()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file: defaults plus environment variables.
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
