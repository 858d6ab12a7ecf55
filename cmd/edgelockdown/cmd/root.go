// Package cmd provides the CLI commands for edgelockdown.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Edge-Lockdown/edgelockdown/internal/adapter/outbound/memory"
	"github.com/Edge-Lockdown/edgelockdown/internal/adapter/outbound/policyapi"
	"github.com/Edge-Lockdown/edgelockdown/internal/adapter/outbound/state"
	"github.com/Edge-Lockdown/edgelockdown/internal/config"
	"github.com/Edge-Lockdown/edgelockdown/internal/domain/policy"
	"github.com/Edge-Lockdown/edgelockdown/internal/service"
)

var (
	cfgFile    string
	scopeFlags []string
	realmFlag  string
	filterFlag string
)

var rootCmd = &cobra.Command{
	Use:   "edgelockdown",
	Short: "edgelockdown - IP allowlist lockdown for edge policy documents",
	Long: `edgelockdown restricts a protected resource to a set of source addresses
by rewriting its access-control policy document: an allowlist rule lands at
the highest priority, conflicting rules are suspended for exact restoration
later, and the default action flips to block.

Quick start:
  1. Create a config file: edgelockdown.yaml
  2. Run: edgelockdown enable 203.0.113.0/24

Configuration:
  Config is loaded from edgelockdown.yaml in the current directory,
  $HOME/.edgelockdown/, or /etc/edgelockdown/.

  Environment variables can override config values with the EDGE_LOCKDOWN_
  prefix. Example: EDGE_LOCKDOWN_STORE_ENDPOINT=https://policy.example.com

Commands:
  enable      Restrict target scopes to the given addresses
  disable     Lift the restriction and restore suspended rules
  status      Show the lockdown state of target scopes
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./edgelockdown.yaml)")
	rootCmd.PersistentFlags().StringArrayVar(&scopeFlags, "scope", nil, "target scope as realm/name (repeatable; overrides config scopes)")
	rootCmd.PersistentFlags().StringVar(&realmFlag, "realm", "", "discover target scopes by listing this realm's documents")
	rootCmd.PersistentFlags().StringVar(&filterFlag, "filter", "", "CEL expression narrowing discovered scopes (with --realm)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// newLogger builds the CLI logger writing to stderr at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildService wires the lockdown service from configuration.
func buildService(cfg *config.Config, logger *slog.Logger) (*service.LockdownService, policy.Store, error) {
	store := policyapi.NewClient(cfg.Store.Endpoint,
		policyapi.WithAuthToken(cfg.Store.AuthToken),
		policyapi.WithTimeout(cfg.Store.Timeout),
	)

	suspensions, err := buildSuspensionStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	metrics := service.NewMetrics(prometheus.NewRegistry())
	svc := service.NewLockdownService(service.LockdownConfig{
		RestrictionRuleName: cfg.Lockdown.RestrictionRule,
		AddressSetPrefix:    cfg.Lockdown.AddressSetPrefix,
		IPVersion:           policy.IPVersion(cfg.Lockdown.IPVersion),
		Conflicts:           cfg.ConflictSpecs(),
	}, store, suspensions, logger, metrics)
	svc.SetBackoff(service.Backoff{Base: cfg.Retry.Base, MaxRetries: cfg.Retry.MaxRetries})
	return svc, store, nil
}

// buildSuspensionStore selects the configured suspension backend.
func buildSuspensionStore(cfg *config.Config, logger *slog.Logger) (policy.SuspensionStore, error) {
	switch cfg.Suspension.Backend {
	case "file":
		return state.NewFileSuspensionStore(cfg.Suspension.Path, logger), nil
	case "sqlite":
		return state.NewSQLiteSuspensionStore(cfg.Suspension.Path)
	default:
		return memory.NewSuspensionStore(), nil
	}
}

// targetScopes resolves the scopes an invocation acts on: explicit --scope
// flags win, then --realm discovery (optionally CEL-filtered), then the
// config file's scope list.
func targetScopes(cmd *cobra.Command, cfg *config.Config, store policy.Store) ([]policy.Scope, error) {
	if len(scopeFlags) > 0 {
		scopes := make([]policy.Scope, 0, len(scopeFlags))
		for _, raw := range scopeFlags {
			scope, err := policy.ParseScope(raw)
			if err != nil {
				return nil, err
			}
			scopes = append(scopes, scope)
		}
		return scopes, nil
	}

	if realmFlag != "" {
		realm := policy.Realm(realmFlag)
		if !realm.Valid() {
			return nil, fmt.Errorf("unknown realm %q", realmFlag)
		}
		resolver, err := service.NewScopeResolver(store)
		if err != nil {
			return nil, err
		}
		scopes, err := resolver.Resolve(cmd.Context(), realm, filterFlag)
		if err != nil {
			return nil, err
		}
		if len(scopes) == 0 {
			return nil, fmt.Errorf("no documents matched in realm %q", realmFlag)
		}
		return scopes, nil
	}

	scopes, err := cfg.Scopes()
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("no target scopes: pass --scope, --realm, or set lockdown.scopes")
	}
	return scopes, nil
}

// printResult renders per-scope outcomes and returns an error when any
// scope failed, so the process exits non-zero.
func printResult(result *service.Result) error {
	for _, o := range result.Outcomes {
		fmt.Printf("%-30s %s", o.Scope, o.Status)
		if o.Reason != "" {
			fmt.Printf("  (%s)", o.Reason)
		}
		fmt.Println()
		for _, w := range o.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		if o.Propagation != "" {
			fmt.Printf("  note: %s\n", o.Propagation)
		}
	}
	if result.Failed() {
		return fmt.Errorf("operation %s completed with failures", result.OperationID)
	}
	return nil
}
