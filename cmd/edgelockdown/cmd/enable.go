package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Edge-Lockdown/edgelockdown/internal/config"
)

var enableCmd = &cobra.Command{
	Use:   "enable <cidr>...",
	Short: "Restrict target scopes to the given addresses",
	Long: `Enable the IP-allowlist restriction on every target scope.

The per-scope address set is created or refreshed with the given CIDR
ranges, conflicting rules are suspended for later restoration, the
restriction rule is inserted at priority 0, and the document's default
action flips to block. Scopes that are already restricted only get their
address sets refreshed.

An accepted write may take minutes to reach the protected resource; the
command reports acceptance, not enforcement.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		svc, store, err := buildService(cfg, logger)
		if err != nil {
			return err
		}
		scopes, err := targetScopes(cmd, cfg, store)
		if err != nil {
			return err
		}

		result := svc.Enable(cmd.Context(), scopes, args)
		return printResult(result)
	},
}

func init() {
	rootCmd.AddCommand(enableCmd)
}
