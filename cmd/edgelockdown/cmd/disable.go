package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Edge-Lockdown/edgelockdown/internal/config"
)

var deleteAddressSets bool

var disableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Lift the restriction and restore suspended rules",
	Long: `Disable the IP-allowlist restriction on every target scope.

The restriction rule is removed, suspended conflicting rules are restored
at their original priorities, and the document's default action reverts.
When a suspension record was lost (for example across a process restart),
the conflicting rule is recreated from its configured fallback definition
and the outcome carries a warning.`,
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

		result := svc.Disable(cmd.Context(), scopes, deleteAddressSets)
		return printResult(result)
	},
}

func init() {
	disableCmd.Flags().BoolVar(&deleteAddressSets, "delete-address-sets", false,
		"also delete the managed address sets once no rule references them")
	rootCmd.AddCommand(disableCmd)
}
