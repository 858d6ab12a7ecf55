package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Edge-Lockdown/edgelockdown/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the lockdown state of target scopes",
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

		statuses, err := svc.Status(cmd.Context(), scopes)
		if err != nil {
			return err
		}

		fmt.Printf("%-30s %-12s %-8s %6s  %s\n", "SCOPE", "RESTRICTED", "DEFAULT", "RULES", "SUSPENSION")
		for _, st := range statuses {
			suspension := "-"
			if st.SuspensionHeld {
				suspension = "held"
			}
			fmt.Printf("%-30s %-12t %-8s %6d  %s\n",
				st.Scope, st.Restricted, st.DefaultAction, st.RuleCount, suspension)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
