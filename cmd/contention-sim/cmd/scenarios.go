package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AntonStoeckl/contention-simulator/scenario"
)

func newScenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List the built-in scenarios with their roles and defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintln(w, "NAME\tROLES\tKEYS\tHOT RANGE\tP(HOT)\tP(SKEW)\tDESCRIPTION")
			for _, preset := range scenario.Presets() {
				cfg := preset.Config

				roles := make([]string, 0, len(cfg.Workers))
				for _, role := range cfg.Roles() {
					roles = append(roles, fmt.Sprintf("%s=%d", role, cfg.Workers[role]))
				}

				hot := "-"
				if !cfg.KeySpace.Hot.IsZero() {
					hot = fmt.Sprintf("%d-%d", cfg.KeySpace.Hot.From, cfg.KeySpace.Hot.To)
				}

				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.2f\t%.2f\t%s\n",
					preset.Name, strings.Join(roles, ","), cfg.KeySpace.Size, hot,
					cfg.HotspotProbability, cfg.SkewProbability, preset.Description)
			}

			return w.Flush()
		},
	}
}
