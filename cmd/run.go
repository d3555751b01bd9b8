package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
)

func newRunCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the intel pipeline once",
		Long: `Collects, analyzes and stores intel for every tracked competitor,
or only the one named by --competitor, then prints the run summary.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), appInstance)

			registry := appInstance.Registry()
			competitors := registry.All()
			if name = strings.TrimSpace(name); name != "" {
				c, ok := registry.Lookup(name)
				if !ok {
					return fmt.Errorf("unknown competitor: %s. Tracked: %s", name, strings.Join(registry.Names(), ", "))
				}
				competitors = []intel.Competitor{c}
			}

			summary, err := appInstance.Runner().RunAll(cmd.Context(), competitors)
			if err != nil {
				return fmt.Errorf("run pipeline: %w", err)
			}
			appInstance.Logger().Info("pipeline run finished",
				zap.Int("created", summary.Created),
				zap.Int("failures", len(summary.Failures)),
			)
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().StringVar(&name, "competitor", "", "run a single tracked competitor")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
