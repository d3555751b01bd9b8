package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/calvin1011/watchtower/internal/competitor"
)

func newCompetitorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "competitors",
		Short:       "List tracked competitors",
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := competitor.NewRegistry(cfg.Competitors)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBLOG\tWEBSITE")
			for _, c := range registry.All() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.BlogURL, c.WebsiteURL)
			}
			return w.Flush()
		},
	}
}
