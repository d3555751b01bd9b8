package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const maxSinceDays = 90

func newDigestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Build, preview or send the weekly digest",
	}
	cmd.AddCommand(newDigestSendCmd())
	cmd.AddCommand(newDigestPreviewCmd())
	return cmd
}

func newDigestSendCmd() *cobra.Command {
	var (
		to        string
		sinceDays int
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Email the digest and record it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkSinceDays(sinceDays); err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), appInstance)

			d, err := appInstance.Digests().Send(cmd.Context(), to, sinceDays)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"id":          d.ID,
				"week_of":     d.WeekOf.Format("2006-01-02"),
				"recipient":   d.Recipient,
				"total_items": d.Content.TotalItems,
				"archive_uri": d.ArchiveURI,
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient (defaults to digest.recipient)")
	cmd.Flags().IntVar(&sinceDays, "since-days", 7, "include intel detected within this many days")
	return cmd
}

func newDigestPreviewCmd() *cobra.Command {
	var (
		sinceDays int
		out       string
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Render the digest without sending it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkSinceDays(sinceDays); err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp(cmd.Context(), appInstance)

			preview, err := appInstance.Digests().Preview(cmd.Context(), sinceDays)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, preview)
			}
			if out != "" {
				if err := os.WriteFile(out, []byte(preview.HTML), 0o600); err != nil {
					return fmt.Errorf("write preview: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s written to %s\n", preview.Subject, out)
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), preview.HTML)
			return err
		},
	}
	cmd.Flags().IntVar(&sinceDays, "since-days", 7, "include intel detected within this many days")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the HTML to a file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print subject, HTML and grouped content as JSON")
	return cmd
}

func checkSinceDays(n int) error {
	if n < 1 || n > maxSinceDays {
		return fmt.Errorf("--since-days must be between 1 and %d", maxSinceDays)
	}
	return nil
}
