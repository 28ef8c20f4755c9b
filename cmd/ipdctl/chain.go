package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bitfantasy/nimo-ipd/internal/bootstrap"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect revision chains",
}

var chainListCmd = &cobra.Command{
	Use:   "list [document-id]",
	Short: "List revisions root to tail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			nodes, err := app.Services.Revision.ListChain(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(nodes)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tREVISION\tSTATUS\tPARTS\tCHANGE\tID")
			for _, n := range nodes {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", n.Version, n.Revision, n.Status, n.PartCount, n.ChangeType, n.ID)
			}
			return w.Flush()
		})
	},
}

var chainVerifyCmd = &cobra.Command{
	Use:   "verify [document-id...]",
	Short: "Check revision chain consistency",
	Long:  "Walks each document's chain and reports broken links, multiple tails or approved revisions. Exits non-zero when any chain is inconsistent.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			failed := 0
			for _, id := range args {
				report, err := app.Services.Revision.Verify(ctx, id)
				if report == nil {
					return err
				}
				if jsonOutput {
					if err := printJSON(report); err != nil {
						return err
					}
				} else if report.Consistent {
					fmt.Printf("%s: ok (%d revisions, tail %s)\n", id, report.Revisions, report.TailID)
				} else {
					fmt.Printf("%s: %d issues\n", id, len(report.Issues))
					for _, issue := range report.Issues {
						fmt.Printf("  - %s\n", issue)
					}
				}
				if err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d chains inconsistent", failed, len(args))
			}
			return nil
		})
	},
}

func init() {
	chainCmd.AddCommand(chainListCmd)
	chainCmd.AddCommand(chainVerifyCmd)
}
