package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"

	"github.com/bitfantasy/nimo-ipd/internal/bootstrap"
	"github.com/bitfantasy/nimo-ipd/internal/model/entity"
	"github.com/bitfantasy/nimo-ipd/internal/repository"
	"github.com/bitfantasy/nimo-ipd/internal/worker"
)

var (
	resolveLine     int
	resolveRevision string
	resolveOut      string

	driftLine   int
	driftStatus string

	riskVolatility string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [document-id]",
	Short: "List parts applicable to a line number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if resolveLine <= 0 {
			return fmt.Errorf("--line must be a positive integer")
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if resolveOut != "" {
				f, _, err := app.Services.Effectivity.Export(ctx, args[0], resolveRevision, resolveLine)
				if err != nil {
					return err
				}
				defer f.Close()
				return saveWorkbook(f, resolveOut)
			}

			res, err := app.Services.Effectivity.Resolve(ctx, args[0], resolveRevision, resolveLine)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("%s rev %s, line %d: %d of %d parts applicable\n",
				res.DocumentNumber, res.Revision, res.LineNumber, len(res.Applicable), res.TotalParts)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PART NUMBER\tNOMENCLATURE\tFIG\tITEM\tEFFECTIVITY")
			for _, p := range res.Applicable {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.PartNumber, p.Nomenclature, p.Figure, p.Item, p.Effectivity)
			}
			return w.Flush()
		})
	},
}

func saveWorkbook(f *excelize.File, path string) error {
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	fmt.Println("written", path)
	return nil
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Configuration drift records",
}

var driftListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drift records",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := repository.DriftFilter{Status: entity.DriftStatus(driftStatus)}
		if cmd.Flags().Changed("line") {
			filter.LineNumber = &driftLine
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			recs, total, err := app.Services.Drift.List(ctx, filter, 1, 100)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(recs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LINE\tPART NUMBER\tSTATUS\tDETECTED\tEXPECTED REVISION\tID")
			for _, r := range recs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.LineNumber, r.PartNumber, r.Status,
					r.DetectedAt.Format("2006-01-02 15:04"), r.ExpectedRevisionID, r.ID)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if total > int64(len(recs)) {
				fmt.Printf("(%d of %d shown)\n", len(recs), total)
			}
			return nil
		})
	},
}

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Part risk profiles",
}

var riskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List risk profiles by current score",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			views, _, err := app.Services.Risk.List(ctx, riskVolatility, 1, 100)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(views)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PART NUMBER\tSCORE\tNOW\tVOLATILITY\tREVISIONS\tDRIFTS\tDECISIONS")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%.1f\t%.1f\t%s\t%d\t%d\t%d\n", v.PartNumber, v.RiskScore, v.CurrentScore,
					v.CurrentVolatility, v.RevisionChanges, v.DriftEvents, v.Decisions)
			}
			return w.Flush()
		})
	},
}

var riskDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Apply queued risk events and exit",
	Long:  "Processes the events currently in the risk queue. Useful with the redis queue driver when no server is consuming.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			w := worker.NewRiskWorker(app.Queue, app.Services.Risk, app.Logger).
				WithRetry(app.Config.Queue.MaxAttempts, app.Config.Queue.RetryBackoff)
			n, err := w.Drain(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("applied %d risk events\n", n)
			return nil
		})
	},
}

func init() {
	resolveCmd.Flags().IntVarP(&resolveLine, "line", "l", 0, "Aircraft line number")
	resolveCmd.Flags().StringVar(&resolveRevision, "revision-id", "", "Revision ID (default: approved revision)")
	resolveCmd.Flags().StringVarP(&resolveOut, "out", "o", "", "Write result to an .xlsx file")
	resolveCmd.MarkFlagRequired("line")

	driftListCmd.Flags().IntVar(&driftLine, "line", 0, "Filter by line number")
	driftListCmd.Flags().StringVar(&driftStatus, "status", "", "open or resolved")
	driftCmd.AddCommand(driftListCmd)

	riskListCmd.Flags().StringVar(&riskVolatility, "volatility", "", "Low, Medium or High")
	riskCmd.AddCommand(riskListCmd)
	riskCmd.AddCommand(riskDrainCmd)
}
