package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/bitfantasy/nimo-ipd/internal/bootstrap"
	"github.com/bitfantasy/nimo-ipd/internal/service"
)

var (
	ingestDocument  string
	ingestRevision  string
	ingestFile      string
	ingestIssueDate string
	ingestGBK       bool
	ingestUser      string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Append a revision from a parts file",
	Long: `Append a revision to the end of a document's revision chain.

The parts file may be .json (either an ingest request or a bare parts array),
.xlsx (first sheet, header row) or .csv/.tsv. Use --gbk for files exported by
legacy tools. Conflicts with concurrent writers are retried against the
latest tail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readIngestRequest(ingestFile)
		if err != nil {
			return err
		}
		if ingestRevision != "" {
			req.Revision = ingestRevision
		}
		if req.Revision == "" {
			return fmt.Errorf("--revision is required")
		}
		if ingestIssueDate != "" {
			d, err := time.Parse("2006-01-02", ingestIssueDate)
			if err != nil {
				return fmt.Errorf("bad --issue-date: %w", err)
			}
			req.IssueDate = &d
		}

		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			rev, err := app.Services.Revision.IngestWithRetry(ctx, ingestDocument, ingestUser, req)
			if err != nil {
				return err
			}
			app.Logger.Info("revision appended",
				zap.String("document_id", ingestDocument),
				zap.String("revision_id", rev.ID),
				zap.String("revision", rev.Revision),
				zap.Int("version", rev.Version),
				zap.Int("parts", rev.PartCount))
			if jsonOutput {
				return printJSON(rev)
			}
			summary := rev.ChangeSummary.Data()
			fmt.Printf("%s rev %s (v%d): %d parts, %s +%d -%d ~%d\n",
				rev.ID, rev.Revision, rev.Version, rev.PartCount, summary.Type,
				len(summary.Added), len(summary.Removed), len(summary.Modified))
			return nil
		})
	},
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestDocument, "document", "d", "", "Document ID")
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "Parts file (.json, .xlsx, .csv, .tsv)")
	ingestCmd.Flags().StringVarP(&ingestRevision, "revision", "r", "", "Revision label")
	ingestCmd.Flags().StringVar(&ingestIssueDate, "issue-date", "", "Issue date (YYYY-MM-DD)")
	ingestCmd.Flags().BoolVar(&ingestGBK, "gbk", false, "Decode csv/tsv as GBK")
	ingestCmd.Flags().StringVar(&ingestUser, "user", "ipdctl", "Recorded as created_by")
	ingestCmd.MarkFlagRequired("document")
	ingestCmd.MarkFlagRequired("file")
}

func readIngestRequest(path string) (*service.IngestRevisionRequest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var req service.IngestRevisionRequest
		if strings.HasPrefix(strings.TrimSpace(string(data)), "[") {
			if err := json.Unmarshal(data, &req.Parts); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			return &req, nil
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return &req, nil

	case ".xlsx":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		parts, err := service.ParsePartsExcel(f)
		if err != nil {
			return nil, err
		}
		return &service.IngestRevisionRequest{Parts: parts}, nil

	case ".csv", ".tsv":
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		comma := ','
		if strings.EqualFold(filepath.Ext(path), ".tsv") {
			comma = '\t'
		}
		parts, err := service.ParsePartsDelimited(file, comma, ingestGBK)
		if err != nil {
			return nil, err
		}
		return &service.IngestRevisionRequest{Parts: parts}, nil
	}
	return nil, fmt.Errorf("unsupported parts file %q", path)
}
