package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/apperr"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/app"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/ingest"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/storage"
)

var (
	pdfPath     string
	batchNumber string
	batchDate   string
	parentID    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Show separators and check ranges of a batch PDF without storing anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(pdfPath)
		if err != nil {
			return fmt.Errorf("read pdf: %w", err)
		}
		a, err := app.New(cmd.Context(), cfg, app.Overrides{Records: records.NewMemory(), Objects: storage.NewMemory()})
		if err != nil {
			return err
		}
		defer a.Close()
		an, err := a.Ingest.Analyze(cmd.Context(), data)
		if err != nil {
			return err
		}
		return printJSON(cmd, an)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Split a batch PDF into checks and store them in the configured backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(pdfPath)
		if err != nil {
			return fmt.Errorf("read pdf: %w", err)
		}
		a, err := app.New(cmd.Context(), cfg, app.Overrides{})
		if err != nil {
			return err
		}
		defer a.Close()
		res, err := a.Ingest.Process(cmd.Context(), ingest.Request{
			PDF:            data,
			FileName:       filepath.Base(pdfPath),
			BatchNumber:    batchNumber,
			BatchDate:      batchDate,
			ParentFolderID: parentID,
		})
		if err != nil {
			return err
		}
		if err := printJSON(cmd, res); err != nil {
			return err
		}
		if res.Status == ingest.StatusPartial {
			return fmt.Errorf("batch %s ingested with %d failed uploads and %d errors", res.Batch.Number, len(res.Failed), len(res.Errors))
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate-legacy",
	Short: `Rewrite legacy "-1" suffixes of a stored batch`,
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, err := ingest.NormalizeBatchNumber(batchNumber, cfg.Ingest.BatchNumberWidth)
		if err != nil {
			return err
		}
		a, err := app.New(cmd.Context(), cfg, app.Overrides{})
		if err != nil {
			return err
		}
		defer a.Close()
		renamed, err := a.Splits.MigrateLegacy(cmd.Context(), batch)
		if perr := printJSON(cmd, renamed); perr != nil {
			return perr
		}
		if err != nil && apperr.KindOf(err) == apperr.KindPartial {
			return fmt.Errorf("%w (run again once the conflicting records settle)", err)
		}
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, ingestCmd} {
		c.Flags().StringVarP(&pdfPath, "pdf", "p", "", "path to the scanned batch PDF (required)")
		_ = c.MarkFlagRequired("pdf")
	}
	for _, c := range []*cobra.Command{ingestCmd, migrateCmd} {
		c.Flags().StringVarP(&batchNumber, "batch", "b", "", "batch number (required)")
		_ = c.MarkFlagRequired("batch")
	}
	ingestCmd.Flags().StringVarP(&batchDate, "date", "d", "", "batch date, YYYY-MM-DD (required)")
	_ = ingestCmd.MarkFlagRequired("date")
	ingestCmd.Flags().StringVar(&parentID, "parent", "", "parent folder for the batch folder")

	rootCmd.AddCommand(analyzeCmd, ingestCmd, migrateCmd)
}
