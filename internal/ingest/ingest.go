// Package ingest turns one scanned batch PDF into per-check folders, files and records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/apperr"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/classifier"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/extract"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/filetype"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/metrics"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdfdoc"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/segment"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/storage"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/upload"
)

const DateLayout = "2006-01-02"

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial_failure"
)

type Request struct {
	PDF            []byte
	FileName       string
	BatchNumber    string
	BatchDate      string
	ParentFolderID string
}

// CheckSummary describes one check created from a range.
type CheckSummary struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	CheckNumber string `json:"check_number"`
	FileName    string `json:"file_name"`
	FolderID    string `json:"folder_id"`
	FolderName  string `json:"folder_name"`
	Pages       int    `json:"pages"`
	CompleteURL string `json:"complete_url,omitempty"`
}

type Result struct {
	Status   Status           `json:"status"`
	Existing bool             `json:"existing"`
	Batch    *models.Batch    `json:"batch"`
	Checks   []CheckSummary   `json:"checks,omitempty"`
	Units    []segment.Unit   `json:"separator_units,omitempty"`
	Failed   []upload.Failure `json:"failed,omitempty"`
	Errors   []string         `json:"errors,omitempty"`
	Duration time.Duration    `json:"duration_ns"`
}

// Analysis is the side-effect free preview of how a batch would be split.
type Analysis struct {
	TotalPages int                 `json:"total_pages"`
	Strategy   string              `json:"strategy"`
	Separators []int               `json:"separators"`
	Signals    []classifier.Signal `json:"signals"`
	Ranges     []segment.Range     `json:"ranges"`
	Units      []segment.Unit      `json:"separator_units"`
}

type Deps struct {
	Opener      pdfdoc.Opener
	Classifiers classifier.Set
	Workers     int
	Segmenter   *segment.Segmenter
	Extractor   *extract.Extractor
	Objects     storage.ObjectStore
	Records     records.Store
	Pool        *upload.Pool
	// BatchWidth is the zero-padded width of batch numbers. Defaults to 7.
	BatchWidth int
	// ParentFolderID is used when a request does not name one.
	ParentFolderID string
}

type Pipeline struct {
	d        Deps
	detector *filetype.Detector
}

func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Opener == nil:
		return nil, pdfdoc.ErrNoOpener
	case d.Segmenter == nil, d.Extractor == nil, d.Objects == nil, d.Records == nil, d.Pool == nil:
		return nil, errors.New("ingest: missing dependency")
	}
	if d.BatchWidth <= 0 {
		d.BatchWidth = 7
	}
	return &Pipeline{d: d, detector: filetype.New()}, nil
}

// NormalizeBatchNumber parses a batch number and zero-pads it to width.
func NormalizeBatchNumber(raw string, width int) (string, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return "", fmt.Errorf("batch number %q is not a non-negative integer", raw)
	}
	return fmt.Sprintf("%0*d", width, n), nil
}

func BatchFolderName(date, batch string) string { return fmt.Sprintf("%s-BATCH-%s", date, batch) }

func CheckFolderName(batch, label string) string { return fmt.Sprintf("Batch %s-%s", batch, label) }

// Analyze classifies and segments pdf without touching any store.
func (p *Pipeline) Analyze(ctx context.Context, pdf []byte) (*Analysis, error) {
	const op = "analyze"
	if err := p.detector.RequirePDF("upload", pdf); err != nil {
		return nil, apperr.Input(op, "%s", err.Error())
	}
	doc, err := pdfdoc.Open(p.d.Opener, pdf)
	if err != nil {
		return nil, apperr.Input(op, "cannot open pdf: %v", err)
	}
	defer doc.Close()

	c := p.d.Classifiers.For(doc)
	det, err := classifier.Detect(ctx, doc, c, p.d.Workers)
	if err != nil {
		return nil, apperr.Internal(op, "detect separators", err)
	}
	seg, err := p.d.Segmenter.Segment(det.TotalPages, det.Separators)
	if err != nil {
		return nil, apperr.Internal(op, "segment", err)
	}
	return &Analysis{
		TotalPages: det.TotalPages,
		Strategy:   det.Strategy,
		Separators: det.Separators,
		Signals:    det.Signals,
		Ranges:     seg.Ranges,
		Units:      seg.Units,
	}, nil
}

// Process ingests a batch. Re-ingesting a known batch number returns the stored batch
// unchanged. Upload or record failures for individual files do not abort the batch; they
// are reported and the result status becomes partial_failure. When the batch itself cannot
// be stored, the checks inserted so far are deleted again.
func (p *Pipeline) Process(ctx context.Context, req Request) (res *Result, err error) {
	const op = "ingest"
	start := time.Now()
	defer func() {
		status := "error"
		if res != nil {
			status = string(res.Status)
			res.Duration = time.Since(start)
		}
		metrics.ObserveIngest(status, time.Since(start))
	}()

	batch, err := NormalizeBatchNumber(req.BatchNumber, p.d.BatchWidth)
	if err != nil {
		return nil, apperr.Input(op, "%s", err.Error())
	}
	if _, err := time.Parse(DateLayout, req.BatchDate); err != nil {
		return nil, apperr.Input(op, "batch date %q is not YYYY-MM-DD", req.BatchDate)
	}
	name := req.FileName
	if name == "" {
		name = "upload"
	}
	if err := p.detector.RequirePDF(name, req.PDF); err != nil {
		return nil, apperr.Input(op, "%s", err.Error())
	}
	logger := log.With().Str("batch", batch).Str("date", req.BatchDate).Logger()

	existing, err := p.d.Records.GetBatch(ctx, batch)
	switch {
	case err == nil:
		logger.Info().Msg("batch already ingested; skipping")
		return &Result{Status: StatusSuccess, Existing: true, Batch: existing}, nil
	case !errors.Is(err, records.ErrNotFound):
		return nil, apperr.Internal(op, "look up batch", err)
	}

	an, err := p.Analyze(ctx, req.PDF)
	if err != nil {
		return nil, err
	}
	if len(an.Ranges) == 0 {
		return nil, apperr.Input(op, "no content pages found among %d pages", an.TotalPages)
	}

	parent := req.ParentFolderID
	if parent == "" {
		parent = p.d.ParentFolderID
	}
	folderName := BatchFolderName(req.BatchDate, batch)
	batchFolder, err := p.d.Objects.CreateFolderIfNotExists(ctx, parent, folderName)
	if err != nil {
		return nil, apperr.Internal(op, "create batch folder", err)
	}
	logger.Info().Str("folder", folderName).Int("pages", an.TotalPages).Int("checks", len(an.Ranges)).Msg("ingesting batch")

	res = &Result{Status: StatusSuccess, Units: an.Units}
	b := &models.Batch{
		Number:     batch,
		Date:       req.BatchDate,
		TotalPages: an.TotalPages,
		FolderID:   batchFolder,
		FolderName: folderName,
	}

	idx := 0
	var inserted []string
	err = p.d.Extractor.Each(ctx, req.PDF, batch, an.Ranges, func(out extract.RangeOutput) error {
		idx++
		sum, c, rangeErr := p.storeRange(ctx, batch, batchFolder, idx, out, res)
		if errors.Is(rangeErr, records.ErrNameTaken) {
			return rangeErr
		}
		if rangeErr != nil {
			logger.Error().Err(rangeErr).Str("label", out.Range.Label).Msg("range not stored")
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", out.Range.Label, rangeErr))
			return nil
		}
		inserted = append(inserted, c.ID)
		b.CheckIDs = append(b.CheckIDs, c.ID)
		res.Checks = append(res.Checks, sum)
		return nil
	})
	if err == nil {
		err = p.d.Records.SaveBatch(ctx, b)
	}
	if err != nil {
		orphaned := p.removeChecks(ctx, inserted)
		switch {
		case len(orphaned) > 0:
			metrics.IncOrphaned(len(orphaned))
			logger.Error().Err(err).Bool("orphaned_record", true).Strs("orphaned_ids", orphaned).
				Msg("ingest rollback failed; record store needs repair")
			return nil, apperr.Integrity(op, "ingest failed and its checks could not be removed", err, orphaned...)
		case errors.Is(err, records.ErrExists), errors.Is(err, records.ErrNameTaken):
			return nil, apperr.Conflict(op, "batch "+batch+" was ingested concurrently", err)
		default:
			return nil, apperr.Internal(op, "store batch", err)
		}
	}
	res.Batch = b
	if len(res.Failed) > 0 || len(res.Errors) > 0 {
		res.Status = StatusPartial
	}
	logger.Info().Str("status", string(res.Status)).Int("checks", len(res.Checks)).Int("failed_uploads", len(res.Failed)).Msg("batch ingested")
	return res, nil
}

// removeChecks deletes the checks of a failed ingest so that a retry starts from an empty
// batch. It ignores the caller's cancellation and returns the IDs it could not delete.
func (p *Pipeline) removeChecks(ctx context.Context, ids []string) (orphaned []string) {
	ctx = context.WithoutCancel(ctx)
	for i := len(ids) - 1; i >= 0; i-- {
		err := p.d.Records.DeleteCheck(ctx, ids[i])
		if err != nil && !errors.Is(err, records.ErrNotFound) {
			log.Error().Err(err).Str("record_id", ids[i]).Msg("compensation failed")
			orphaned = append(orphaned, ids[i])
		}
	}
	return orphaned
}

// storeRange uploads one range's files and inserts its check. Upload failures are
// appended to res.Failed; only pages that were stored are attached to the check.
func (p *Pipeline) storeRange(ctx context.Context, batch, batchFolder string, idx int, out extract.RangeOutput, res *Result) (CheckSummary, *models.Check, error) {
	folderName := CheckFolderName(batch, out.Range.Label)
	folder, err := p.d.Objects.CreateFolderIfNotExists(ctx, batchFolder, folderName)
	if err != nil {
		return CheckSummary{}, nil, fmt.Errorf("create folder %s: %w", folderName, err)
	}

	files := make([]upload.File, 0, len(out.Pages)+1)
	for _, a := range out.Pages {
		files = append(files, upload.File{ParentID: folder, Name: a.FileName, Data: a.Data})
	}
	files = append(files, upload.File{ParentID: folder, Name: out.Complete.FileName, Data: out.Complete.Data})

	up := p.d.Pool.UploadFilesParallel(ctx, files)
	res.Failed = append(res.Failed, up.Failed...)
	stored := make(map[string]storage.FileMeta, len(up.Successful))
	for _, u := range up.Successful {
		stored[u.Name] = u.Meta
	}

	c := &models.Check{
		BatchNumber: batch,
		CheckNumber: fmt.Sprintf("%03d", idx),
		Suffix:      naming.None,
		Status:      models.StatusPending,
		FolderID:    folder,
		SyncEnabled: true,
		Metadata:    map[string]any{"range_label": out.Range.Label, "source_start": out.Range.Start, "source_end": out.Range.End},
	}
	for _, a := range out.Pages {
		meta, ok := stored[a.FileName]
		if !ok {
			continue
		}
		c.Pages = append(c.Pages, models.Page{
			SourceIndex: a.SourceIndex,
			FileName:    a.FileName,
			URL:         meta.Location,
			Size:        meta.Size,
			MimeType:    meta.ContentType,
		})
	}
	if len(c.Pages) == 0 {
		return CheckSummary{}, nil, fmt.Errorf("none of %d pages uploaded", len(out.Pages))
	}
	if err := p.d.Records.InsertCheck(ctx, c); err != nil {
		return CheckSummary{}, nil, fmt.Errorf("insert check: %w", err)
	}

	sum := CheckSummary{
		ID:          c.ID,
		Label:       out.Range.Label,
		CheckNumber: c.CheckNumber,
		FileName:    c.FileName(),
		FolderID:    folder,
		FolderName:  folderName,
		Pages:       len(c.Pages),
	}
	if meta, ok := stored[out.Complete.FileName]; ok {
		sum.CompleteURL = meta.Location
	}
	return sum, c, nil
}
