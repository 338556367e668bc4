// Package merge builds the single PDF that downstream systems receive for a check.
package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/apperr"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/metrics"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/models"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/records"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/storage"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/upload"
)

type Result struct {
	CheckID  string `json:"check_id"`
	Location string `json:"location"`
	// Reused is set when the check's only page is handed over as is.
	Reused bool              `json:"reused"`
	Pages  int               `json:"pages"`
	Failed []apperr.Failure  `json:"failed,omitempty"`
	Meta   *storage.FileMeta `json:"meta,omitempty"`
}

type Merger struct {
	objects storage.ObjectStore
	records records.Store
	pool    *upload.Pool
	workers int
	conf    *model.Configuration
}

func New(objects storage.ObjectStore, recs records.Store, pool *upload.Pool, workers int) *Merger {
	if workers <= 0 {
		workers = 4
	}
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Merger{objects: objects, records: recs, pool: pool, workers: workers, conf: conf}
}

// MergedFileName names the merged object of a check. A review copy shares its file name with
// the approved record it supersedes, so its merged PDF carries the copy's ID as well.
func MergedFileName(check *models.Check) string {
	name := check.FileName()
	if check.SupersedesID == "" {
		return name
	}
	rev := check.ID
	if len(rev) > 8 {
		rev = rev[:8]
	}
	return strings.TrimSuffix(name, naming.Extension) + "-rev-" + rev + naming.Extension
}

// MergeForDownstream produces one PDF for the check and records its location on the check.
// Pages that cannot be downloaded are skipped and listed in Result.Failed; the call fails
// only when no page could be fetched. check.Version must be current.
func (m *Merger) MergeForDownstream(ctx context.Context, check *models.Check) (*Result, error) {
	const op = "merge"
	logger := log.With().Str("check_id", check.ID).Str("file", check.FileName()).Logger()

	switch len(check.Pages) {
	case 0:
		metrics.IncMerge("failed")
		return nil, apperr.Input(op, "check %s has no pages", check.ID)
	case 1:
		res := &Result{CheckID: check.ID, Location: check.Pages[0].URL, Reused: true, Pages: 1}
		if err := m.record(ctx, check, res.Location); err != nil {
			return nil, err
		}
		metrics.IncMerge("reused")
		logger.Info().Str("location", res.Location).Msg("single page reused")
		return res, nil
	}

	docs, failed := m.download(ctx, check.Pages)
	if len(docs) == 0 {
		metrics.IncMerge("failed")
		e := apperr.Partial(op, fmt.Sprintf("none of %d pages could be fetched", len(check.Pages)), failed)
		logger.Error().Err(e).Msg("merge failed")
		return nil, e
	}

	rsc := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		rsc[i] = bytes.NewReader(d)
	}
	var buf bytes.Buffer
	if err := api.MergeRaw(rsc, &buf, false, m.conf); err != nil {
		metrics.IncMerge("failed")
		return nil, apperr.Internal(op, "merge pages", err)
	}

	up := m.pool.UploadFilesParallel(ctx, []upload.File{{ParentID: check.FolderID, Name: MergedFileName(check), Data: buf.Bytes()}})
	if !up.OK() {
		metrics.IncMerge("failed")
		return nil, apperr.Partial(op, "merged pdf upload failed", []apperr.Failure{{Item: up.Failed[0].Name, Error: up.Failed[0].Error}})
	}
	meta := up.Successful[0].Meta
	if err := m.record(ctx, check, meta.Location); err != nil {
		return nil, err
	}

	metrics.IncMerge("merged")
	logger.Info().Int("pages", len(docs)).Int("skipped", len(failed)).Str("location", meta.Location).Msg("merged pdf uploaded")
	return &Result{CheckID: check.ID, Location: meta.Location, Pages: len(docs), Failed: failed, Meta: &meta}, nil
}

// download fetches page bodies concurrently and returns the successful ones in page order.
func (m *Merger) download(ctx context.Context, pages []models.Page) ([][]byte, []apperr.Failure) {
	bodies := make([][]byte, len(pages))
	errs := make([]error, len(pages))

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i := range pages {
		i := i
		g.Go(func() error {
			bodies[i], errs[i] = m.objects.Download(ctx, pages[i].URL)
			return nil
		})
	}
	_ = g.Wait()

	var docs [][]byte
	var failed []apperr.Failure
	for i, p := range pages {
		if errs[i] != nil {
			log.Warn().Err(errs[i]).Str("page", p.FileName).Msg("page download failed; skipping")
			failed = append(failed, apperr.Failure{Item: p.FileName, Error: errs[i].Error()})
			continue
		}
		docs = append(docs, bodies[i])
	}
	return docs, failed
}

func (m *Merger) record(ctx context.Context, check *models.Check, location string) error {
	if check.MergedURL == location {
		return nil
	}
	next := check.Clone()
	next.MergedURL = location
	if err := m.records.UpdateCheck(ctx, next); err != nil {
		switch {
		case errors.Is(err, records.ErrConflict):
			return apperr.Conflict("merge", "check changed while merging", err)
		case errors.Is(err, records.ErrNotFound):
			return apperr.NotFound("merge", "check "+check.ID, err)
		default:
			return apperr.Internal("merge", "record merged url", err)
		}
	}
	*check = *next
	return nil
}
