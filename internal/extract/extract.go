package extract

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/metrics"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/segment"
)

const CompleteSuffix = "COMPLETE"

// Artifact is one generated PDF.
type Artifact struct {
	FileName string
	// SourceIndex is the 0-based page index in the batch. -1 for COMPLETE files.
	SourceIndex int
	// RelativePage is 1-based within the range. 0 for COMPLETE files.
	RelativePage int
	Data         []byte
}

// RangeOutput holds everything produced for one range.
type RangeOutput struct {
	Range    segment.Range
	Pages    []Artifact
	Complete Artifact
}

type Result struct {
	PerPage  []Artifact
	Complete []Artifact
}

// Extractor materializes per-page and per-range PDFs with pdfcpu.
type Extractor struct {
	conf *model.Configuration
}

func New() *Extractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Extractor{conf: conf}
}

func PageFileName(batch, label string, relative int) string {
	return fmt.Sprintf("%s-%s-%d.pdf", batch, label, relative)
}

func CompleteFileName(batch, label string) string {
	return fmt.Sprintf("%s-%s-%s.pdf", batch, label, CompleteSuffix)
}

// PageCount parses src and returns its number of pages.
func (e *Extractor) PageCount(src []byte) (int, error) {
	return api.PageCount(bytes.NewReader(src), e.conf)
}

// Each parses src once and hands fn one range at a time. The range's buffers are released
// before the next range is built, so memory stays bounded by the largest range.
func (e *Extractor) Each(ctx context.Context, src []byte, batch string, ranges []segment.Range, fn func(RangeOutput) error) error {
	pdf, err := api.ReadValidateAndOptimize(bytes.NewReader(src), e.conf)
	if err != nil {
		return fmt.Errorf("read source pdf: %w", err)
	}
	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Start < 0 || r.End >= pdf.PageCount || r.Count() < 1 {
			return fmt.Errorf("range %s [%d,%d] outside document of %d pages", r.Label, r.Start, r.End, pdf.PageCount)
		}
		out, err := e.extractRange(pdf, batch, r)
		if err != nil {
			return fmt.Errorf("range %s: %w", r.Label, err)
		}
		metrics.IncRangeExtracted()
		log.Debug().Str("batch", batch).Str("label", r.Label).Int("pages", r.Count()).Msg("extracted range")
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

// Extract collects the output of every range. Use Each for large batches.
func (e *Extractor) Extract(ctx context.Context, src []byte, batch string, ranges []segment.Range) (*Result, error) {
	res := &Result{}
	err := e.Each(ctx, src, batch, ranges, func(out RangeOutput) error {
		res.PerPage = append(res.PerPage, out.Pages...)
		res.Complete = append(res.Complete, out.Complete)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (e *Extractor) extractRange(pdf *model.Context, batch string, r segment.Range) (RangeOutput, error) {
	out := RangeOutput{Range: r}

	// pdfcpu page numbers are 1-based
	nums := make([]int, 0, r.Count())
	for _, p := range r.Pages() {
		nums = append(nums, p+1)
	}

	for i, n := range nums {
		data, err := e.write(pdf, []int{n})
		if err != nil {
			return out, fmt.Errorf("page %d: %w", n, err)
		}
		out.Pages = append(out.Pages, Artifact{
			FileName:     PageFileName(batch, r.Label, i+1),
			SourceIndex:  n - 1,
			RelativePage: i + 1,
			Data:         data,
		})
	}

	data, err := e.write(pdf, nums)
	if err != nil {
		return out, fmt.Errorf("complete: %w", err)
	}
	out.Complete = Artifact{FileName: CompleteFileName(batch, r.Label), SourceIndex: -1, Data: data}
	return out, nil
}

func (e *Extractor) write(pdf *model.Context, pageNrs []int) ([]byte, error) {
	sub, err := pdfcpu.ExtractPages(pdf, pageNrs, false)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := api.WriteContext(sub, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
