// Package classifier decides which pages of a scanned batch are separator sheets.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/metrics"
	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdfdoc"
)

// Signal is the verdict for one page. Score is the matched keyword count or the pink
// coverage ratio depending on the strategy.
type Signal struct {
	Page      int     `json:"page"`
	Separator bool    `json:"separator"`
	Score     float64 `json:"score"`
	Strategy  string  `json:"strategy"`
	Err       string  `json:"error,omitempty"`
}

// Classifier scores a single page. Implementations must not mutate the document.
type Classifier interface {
	Name() string
	Classify(doc pdfdoc.Doc, page int) (Signal, error)
}

// Strategy selects the classifier used for a document.
type Strategy string

const (
	StrategyKeyword Strategy = "keyword"
	StrategyPixel   Strategy = "pixel"
	StrategyAny     Strategy = "any"
	// StrategyAuto uses keywords when the document has a text layer, pixels otherwise.
	StrategyAuto Strategy = "auto"
)

func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case StrategyKeyword, StrategyPixel, StrategyAny, StrategyAuto:
		return st, nil
	default:
		return "", fmt.Errorf("unknown classifier strategy %q", s)
	}
}

// Set holds the configured classifiers and picks one per document.
type Set struct {
	Strategy      Strategy
	Keyword       *Keyword
	Pixel         *Pixel
	TextThreshold int
}

func (s Set) For(doc pdfdoc.Doc) Classifier {
	switch s.Strategy {
	case StrategyKeyword:
		return s.Keyword
	case StrategyPixel:
		return s.Pixel
	case StrategyAny:
		return Any{s.Keyword, s.Pixel}
	}
	hasText, diag := pdfdoc.HasExtractableText(doc, s.TextThreshold)
	log.Debug().
		Bool("has_text", hasText).
		Int("sampled_chars", diag.TotalCharsInSample).
		Ints("sampled_pages", diag.SampledPages).
		Msg("auto classifier selection")
	if hasText {
		return s.Keyword
	}
	return s.Pixel
}

// Detection is the transient result of classifying a whole document.
type Detection struct {
	Strategy   string   `json:"strategy"`
	TotalPages int      `json:"total_pages"`
	Separators []int    `json:"separators"`
	Signals    []Signal `json:"signals"`
}

// Detect classifies every page with at most workers pages in flight. A page that fails to
// classify is logged and treated as content. Separators are returned in page order.
func Detect(ctx context.Context, doc pdfdoc.Doc, c Classifier, workers int) (Detection, error) {
	total := doc.NumPage()
	det := Detection{Strategy: c.Name(), TotalPages: total, Signals: make([]Signal, total)}
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < total; i++ {
		page := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sig, err := c.Classify(doc, page)
			if err != nil {
				log.Warn().Err(err).Int("page", page).Str("strategy", c.Name()).Msg("page classification failed; treating as content")
				metrics.IncClassified(c.Name(), "error")
				det.Signals[page] = Signal{Page: page, Strategy: c.Name(), Err: err.Error()}
				return nil
			}
			sig.Page = page
			if sig.Separator {
				metrics.IncClassified(c.Name(), "separator")
			} else {
				metrics.IncClassified(c.Name(), "content")
			}
			det.Signals[page] = sig
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Detection{}, err
	}

	for _, s := range det.Signals {
		if s.Separator {
			det.Separators = append(det.Separators, s.Page)
		}
	}
	metrics.AddSeparators(len(det.Separators))
	log.Info().Int("pages", total).Ints("separators", det.Separators).Str("strategy", c.Name()).Msg("separator detection complete")
	return det, nil
}

// Any flags a page when any member flags it.
type Any []Classifier

func (a Any) Name() string {
	names := make([]string, 0, len(a))
	for _, c := range a {
		names = append(names, c.Name())
	}
	return "any(" + strings.Join(names, ",") + ")"
}

func (a Any) Classify(doc pdfdoc.Doc, page int) (Signal, error) {
	var firstErr error
	var best Signal
	failed := 0
	for _, c := range a {
		sig, err := c.Classify(doc, page)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if sig.Separator {
			return sig, nil
		}
		if sig.Score > best.Score || best.Strategy == "" {
			best = sig
		}
	}
	if failed == len(a) {
		return Signal{}, firstErr
	}
	return best, nil
}
