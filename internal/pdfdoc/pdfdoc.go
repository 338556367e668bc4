// Package pdfdoc abstracts the read-only view of a PDF the classifiers need: page text and
// page rasters.
package pdfdoc

import (
	"errors"
	"fmt"
	"image"
	"math/rand"
	"regexp"
	"sort"
	"time"
)

// Doc is an opened PDF. Page indices are 0-based.
type Doc interface {
	NumPage() int
	Text(page int) (string, error)
	Image(page int, dpi float64) (image.Image, error)
	Close() error
}

// Opener turns PDF bytes into a Doc.
type Opener interface {
	Open(data []byte) (Doc, error)
}

var ErrNoOpener = errors.New("no PDF opener configured")

// DefaultThreshold is the sampled character count at which a document counts as text-bearing.
const DefaultThreshold = 300

var whitespaceRegex = regexp.MustCompile(`\s+`)

// PageProbe captures the result of probing a single page for text.
type PageProbe struct {
	PageIndex int    `json:"page_index"`
	CharCount int    `json:"char_count"`
	Err       string `json:"err,omitempty"`
}

// Diagnostics describes a text-extractability check.
type Diagnostics struct {
	TotalPages         int         `json:"total_pages"`
	SampledPages       []int       `json:"sampled_pages"`
	TotalCharsInSample int         `json:"total_chars_in_sample"`
	Threshold          int         `json:"threshold"`
	Probes             []PageProbe `json:"probes"`
	HasExtractableText bool        `json:"has_extractable_text"`
	DurationMs         int64       `json:"duration_ms"`
}

// HasExtractableText samples pages of doc and reports whether they carry a text layer.
// If threshold <= 0, DefaultThreshold is used.
func HasExtractableText(doc Doc, threshold int) (bool, *Diagnostics) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	start := time.Now()
	total := doc.NumPage()
	diag := &Diagnostics{TotalPages: total, Threshold: threshold, SampledPages: sampleIndices(total)}

	for _, idx := range diag.SampledPages {
		probe := PageProbe{PageIndex: idx}
		text, err := doc.Text(idx)
		if err != nil {
			probe.Err = err.Error()
			diag.Probes = append(diag.Probes, probe)
			continue
		}
		probe.CharCount = len([]rune(whitespaceRegex.ReplaceAllString(text, "")))
		diag.TotalCharsInSample += probe.CharCount
		diag.Probes = append(diag.Probes, probe)
		if diag.TotalCharsInSample >= threshold {
			break
		}
	}
	diag.HasExtractableText = diag.TotalCharsInSample >= threshold
	diag.DurationMs = time.Since(start).Milliseconds()
	return diag.HasExtractableText, diag
}

// sampleIndices returns every page for short documents, otherwise first, middle, last and
// two random pages.
func sampleIndices(total int) []int {
	if total <= 0 {
		return []int{}
	}
	if total <= 5 {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	base := map[int]struct{}{0: {}, total / 2: {}, total - 1: {}}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for len(base) < 5 {
		base[rnd.Intn(total)] = struct{}{}
	}
	out := make([]int, 0, len(base))
	for i := range base {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Open is a convenience that reports a nil opener as an error instead of panicking.
func Open(o Opener, data []byte) (Doc, error) {
	if o == nil {
		return nil, ErrNoOpener
	}
	d, err := o.Open(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	return d, nil
}
