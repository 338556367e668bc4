package segment

import (
	"fmt"
	"sort"
	"strings"
)

// Policy selects how separator pages delimit checks.
type Policy string

const (
	// PolicyPaired treats two adjacent separator pages as one divider sheet.
	PolicyPaired Policy = "paired"
	// PolicySingle treats every separator page as its own divider.
	PolicySingle Policy = "single"
)

// LabelStyle selects how ranges are labelled.
type LabelStyle string

const (
	LabelAlpha   LabelStyle = "alpha"
	LabelNumeric LabelStyle = "numeric"
)

// Range is a contiguous run of content pages, 0-based and inclusive.
type Range struct {
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

func (r Range) Count() int { return r.End - r.Start + 1 }

// Pages lists the 0-based indices covered by the range.
func (r Range) Pages() []int {
	out := make([]int, 0, r.Count())
	for i := r.Start; i <= r.End; i++ {
		out = append(out, i)
	}
	return out
}

// Unit is one consumed separator: a single page or an adjacent pair.
type Unit struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Result struct {
	Ranges []Range `json:"ranges"`
	Units  []Unit  `json:"separator_units"`
}

type Segmenter struct {
	Policy Policy
	Labels LabelStyle
}

func New(policy Policy, labels LabelStyle) (*Segmenter, error) {
	switch policy {
	case PolicyPaired, PolicySingle:
	default:
		return nil, fmt.Errorf("unknown separator policy %q", policy)
	}
	switch labels {
	case LabelAlpha, LabelNumeric:
	default:
		return nil, fmt.Errorf("unknown label style %q", labels)
	}
	return &Segmenter{Policy: policy, Labels: labels}, nil
}

// Segment turns separator indices into labelled content ranges. The ranges together with
// the consumed separator pages partition [0,total).
func (s *Segmenter) Segment(total int, separators []int) (Result, error) {
	if total < 0 {
		return Result{}, fmt.Errorf("negative page count %d", total)
	}
	seps := normalize(separators, total)

	var res Result
	pos := 0
	emit := func(end int) {
		if end >= pos {
			res.Ranges = append(res.Ranges, Range{Start: pos, End: end})
		}
	}
	for i := 0; i < len(seps); i++ {
		sep := seps[i]
		emit(sep - 1)
		unit := Unit{Start: sep, End: sep}
		if s.Policy == PolicyPaired && i+1 < len(seps) && seps[i+1] == sep+1 {
			unit.End = sep + 1
			i++
		}
		res.Units = append(res.Units, unit)
		pos = unit.End + 1
	}
	emit(total - 1)

	for i := range res.Ranges {
		res.Ranges[i].Label = Label(s.Labels, i)
	}
	return res, nil
}

// Label renders the i-th (0-based) label for a style: A..Z, AA, AB.. or 001, 002..
func Label(style LabelStyle, i int) string {
	if style == LabelNumeric {
		return fmt.Sprintf("%03d", i+1)
	}
	var b strings.Builder
	n := i + 1
	var rev []byte
	for n > 0 {
		n--
		rev = append(rev, byte('A'+n%26))
		n /= 26
	}
	for j := len(rev) - 1; j >= 0; j-- {
		b.WriteByte(rev[j])
	}
	return b.String()
}

func normalize(in []int, total int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, p := range in {
		if p < 0 || p >= total {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
