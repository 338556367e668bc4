package segment

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ranges(rs ...[2]int) []Range {
	out := make([]Range, 0, len(rs))
	for _, r := range rs {
		out = append(out, Range{Start: r[0], End: r[1]})
	}
	return out
}

func stripLabels(rs []Range) []Range {
	if len(rs) == 0 {
		return nil
	}
	out := make([]Range, len(rs))
	for i, r := range rs {
		out[i] = Range{Start: r.Start, End: r.End}
	}
	return out
}

func TestSegment(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		total  int
		seps   []int
		want   []Range
		units  int
	}{
		{"no separators", PolicySingle, 5, nil, ranges([2]int{0, 4}), 0},
		{"empty document", PolicySingle, 0, nil, nil, 0},
		{"single leading separator", PolicySingle, 6, []int{0, 3}, ranges([2]int{1, 2}, [2]int{4, 5}), 2},
		{"trailing content kept", PolicySingle, 7, []int{2}, ranges([2]int{0, 1}, [2]int{3, 6}), 1},
		{"separator on last page", PolicySingle, 5, []int{4}, ranges([2]int{0, 3}), 1},
		{"only separators", PolicySingle, 2, []int{0, 1}, nil, 2},
		{"paired collapses adjacent", PolicyPaired, 10, []int{0, 1, 5, 6}, ranges([2]int{2, 4}, [2]int{7, 9}), 2},
		{"paired lone separator", PolicyPaired, 8, []int{3}, ranges([2]int{0, 2}, [2]int{4, 7}), 1},
		{"paired run of three", PolicyPaired, 8, []int{2, 3, 4}, ranges([2]int{0, 1}, [2]int{5, 7}), 2},
		{"unsorted duplicate and out of range", PolicySingle, 6, []int{3, 9, -1, 3}, ranges([2]int{0, 2}, [2]int{4, 5}), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.policy, LabelAlpha)
			require.NoError(t, err)
			res, err := s.Segment(tt.total, tt.seps)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stripLabels(res.Ranges))
			assert.Len(t, res.Units, tt.units)
		})
	}
}

func TestSegmentPartitionsPages(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, policy := range []Policy{PolicySingle, PolicyPaired} {
		for iter := 0; iter < 200; iter++ {
			total := rng.Intn(40)
			var seps []int
			for p := 0; p < total; p++ {
				if rng.Intn(4) == 0 {
					seps = append(seps, p)
				}
			}
			s, err := New(policy, LabelNumeric)
			require.NoError(t, err)
			res, err := s.Segment(total, seps)
			require.NoError(t, err)

			covered := make([]int, total)
			for _, r := range res.Ranges {
				require.GreaterOrEqual(t, r.Count(), 1, "empty range emitted")
				for _, p := range r.Pages() {
					covered[p]++
				}
			}
			for _, u := range res.Units {
				for p := u.Start; p <= u.End; p++ {
					covered[p]++
				}
			}
			for p, c := range covered {
				assert.Equal(t, 1, c, "policy=%s total=%d seps=%v page=%d", policy, total, seps, p)
			}
		}
	}
}

func TestPoliciesAgreeOnContentRanges(t *testing.T) {
	single, _ := New(PolicySingle, LabelAlpha)
	paired, _ := New(PolicyPaired, LabelAlpha)
	seps := []int{0, 1, 4, 8, 9, 10}
	a, _ := single.Segment(14, seps)
	b, _ := paired.Segment(14, seps)
	assert.Equal(t, a.Ranges, b.Ranges)
	assert.Len(t, a.Units, 6)
	assert.Len(t, b.Units, 4)
}

func TestLabels(t *testing.T) {
	assert.Equal(t, "A", Label(LabelAlpha, 0))
	assert.Equal(t, "C", Label(LabelAlpha, 2))
	assert.Equal(t, "Z", Label(LabelAlpha, 25))
	assert.Equal(t, "AA", Label(LabelAlpha, 26))
	assert.Equal(t, "AB", Label(LabelAlpha, 27))
	assert.Equal(t, "001", Label(LabelNumeric, 0))
	assert.Equal(t, "012", Label(LabelNumeric, 11))

	s, _ := New(PolicySingle, LabelNumeric)
	res, _ := s.Segment(5, []int{2})
	require.Len(t, res.Ranges, 2)
	assert.Equal(t, "001", res.Ranges[0].Label)
	assert.Equal(t, "002", res.Ranges[1].Label)
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New("triple", LabelAlpha)
	assert.Error(t, err)
	_, err = New(PolicySingle, "roman")
	assert.Error(t, err)
}
