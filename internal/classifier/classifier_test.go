package classifier

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pink  = color.RGBA{R: 240, G: 150, B: 170, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// fakeDoc serves canned text and rasters per page.
type fakeDoc struct {
	texts   []string
	images  []image.Image
	textErr map[int]bool
	renders atomic.Int32
}

func (d *fakeDoc) NumPage() int {
	if d.texts != nil {
		return len(d.texts)
	}
	return len(d.images)
}

func (d *fakeDoc) Text(i int) (string, error) {
	if d.textErr[i] {
		return "", errors.New("mupdf: cannot load page")
	}
	return d.texts[i], nil
}

func (d *fakeDoc) Image(i int, _ float64) (image.Image, error) {
	d.renders.Add(1)
	if d.images == nil || d.images[i] == nil {
		return nil, errors.New("render failed")
	}
	return d.images[i], nil
}

func (d *fakeDoc) Close() error { return nil }

// pageImage paints the top fraction of a w x h image pink and the rest white.
func pageImage(w, h int, fraction float64) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cut := int(float64(h) * fraction)
	for y := 0; y < h; y++ {
		c := white
		if y < cut {
			c = pink
		}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestKeywordScore(t *testing.T) {
	k, err := NewKeyword(LooseKeywords())
	require.NoError(t, err)

	n, matched := k.Score("AUTOMATICALLY SEPERATED AND SORTED AND INDEXED")
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"AUTOMATIC", "SEPARAT", "SORT", "INDEX"}, matched)

	strict, err := NewKeyword(DefaultKeywords())
	require.NoError(t, err)
	assert.True(t, strict.IsSeparator("automatically seperated and sorted and indexed"))
	assert.False(t, strict.IsSeparator("Pay to the order of ACME SORTING CO"))
}

func TestKeywordOCRVariants(t *testing.T) {
	k, err := NewKeyword(DefaultKeywords())
	require.NoError(t, err)
	tests := []struct {
		text string
		want int
	}{
		{"AUTOMATICA SEPARATED SORTED !NDEXED", 4},
		{"FIUNDATION EXTRACT 1NDEX", 3},
		{"FUUNDATION", 1},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			n, _ := k.Score(tt.text)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestNewKeywordValidates(t *testing.T) {
	_, err := NewKeyword(KeywordConfig{})
	assert.Error(t, err)
	_, err = NewKeyword(KeywordConfig{Groups: DefaultKeywords().Groups, Threshold: 7})
	assert.Error(t, err)
	_, err = NewKeyword(KeywordConfig{Groups: []KeywordGroup{{Name: "X", Variants: []string{" "}}}, Threshold: 1})
	assert.Error(t, err)
}

func TestPinkCoverage(t *testing.T) {
	band := DefaultPixel().Band
	assert.InDelta(t, 0.0, PinkCoverage(pageImage(40, 40, 0), band, 2), 1e-9)
	assert.InDelta(t, 1.0, PinkCoverage(pageImage(40, 40, 1), band, 2), 1e-9)
	assert.InDelta(t, 0.5, PinkCoverage(pageImage(40, 40, 0.5), band, 2), 1e-9)
	assert.InDelta(t, 0.25, PinkCoverage(pageImage(40, 40, 0.25), band, 1), 1e-9)
	// odd sizes: rows 0 and 2 are sampled, only row 0 is pink
	assert.InDelta(t, 0.5, PinkCoverage(pageImage(3, 3, 0.34), band, 2), 1e-9)
	assert.InDelta(t, 1.0, PinkCoverage(pageImage(41, 41, 1), band, 2), 1e-9)

	// non-RGBA path
	gray := image.NewGray(image.Rect(0, 0, 10, 10))
	assert.InDelta(t, 0.0, PinkCoverage(gray, band, 2), 1e-9)
	assert.Equal(t, 0.0, PinkCoverage(nil, band, 2))
}

func TestPixelClassify(t *testing.T) {
	p, err := NewPixel(DefaultPixel())
	require.NoError(t, err)
	doc := &fakeDoc{images: []image.Image{pageImage(50, 60, 0.10), pageImage(50, 60, 0.5), nil}}

	sig, err := p.Classify(doc, 0)
	require.NoError(t, err)
	assert.False(t, sig.Separator)

	sig, err = p.Classify(doc, 1)
	require.NoError(t, err)
	assert.True(t, sig.Separator)
	assert.InDelta(t, 0.5, sig.Score, 0.01)

	_, err = p.Classify(doc, 2)
	assert.Error(t, err)
}

func TestDetectContinuesPastFailures(t *testing.T) {
	k, _ := NewKeyword(DefaultKeywords())
	sep := "AUTOMATICALLY SEPERATED AND SORTED AND INDEXED"
	doc := &fakeDoc{
		texts:   []string{sep, "check 1", "check 1 back", sep, "boom", "check 2"},
		textErr: map[int]bool{4: true},
	}
	det, err := Detect(context.Background(), doc, k, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, det.Separators)
	require.Len(t, det.Signals, 6)
	assert.NotEmpty(t, det.Signals[4].Err)
	assert.False(t, det.Signals[4].Separator)
	for i, s := range det.Signals {
		assert.Equal(t, i, s.Page)
	}
}

func TestDetectHonoursCancellation(t *testing.T) {
	k, _ := NewKeyword(DefaultKeywords())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Detect(ctx, &fakeDoc{texts: []string{"a", "b"}}, k, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnyIsLogicalOr(t *testing.T) {
	k, _ := NewKeyword(DefaultKeywords())
	p, _ := NewPixel(DefaultPixel())
	doc := &fakeDoc{
		texts:  []string{"plain", "AUTOMATIC SEPARATED SORTED INDEXED", "plain"},
		images: []image.Image{pageImage(20, 20, 0.9), pageImage(20, 20, 0), pageImage(20, 20, 0)},
	}
	det, err := Detect(context.Background(), doc, Any{k, p}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, det.Separators)
	assert.Equal(t, "any(keyword,pixel)", det.Strategy)
}

func TestAnyFailsOnlyWhenAllMembersFail(t *testing.T) {
	k, _ := NewKeyword(DefaultKeywords())
	p, _ := NewPixel(DefaultPixel())
	doc := &fakeDoc{texts: []string{"x"}, textErr: map[int]bool{0: true}}
	_, err := Any{k, p}.Classify(doc, 0)
	assert.Error(t, err)

	doc.images = []image.Image{pageImage(10, 10, 1)}
	sig, err := Any{k, p}.Classify(doc, 0)
	require.NoError(t, err)
	assert.True(t, sig.Separator)
}

func TestSetAutoPicksByTextLayer(t *testing.T) {
	k, _ := NewKeyword(DefaultKeywords())
	p, _ := NewPixel(DefaultPixel())
	set := Set{Strategy: StrategyAuto, Keyword: k, Pixel: p, TextThreshold: 5}

	assert.Equal(t, "keyword", set.For(&fakeDoc{texts: []string{"plenty of text here"}}).Name())
	assert.Equal(t, "pixel", set.For(&fakeDoc{texts: []string{"", " "}}).Name())

	set.Strategy = StrategyPixel
	assert.Equal(t, "pixel", set.For(&fakeDoc{texts: []string{"plenty of text here"}}).Name())
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Auto ")
	require.NoError(t, err)
	assert.Equal(t, StrategyAuto, s)
	_, err = ParseStrategy("ocr")
	assert.Error(t, err)
}

func TestApplyProfile(t *testing.T) {
	data := []byte(`
keywords:
  threshold: 2
  groups:
    - name: DIVIDER
      variants: [DIVIDER, D1VIDER]
    - name: SHEET
      variants: [SHEET]
pixel:
  coverage: 0.3
  band:
    red_min: 210
    green_max: 170
    blue_max: 170
`)
	kw, px, err := ApplyProfile(data, DefaultKeywords(), DefaultPixel())
	require.NoError(t, err)
	assert.Equal(t, 2, kw.Threshold)
	require.Len(t, kw.Groups, 2)
	assert.Equal(t, []string{"DIVIDER", "D1VIDER"}, kw.Groups[0].Variants)
	assert.Equal(t, 0.3, px.Coverage)
	assert.Equal(t, uint8(210), px.Band.RedMin)
	assert.Equal(t, 2, px.Stride)

	_, _, err = ApplyProfile([]byte("keywords: [oops"), DefaultKeywords(), DefaultPixel())
	assert.Error(t, err)
}
