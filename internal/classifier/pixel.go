package classifier

import (
	"errors"
	"fmt"
	"image"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdfdoc"
)

// PinkBand bounds the colour of the separator sheet: strong red, weak green and blue.
type PinkBand struct {
	RedMin   uint8 `yaml:"red_min" json:"red_min"`
	GreenMax uint8 `yaml:"green_max" json:"green_max"`
	BlueMax  uint8 `yaml:"blue_max" json:"blue_max"`
}

func (b PinkBand) Contains(r, g, bl uint8) bool {
	return r >= b.RedMin && g <= b.GreenMax && bl <= b.BlueMax
}

type PixelConfig struct {
	Band PinkBand `yaml:"band" json:"band"`
	// Coverage is the fraction of the page that must be pink.
	Coverage float64 `yaml:"coverage" json:"coverage"`
	// DPI of the thumbnail render. 36 is a 0.5 scale of the 72 DPI page space.
	DPI    float64 `yaml:"dpi" json:"dpi"`
	Stride int     `yaml:"stride" json:"stride"`
}

func DefaultPixel() PixelConfig {
	return PixelConfig{
		Band:     PinkBand{RedMin: 200, GreenMax: 180, BlueMax: 180},
		Coverage: 0.15,
		DPI:      36,
		Stride:   2,
	}
}

// Pixel flags pages whose rendered thumbnail is mostly pink.
type Pixel struct {
	cfg PixelConfig
}

func NewPixel(cfg PixelConfig) (*Pixel, error) {
	if cfg.Coverage <= 0 || cfg.Coverage > 1 {
		return nil, fmt.Errorf("pixel classifier: coverage %.3f outside (0,1]", cfg.Coverage)
	}
	if cfg.DPI <= 0 {
		return nil, errors.New("pixel classifier: dpi must be positive")
	}
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	return &Pixel{cfg: cfg}, nil
}

func (p *Pixel) Name() string { return string(StrategyPixel) }

func (p *Pixel) Config() PixelConfig { return p.cfg }

func (p *Pixel) Classify(doc pdfdoc.Doc, page int) (Signal, error) {
	img, err := doc.Image(page, p.cfg.DPI)
	if err != nil {
		return Signal{}, fmt.Errorf("render page %d: %w", page, err)
	}
	cov := PinkCoverage(img, p.cfg.Band, p.cfg.Stride)
	return Signal{
		Page:      page,
		Separator: cov >= p.cfg.Coverage,
		Score:     cov,
		Strategy:  p.Name(),
	}, nil
}

// PinkCoverage samples every stride-th pixel on both axes and returns the pink share of the
// sampled pixels.
func PinkCoverage(img image.Image, band PinkBand, stride int) float64 {
	if img == nil {
		return 0
	}
	if stride < 1 {
		stride = 1
	}
	b := img.Bounds()
	if b.Empty() {
		return 0
	}

	pink, sampled := 0, 0
	if rgba, ok := img.(*image.RGBA); ok {
		for y := b.Min.Y; y < b.Max.Y; y += stride {
			row := rgba.Pix[(y-b.Min.Y)*rgba.Stride:]
			for x := 0; x < b.Dx(); x += stride {
				sampled++
				px := row[x*4 : x*4+3]
				if band.Contains(px[0], px[1], px[2]) {
					pink++
				}
			}
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y += stride {
			for x := b.Min.X; x < b.Max.X; x += stride {
				sampled++
				r, g, bl, _ := img.At(x, y).RGBA()
				if band.Contains(uint8(r>>8), uint8(g>>8), uint8(bl>>8)) {
					pink++
				}
			}
		}
	}

	return float64(pink) / float64(sampled)
}
