package classifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is the on-disk form of classifier tuning. Missing sections keep their defaults.
type Profile struct {
	Keywords *KeywordConfig `yaml:"keywords"`
	Pixel    *PixelConfig   `yaml:"pixel"`
}

// LoadProfile reads a YAML profile and applies it over kw and px.
func LoadProfile(path string, kw KeywordConfig, px PixelConfig) (KeywordConfig, PixelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return kw, px, fmt.Errorf("read classifier profile: %w", err)
	}
	return ApplyProfile(data, kw, px)
}

func ApplyProfile(data []byte, kw KeywordConfig, px PixelConfig) (KeywordConfig, PixelConfig, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return kw, px, fmt.Errorf("parse classifier profile: %w", err)
	}
	if p.Keywords != nil {
		if len(p.Keywords.Groups) > 0 {
			kw.Groups = p.Keywords.Groups
		}
		if p.Keywords.Threshold > 0 {
			kw.Threshold = p.Keywords.Threshold
		}
	}
	if p.Pixel != nil {
		if p.Pixel.Band != (PinkBand{}) {
			px.Band = p.Pixel.Band
		}
		if p.Pixel.Coverage > 0 {
			px.Coverage = p.Pixel.Coverage
		}
		if p.Pixel.DPI > 0 {
			px.DPI = p.Pixel.DPI
		}
		if p.Pixel.Stride > 0 {
			px.Stride = p.Pixel.Stride
		}
	}
	return kw, px, nil
}
