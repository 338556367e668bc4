package classifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/pdfdoc"
)

// KeywordGroup is one separator phrase with its accepted OCR misreadings.
type KeywordGroup struct {
	Name     string   `yaml:"name" json:"name"`
	Variants []string `yaml:"variants" json:"variants"`
}

type KeywordConfig struct {
	Groups    []KeywordGroup `yaml:"groups" json:"groups"`
	Threshold int            `yaml:"threshold" json:"threshold"`
}

// DefaultKeywords matches the stamped text on the scanner's separator sheet.
func DefaultKeywords() KeywordConfig {
	return KeywordConfig{
		Groups: []KeywordGroup{
			{Name: "AUTOMATIC", Variants: []string{"AUTOMATIC", "AUTOMATICA"}},
			{Name: "SEPARAT", Variants: []string{"SEPARAT", "SEPERAT"}},
			{Name: "SORT", Variants: []string{"SORT"}},
			{Name: "INDEX", Variants: []string{"INDEX", "!NDEX", "1NDEX"}},
			{Name: "FOUNDATION", Variants: []string{"FOUNDATION", "FIUNDATION", "FUUNDATION"}},
			{Name: "EXTRACT", Variants: []string{"EXTRACT"}},
		},
		Threshold: 4,
	}
}

// LooseKeywords is the four-phrase profile used for older separator sheets.
func LooseKeywords() KeywordConfig {
	d := DefaultKeywords()
	return KeywordConfig{Groups: d.Groups[:4], Threshold: 3}
}

// Keyword flags pages whose text matches at least Threshold keyword groups.
type Keyword struct {
	cfg KeywordConfig
}

func NewKeyword(cfg KeywordConfig) (*Keyword, error) {
	if len(cfg.Groups) == 0 {
		return nil, errors.New("keyword classifier: no keyword groups")
	}
	if cfg.Threshold < 1 || cfg.Threshold > len(cfg.Groups) {
		return nil, fmt.Errorf("keyword classifier: threshold %d outside 1..%d", cfg.Threshold, len(cfg.Groups))
	}
	norm := KeywordConfig{Threshold: cfg.Threshold}
	for _, g := range cfg.Groups {
		ng := KeywordGroup{Name: g.Name}
		for _, v := range g.Variants {
			if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
				ng.Variants = append(ng.Variants, v)
			}
		}
		if len(ng.Variants) == 0 {
			return nil, fmt.Errorf("keyword classifier: group %q has no variants", g.Name)
		}
		norm.Groups = append(norm.Groups, ng)
	}
	return &Keyword{cfg: norm}, nil
}

func (k *Keyword) Name() string { return string(StrategyKeyword) }

func (k *Keyword) Config() KeywordConfig { return k.cfg }

// Score returns how many groups match the text and which ones.
func (k *Keyword) Score(text string) (int, []string) {
	upper := strings.ToUpper(text)
	var matched []string
	for _, g := range k.cfg.Groups {
		for _, v := range g.Variants {
			if strings.Contains(upper, v) {
				matched = append(matched, g.Name)
				break
			}
		}
	}
	return len(matched), matched
}

func (k *Keyword) IsSeparator(text string) bool {
	n, _ := k.Score(text)
	return n >= k.cfg.Threshold
}

func (k *Keyword) Classify(doc pdfdoc.Doc, page int) (Signal, error) {
	text, err := doc.Text(page)
	if err != nil {
		return Signal{}, fmt.Errorf("extract text page %d: %w", page, err)
	}
	n, _ := k.Score(text)
	return Signal{
		Page:      page,
		Separator: n >= k.cfg.Threshold,
		Score:     float64(n),
		Strategy:  k.Name(),
	}, nil
}
