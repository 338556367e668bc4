// Package naming owns every rule about check file names: rendering, parsing and the suffix
// transitions applied when a check is split.
package naming

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind is the suffix state of a check inside its (batch, check number) family.
type Kind int

const (
	KindNone Kind = iota
	KindMain
	KindNumeric
	// KindPlaceholder marks a suffix that could not be resolved from stored state.
	KindPlaceholder
)

const (
	MainToken        = "main"
	PlaceholderToken = "SPLIT"
	// LegacyNumeric is the suffix written by the retired "-1" convention. It behaves like NONE.
	LegacyNumeric = 1
	// FirstNumeric is the lowest suffix a split may assign.
	FirstNumeric = 2
	Extension    = ".pdf"
)

var ErrInvalidName = errors.New("naming: invalid file name")

// Suffix distinguishes siblings sharing a batch and check number.
type Suffix struct {
	Kind Kind
	N    int
}

var (
	None        = Suffix{Kind: KindNone}
	Main        = Suffix{Kind: KindMain}
	Placeholder = Suffix{Kind: KindPlaceholder}
)

func Numeric(n int) Suffix { return Suffix{Kind: KindNumeric, N: n} }

// Token renders the suffix the way it appears in a file name ("" for NONE).
func (s Suffix) Token() string {
	switch s.Kind {
	case KindMain:
		return MainToken
	case KindNumeric:
		return strconv.Itoa(s.N)
	case KindPlaceholder:
		return PlaceholderToken
	default:
		return ""
	}
}

func (s Suffix) String() string {
	if s.Kind == KindNone {
		return "none"
	}
	return s.Token()
}

// Unsplit reports whether a split of this check must take the NONE -> MAIN path.
func (s Suffix) Unsplit() bool {
	return s.Kind == KindNone || s.IsLegacy()
}

func (s Suffix) IsLegacy() bool { return s.Kind == KindNumeric && s.N == LegacyNumeric }

func (s Suffix) MarshalText() ([]byte, error) { return []byte(s.Token()), nil }

// UnmarshalText never fails: stored tokens that do not parse load as the placeholder.
func (s *Suffix) UnmarshalText(b []byte) error {
	*s = ResolveSuffix(string(b))
	return nil
}

// ParseSuffix parses a suffix token. Numeric tokens must be in canonical form so that
// Parse and Token round-trip.
func ParseSuffix(token string) (Suffix, error) {
	switch {
	case token == "" || strings.EqualFold(token, "none"):
		return None, nil
	case strings.EqualFold(token, MainToken):
		return Main, nil
	case token == PlaceholderToken:
		return Placeholder, nil
	}
	n, err := strconv.Atoi(token)
	if err != nil || n < 1 || strconv.Itoa(n) != token {
		return Suffix{}, fmt.Errorf("%w: suffix %q", ErrInvalidName, token)
	}
	return Numeric(n), nil
}

// ResolveSuffix is ParseSuffix with the placeholder fallback for unreadable stored values.
func ResolveSuffix(token string) Suffix {
	s, err := ParseSuffix(token)
	if err != nil {
		return Placeholder
	}
	return s
}

// Name is the identity a check file name is rendered from.
type Name struct {
	Batch       string
	CheckNumber string
	Suffix      Suffix
}

// Family is the "{batch}-{check}" prefix shared by all siblings.
func (n Name) Family() string { return n.Batch + "-" + n.CheckNumber }

func (n Name) String() string {
	if t := n.Suffix.Token(); t != "" {
		return n.Family() + "-" + t
	}
	return n.Family()
}

func (n Name) FileName() string { return n.String() + Extension }

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Parse reads "{batch}-{check}[-{suffix}].pdf". The extension is optional.
func Parse(fileName string) (Name, error) {
	base := fileName
	if strings.HasSuffix(strings.ToLower(base), Extension) {
		base = base[:len(base)-len(Extension)]
	}
	parts := strings.Split(base, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, fileName)
	}
	if !segmentRe.MatchString(parts[0]) || !segmentRe.MatchString(parts[1]) {
		return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, fileName)
	}
	n := Name{Batch: parts[0], CheckNumber: parts[1]}
	if len(parts) == 3 {
		if parts[2] == "" {
			return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, fileName)
		}
		s, err := ParseSuffix(parts[2])
		if err != nil {
			return Name{}, fmt.Errorf("%w: %q", ErrInvalidName, fileName)
		}
		n.Suffix = s
	}
	return n, nil
}
