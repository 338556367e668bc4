package naming

import "sort"

// Transition is the pair of suffixes produced by one split.
type Transition struct {
	Original Suffix
	New      Suffix
}

// NextNumeric scans the family's existing names and returns max(numeric suffix) + 1,
// never less than FirstNumeric. MAIN, the legacy 1, names from other families and names
// that do not parse are ignored.
func NextNumeric(family []string, batch, check string) int {
	maxN := 0
	for _, fn := range family {
		n, err := Parse(fn)
		if err != nil || n.Batch != batch || n.CheckNumber != check {
			continue
		}
		if n.Suffix.Kind == KindNumeric && n.Suffix.N >= FirstNumeric && n.Suffix.N > maxN {
			maxN = n.Suffix.N
		}
	}
	if maxN < FirstNumeric {
		return FirstNumeric
	}
	return maxN + 1
}

// PlanSplit decides the suffixes for the check being split and the check created from
// its moved pages.
func PlanSplit(current Suffix, family []string, batch, check string) Transition {
	switch {
	case current.Kind == KindPlaceholder:
		return Transition{Original: current, New: Placeholder}
	case current.Unsplit():
		return Transition{Original: Main, New: Numeric(NextNumeric(family, batch, check))}
	default:
		return Transition{Original: current, New: Numeric(NextNumeric(family, batch, check))}
	}
}

// MigrateLegacy rewrites legacy "-1" members of one family. A lone legacy member becomes
// NONE. Otherwise the first legacy member takes MAIN when the family has none, and any
// further ones take fresh numeric suffixes. The input order is kept.
func MigrateLegacy(family []Name) []Name {
	out := make([]Name, len(family))
	copy(out, family)

	hasMain := false
	var legacy []int
	names := make([]string, 0, len(out))
	for i, n := range out {
		switch {
		case n.Suffix.Kind == KindMain:
			hasMain = true
		case n.Suffix.IsLegacy():
			legacy = append(legacy, i)
		}
		names = append(names, n.FileName())
	}
	if len(legacy) == 0 {
		return out
	}
	if len(out) == 1 {
		out[0].Suffix = None
		return out
	}
	sort.Ints(legacy)
	for _, i := range legacy {
		if !hasMain {
			out[i].Suffix = Main
			hasMain = true
		} else {
			next := NextNumeric(names, out[i].Batch, out[i].CheckNumber)
			out[i].Suffix = Numeric(next)
		}
		names = append(names, out[i].FileName())
	}
	return out
}
