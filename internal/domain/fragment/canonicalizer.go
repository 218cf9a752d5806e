package fragment

import (
	"sort"
	"strings"

	"github.com/turtacn/KeyIP-MMP/internal/domain/molecule"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// sideChain is one single-attachment fragment of a multi-cut.
type sideChain struct {
	graph *molecule.Graph
	key   string // canonical form without labels
	label int    // attachment label assigned by ApplyCuts
}

// Canonicalize splits a cut graph into its core and side chains.
//
// A single cut has no core: both fragments are returned with their
// attachment point written as [*:1], in serialization order.
//
// For two or three cuts the side chains are ordered by their unlabeled
// canonical form and relabeled 1..n in that order; the core is rewritten
// with the same mapping.  Side chains that canonicalize identically are
// interchangeable, and among the labelings they allow the one giving the
// smallest core string is chosen, so every cut set describing the same
// decomposition yields the same strings.
func Canonicalize(p molecule.Provider, cut *molecule.Graph, cutCount int) (string, []string, error) {
	if cutCount == 1 {
		sides, err := canonicalizeSingle(p, cut)
		return "", sides, err
	}
	return canonicalizeMulti(p, cut, cutCount)
}

func canonicalizeSingle(p molecule.Provider, cut *molecule.Graph) ([]string, error) {
	smi := p.Serialize(cut)
	parts := strings.Split(smi, ".")
	if len(parts) != 2 {
		return nil, pkgerrors.Newf(pkgerrors.ErrCodeMMPUnparsableFragment,
			"single cut produced %d fragments", len(parts)).WithDetail(smi)
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		g, err := parseFragment(p, part)
		if err != nil {
			return nil, err
		}
		setAttachmentLabels(g, func(int) int { return 1 })
		out = append(out, p.SerializeLabeled(g))
	}
	return out, nil
}

func canonicalizeMulti(p molecule.Provider, cut *molecule.Graph, cutCount int) (string, []string, error) {
	smi := p.SerializeWithIsotopes(cut)

	var core *molecule.Graph
	cores := 0
	var sides []sideChain
	for _, part := range strings.Split(smi, ".") {
		g, err := parseFragment(p, part)
		if err != nil {
			return "", nil, err
		}
		switch n := g.AttachmentCount(); {
		case n == 1:
			sides = append(sides, sideChain{graph: g, key: p.Serialize(g), label: attachmentLabels(g)[0]})
		case n >= 2:
			core = g
			cores++
		default:
			return "", nil, pkgerrors.New(pkgerrors.ErrCodeMMPInvalidCutSet, "fragment without attachment point").WithDetail(part)
		}
	}
	if cores != 1 {
		return "", nil, pkgerrors.Newf(pkgerrors.ErrCodeMMPInvalidCutSet, "expected one core, found %d", cores).WithDetail(smi)
	}
	if err := checkLabels(core, sides, cutCount); err != nil {
		return "", nil, err
	}

	sort.SliceStable(sides, func(i, j int) bool {
		if sides[i].key != sides[j].key {
			return sides[i].key < sides[j].key
		}
		return sides[i].label < sides[j].label
	})

	var bestCore string
	var bestOrder []int
	for _, perm := range permutations(len(sides)) {
		if !keepsKeyOrder(sides, perm) {
			continue
		}
		relabel := make(map[int]int, len(sides))
		for pos, si := range perm {
			relabel[sides[si].label] = pos + 1
		}
		c := core.Clone()
		setAttachmentLabels(c, func(old int) int { return relabel[old] })
		s := p.SerializeLabeled(c)
		if bestOrder == nil || s < bestCore {
			bestCore, bestOrder = s, perm
		}
	}

	out := make([]string, len(sides))
	for pos, si := range bestOrder {
		g := sides[si].graph.Clone()
		setAttachmentLabels(g, func(int) int { return pos + 1 })
		out[pos] = p.SerializeLabeled(g)
	}
	return bestCore, out, nil
}

func parseFragment(p molecule.Provider, text string) (*molecule.Graph, error) {
	g, err := p.Parse(text)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrCodeMMPUnparsableFragment, "fragment could not be parsed").WithDetail(text)
	}
	return g, nil
}

// setAttachmentLabels moves every wildcard's isotope label to its atom-map
// number, passing it through relabel.
func setAttachmentLabels(g *molecule.Graph, relabel func(old int) int) {
	for i := 0; i < g.NumAtoms(); i++ {
		a := g.Atom(i)
		if !a.IsAttachment() {
			continue
		}
		g.SetMapNum(i, relabel(a.Isotope))
		g.SetIsotope(i, 0)
	}
}

func attachmentLabels(g *molecule.Graph) []int {
	var labels []int
	for i := 0; i < g.NumAtoms(); i++ {
		if a := g.Atom(i); a.IsAttachment() {
			labels = append(labels, a.Isotope)
		}
	}
	sort.Ints(labels)
	return labels
}

// checkLabels requires core and side chains to each carry labels 1..cutCount
// exactly once.
func checkLabels(core *molecule.Graph, sides []sideChain, cutCount int) error {
	coreLabels := attachmentLabels(core)
	sideLabels := make([]int, 0, len(sides))
	for _, s := range sides {
		sideLabels = append(sideLabels, s.label)
	}
	sort.Ints(sideLabels)
	if len(coreLabels) != cutCount || len(sideLabels) != cutCount {
		return pkgerrors.Newf(pkgerrors.ErrCodeMMPInvalidCutSet,
			"core has %d and side chains %d attachment points for %d cuts", len(coreLabels), len(sideLabels), cutCount)
	}
	for i := 0; i < cutCount; i++ {
		if coreLabels[i] != i+1 || sideLabels[i] != i+1 {
			return pkgerrors.New(pkgerrors.ErrCodeMMPInvalidCutSet, "attachment labels do not pair up")
		}
	}
	return nil
}

// keepsKeyOrder reports whether perm only swaps side chains with equal keys.
// Equal side chains still need the search: their cut labels come from bond
// enumeration order, so without choosing the smallest core among the swaps
// two atom orderings of one molecule would emit different core strings for
// the same decomposition.
func keepsKeyOrder(sides []sideChain, perm []int) bool {
	for pos, si := range perm {
		if sides[si].key != sides[pos].key {
			return false
		}
	}
	return true
}

// permutations lists every ordering of 0..n-1, identity first.
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, rest := range permutations(n - 1) {
		for pos := len(rest); pos >= 0; pos-- {
			perm := make([]int, 0, n)
			perm = append(perm, rest[:pos]...)
			perm = append(perm, n-1)
			perm = append(perm, rest[pos:]...)
			out = append(out, perm)
		}
	}
	return out
}
