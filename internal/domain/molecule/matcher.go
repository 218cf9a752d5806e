package molecule

import (
	"fmt"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// Pattern is a closed set of bond patterns the matcher understands.
type Pattern int

const (
	// PatternAcyclicNonConjugatedSingleBond is [#6+0;!$(*=,#[!#6])]!@!=!#[*]:
	// a non-ring bond that is neither double nor triple, with at least one
	// endpoint a neutral carbon carrying no double or triple bond to a
	// heteroatom.
	PatternAcyclicNonConjugatedSingleBond Pattern = iota + 1
)

func (p Pattern) String() string {
	switch p {
	case PatternAcyclicNonConjugatedSingleBond:
		return "acyclic_non_conjugated_single_bond"
	default:
		return fmt.Sprintf("Pattern(%d)", int(p))
	}
}

// AtomPair is one matched bond, carbon endpoint first.
type AtomPair struct {
	A int
	B int
}

// Matcher finds bonds matching a pattern.
type Matcher interface {
	Match(g *Graph, p Pattern) ([]AtomPair, error)
}

// BondMatcher is the in-process Matcher.
type BondMatcher struct{}

// NewMatcher returns the default Matcher.
func NewMatcher() *BondMatcher { return &BondMatcher{} }

// Match returns one pair per matching bond.  Pairs are ordered by the index
// of the qualifying carbon, then by that carbon's bond order of insertion;
// a bond whose two endpoints both qualify is reported once, from the lower
// index.
func (m *BondMatcher) Match(g *Graph, p Pattern) ([]AtomPair, error) {
	switch p {
	case PatternAcyclicNonConjugatedSingleBond:
		return matchCutBonds(g), nil
	default:
		return nil, errors.Newf(errors.ErrCodeSubstructureSearchFailed, "unknown pattern %s", p)
	}
}

func matchCutBonds(g *Graph) []AtomPair {
	seen := make([]bool, g.NumBonds())
	var out []AtomPair
	for i := 0; i < g.NumAtoms(); i++ {
		if !isCuttableCarbon(g, i) {
			continue
		}
		for _, bi := range g.adj[i] {
			b := g.bonds[bi]
			if seen[bi] || b.InRing || b.Order == BondDouble || b.Order == BondTriple {
				continue
			}
			seen[bi] = true
			out = append(out, AtomPair{A: i, B: b.Other(i)})
		}
	}
	return out
}

// isCuttableCarbon is [#6+0;!$(*=,#[!#6])].
func isCuttableCarbon(g *Graph, i int) bool {
	a := g.atoms[i]
	if a.AtomicNum != 6 || a.Charge != 0 {
		return false
	}
	for _, bi := range g.adj[i] {
		b := g.bonds[bi]
		if b.Order != BondDouble && b.Order != BondTriple {
			continue
		}
		if g.atoms[b.Other(i)].AtomicNum != 6 {
			return false
		}
	}
	return true
}
