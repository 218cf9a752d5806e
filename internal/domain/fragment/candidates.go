// Package fragment is the matched-molecular-pair fragmentation engine: it
// finds cuttable bonds, enumerates single, double and triple cuts, labels
// attachment points, canonicalizes the resulting core and side chains and
// deduplicates the records of one molecule.
package fragment

import (
	"github.com/samber/lo"

	"github.com/turtacn/KeyIP-MMP/internal/domain/molecule"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// Candidate is one cuttable bond, carbon endpoint first.
type Candidate = molecule.AtomPair

// FindCandidates returns the cuttable bonds of g in the matcher's order.
// Pairs that do not name an acyclic, non-double, non-triple bond of g are
// dropped, as are repeated bonds.  An empty result is not an error.
func FindCandidates(g *molecule.Graph, m molecule.Matcher) ([]Candidate, error) {
	pairs, err := m.Match(g, molecule.PatternAcyclicNonConjugatedSingleBond)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrCodeSubstructureSearchFailed, "cut-site match failed")
	}
	pairs = lo.Filter(pairs, func(p Candidate, _ int) bool {
		bi, ok := g.BondBetween(p.A, p.B)
		if !ok {
			return false
		}
		b := g.Bond(bi)
		return !b.InRing && b.Order != molecule.BondDouble && b.Order != molecule.BondTriple
	})
	return lo.UniqBy(pairs, bondKey), nil
}

func bondKey(p Candidate) [2]int {
	if p.A < p.B {
		return [2]int{p.A, p.B}
	}
	return [2]int{p.B, p.A}
}
