package fragment

import (
	"fmt"

	"github.com/turtacn/KeyIP-MMP/internal/domain/molecule"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// ApplyCuts returns a copy of g with every bond of cuts removed.  Each cut
// adds two wildcard atoms, one single-bonded to each former endpoint, both
// carrying the cut's 1-based position as isotope.  g is never modified and
// the result is not valence-checked.
func ApplyCuts(g *molecule.Graph, cuts CutSet) (*molecule.Graph, error) {
	if len(cuts) == 0 {
		return nil, pkgerrors.New(pkgerrors.ErrCodeMMPInvalidCutSet, "empty cut set")
	}
	w := g.Clone()
	for i, c := range cuts {
		label := i + 1
		if err := w.RemoveBond(c.A, c.B); err != nil {
			return nil, pkgerrors.Wrap(err, pkgerrors.ErrCodeMMPInvalidCutSet, "cannot cut bond").
				WithDetail(cutDetail(c, label))
		}
		for _, end := range [2]int{c.A, c.B} {
			star := w.AddAtom(molecule.Atom{Symbol: "*", Isotope: label})
			if _, err := w.AddBond(end, star, molecule.BondSingle); err != nil {
				return nil, pkgerrors.Wrap(err, pkgerrors.ErrCodeMMPInvalidCutSet, "cannot attach wildcard").
					WithDetail(cutDetail(c, label))
			}
		}
	}
	return w, nil
}

func cutDetail(c Candidate, label int) string {
	return fmt.Sprintf("cut %d on bond %d-%d", label, c.A, c.B)
}
