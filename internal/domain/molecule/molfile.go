package molecule

import (
	"strconv"
	"strings"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

// molfile charge codes in the atom block.
var molfileCharge = map[int]int{1: 3, 2: 2, 3: 1, 5: -1, 6: -2, 7: -3}

// IsMolfile reports whether text carries a V2000 connection table.
func IsMolfile(text string) bool {
	for _, line := range splitLines(text) {
		if len(line) >= 39 && strings.Contains(line[30:], "V2000") {
			return true
		}
	}
	return false
}

// ParseMolfile reads the first V2000 connection table in text (a molfile or
// one SD record).  Explicit hydrogen atoms are folded into their neighbour's
// hydrogen count.
func ParseMolfile(text string) (*Graph, error) {
	lines := splitLines(text)

	counts := -1
	for i, line := range lines {
		if len(line) >= 39 && strings.Contains(line[30:], "V2000") {
			counts = i
			break
		}
		if strings.Contains(line, "V3000") {
			return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "V3000 connection tables are not supported")
		}
	}
	if counts < 0 {
		return nil, errors.New(errors.ErrCodeMoleculeInvalidFormat, "molfile: V2000 counts line not found")
	}

	numAtoms, err := fixedInt(lines[counts], 0, 3)
	if err != nil {
		return nil, molfileError("atom count", err)
	}
	numBonds, err := fixedInt(lines[counts], 3, 6)
	if err != nil {
		return nil, molfileError("bond count", err)
	}
	body := lines[counts+1:]
	if len(body) < numAtoms+numBonds {
		return nil, errors.New(errors.ErrCodeMoleculeParsingFailed, "molfile: truncated atom or bond block")
	}
	if numAtoms == 0 {
		return nil, errors.New(errors.ErrCodeMoleculeEmpty, "molfile has no atoms")
	}

	g := NewGraph()
	for i := 0; i < numAtoms; i++ {
		line := body[i]
		if len(line) < 34 {
			return nil, errors.Newf(errors.ErrCodeMoleculeParsingFailed, "molfile: atom line %d too short", i+1)
		}
		symbol := strings.TrimSpace(line[31:34])
		a := Atom{Symbol: symbol}
		switch symbol {
		case "*", "A", "Q", "R", "R#":
			a.Symbol, a.AtomicNum = "*", 0
		default:
			e, ok := lookupElement(symbol)
			if !ok {
				return nil, errors.Newf(errors.ErrCodeMoleculeParsingFailed, "molfile: unknown element %q", symbol)
			}
			a.AtomicNum = e.Number
		}
		if len(line) >= 39 {
			if code, err := fixedInt(line, 36, 39); err == nil {
				a.Charge = molfileCharge[code]
			}
		}
		g.AddAtom(a)
	}

	for i := 0; i < numBonds; i++ {
		line := body[numAtoms+i]
		from, err1 := fixedInt(line, 0, 3)
		to, err2 := fixedInt(line, 3, 6)
		kind, err3 := fixedInt(line, 6, 9)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, errors.Newf(errors.ErrCodeMoleculeParsingFailed, "molfile: malformed bond line %d", i+1)
		}
		order := BondSingle
		switch kind {
		case 2:
			order = BondDouble
		case 3:
			order = BondTriple
		case 4:
			order = BondAromatic
		}
		if _, err := g.AddBond(from-1, to-1, order); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMoleculeParsingFailed, "molfile: bad bond")
		}
	}

	if err := applyMolfileProperties(g, body[numAtoms+numBonds:]); err != nil {
		return nil, err
	}

	g.perceiveRings()
	for bi, b := range g.bonds {
		if b.Order != BondAromatic {
			continue
		}
		if !b.InRing {
			g.bonds[bi].Order = BondSingle
			continue
		}
		g.atoms[b.Begin].Aromatic = true
		g.atoms[b.End].Aromatic = true
	}
	for i := range g.atoms {
		a := &g.atoms[i]
		if a.IsAttachment() {
			continue
		}
		e, _ := lookupElement(a.Symbol)
		a.Hydrogens = defaultHydrogens(chargedElement(e, a.Charge), a.Aromatic, g.bondSum(i))
	}
	return foldHydrogens(g), nil
}

// applyMolfileProperties handles M  CHG and M  ISO; an M  CHG line resets
// every atom-block charge.
func applyMolfileProperties(g *Graph, lines []string) error {
	chargesReset := false
	for _, line := range lines {
		if strings.HasPrefix(line, "M  END") {
			return nil
		}
		if !strings.HasPrefix(line, "M  CHG") && !strings.HasPrefix(line, "M  ISO") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		n, err := strconv.Atoi(fields[2])
		if err != nil || len(fields) < 3+2*n {
			return errors.Newf(errors.ErrCodeMoleculeParsingFailed, "molfile: malformed %s %s line", fields[0], fields[1])
		}
		isCharge := fields[1] == "CHG"
		if isCharge && !chargesReset {
			for i := range g.atoms {
				g.atoms[i].Charge = 0
			}
			chargesReset = true
		}
		for k := 0; k < n; k++ {
			idx, err1 := strconv.Atoi(fields[3+2*k])
			val, err2 := strconv.Atoi(fields[4+2*k])
			if err1 != nil || err2 != nil || idx < 1 || idx > len(g.atoms) {
				return errors.Newf(errors.ErrCodeMoleculeParsingFailed, "molfile: bad %s entry", fields[1])
			}
			if isCharge {
				g.atoms[idx-1].Charge = val
			} else {
				g.atoms[idx-1].Isotope = val
			}
		}
	}
	return nil
}

// chargedElement shifts an element's valence by its formal charge: N+ behaves
// like C, O- like F, C+ and C- have three bonds.
func chargedElement(e *element, charge int) *element {
	if e == nil || charge == 0 || len(e.Valences) == 0 {
		return e
	}
	shifted := *e
	v := e.Valences[0]
	switch {
	case e.Number == 5 || e.Number == 6 || e.Number == 14:
		v -= abs(charge)
	default:
		v += charge
	}
	if v < 0 {
		v = 0
	}
	shifted.Valences = []int{v}
	return &shifted
}

// foldHydrogens removes plain hydrogen atoms bonded to a heavy atom and adds
// them to that atom's hydrogen count.
func foldHydrogens(g *Graph) *Graph {
	keep := make([]int, 0, len(g.atoms))
	folded := false
	for i, a := range g.atoms {
		if a.AtomicNum == 1 && a.Isotope == 0 && a.Charge == 0 && len(g.adj[i]) == 1 {
			nb := g.bonds[g.adj[i][0]].Other(i)
			if g.atoms[nb].AtomicNum != 1 {
				g.atoms[nb].Hydrogens++
				folded = true
				continue
			}
		}
		keep = append(keep, i)
	}
	if !folded {
		return g
	}
	return g.Subgraph(keep)
}

func fixedInt(line string, from, to int) (int, error) {
	if len(line) < to {
		if len(line) <= from {
			return 0, errors.New(errors.ErrCodeMoleculeParsingFailed, "field out of range")
		}
		to = len(line)
	}
	return strconv.Atoi(strings.TrimSpace(line[from:to]))
}

func molfileError(what string, err error) error {
	return errors.Wrap(err, errors.ErrCodeMoleculeParsingFailed, "molfile: bad "+what)
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
