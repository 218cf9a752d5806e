package molecule

// element describes the per-element data the graph provider needs: the
// atomic number used for ranking, the valences used to derive implicit
// hydrogens for organic-subset atoms, and whether the element may be written
// in lowercase aromatic form.
type element struct {
	Symbol    string
	Number    int
	Valences  []int
	Aromatic  bool
	PiDonor   bool // contributes one pi electron per aromatic ring (c, n, p, b)
	InOrganic bool // may appear outside brackets
}

var elementTable = []element{
	{Symbol: "*", Number: 0, InOrganic: true},
	{Symbol: "H", Number: 1, Valences: []int{1}},
	{Symbol: "He", Number: 2},
	{Symbol: "Li", Number: 3},
	{Symbol: "Be", Number: 4},
	{Symbol: "B", Number: 5, Valences: []int{3}, Aromatic: true, PiDonor: true, InOrganic: true},
	{Symbol: "C", Number: 6, Valences: []int{4}, Aromatic: true, PiDonor: true, InOrganic: true},
	{Symbol: "N", Number: 7, Valences: []int{3, 5}, Aromatic: true, PiDonor: true, InOrganic: true},
	{Symbol: "O", Number: 8, Valences: []int{2}, Aromatic: true, InOrganic: true},
	{Symbol: "F", Number: 9, Valences: []int{1}, InOrganic: true},
	{Symbol: "Ne", Number: 10},
	{Symbol: "Na", Number: 11},
	{Symbol: "Mg", Number: 12},
	{Symbol: "Al", Number: 13},
	{Symbol: "Si", Number: 14, Valences: []int{4}},
	{Symbol: "P", Number: 15, Valences: []int{3, 5}, Aromatic: true, PiDonor: true, InOrganic: true},
	{Symbol: "S", Number: 16, Valences: []int{2, 4, 6}, Aromatic: true, InOrganic: true},
	{Symbol: "Cl", Number: 17, Valences: []int{1}, InOrganic: true},
	{Symbol: "Ar", Number: 18},
	{Symbol: "K", Number: 19},
	{Symbol: "Ca", Number: 20},
	{Symbol: "Ti", Number: 22},
	{Symbol: "Cr", Number: 24},
	{Symbol: "Mn", Number: 25},
	{Symbol: "Fe", Number: 26},
	{Symbol: "Co", Number: 27},
	{Symbol: "Ni", Number: 28},
	{Symbol: "Cu", Number: 29},
	{Symbol: "Zn", Number: 30},
	{Symbol: "Ga", Number: 31},
	{Symbol: "Ge", Number: 32},
	{Symbol: "As", Number: 33, Valences: []int{3, 5}, Aromatic: true, PiDonor: true},
	{Symbol: "Se", Number: 34, Valences: []int{2, 4, 6}, Aromatic: true},
	{Symbol: "Br", Number: 35, Valences: []int{1}, InOrganic: true},
	{Symbol: "Kr", Number: 36},
	{Symbol: "Rb", Number: 37},
	{Symbol: "Sr", Number: 38},
	{Symbol: "Zr", Number: 40},
	{Symbol: "Mo", Number: 42},
	{Symbol: "Ru", Number: 44},
	{Symbol: "Rh", Number: 45},
	{Symbol: "Pd", Number: 46},
	{Symbol: "Ag", Number: 47},
	{Symbol: "Cd", Number: 48},
	{Symbol: "In", Number: 49},
	{Symbol: "Sn", Number: 50},
	{Symbol: "Sb", Number: 51},
	{Symbol: "Te", Number: 52, Valences: []int{2, 4, 6}, Aromatic: true},
	{Symbol: "I", Number: 53, Valences: []int{1}, InOrganic: true},
	{Symbol: "Xe", Number: 54},
	{Symbol: "Cs", Number: 55},
	{Symbol: "Ba", Number: 56},
	{Symbol: "Gd", Number: 64},
	{Symbol: "W", Number: 74},
	{Symbol: "Os", Number: 76},
	{Symbol: "Ir", Number: 77},
	{Symbol: "Pt", Number: 78},
	{Symbol: "Au", Number: 79},
	{Symbol: "Hg", Number: 80},
	{Symbol: "Tl", Number: 81},
	{Symbol: "Pb", Number: 82},
	{Symbol: "Bi", Number: 83},
}

var elementsBySymbol = func() map[string]*element {
	m := make(map[string]*element, len(elementTable))
	for i := range elementTable {
		m[elementTable[i].Symbol] = &elementTable[i]
	}
	return m
}()

var elementsByNumber = func() map[int]*element {
	m := make(map[int]*element, len(elementTable))
	for i := range elementTable {
		m[elementTable[i].Number] = &elementTable[i]
	}
	return m
}()

// lookupElement resolves a capitalised symbol.
func lookupElement(symbol string) (*element, bool) {
	e, ok := elementsBySymbol[symbol]
	return e, ok
}

// AtomicNumber returns the atomic number for symbol, or -1.
func AtomicNumber(symbol string) int {
	if e, ok := elementsBySymbol[symbol]; ok {
		return e.Number
	}
	return -1
}

// defaultHydrogens derives the implicit hydrogen count of an unbracketed
// atom from the bond-order sum.  Aromatic bonds count 1; pi-donor aromatic
// atoms reserve one valence for the ring.  Atoms never escalate to a higher
// valence when aromatic.
func defaultHydrogens(e *element, aromatic bool, bondSum int) int {
	if e == nil || len(e.Valences) == 0 {
		return 0
	}
	if aromatic {
		target := e.Valences[0]
		if e.PiDonor {
			target--
		}
		if bondSum >= target {
			return 0
		}
		return target - bondSum
	}
	for _, v := range e.Valences {
		if bondSum <= v {
			return v - bondSum
		}
	}
	return 0
}
