package molecule

import (
	"sort"
	"strconv"
	"strings"
)

type writeConfig struct {
	attachmentIsotopes bool
	rankMapNums        bool
	dropMapNums        bool
}

// WriteOption adjusts canonical SMILES output.
type WriteOption func(*writeConfig)

// WithAttachmentIsotopes renders isotope labels on wildcard atoms as [n*].
// Without it wildcard atoms are written as plain attachment points.
func WithAttachmentIsotopes() WriteOption {
	return func(c *writeConfig) { c.attachmentIsotopes = true }
}

// WithMapNumRanking lets atom-map numbers take part in canonical ranking, so
// labeled attachment points are told apart.
func WithMapNumRanking() WriteOption {
	return func(c *writeConfig) { c.rankMapNums = true }
}

// WithoutMapNums omits atom-map numbers from both ranking and output.
func WithoutMapNums() WriteOption {
	return func(c *writeConfig) { c.dropMapNums = true }
}

// WriteSMILES returns the canonical SMILES of g.  Isomorphic graphs with
// equal labels produce identical strings.  Components are joined with '.'
// in order of their lowest canonical rank.
func WriteSMILES(g *Graph, opts ...WriteOption) string {
	var cfg writeConfig
	for _, o := range opts {
		o(&cfg)
	}
	if g.NumAtoms() == 0 {
		return ""
	}

	view := g
	if !cfg.attachmentIsotopes || cfg.dropMapNums {
		view = g.Clone()
		for i := range view.atoms {
			if !cfg.attachmentIsotopes && view.atoms[i].IsAttachment() {
				view.atoms[i].Isotope = 0
			}
			if cfg.dropMapNums {
				view.atoms[i].MapNum = 0
			}
		}
	}

	ranks := canonicalRanks(view, cfg.rankMapNums && !cfg.dropMapNums)
	w := &smilesWriter{
		g:       view,
		ranks:   ranks,
		visited: make([]bool, view.NumAtoms()),
		closure: make([]bool, view.NumBonds()),
		child:   make([][]int, view.NumAtoms()),
	}
	return w.write()
}

type smilesWriter struct {
	g     *Graph
	ranks []int

	visited []bool
	closure []bool
	child   [][]int

	emitted   []bool
	ringDigit map[int]int
	freeDigit []bool
	sb        strings.Builder
}

func (w *smilesWriter) write() string {
	comps := w.g.Components()
	starts := make([]int, len(comps))
	for ci, comp := range comps {
		best := comp[0]
		for _, a := range comp[1:] {
			if w.ranks[a] < w.ranks[best] {
				best = a
			}
		}
		starts[ci] = best
	}
	sort.Slice(starts, func(i, j int) bool { return w.ranks[starts[i]] < w.ranks[starts[j]] })

	for _, s := range starts {
		w.walk(s, -1)
	}

	w.emitted = make([]bool, w.g.NumAtoms())
	w.ringDigit = make(map[int]int)
	w.freeDigit = make([]bool, 100)
	for i := 1; i < 100; i++ {
		w.freeDigit[i] = true
	}
	for i, s := range starts {
		if i > 0 {
			w.sb.WriteByte('.')
		}
		w.emit(s, -1)
	}
	return w.sb.String()
}

// sortedBonds returns the bonds of u other than skip, ordered by the rank
// of the neighbour they lead to.
func (w *smilesWriter) sortedBonds(u, skip int) []int {
	bonds := make([]int, 0, len(w.g.adj[u]))
	for _, b := range w.g.adj[u] {
		if b != skip {
			bonds = append(bonds, b)
		}
	}
	sort.Slice(bonds, func(i, j int) bool {
		return w.ranks[w.g.bonds[bonds[i]].Other(u)] < w.ranks[w.g.bonds[bonds[j]].Other(u)]
	})
	return bonds
}

// walk builds the depth-first spanning tree and marks ring-closure bonds.
func (w *smilesWriter) walk(u, parentBond int) {
	w.visited[u] = true
	for _, b := range w.sortedBonds(u, parentBond) {
		if w.closure[b] {
			continue
		}
		v := w.g.bonds[b].Other(u)
		if w.visited[v] {
			w.closure[b] = true
			continue
		}
		w.child[u] = append(w.child[u], b)
		w.walk(v, b)
	}
}

func (w *smilesWriter) emit(u, parentBond int) {
	if parentBond >= 0 {
		w.sb.WriteString(w.bondSymbol(parentBond))
	}
	w.sb.WriteString(w.atomSymbol(u))
	w.emitted[u] = true

	var closing, opening []int
	for _, b := range w.sortedBonds(u, parentBond) {
		if !w.closure[b] {
			continue
		}
		if w.emitted[w.g.bonds[b].Other(u)] {
			closing = append(closing, b)
		} else {
			opening = append(opening, b)
		}
	}
	var released []int
	for _, b := range closing {
		d := w.ringDigit[b]
		w.writeDigit(d)
		delete(w.ringDigit, b)
		released = append(released, d)
	}
	for _, b := range opening {
		d := w.takeDigit()
		w.ringDigit[b] = d
		w.sb.WriteString(w.bondSymbol(b))
		w.writeDigit(d)
	}
	for _, d := range released {
		w.freeDigit[d] = true
	}

	kids := w.child[u]
	for i, b := range kids {
		v := w.g.bonds[b].Other(u)
		if i < len(kids)-1 {
			w.sb.WriteByte('(')
			w.emit(v, b)
			w.sb.WriteByte(')')
		} else {
			w.emit(v, b)
		}
	}
}

func (w *smilesWriter) takeDigit() int {
	for d := 1; d < len(w.freeDigit); d++ {
		if w.freeDigit[d] {
			w.freeDigit[d] = false
			return d
		}
	}
	// more than 99 simultaneously open rings does not occur in practice
	panic("molecule: ring closure digits exhausted")
}

func (w *smilesWriter) writeDigit(d int) {
	if d >= 10 {
		w.sb.WriteByte('%')
	}
	w.sb.WriteString(strconv.Itoa(d))
}

func (w *smilesWriter) bondSymbol(bi int) string {
	b := w.g.bonds[bi]
	bothAromatic := w.g.atoms[b.Begin].Aromatic && w.g.atoms[b.End].Aromatic
	switch b.Order {
	case BondDouble:
		return "="
	case BondTriple:
		return "#"
	case BondAromatic:
		if bothAromatic {
			return ""
		}
		return ":"
	default:
		if bothAromatic {
			return "-"
		}
		return ""
	}
}

func (w *smilesWriter) atomSymbol(i int) string {
	return formatAtom(w.g.atoms[i], w.g.bondSum(i))
}

// formatAtom writes one atom, using the organic subset when the atom's
// hydrogen count equals the count a reader would derive.
func formatAtom(a Atom, bondSum int) string {
	e, known := elementsByNumber[a.AtomicNum]
	symbol := a.Symbol
	if known {
		symbol = e.Symbol
	}
	if a.Aromatic {
		symbol = strings.ToLower(symbol)
	}

	bare := known && e.InOrganic && a.Charge == 0 && a.Isotope == 0 && a.MapNum == 0
	if bare {
		if a.IsAttachment() {
			bare = a.Hydrogens == 0
		} else {
			bare = a.Hydrogens == defaultHydrogens(e, a.Aromatic, bondSum)
		}
	}
	if bare {
		return symbol
	}

	var sb strings.Builder
	sb.WriteByte('[')
	if a.Isotope > 0 {
		sb.WriteString(strconv.Itoa(a.Isotope))
	}
	sb.WriteString(symbol)
	if a.Hydrogens > 0 {
		sb.WriteByte('H')
		if a.Hydrogens > 1 {
			sb.WriteString(strconv.Itoa(a.Hydrogens))
		}
	}
	switch {
	case a.Charge == 1:
		sb.WriteByte('+')
	case a.Charge == -1:
		sb.WriteByte('-')
	case a.Charge > 1:
		sb.WriteByte('+')
		sb.WriteString(strconv.Itoa(a.Charge))
	case a.Charge < -1:
		sb.WriteByte('-')
		sb.WriteString(strconv.Itoa(-a.Charge))
	}
	if a.MapNum > 0 {
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(a.MapNum))
	}
	sb.WriteByte(']')
	return sb.String()
}
