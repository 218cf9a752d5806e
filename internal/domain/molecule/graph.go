// Package molecule is the graph provider of the fragmentation engine.  It
// reads molecules from SMILES and connection-table text into an undirected
// labeled graph, writes graphs back as canonical SMILES, and matches the
// fixed bond patterns the engine cuts on.
package molecule

import (
	"fmt"
	"sort"
)

// BondOrder is the multiplicity of a bond.
type BondOrder int8

const (
	BondSingle   BondOrder = 1
	BondDouble   BondOrder = 2
	BondTriple   BondOrder = 3
	BondAromatic BondOrder = 4
)

// valence is the contribution of the bond to each endpoint's bond-order sum.
func (o BondOrder) valence() int {
	if o == BondAromatic {
		return 1
	}
	return int(o)
}

func (o BondOrder) String() string {
	switch o {
	case BondSingle:
		return "single"
	case BondDouble:
		return "double"
	case BondTriple:
		return "triple"
	case BondAromatic:
		return "aromatic"
	default:
		return fmt.Sprintf("BondOrder(%d)", int(o))
	}
}

// Atom is one vertex of a Graph.  AtomicNum 0 is the wildcard atom "*",
// which the engine uses as an attachment point.
type Atom struct {
	Symbol    string
	AtomicNum int
	Charge    int
	Isotope   int
	Hydrogens int
	Aromatic  bool
	MapNum    int
}

// IsAttachment reports whether the atom is a wildcard attachment point.
func (a Atom) IsAttachment() bool { return a.AtomicNum == 0 }

// Bond is one undirected edge of a Graph.
type Bond struct {
	Begin  int
	End    int
	Order  BondOrder
	InRing bool
}

// Other returns the endpoint of b that is not atom.
func (b Bond) Other(atom int) int {
	if b.Begin == atom {
		return b.End
	}
	return b.Begin
}

// Graph is an undirected labeled multigraph of atoms and bonds.  Atom
// indices are stable until the graph is serialized; a Graph shared between
// goroutines must only be read.  Mutating callers work on Clone().
type Graph struct {
	atoms []Atom
	bonds []Bond
	adj   [][]int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// NumAtoms returns the number of atoms.
func (g *Graph) NumAtoms() int { return len(g.atoms) }

// NumBonds returns the number of bonds.
func (g *Graph) NumBonds() int { return len(g.bonds) }

// Atom returns a copy of atom i.
func (g *Graph) Atom(i int) Atom { return g.atoms[i] }

// Bond returns a copy of bond i.
func (g *Graph) Bond(i int) Bond { return g.bonds[i] }

// BondsOf returns the indices of the bonds incident to atom i, in the order
// they were added.  The slice must not be modified.
func (g *Graph) BondsOf(i int) []int { return g.adj[i] }

// Degree returns the number of bonds incident to atom i.
func (g *Graph) Degree(i int) int { return len(g.adj[i]) }

// Neighbors returns the atoms bonded to atom i in bond order.
func (g *Graph) Neighbors(i int) []int {
	out := make([]int, 0, len(g.adj[i]))
	for _, b := range g.adj[i] {
		out = append(out, g.bonds[b].Other(i))
	}
	return out
}

// BondBetween returns the index of the bond joining a and b.
func (g *Graph) BondBetween(a, b int) (int, bool) {
	if a < 0 || a >= len(g.atoms) || b < 0 || b >= len(g.atoms) {
		return -1, false
	}
	for _, bi := range g.adj[a] {
		if g.bonds[bi].Other(a) == b {
			return bi, true
		}
	}
	return -1, false
}

// bondSum is the bond-order sum of atom i with aromatic bonds counted once.
func (g *Graph) bondSum(i int) int {
	sum := 0
	for _, b := range g.adj[i] {
		sum += g.bonds[b].Order.valence()
	}
	return sum
}

// HeavyAtomCount counts atoms that are neither hydrogen nor attachment points.
func (g *Graph) HeavyAtomCount() int {
	n := 0
	for _, a := range g.atoms {
		if a.AtomicNum > 1 {
			n++
		}
	}
	return n
}

// AttachmentCount counts wildcard atoms.
func (g *Graph) AttachmentCount() int {
	n := 0
	for _, a := range g.atoms {
		if a.IsAttachment() {
			n++
		}
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutation
// ─────────────────────────────────────────────────────────────────────────────

// AddAtom appends a and returns its index.
func (g *Graph) AddAtom(a Atom) int {
	if a.Symbol == "" {
		if e, ok := elementsByNumber[a.AtomicNum]; ok {
			a.Symbol = e.Symbol
		}
	}
	g.atoms = append(g.atoms, a)
	g.adj = append(g.adj, nil)
	return len(g.atoms) - 1
}

// AddBond joins a and b.  Ring membership is refreshed when the new bond
// closes a cycle.
func (g *Graph) AddBond(a, b int, order BondOrder) (int, error) {
	if a < 0 || a >= len(g.atoms) || b < 0 || b >= len(g.atoms) {
		return -1, fmt.Errorf("molecule: bond %d-%d out of range (%d atoms)", a, b, len(g.atoms))
	}
	if a == b {
		return -1, fmt.Errorf("molecule: atom %d bonded to itself", a)
	}
	if _, ok := g.BondBetween(a, b); ok {
		return -1, fmt.Errorf("molecule: duplicate bond %d-%d", a, b)
	}
	pendant := len(g.adj[a]) == 0 || len(g.adj[b]) == 0
	g.bonds = append(g.bonds, Bond{Begin: a, End: b, Order: order})
	idx := len(g.bonds) - 1
	g.adj[a] = append(g.adj[a], idx)
	g.adj[b] = append(g.adj[b], idx)
	if !pendant {
		g.perceiveRings()
	}
	return idx, nil
}

// RemoveBond deletes the bond joining a and b.  Bond indices above the
// removed one shift down by one; atom indices are unchanged.
func (g *Graph) RemoveBond(a, b int) error {
	idx, ok := g.BondBetween(a, b)
	if !ok {
		return fmt.Errorf("molecule: no bond between atoms %d and %d", a, b)
	}
	wasRing := g.bonds[idx].InRing
	g.bonds = append(g.bonds[:idx], g.bonds[idx+1:]...)
	g.rebuildAdjacency()
	if wasRing {
		g.perceiveRings()
	}
	return nil
}

// SetIsotope sets the isotope label of atom i.
func (g *Graph) SetIsotope(i, isotope int) { g.atoms[i].Isotope = isotope }

// SetMapNum sets the atom-map number of atom i.
func (g *Graph) SetMapNum(i, n int) { g.atoms[i].MapNum = n }

func (g *Graph) rebuildAdjacency() {
	g.adj = make([][]int, len(g.atoms))
	for i, b := range g.bonds {
		g.adj[b.Begin] = append(g.adj[b.Begin], i)
		g.adj[b.End] = append(g.adj[b.End], i)
	}
}

// Clone returns a deep copy of g.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		atoms: make([]Atom, len(g.atoms)),
		bonds: make([]Bond, len(g.bonds)),
		adj:   make([][]int, len(g.adj)),
	}
	copy(c.atoms, g.atoms)
	copy(c.bonds, g.bonds)
	for i, a := range g.adj {
		c.adj[i] = append([]int(nil), a...)
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Components
// ─────────────────────────────────────────────────────────────────────────────

// Components returns the atom indices of each connected component.  Atoms
// within a component are ascending; components are ordered by their lowest
// atom index.
func (g *Graph) Components() [][]int {
	seen := make([]bool, len(g.atoms))
	var out [][]int
	for start := range g.atoms {
		if seen[start] {
			continue
		}
		comp := []int{start}
		seen[start] = true
		stack := []int{start}
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, b := range g.adj[cur] {
				nb := g.bonds[b].Other(cur)
				if !seen[nb] {
					seen[nb] = true
					comp = append(comp, nb)
					stack = append(stack, nb)
				}
			}
		}
		sort.Ints(comp)
		out = append(out, comp)
	}
	return out
}

// Subgraph returns a new graph holding the given atoms, renumbered in the
// order supplied, and every bond between them.
func (g *Graph) Subgraph(atoms []int) *Graph {
	index := make(map[int]int, len(atoms))
	sub := NewGraph()
	for _, a := range atoms {
		index[a] = sub.AddAtom(g.atoms[a])
	}
	for _, b := range g.bonds {
		ai, okA := index[b.Begin]
		bi, okB := index[b.End]
		if okA && okB {
			sub.bonds = append(sub.bonds, Bond{Begin: ai, End: bi, Order: b.Order, InRing: b.InRing})
		}
	}
	sub.rebuildAdjacency()
	return sub
}
