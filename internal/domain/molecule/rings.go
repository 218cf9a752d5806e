package molecule

// perceiveRings marks every bond that lies on a cycle.  A bond is in a ring
// exactly when it is not a bridge, found with a lowlink depth-first search.
func (g *Graph) perceiveRings() {
	n := len(g.atoms)
	disc := make([]int, n)
	low := make([]int, n)
	for i := range disc {
		disc[i] = -1
	}
	isBridge := make([]bool, len(g.bonds))
	timer := 0

	var visit func(u, parentBond int)
	visit = func(u, parentBond int) {
		disc[u] = timer
		low[u] = timer
		timer++
		for _, bi := range g.adj[u] {
			if bi == parentBond {
				continue
			}
			v := g.bonds[bi].Other(u)
			if disc[v] == -1 {
				visit(v, bi)
				if low[v] < low[u] {
					low[u] = low[v]
				}
				if low[v] > disc[u] {
					isBridge[bi] = true
				}
			} else if disc[v] < low[u] {
				low[u] = disc[v]
			}
		}
	}

	for i := 0; i < n; i++ {
		if disc[i] == -1 {
			visit(i, -1)
		}
	}
	for i := range g.bonds {
		g.bonds[i].InRing = !isBridge[i]
	}
}

// AtomInRing reports whether any bond of atom i lies on a cycle.
func (g *Graph) AtomInRing(i int) bool {
	for _, b := range g.adj[i] {
		if g.bonds[b].InRing {
			return true
		}
	}
	return false
}

// RingBondCount returns the number of ring bonds.
func (g *Graph) RingBondCount() int {
	n := 0
	for _, b := range g.bonds {
		if b.InRing {
			n++
		}
	}
	return n
}
