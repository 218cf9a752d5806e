package molecule

import (
	"sort"
)

// canonicalRanks assigns every atom a distinct rank that depends only on
// the graph's structure and labels, never on input atom order, up to
// automorphism.  Ranks start from the invariant classes below and are
// refined by neighbour ranks until stable; remaining ties are broken one
// atom at a time, lowest class first.
func canonicalRanks(g *Graph, useMapNums bool) []int {
	n := g.NumAtoms()
	if n == 0 {
		return nil
	}

	keys := make([][]int, n)
	for i := 0; i < n; i++ {
		a := g.atoms[i]
		inRing := 0
		if g.AtomInRing(i) {
			inRing = 1
		}
		aromatic := 0
		if a.Aromatic {
			aromatic = 1
		}
		mapNum := 0
		if useMapNums {
			mapNum = a.MapNum
		}
		keys[i] = []int{
			g.Degree(i),
			a.AtomicNum,
			a.Isotope,
			a.Charge,
			a.Hydrogens,
			aromatic,
			inRing,
			mapNum,
		}
	}
	ranks, classes := denseRanks(keys)
	ranks, classes = refineRanks(g, ranks, classes)

	for classes < n {
		tied := lowestTiedClass(ranks)
		chosen := -1
		for i, r := range ranks {
			if r == tied {
				chosen = i
				break
			}
		}
		split := make([][]int, n)
		for i, r := range ranks {
			bump := 1
			if i == chosen {
				bump = 0
			}
			split[i] = []int{r, bump}
		}
		ranks, classes = denseRanks(split)
		ranks, classes = refineRanks(g, ranks, classes)
	}
	return ranks
}

// refineRanks iterates neighbour-rank refinement until the number of
// classes stops growing.
func refineRanks(g *Graph, ranks []int, classes int) ([]int, int) {
	n := len(ranks)
	for {
		keys := make([][]int, n)
		for i := 0; i < n; i++ {
			nbrs := make([][2]int, 0, len(g.adj[i]))
			for _, bi := range g.adj[i] {
				b := g.bonds[bi]
				nbrs = append(nbrs, [2]int{ranks[b.Other(i)], int(b.Order)})
			}
			sort.Slice(nbrs, func(x, y int) bool {
				if nbrs[x][0] != nbrs[y][0] {
					return nbrs[x][0] < nbrs[y][0]
				}
				return nbrs[x][1] < nbrs[y][1]
			})
			key := make([]int, 0, 1+2*len(nbrs))
			key = append(key, ranks[i])
			for _, nb := range nbrs {
				key = append(key, nb[0], nb[1])
			}
			keys[i] = key
		}
		next, nextClasses := denseRanks(keys)
		if nextClasses == classes {
			return next, nextClasses
		}
		ranks, classes = next, nextClasses
	}
}

// denseRanks sorts keys lexicographically and returns 0-based dense ranks
// and the number of distinct keys.
func denseRanks(keys [][]int) ([]int, int) {
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return compareInts(keys[idx[a]], keys[idx[b]]) < 0
	})
	ranks := make([]int, len(keys))
	classes := 0
	for pos, i := range idx {
		if pos > 0 && compareInts(keys[idx[pos-1]], keys[i]) != 0 {
			classes++
		}
		ranks[i] = classes
	}
	return ranks, classes + 1
}

func compareInts(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func lowestTiedClass(ranks []int) int {
	count := make(map[int]int, len(ranks))
	for _, r := range ranks {
		count[r]++
	}
	best := -1
	for r, c := range count {
		if c > 1 && (best < 0 || r < best) {
			best = r
		}
	}
	return best
}
