package fragment

import "github.com/samber/lo"

// DefaultMaxCuts is the largest cut set enumerated unless configured lower.
const DefaultMaxCuts = 3

// CutSet is the ordered list of bonds cut in one enumeration step.  The
// 1-based position of a bond is the label of the two attachment points it
// creates.
type CutSet []Candidate

// Combinations enumerates index sets over n candidates: for every x the set
// {x}, then for every y > x the set {x, y}, then for every z > y the set
// {x, y, z}.  maxCuts is clamped to [1, 3].  The count is C(n,1) + C(n,2) +
// C(n,3) for maxCuts 3; triple cuts make this O(n^3).
func Combinations(n, maxCuts int) [][]int {
	maxCuts = clampCuts(maxCuts)
	out := make([][]int, 0, CountCombinations(n, maxCuts))
	for x := 0; x < n; x++ {
		out = append(out, []int{x})
		if maxCuts < 2 {
			continue
		}
		for y := x + 1; y < n; y++ {
			out = append(out, []int{x, y})
			if maxCuts < 3 {
				continue
			}
			for z := y + 1; z < n; z++ {
				out = append(out, []int{x, y, z})
			}
		}
	}
	return out
}

// CountCombinations returns len(Combinations(n, maxCuts)) without building it.
func CountCombinations(n, maxCuts int) int {
	maxCuts = clampCuts(maxCuts)
	total := 0
	for k := 1; k <= maxCuts; k++ {
		total += binomial(n, k)
	}
	return total
}

// Select maps an index set onto the candidate sequence.
func Select(cands []Candidate, idx []int) CutSet {
	return lo.Map(idx, func(i int, _ int) Candidate { return cands[i] })
}

func clampCuts(k int) int {
	switch {
	case k < 1:
		return 1
	case k > DefaultMaxCuts:
		return DefaultMaxCuts
	}
	return k
}

func binomial(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	r := 1
	for i := 1; i <= k; i++ {
		r = r * (n - k + i) / i
	}
	return r
}
