package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_RingPerception(t *testing.T) {
	g, err := ParseSMILES("C1CC1C")
	require.NoError(t, err)
	assert.Equal(t, 3, g.RingBondCount())
	assert.True(t, g.AtomInRing(0))
	assert.False(t, g.AtomInRing(3))

	idx, ok := g.BondBetween(2, 3)
	require.True(t, ok)
	assert.False(t, g.Bond(idx).InRing)
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	g, err := ParseSMILES("CCO")
	require.NoError(t, err)

	c := g.Clone()
	require.NoError(t, c.RemoveBond(0, 1))
	star := c.AddAtom(Atom{Symbol: "*"})
	_, err = c.AddBond(0, star, BondSingle)
	require.NoError(t, err)
	c.SetIsotope(star, 1)

	assert.Equal(t, 3, g.NumAtoms())
	assert.Equal(t, 2, g.NumBonds())
	assert.Equal(t, 4, c.NumAtoms())
	assert.Equal(t, 0, g.Atom(0).Isotope)
	assert.Equal(t, 1, c.Atom(star).Isotope)
}

func TestGraph_RemoveBond(t *testing.T) {
	g, err := ParseSMILES("CCCC")
	require.NoError(t, err)

	require.NoError(t, g.RemoveBond(1, 2))
	assert.Equal(t, 2, g.NumBonds())
	assert.Len(t, g.Components(), 2)
	assert.Error(t, g.RemoveBond(1, 2))
}

func TestGraph_RemoveRingBondRefreshesRings(t *testing.T) {
	g, err := ParseSMILES("C1CCC1")
	require.NoError(t, err)
	assert.Equal(t, 4, g.RingBondCount())

	require.NoError(t, g.RemoveBond(0, 3))
	assert.Equal(t, 0, g.RingBondCount())
}

func TestGraph_AddBondClosingRing(t *testing.T) {
	g, err := ParseSMILES("CCCC")
	require.NoError(t, err)
	_, err = g.AddBond(0, 3, BondSingle)
	require.NoError(t, err)
	assert.Equal(t, 4, g.RingBondCount())

	_, err = g.AddBond(0, 3, BondSingle)
	assert.Error(t, err, "duplicate bond")
	_, err = g.AddBond(1, 1, BondSingle)
	assert.Error(t, err, "self bond")
	_, err = g.AddBond(0, 9, BondSingle)
	assert.Error(t, err, "out of range")
}

func TestGraph_Counts(t *testing.T) {
	g, err := ParseSMILES("[*:1]CC([*:2])O")
	require.NoError(t, err)
	assert.Equal(t, 3, g.HeavyAtomCount())
	assert.Equal(t, 2, g.AttachmentCount())
	assert.ElementsMatch(t, []int{1}, g.Neighbors(0))
}

func TestGraph_Subgraph(t *testing.T) {
	g, err := ParseSMILES("CCO.Cl")
	require.NoError(t, err)
	comps := g.Components()
	require.Len(t, comps, 2)

	sub := g.Subgraph(comps[0])
	assert.Equal(t, 3, sub.NumAtoms())
	assert.Equal(t, 2, sub.NumBonds())
	assert.Equal(t, "CCO", WriteSMILES(sub))
}

func TestLargestComponent(t *testing.T) {
	g, err := ParseSMILES("Cl.CCOC(=O)C.[Na+]")
	require.NoError(t, err)
	assert.Equal(t, canonicalOf(t, "CCOC(C)=O"), WriteSMILES(LargestComponent(g)))

	single, err := ParseSMILES("CCO")
	require.NoError(t, err)
	assert.Same(t, single, LargestComponent(single))
}

func canonicalOf(t *testing.T, smi string) string {
	t.Helper()
	out, err := CanonicalSMILES(smi)
	require.NoError(t, err)
	return out
}

func TestBondOrderString(t *testing.T) {
	assert.Equal(t, "single", BondSingle.String())
	assert.Equal(t, "aromatic", BondAromatic.String())
	assert.Equal(t, "BondOrder(9)", BondOrder(9).String())
}
