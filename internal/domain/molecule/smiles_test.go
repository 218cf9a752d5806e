package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

func TestParseSMILES_OrganicSubset(t *testing.T) {
	g, err := ParseSMILES("CCO")
	require.NoError(t, err)
	require.Equal(t, 3, g.NumAtoms())
	require.Equal(t, 2, g.NumBonds())

	assert.Equal(t, 3, g.Atom(0).Hydrogens)
	assert.Equal(t, 2, g.Atom(1).Hydrogens)
	assert.Equal(t, 1, g.Atom(2).Hydrogens)
	assert.Equal(t, 8, g.Atom(2).AtomicNum)
}

func TestParseSMILES_StopsAtWhitespace(t *testing.T) {
	g, err := ParseSMILES("CCO ethanol")
	require.NoError(t, err)
	assert.Equal(t, 3, g.NumAtoms())
}

func TestParseSMILES_BracketAtoms(t *testing.T) {
	g, err := ParseSMILES("[13CH3][NH3+].[O-]C(=O)C.[2*:1]")
	require.NoError(t, err)

	c := g.Atom(0)
	assert.Equal(t, 13, c.Isotope)
	assert.Equal(t, 3, c.Hydrogens)

	n := g.Atom(1)
	assert.Equal(t, 1, n.Charge)
	assert.Equal(t, 3, n.Hydrogens)

	o := g.Atom(2)
	assert.Equal(t, -1, o.Charge)
	assert.Equal(t, 0, o.Hydrogens)

	star := g.Atom(g.NumAtoms() - 1)
	assert.True(t, star.IsAttachment())
	assert.Equal(t, 2, star.Isotope)
	assert.Equal(t, 1, star.MapNum)
	assert.Len(t, g.Components(), 3)
}

func TestParseSMILES_ChargeForms(t *testing.T) {
	cases := map[string]int{
		"[Fe++]":  2,
		"[Fe+2]":  2,
		"[O--]":   -2,
		"[N-]":    -1,
		"[C@@H+]": 1,
	}
	for smi, want := range cases {
		g, err := ParseSMILES(smi)
		require.NoError(t, err, smi)
		assert.Equal(t, want, g.Atom(0).Charge, smi)
	}
}

func TestParseSMILES_Aromatic(t *testing.T) {
	g, err := ParseSMILES("c1ccncc1")
	require.NoError(t, err)
	for i := 0; i < g.NumBonds(); i++ {
		assert.Equal(t, BondAromatic, g.Bond(i).Order)
		assert.True(t, g.Bond(i).InRing)
	}
	assert.Equal(t, 1, g.Atom(0).Hydrogens)
	assert.Equal(t, 0, g.Atom(3).Hydrogens, "pyridine nitrogen carries no hydrogen")

	pyrrole, err := ParseSMILES("c1cc[nH]c1")
	require.NoError(t, err)
	assert.Equal(t, 1, pyrrole.Atom(3).Hydrogens)

	thiophene, err := ParseSMILES("c1ccsc1")
	require.NoError(t, err)
	assert.Equal(t, 0, thiophene.Atom(3).Hydrogens)
}

func TestParseSMILES_NonRingAromaticBondBecomesSingle(t *testing.T) {
	g, err := ParseSMILES("c1ccccc1c1ccccc1")
	require.NoError(t, err)
	idx, ok := g.BondBetween(5, 6)
	require.True(t, ok)
	assert.Equal(t, BondSingle, g.Bond(idx).Order)
	assert.False(t, g.Bond(idx).InRing)
}

func TestParseSMILES_RingClosures(t *testing.T) {
	g, err := ParseSMILES("C1CC2CCC1C2")
	require.NoError(t, err)
	assert.Equal(t, 7, g.NumAtoms())
	assert.Equal(t, 8, g.NumBonds())

	g2, err := ParseSMILES("C%10CCCCC%10")
	require.NoError(t, err)
	assert.Equal(t, 6, g2.NumBonds())

	g3, err := ParseSMILES("C=1CCCCC1")
	require.NoError(t, err)
	idx, ok := g3.BondBetween(0, 5)
	require.True(t, ok)
	assert.Equal(t, BondDouble, g3.Bond(idx).Order)
}

func TestParseSMILES_Errors(t *testing.T) {
	cases := []struct {
		smi  string
		code errors.ErrorCode
	}{
		{"", errors.ErrCodeMoleculeEmpty},
		{"C1CC", errors.CodeMoleculeInvalidSMILES},
		{"C(C", errors.CodeMoleculeInvalidSMILES},
		{"C)C", errors.CodeMoleculeInvalidSMILES},
		{"[Xx]", errors.CodeMoleculeInvalidSMILES},
		{"[C", errors.CodeMoleculeInvalidSMILES},
		{"C==C", errors.CodeMoleculeInvalidSMILES},
		{"=C", errors.CodeMoleculeInvalidSMILES},
		{"C=", errors.CodeMoleculeInvalidSMILES},
		{"C11", errors.CodeMoleculeInvalidSMILES},
		{"Q", errors.CodeMoleculeInvalidSMILES},
		{"C=1CC-1", errors.CodeMoleculeInvalidSMILES},
	}
	for _, tc := range cases {
		_, err := ParseSMILES(tc.smi)
		require.Error(t, err, tc.smi)
		assert.True(t, errors.IsCode(err, tc.code), "%q: %v", tc.smi, err)
	}
}

func TestWriteSMILES_KnownForms(t *testing.T) {
	cases := map[string]string{
		"OCC":              "CCO",
		"CCO":              "CCO",
		"c1ccccc1":         "c1ccccc1",
		"C1CCCCC1":         "C1CCCCC1",
		"c1ccccc1C":        "Cc1ccccc1",
		"c1ccccc1O":        "Oc1ccccc1",
		"C[N+](C)(C)C":     "C[N+](C)(C)C",
		"[O-]C":            "C[O-]",
		"C[*:1]":           "[*:1]C",
		"[C@@H](C)(O)N":    "CC(N)O",
		"C/C=C/C":          "CC=CC",
		"[CH3][CH2][OH]":   "CCO",
		"N#CC":             "CC#N",
	}
	for in, want := range cases {
		got, err := CanonicalSMILES(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestWriteSMILES_AttachmentIsotopes(t *testing.T) {
	g, err := ParseSMILES("[1*]CC[2*]")
	require.NoError(t, err)

	plain := WriteSMILES(g)
	assert.Equal(t, "*CC*", plain)

	labeled := WriteSMILES(g, WithAttachmentIsotopes())
	assert.Contains(t, labeled, "[1*]")
	assert.Contains(t, labeled, "[2*]")
	assert.Equal(t, "[1*]CC[2*]", labeled)
}

func TestWriteSMILES_MapNumOptions(t *testing.T) {
	g, err := ParseSMILES("[*:2]CC[*:1]")
	require.NoError(t, err)

	assert.Equal(t, "[*:1]CC[*:2]", WriteSMILES(g, WithMapNumRanking()))
	assert.Equal(t, "*CC*", WriteSMILES(g, WithoutMapNums()))
}

func TestWriteSMILES_OrderIndependent(t *testing.T) {
	sets := [][]string{
		{"CC(=O)Oc1ccccc1C(=O)O", "OC(=O)c1ccccc1OC(C)=O", "c1cccc(OC(C)=O)c1C(O)=O"},
		{"c1cc[nH]c1", "[nH]1cccc1", "c1[nH]ccc1"},
		{"CCN(CC)CC", "N(CC)(CC)CC"},
		{"C1CC2CCC1C2", "C2CC1CCC2C1"},
		{"Clc1ccc(Br)cc1", "Brc1ccc(Cl)cc1"},
		{"CC.O", "O.CC"},
	}
	for _, set := range sets {
		first, err := CanonicalSMILES(set[0])
		require.NoError(t, err)
		for _, other := range set[1:] {
			got, err := CanonicalSMILES(other)
			require.NoError(t, err)
			assert.Equal(t, first, got, "%s vs %s", set[0], other)
		}
	}
}

func TestWriteSMILES_RoundTripIsStable(t *testing.T) {
	inputs := []string{
		"CC(=O)Oc1ccccc1C(=O)O",
		"CN1CCC[C@H]1c2cccnc2",
		"O=C(O)C[NH3+]",
		"c1ccc2ccccc2c1",
		"C1CC1C1CC1",
		"c1ccccc1-c1ccccc1",
		"[2H]C([2H])([2H])Cl",
		"[*:1]c1ccccc1[*:2]",
	}
	for _, in := range inputs {
		once, err := CanonicalSMILES(in)
		require.NoError(t, err, in)
		twice, err := CanonicalSMILES(once)
		require.NoError(t, err, once)
		assert.Equal(t, once, twice, in)

		g1, _ := ParseSMILES(in)
		g2, _ := ParseSMILES(once)
		assert.Equal(t, g1.NumAtoms(), g2.NumAtoms(), in)
		assert.Equal(t, g1.NumBonds(), g2.NumBonds(), in)
	}
}

func TestWriteSMILES_Empty(t *testing.T) {
	assert.Equal(t, "", WriteSMILES(NewGraph()))
}
