package molecule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/pkg/errors"
)

func TestMatcher_AcyclicNonConjugatedSingleBond(t *testing.T) {
	cases := []struct {
		name   string
		smiles string
		want   []AtomPair
	}{
		{"ethanol", "CCO", []AtomPair{{0, 1}, {1, 2}}},
		{"acetic acid carbonyl carbon excluded", "CC(=O)O", []AtomPair{{0, 1}}},
		{"nitrile carbon excluded", "CC#N", []AtomPair{{0, 1}}},
		{"carbon-carbon double bond is not cut", "C=CC", []AtomPair{{1, 2}}},
		{"ring bonds are not cut", "c1ccccc1", nil},
		{"cyclopropane", "C1CC1", nil},
		{"no carbon", "OO", nil},
		{"charged carbon excluded", "[CH2+]O", nil},
		{"toluene", "Cc1ccccc1", []AtomPair{{0, 1}}},
		{"ammonium neighbour still cut", "C[NH3+]", []AtomPair{{0, 1}}},
	}
	m := NewMatcher()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := ParseSMILES(tc.smiles)
			require.NoError(t, err)
			got, err := m.Match(g, PatternAcyclicNonConjugatedSingleBond)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatcher_BondReportedOnce(t *testing.T) {
	g, err := ParseSMILES("CCCC")
	require.NoError(t, err)
	got, err := NewMatcher().Match(g, PatternAcyclicNonConjugatedSingleBond)
	require.NoError(t, err)
	assert.Equal(t, []AtomPair{{0, 1}, {1, 2}, {2, 3}}, got)
}

func TestMatcher_UnknownPattern(t *testing.T) {
	g, err := ParseSMILES("CC")
	require.NoError(t, err)
	_, err = NewMatcher().Match(g, Pattern(99))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSubstructureSearchFailed))
	assert.Equal(t, "Pattern(99)", Pattern(99).String())
	assert.Equal(t, "acyclic_non_conjugated_single_bond", PatternAcyclicNonConjugatedSingleBond.String())
}
