package mmp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/config"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
	dto "github.com/turtacn/KeyIP-MMP/pkg/types/mmp"
)

func newTestServiceSet(maxCuts int) *ServiceSet {
	return NewServiceSet(config.MMPConfig{MaxCuts: maxCuts, Workers: 2}, EngineDeps{})
}

func TestServiceSet_Fragment(t *testing.T) {
	set := newTestServiceSet(3)
	extra := &CollectingSink{}

	resp, err := set.Fragment(context.Background(), &dto.FragmentRequest{
		Molecules: []dto.MoleculeInput{
			{SMILES: "CCOCC", CompoundID: "ether"},
			{SMILES: "C1CC", CompoundID: "broken"},
		},
		MaxCuts: 1,
	}, 10, extra)
	require.NoError(t, err)

	require.Len(t, resp.Records, 2)
	assert.Equal(t, dto.Record{
		OriginalIdentifier: "CCOCC",
		CompoundID:         "ether",
		SideChains:         "[*:1]C.[*:1]COCC",
		CutCount:           1,
	}, resp.Records[0])
	assert.Equal(t, "[*:1]CC.[*:1]OCC", resp.Records[1].SideChains)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "broken", resp.Failures[0].CompoundID)
	assert.Equal(t, string(pkgerrors.ErrCodeMoleculeInvalidSMILES), resp.Failures[0].Code)

	assert.Equal(t, 2, resp.Summary.Molecules)
	assert.Equal(t, 1, resp.Summary.Failed)
	assert.NotEmpty(t, resp.Summary.RunID)

	assert.Len(t, extra.Records, 2)
	assert.Len(t, extra.Failures, 1)
}

func TestServiceSet_Fragment_Rejects(t *testing.T) {
	set := newTestServiceSet(2)
	ctx := context.Background()
	mol := []dto.MoleculeInput{{SMILES: "C", CompoundID: "1"}, {SMILES: "CC", CompoundID: "2"}}

	_, err := set.Fragment(ctx, &dto.FragmentRequest{}, 0, nil)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = set.Fragment(ctx, &dto.FragmentRequest{Molecules: mol}, 1, nil)
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = set.Fragment(ctx, &dto.FragmentRequest{Molecules: mol, MaxCuts: 3}, 0, nil)
	assert.True(t, pkgerrors.IsValidation(err))
}
