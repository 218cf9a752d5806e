package mmp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-MMP/internal/domain/fragment"
	"github.com/turtacn/KeyIP-MMP/internal/domain/molecule"
	pkgerrors "github.com/turtacn/KeyIP-MMP/pkg/errors"
)

func readString(t *testing.T, s string) *Inputs {
	t.Helper()
	in, err := ReadInputs(strings.NewReader(s), molecule.NewProvider())
	require.NoError(t, err)
	return in
}

func TestReadInputs_Tables(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		delimiter string
		header    bool
		want      []fragment.Molecule
	}{
		{
			name:      "comma with header",
			input:     "smiles,id\nCCO,ethanol\nc1ccccc1,benzene\n",
			delimiter: ",",
			header:    true,
			want:      []fragment.Molecule{{Text: "CCO", CompoundID: "ethanol"}, {Text: "c1ccccc1", CompoundID: "benzene"}},
		},
		{
			name:      "quoted comma fields",
			input:     "smiles,name\nCCO,\"ethanol, absolute\"\n\"CCN\",ethylamine\n",
			delimiter: ",",
			header:    true,
			want:      []fragment.Molecule{{Text: "CCO", CompoundID: "ethanol, absolute"}, {Text: "CCN", CompoundID: "ethylamine"}},
		},
		{
			name:      "tab with structure last",
			input:     "id\tsmiles\nE1\tCCO\r\nE2\tCCN\n",
			delimiter: "\t",
			header:    true,
			want:      []fragment.Molecule{{Text: "CCO", CompoundID: "2"}, {Text: "CCN", CompoundID: "3"}},
		},
		{
			name:      "space separated",
			input:     "CCO  ethanol\nCCN ethylamine\n",
			delimiter: " ",
			want:      []fragment.Molecule{{Text: "CCO", CompoundID: "ethanol"}, {Text: "CCN", CompoundID: "ethylamine"}},
		},
		{
			name:  "single column uses line numbers",
			input: "CCO\n\nCCN\n",
			want:  []fragment.Molecule{{Text: "CCO", CompoundID: "1"}, {Text: "CCN", CompoundID: "3"}},
		},
		{
			name:      "missing id column",
			input:     "CCO,e1\nCCN\n",
			delimiter: ",",
			want:      []fragment.Molecule{{Text: "CCO", CompoundID: "e1"}, {Text: "CCN", CompoundID: "2"}},
		},
		{
			name:      "unparsable rows stay in place",
			input:     "CCO,a\nC1CC,b\n",
			delimiter: ",",
			want:      []fragment.Molecule{{Text: "CCO", CompoundID: "a"}, {Text: "C1CC", CompoundID: "b"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := readString(t, tt.input)
			assert.Equal(t, FormatTable, in.Format)
			assert.Equal(t, tt.delimiter, in.Delimiter)
			assert.Equal(t, tt.header, in.HasHeader)
			assert.Equal(t, tt.want, in.Molecules)
		})
	}
}

func TestReadInputs_EmptyAndHeaderOnly(t *testing.T) {
	in := readString(t, "\n\n")
	assert.Empty(t, in.Molecules)

	in = readString(t, "smiles,id\n")
	assert.True(t, in.HasHeader)
	assert.Empty(t, in.Molecules)
}

func TestReadInputs_RejectsInChI(t *testing.T) {
	_, err := ReadInputs(strings.NewReader("InChI=1S/C2H6O/c1-2-3/h3H,2H2,1H3\n"), molecule.NewProvider())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeMoleculeInvalidInChI))

	_, err = ReadInputs(strings.NewReader("inchi\tid\nInChI=1S/CH4/h1H4\tmethane\n"), molecule.NewProvider())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeMoleculeInvalidInChI))
}

func TestReadInputs_SDFile(t *testing.T) {
	block := func(title string) string {
		return title + "\n  test\n\n  0  0  0  0  0  0            999 V2000\nM  END"
	}
	input := block("aspirin") + "\n$$$$\n" + block("") + "\n$$$$\n\n"
	in := readString(t, input)

	assert.Equal(t, FormatSD, in.Format)
	require.Len(t, in.Molecules, 2)
	assert.Equal(t, "aspirin", in.Molecules[0].CompoundID)
	assert.Equal(t, "2", in.Molecules[1].CompoundID)
	assert.True(t, strings.HasPrefix(in.Molecules[0].Text, "aspirin\n"))
	assert.True(t, strings.HasSuffix(in.Molecules[0].Text, "M  END\n"))
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, assert.AnError }

func TestReadInputs_Unreadable(t *testing.T) {
	_, err := ReadInputs(errReader{}, molecule.NewProvider())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeMMPInputUnreadable))
}
