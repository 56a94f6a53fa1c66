package smiles

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
)

func encode(t *testing.T, notation string) string {
	t.Helper()
	mol, err := Default().ParseMolecule(notation)
	require.NoError(t, err, notation)
	seq, err := encoder.NewChemical().Encode(notation, mol)
	require.NoError(t, err, notation)
	return seq.String()
}

func TestParseEncodes(t *testing.T) {
	tests := []struct {
		smiles string
		want   string
	}{
		{"CCO", "LLS"},
		{"c1ccccc1", "FFFFFFG"},
		{"CC(=O)O", "LLQESS"},
		{"C#N", "LDK"},
		{"[NH4+]", "KH"},
		{"[2H]C", "L"},
		{"N[C@@H](C)C(=O)O", "KLQLLQESS"},
		{"C%12CC%12", "LLLG"},
		{"C=1CCCCC=1", "LELLLLLEG"},
		{"c1ccc2[nH]ccc2c1", "FFFFRFFFGFG"},
		{"FC(Cl)(Br)I", "ALQVQIM"},
		{"CC.O", "LLWS"},
		{"[O-][N+](=O)C", "SHKHQESL"},
		{"[13CH3]C", "LL"},
		{"[C@TH1H](F)(Cl)Br", "LQAQVI"},
		{"[Fe+0]", "Fe"},
	}
	for _, tt := range tests {
		t.Run(tt.smiles, func(t *testing.T) {
			if tt.smiles == "[Fe+0]" {
				mol, err := Default().ParseMolecule(tt.smiles)
				require.NoError(t, err)
				f, _ := mol.Features()
				assert.Equal(t, []encoder.Feature{"Fe"}, f)
				return
			}
			assert.Equal(t, tt.want, encode(t, tt.smiles))
		})
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	bad := []string{"", "   ", "C(", "C)", "=C", "C=", "C1CC", "[Na", "C.", ".C", "(C)", "C[Xx]", "C?", "C%1", "C(=)C", "[C@@Q]"}
	for _, s := range bad {
		t.Run(s, func(t *testing.T) {
			_, err := Default().ParseMolecule(s)
			require.Error(t, err)
			var syn *SyntaxError
			assert.True(t, errors.As(err, &syn), "%v", err)
		})
	}
}

func TestUnsupportedAtomsParseButDoNotEncode(t *testing.T) {
	for _, s := range []string{"[Na+].[Cl-]", "C[Si](C)(C)C", "*C", "C$C", "b1ccccc1"} {
		mol, err := Default().ParseMolecule(s)
		require.NoError(t, err, s)
		_, err = encoder.NewChemical().Encode(s, mol)
		assert.Error(t, err, s)
	}
}

func TestAtomCount(t *testing.T) {
	mol, err := Default().ParseMolecule("[H]C([H])([H])[H]")
	require.NoError(t, err)
	assert.Equal(t, 5, mol.Atoms)
	f, _ := mol.Features()
	assert.Equal(t, []encoder.Feature{"C", "branch", "branch"}, f)
}

func TestDefaultIsSharedAndConcurrentSafe(t *testing.T) {
	assert.Same(t, Default(), Default())

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mol, err := Default().ParseMolecule("CC(=O)Oc1ccccc1C(=O)O")
			if err != nil {
				return
			}
			seq, err := encoder.NewChemical().Encode("aspirin", mol)
			if err == nil {
				results[i] = seq.String()
			}
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
		assert.NotEmpty(t, r)
	}
}
