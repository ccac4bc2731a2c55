package pathway

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEntities = `id,name,attributes
R-1,ATP,small_molecule;nucleotide
R-2,ADP,small_molecule;nucleotide
R-3,HK1,protein;kinase
R-4,Glucose,small_molecule
R-5,G6P,small_molecule;phosphate
`

const testReactions = `id,name,inputs,outputs
X-1,Glucose phosphorylation,R-1;R-4;R-3,R-2;R-5
X-2,ATP binding,R-1,R-3
X-3,Degradation,R-5,
`

// writeTestPathway writes a small pathway into dir.
func writeTestPathway(t *testing.T, dir, entities, reactions string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, EntitiesFile), []byte(entities), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ReactionsFile), []byte(reactions), 0644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeTestPathway(t, dir, testEntities, testReactions)
	p, err := Load(dir, "Metabolism")
	require.NoError(t, err)

	assert.Equal(t, 5, p.NumNodes())
	assert.Equal(t, 3, p.NumReactions())
	assert.Equal(t, []string{"kinase", "nucleotide", "phosphate", "protein", "small_molecule"}, p.Vocabulary)
	assert.Equal(t, []int{1, 4}, p.Entities[0].Attributes)
	assert.Equal(t, []int{0, 3}, p.Entities[2].Attributes)

	assert.Equal(t, []int{0, 3, 2}, p.Reactions[0].Inputs)
	assert.Equal(t, []int{1, 4}, p.Reactions[0].Outputs)
	assert.Empty(t, p.Reactions[2].Outputs)

	assert.Equal(t, [][]int{{0, 1, 2, 3, 4}, {0, 2}, {4}}, p.Hyperedges(AllEntities))
	assert.Equal(t, [][]int{{0, 2, 3}, {0}, {4}}, p.Hyperedges(Inputs))
	assert.Equal(t, [][]int{{1, 4}, {2}, nil}, p.Hyperedges(Outputs))

	features := p.Features()
	rows, cols := features.Dims()
	assert.Equal(t, 5, rows)
	assert.Equal(t, 5, cols)
	assert.Equal(t, 1.0, features.At(4, 2))
	assert.Equal(t, 0.0, features.At(3, 2))
}

func TestLoadErrors(t *testing.T) {
	t.Run("UnknownEntity", func(t *testing.T) {
		dir := t.TempDir()
		writeTestPathway(t, dir, testEntities, "id,name,inputs,outputs\nX-1,bad,R-9,R-1\n")
		_, err := Load(dir, "bad")
		require.Error(t, err)
	})
	t.Run("DuplicateEntity", func(t *testing.T) {
		dir := t.TempDir()
		writeTestPathway(t, dir, testEntities+"R-1,again,protein\n", testReactions)
		_, err := Load(dir, "bad")
		require.Error(t, err)
	})
	t.Run("MissingColumn", func(t *testing.T) {
		dir := t.TempDir()
		writeTestPathway(t, dir, "id,name\nR-1,ATP\n", testReactions)
		_, err := Load(dir, "bad")
		require.Error(t, err)
	})
	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(t.TempDir(), "bad")
		require.Error(t, err)
	})
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "signal_transduction", Slug("Signal Transduction"))
	assert.Equal(t, "/data/immune_system", Dir("/data", "Immune System"))
}
