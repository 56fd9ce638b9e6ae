package detections

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNamesMetadata(t *testing.T) {
	names, err := ParseNamesMetadata("{0: 'bacterial_leaf_blight', 1: 'brown_spot', 2: \"farmer's blast\"}")
	require.NoError(t, err)
	assert.Equal(t, Names{"bacterial_leaf_blight", "brown_spot", "farmer's blast"}, names)
}

func TestParseNamesMetadataUnordered(t *testing.T) {
	names, err := ParseNamesMetadata("{1: 'b', 0: 'a'}")
	require.NoError(t, err)
	assert.Equal(t, Names{"a", "b"}, names)
}

func TestParseNamesMetadataErrors(t *testing.T) {
	for _, raw := range []string{"", "{}", "{0: 'a', 2: 'c'}", "{0: [unclosed"} {
		_, err := ParseNamesMetadata(raw)
		assert.Error(t, err, raw)
	}
}

func TestLoadNamesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("bacterial_leaf_blight\n\n brown_spot \nleaf_smut\n"), 0o644))

	names, err := LoadNamesFile(path)
	require.NoError(t, err)
	assert.Equal(t, Names{"bacterial_leaf_blight", "brown_spot", "leaf_smut"}, names)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o644))
	_, err = LoadNamesFile(empty)
	assert.Error(t, err)

	_, err = LoadNamesFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestNamesLabel(t *testing.T) {
	names := Names{"blast", "brown_spot"}

	label, err := names.Label(1)
	require.NoError(t, err)
	assert.Equal(t, "brown_spot", label)

	_, err = names.Label(2)
	assert.ErrorIs(t, err, ErrUnknownClass)
	_, err = names.Label(-1)
	assert.ErrorIs(t, err, ErrUnknownClass)
}
