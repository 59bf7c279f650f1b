package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestFindByExtension(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.accdb"))
	touch(t, filepath.Join(dir, "A.ACCDB"))
	touch(t, filepath.Join(dir, "readme.txt"))
	touch(t, filepath.Join(dir, "nested", "c.accdb"))

	tests := []struct {
		name      string
		discovery *Discovery
		dir       string
		ext       string
		want      []string
	}{
		{"absolute dir", NewDiscovery(""), dir, ".accdb", []string{"A.ACCDB", "b.accdb"}},
		{"relative to base", NewDiscovery(filepath.Dir(dir)), filepath.Base(dir), ".txt", []string{"readme.txt"}},
		{"no match", NewDiscovery(""), dir, ".parquet", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, err := tt.discovery.FindByExtension(tt.dir, tt.ext)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Names(found))
		})
	}
}

func TestFindByExtensionMissingDir(t *testing.T) {
	_, err := NewDiscovery("").FindByExtension(filepath.Join(t.TempDir(), "absent"), ".csv")
	assert.Error(t, err)
}

func TestFindRecursive(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "data", "parquet", "SRC2022.parquet"))
	touch(t, filepath.Join(dir, "data", "parquet", "SRC2018.parquet"))
	touch(t, filepath.Join(dir, "data", "other.csv"))

	found, err := NewDiscovery(dir).FindRecursive("data", ".parquet")
	require.NoError(t, err)
	assert.Equal(t, []string{"SRC2018.parquet", "SRC2022.parquet"}, Names(found))
	assert.Equal(t, int64(1), found[0].Size)
}
