package validation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathValidator_ValidateConfigFile(t *testing.T) {
	tests := []struct {
		name          string
		setup         func(t *testing.T) string
		errorContains string
	}{
		{
			name: "yaml file",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte("pipeline: {}\n"), 0644))
				return path
			},
		},
		{
			name: "yml extension",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "config.yml")
				require.NoError(t, os.WriteFile(path, nil, 0644))
				return path
			},
		},
		{
			name:          "missing",
			setup:         func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") },
			errorContains: "does not exist",
		},
		{
			name:          "directory",
			setup:         func(t *testing.T) string { return t.TempDir() },
			errorContains: "is a directory",
		},
		{
			name: "wrong extension",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "config.json")
				require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))
				return path
			},
			errorContains: "not YAML",
		},
	}

	v := NewPathValidator(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateConfigFile(tt.setup(t))
			if tt.errorContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestPathValidator_ValidateOutputDirectory(t *testing.T) {
	v := NewPathValidator(nil)

	dir := filepath.Join(t.TempDir(), "exports", "nested")
	require.NoError(t, v.ValidateOutputDirectory(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "write probe must be removed")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, v.ValidateOutputDirectory(filepath.Join(file, "sub")))
}

func TestPathValidator_CountStaged(t *testing.T) {
	v := NewPathValidator(nil)
	dir := t.TempDir()

	n, err := v.CountStaged(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "SRC2022.parquet"), []byte("x"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "old"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old", "SRC2019.parquet"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SRC2021.parquet"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	n, err = v.CountStaged(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
