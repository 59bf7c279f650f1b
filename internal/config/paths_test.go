package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaths(t *testing.T) {
	dir := t.TempDir()
	paths, err := GetPaths(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, paths.WorkDir)
	assert.Equal(t, filepath.Join(dir, "scratch"), paths.ScratchDir)
	assert.Equal(t, filepath.Join(dir, "staging"), paths.StagingDir)
	assert.Equal(t, filepath.Join(dir, "warehouse"), paths.WarehouseDir)
	assert.Equal(t, filepath.Join(dir, "logs", "app.log"), paths.GetLogPath("app.log"))
}

func TestGetPathsDefaultsToDataDir(t *testing.T) {
	t.Chdir(t.TempDir())
	paths, err := GetPaths("")
	require.NoError(t, err)
	assert.Equal(t, "data", filepath.Base(paths.WorkDir))
	assert.True(t, filepath.IsAbs(paths.WorkDir))
}

func TestEnsureDirectories(t *testing.T) {
	paths, err := GetPaths(filepath.Join(t.TempDir(), "work"))
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirectories())

	for _, dir := range []string{paths.WorkDir, paths.ScratchDir, paths.StagingDir, paths.WarehouseDir, paths.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
}

func TestYearPathsLifecycle(t *testing.T) {
	paths, err := GetPaths(t.TempDir())
	require.NoError(t, err)

	year := paths.ForYear("SRC2022")
	require.NoError(t, year.Ensure())

	assert.Equal(t, filepath.Join(paths.ScratchDir, "SRC2022", "zip", "SRC2022.zip"), year.ArchivePath("SRC2022"))
	assert.Equal(t, filepath.Join(paths.ScratchDir, "SRC2022", "csv", "Math.csv"), year.CSVPath("Math"))
	assert.Equal(t, filepath.Join(paths.ScratchDir, "SRC2022", "parquet", "SRC2022.parquet"), year.ParquetPath("SRC2022"))

	for _, dir := range []string{year.ZipDir, year.UnzippedDir, year.CSVDir, year.ParquetDir} {
		assert.True(t, FileExists(dir), dir)
	}

	require.NoError(t, os.WriteFile(year.CSVPath("Math"), []byte("x"), 0644))
	require.NoError(t, year.Cleanup())
	assert.False(t, FileExists(year.Root))
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "SRC2022", ArtifactName(2022))
	assert.Equal(t, "SRC2018", ArtifactName(2018))
}

func TestSourceURL(t *testing.T) {
	tests := []struct {
		year int
		want string
	}{
		{2022, "https://data.nysed.gov/files/essa/21-22/SRC2022.zip"},
		{2018, "https://data.nysed.gov/files/essa/17-18/SRC2018.zip"},
		{2000, "https://data.nysed.gov/files/essa/99-00/SRC2000.zip"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SourceURL(DefaultURLTemplate, tt.year))
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(filepath.Join(dir, "absent.txt")))
}
