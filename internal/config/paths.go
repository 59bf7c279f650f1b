package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains all the application paths. Every directory hangs off
// the configured work directory.
type Paths struct {
	WorkDir      string
	ScratchDir   string
	StagingDir   string
	WarehouseDir string
	LogsDir      string
}

// YearPaths is the private scratch layout of one processing year. It is
// removed once the year's artifact has been staged.
type YearPaths struct {
	Root        string
	ZipDir      string
	UnzippedDir string
	CSVDir      string
	ParquetDir  string
}

// GetPaths resolves the layout under workDir.
func GetPaths(workDir string) (*Paths, error) {
	if workDir == "" {
		workDir = "data"
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work dir %s: %w", workDir, err)
	}

	return &Paths{
		WorkDir:      abs,
		ScratchDir:   filepath.Join(abs, "scratch"),
		StagingDir:   filepath.Join(abs, "staging"),
		WarehouseDir: filepath.Join(abs, WarehouseDir),
		LogsDir:      filepath.Join(abs, "logs"),
	}, nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	directories := []string{
		p.WorkDir,
		p.ScratchDir,
		p.StagingDir,
		p.WarehouseDir,
		p.LogsDir,
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ForYear returns the scratch layout for the artifact of one year.
func (p *Paths) ForYear(artifact string) YearPaths {
	root := filepath.Join(p.ScratchDir, artifact)
	return YearPaths{
		Root:        root,
		ZipDir:      filepath.Join(root, ZipDirName),
		UnzippedDir: filepath.Join(root, UnzippedDirName),
		CSVDir:      filepath.Join(root, CSVDirName),
		ParquetDir:  filepath.Join(root, ParquetDirName),
	}
}

// Ensure creates the four scratch directories.
func (y YearPaths) Ensure() error {
	for _, dir := range []string{y.ZipDir, y.UnzippedDir, y.CSVDir, y.ParquetDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Cleanup removes the whole scratch tree of the year.
func (y YearPaths) Cleanup() error {
	if err := os.RemoveAll(y.Root); err != nil {
		return fmt.Errorf("failed to remove scratch dir %s: %w", y.Root, err)
	}
	return nil
}

// ArchivePath returns the download location of the year's ZIP archive.
func (y YearPaths) ArchivePath(artifact string) string {
	return filepath.Join(y.ZipDir, artifact+".zip")
}

// CSVPath returns where the exported table of a subject is written.
func (y YearPaths) CSVPath(subject string) string {
	return filepath.Join(y.CSVDir, subject+".csv")
}

// ParquetPath returns the local location of the year's staged artifact.
func (y YearPaths) ParquetPath(artifact string) string {
	return filepath.Join(y.ParquetDir, artifact+".parquet")
}

// GetLogPath returns the path for a log file
func (p *Paths) GetLogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// ArtifactName returns the archive and artifact base name for a year, e.g. SRC2022.
func ArtifactName(year int) string {
	return fmt.Sprintf("%s%04d", ArtifactPrefix, year)
}

// SourceURL expands the URL template for year. The template receives the
// short previous year, the short year and the short year again, so 2022
// becomes .../21-22/SRC2022.zip.
func SourceURL(template string, year int) string {
	short := year % 100
	prev := (year - 1) % 100
	return fmt.Sprintf(template, prev, short, short)
}

// LogPathResolution logs detailed path resolution information for debugging
func (p *Paths) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("Path resolution summary",
		slog.Group("directories",
			slog.String("work", p.WorkDir),
			slog.String("scratch", p.ScratchDir),
			slog.String("staging", p.StagingDir),
			slog.String("warehouse", p.WarehouseDir),
			slog.String("logs", p.LogsDir),
		))
}
