package main

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduetl/internal/operations"
	"eduetl/internal/shared/testutil"
)

func TestParseYears(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []int
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "blank", raw: "  ", want: nil},
		{name: "list", raw: "2022, 2021,2019", want: []int{2022, 2021, 2019}},
		{name: "not a number", raw: "2022,twenty", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseYears(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunCommands(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode int
		stdout   string
		stderr   string
	}{
		{name: "no command", args: nil, wantCode: 2, stderr: "Usage: eduetl"},
		{name: "version", args: []string{"version"}, wantCode: 0, stdout: "eduetl 1.0.0"},
		{name: "help", args: []string{"help"}, wantCode: 0, stdout: "Commands:"},
		{name: "unknown", args: []string{"deploy"}, wantCode: 2, stderr: `unknown command "deploy"`},
		{name: "bad flag", args: []string{"run", "-nope"}, wantCode: 2, stderr: "flag provided but not defined"},
		{name: "serve has no years flag", args: []string{"serve", "-years", "2022"}, wantCode: 2},
		{name: "missing config file", args: []string{"run", "-config", "/does/not/exist.yaml"}, wantCode: 1, stderr: "does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(tt.args, &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, stdout.String(), tt.stdout)
			assert.Contains(t, stderr.String(), tt.stderr)
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("EDU_CONFIG_FILE", "")
	t.Chdir(t.TempDir())

	workDir := filepath.Join(t.TempDir(), "work")
	cfg, err := loadConfig(options{
		workDir:  workDir,
		logLevel: "debug",
		keepWork: true,
		port:     9090,
	})
	require.NoError(t, err)

	assert.Equal(t, workDir, cfg.Paths.WorkDir)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Paths.KeepWorkFiles)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  years: [2022, 2021]\n"), 0644))

	cfg, err := loadConfig(options{configFile: path})
	require.NoError(t, err)
	assert.Equal(t, []int{2022, 2021}, cfg.Pipeline.Years)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestWriteSummary(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	resp := &operations.RunResponse{ID: "r1", Status: operations.RunStatusCompleted}

	var buf bytes.Buffer
	writeSummary(&buf, resp, logger)
	assert.Contains(t, buf.String(), `"r1"`)
	assert.Empty(t, logs.GetRecordsByLevel(slog.LevelError))

	writeSummary(failingWriter{}, resp, logger)
	testutil.AssertLogContains(t, logs, slog.LevelError, "Failed to write run summary")
}
