package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-export")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestCommandExporter(t *testing.T) {
	script := writeScript(t, `echo "ENTITY_NAME,TABLE"; echo "\"$1\",\"$2\""`+"\n")

	var out bytes.Buffer
	err := NewCommandExporter(script).Export(context.Background(), "/tmp/SRC2022.accdb", "Annual EM Math", &out)
	require.NoError(t, err)
	assert.Equal(t, "ENTITY_NAME,TABLE\n\"/tmp/SRC2022.accdb\",\"Annual EM Math\"\n", out.String())
}

func TestCommandExporterFailure(t *testing.T) {
	script := writeScript(t, "echo 'Error: Table Annual EM Art does not exist' >&2\nexit 1\n")

	err := NewCommandExporter(script).Export(context.Background(), "db.accdb", "Annual EM Art", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestCommandExporterMissingBinary(t *testing.T) {
	err := NewCommandExporter("definitely-not-installed-export").Export(context.Background(), "db", "t", &bytes.Buffer{})
	assert.Error(t, err)
}
