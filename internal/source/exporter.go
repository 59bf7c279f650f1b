package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// TableExporter writes one table of a legacy database as CSV to w.
type TableExporter interface {
	Export(ctx context.Context, databasePath, table string, w io.Writer) error
}

// CommandExporter runs an external export tool as
// "<command> <database> <table>" and streams its stdout.
type CommandExporter struct {
	Command string
}

// NewCommandExporter creates an exporter for command, e.g. mdb-export.
func NewCommandExporter(command string) *CommandExporter {
	return &CommandExporter{Command: command}
}

// Export implements TableExporter
func (e *CommandExporter) Export(ctx context.Context, databasePath, table string, w io.Writer) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Command, databasePath, table)
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s %q failed: %w: %s", e.Command, table, err, msg)
		}
		return fmt.Errorf("%s %q failed: %w", e.Command, table, err)
	}
	return nil
}
