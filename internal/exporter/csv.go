package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVWriter writes relations as CSV files under a root directory.
type CSVWriter struct {
	root   string
	bom    bool
	logger *slog.Logger
}

// NewCSVWriter creates a writer that resolves relative paths against root.
func NewCSVWriter(root string, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{root: root, logger: logger.With(slog.String("component", "csv_exporter"))}
}

// WithBOM prefixes every file with a UTF-8 byte order mark so spreadsheet
// tools detect the encoding of entity names.
func (w *CSVWriter) WithBOM() *CSVWriter {
	w.bom = true
	return w
}

// WriteTable writes t to dir/<name>.csv and returns the path written. The
// file is written beside the target and renamed into place, so readers
// never see a partial relation.
func (w *CSVWriter) WriteTable(dir string, t Table) (string, error) {
	target := w.resolvePath(filepath.Join(dir, t.Name+".csv"))
	tmp := target + ".tmp"

	stream, err := w.CreateStreamWriter(tmp, t.Headers)
	if err != nil {
		return "", err
	}
	for i, row := range t.Rows {
		if err := stream.WriteRecord(row); err != nil {
			stream.Close()
			os.Remove(tmp)
			return "", fmt.Errorf("failed to write %s row %d: %w", t.Name, i, err)
		}
	}
	if err := stream.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move %s into place: %w", t.Name, err)
	}

	w.logger.Info("Wrote CSV table",
		slog.String("table", t.Name),
		slog.String("path", target),
		slog.Int("rows", len(t.Rows)))
	return target, nil
}

// StreamWriter provides streaming CSV writing for large datasets
type StreamWriter struct {
	file   *os.File
	writer *csv.Writer
}

// CreateStreamWriter creates a new streaming CSV writer
func (w *CSVWriter) CreateStreamWriter(filePath string, headers []string) (*StreamWriter, error) {
	fullPath := w.resolvePath(filePath)

	w.logger.Debug("Creating CSV stream writer",
		slog.String("full_path", fullPath),
		slog.Int("header_count", len(headers)))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	if w.bom {
		if _, err := file.Write(utf8BOM); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(file)
	if len(headers) > 0 {
		if err := writer.Write(headers); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write headers: %w", err)
		}
	}

	return &StreamWriter{file: file, writer: writer}, nil
}

// WriteRecord writes a single record to the stream
func (s *StreamWriter) WriteRecord(record []string) error {
	return s.writer.Write(record)
}

// Close flushes and closes the stream writer
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

func (w *CSVWriter) resolvePath(filePath string) string {
	if filepath.IsAbs(filePath) || w.root == "" {
		return filePath
	}
	return filepath.Join(w.root, filePath)
}
