package dataprocessing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"eduetl/pkg/contracts/domain"
)

const utf8BOM = "\ufeff"

// ReadRawTable decodes an exported subject table. The header must contain
// every raw column; extra columns are ignored. YEAR must parse as an
// integer. Any violation is a SchemaError for subject and year.
func ReadRawTable(r io.Reader, subject string, year int) ([]domain.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, NewSchemaError(subject, year, "table is empty", nil)
	}
	if err != nil {
		return nil, NewSchemaError(subject, year, "failed to read header", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, utf8BOM)
		}
		index[strings.TrimSpace(name)] = i
	}

	cols := make([]int, len(domain.RawColumns))
	for i, name := range domain.RawColumns {
		pos, ok := index[name]
		if !ok {
			return nil, NewSchemaError(subject, year, fmt.Sprintf("required column %s is absent", name), nil)
		}
		cols[i] = pos
	}
	width := 0
	for _, pos := range cols {
		width = max(width, pos+1)
	}

	var records []domain.RawRecord
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, NewSchemaError(subject, year, fmt.Sprintf("malformed row %d", line), err)
		}
		if len(row) < width {
			return nil, NewSchemaError(subject, year,
				fmt.Sprintf("row %d has %d fields, need at least %d", line, len(row), width), nil)
		}

		rawYear := strings.TrimSpace(row[cols[1]])
		y, err := strconv.Atoi(rawYear)
		if err != nil {
			return nil, NewSchemaError(subject, year,
				fmt.Sprintf("row %d: %s %q is not an integer", line, domain.ColumnYear, rawYear), err)
		}

		records = append(records, domain.RawRecord{
			EntityName:        row[cols[0]],
			Year:              y,
			AssessmentName:    row[cols[2]],
			SubgroupName:      row[cols[3]],
			PercentProficient: row[cols[4]],
		})
	}

	if records == nil {
		records = []domain.RawRecord{}
	}
	return records, nil
}
