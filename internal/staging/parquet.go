package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"eduetl/internal/dataprocessing"
	"eduetl/pkg/contracts/domain"
)

// Schema is the column layout of a staged yearly artifact. PER_PROF is
// null where the export cell was blank.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: domain.ColumnEntityName, Type: arrow.BinaryTypes.String},
	{Name: domain.ColumnAssessmentName, Type: arrow.BinaryTypes.String},
	{Name: domain.ColumnYearSemester, Type: arrow.BinaryTypes.String},
	{Name: domain.ColumnPerProf, Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// ParquetCodec converts long tables to and from Parquet.
type ParquetCodec struct {
	alloc     memory.Allocator
	batchSize int64
}

// NewParquetCodec creates a codec using the default Go allocator
func NewParquetCodec() *ParquetCodec {
	return &ParquetCodec{alloc: memory.DefaultAllocator, batchSize: 4096}
}

// Encode writes table as one Snappy-compressed row group.
func (c *ParquetCodec) Encode(w io.Writer, table domain.LongTable) error {
	b := array.NewRecordBuilder(c.alloc, Schema)
	defer b.Release()

	entity := b.Field(0).(*array.StringBuilder)
	assessment := b.Field(1).(*array.StringBuilder)
	semester := b.Field(2).(*array.StringBuilder)
	perProf := b.Field(3).(*array.StringBuilder)

	for _, r := range table {
		entity.Append(r.EntityName)
		assessment.Append(r.AssessmentName)
		semester.Append(r.YearSemester)
		if r.PercentProficient == "" {
			perProf.AppendNull()
		} else {
			perProf.Append(r.PercentProficient)
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(c.alloc),
	)
	fw, err := pqarrow.NewFileWriter(Schema, nopCloser{w}, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return fmt.Errorf("failed to write parquet record: %w", err)
	}
	return fw.Close()
}

// Decode reads a staged artifact. Columns are matched by name; a missing
// column is a SchemaError and extra columns are ignored.
func (c *ParquetCodec) Decode(ctx context.Context, data []byte) (domain.LongTable, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data), file.WithReadProps(parquet.NewReaderProperties(c.alloc)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet data: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: c.batchSize}, c.alloc)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet records: %w", err)
	}
	defer rr.Release()

	positions, err := columnPositions(rr.Schema())
	if err != nil {
		return nil, err
	}

	table := make(domain.LongTable, 0, pf.NumRows())
	for rr.Next() {
		rec := rr.Record()
		cols := make([]stringColumn, len(positions))
		for i, pos := range positions {
			col, ok := rec.Column(pos).(stringColumn)
			if !ok {
				return nil, dataprocessing.NewSchemaError("", 0,
					fmt.Sprintf("staged column %s has type %s, want string", domain.StagingColumns[i], rec.Column(pos).DataType()), nil)
			}
			cols[i] = col
		}

		for row := 0; row < int(rec.NumRows()); row++ {
			table = append(table, domain.CleanedRecord{
				EntityName:        cols[0].Value(row),
				AssessmentName:    cols[1].Value(row),
				YearSemester:      cols[2].Value(row),
				PercentProficient: valueOrEmpty(cols[3], row),
			})
		}
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read parquet records: %w", err)
	}

	return table, nil
}

// stringColumn covers both String and LargeString arrays.
type stringColumn interface {
	arrow.Array
	Value(int) string
}

func valueOrEmpty(col stringColumn, row int) string {
	if col.IsNull(row) {
		return ""
	}
	return col.Value(row)
}

func columnPositions(schema *arrow.Schema) ([]int, error) {
	positions := make([]int, len(domain.StagingColumns))
	for i, name := range domain.StagingColumns {
		idx := schema.FieldIndices(name)
		if len(idx) == 0 {
			return nil, dataprocessing.NewSchemaError("", 0, fmt.Sprintf("staged artifact lacks column %s", name), nil)
		}
		positions[i] = idx[0]
	}
	return positions, nil
}

// nopCloser keeps the parquet writer from closing the caller's writer.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
