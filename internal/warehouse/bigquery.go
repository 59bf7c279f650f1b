package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	bigquery "google.golang.org/api/bigquery/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"eduetl/internal/config"
	"eduetl/pkg/contracts/domain"
)

// BigQueryLoader replaces each relation with a newline-delimited JSON
// load job using WRITE_TRUNCATE.
type BigQueryLoader struct {
	svc          *bigquery.Service
	project      string
	tables       Tables
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewBigQueryLoader wraps an existing service.
func NewBigQueryLoader(svc *bigquery.Service, project string, tables Tables, logger *slog.Logger) *BigQueryLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &BigQueryLoader{
		svc:          svc,
		project:      project,
		tables:       tables,
		pollInterval: config.BigQueryPollInterval,
		logger:       logger.With(slog.String("component", "warehouse"), slog.String("backend", "bigquery")),
	}
}

// NewBigQueryLoaderFromConfig builds the client from application default
// credentials or cfg.CredentialsFile.
func NewBigQueryLoaderFromConfig(ctx context.Context, cfg config.WarehouseConfig, logger *slog.Logger) (*BigQueryLoader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := bigquery.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	return NewBigQueryLoader(svc, cfg.Project, TablesFrom(cfg), logger), nil
}

func (l *BigQueryLoader) Name() string { return "bigquery" }

func (l *BigQueryLoader) Close() error { return nil }

func (l *BigQueryLoader) Load(ctx context.Context, rel domain.Relations) error {
	if err := l.ensureDataset(ctx); err != nil {
		return err
	}

	tsRows := make([]map[string]any, len(rel.Timeseries))
	for i, r := range rel.Timeseries {
		tsRows[i] = map[string]any{
			domain.ColumnEntityName:     r.EntityName,
			domain.ColumnYearSemester:   r.YearSemester,
			domain.ColumnAveragePerProf: r.AveragePercentProficient,
		}
	}
	if err := l.loadTable(ctx, l.tables.Timeseries, []*bigquery.TableFieldSchema{
		{Name: domain.ColumnEntityName, Type: "STRING", Mode: "REQUIRED"},
		{Name: domain.ColumnYearSemester, Type: "STRING", Mode: "REQUIRED"},
		{Name: domain.ColumnAveragePerProf, Type: "INTEGER", Mode: "NULLABLE"},
	}, tsRows); err != nil {
		return err
	}

	tcRows := make([]map[string]any, len(rel.TimeChange))
	for i, r := range rel.TimeChange {
		tcRows[i] = map[string]any{
			domain.ColumnEntityName: r.EntityName,
			domain.ColumnTimeChange: r.TimeChange,
		}
	}
	return l.loadTable(ctx, l.tables.TimeChange, []*bigquery.TableFieldSchema{
		{Name: domain.ColumnEntityName, Type: "STRING", Mode: "REQUIRED"},
		{Name: domain.ColumnTimeChange, Type: "INTEGER", Mode: "NULLABLE"},
	}, tcRows)
}

func (l *BigQueryLoader) ensureDataset(ctx context.Context) error {
	_, err := l.svc.Datasets.Get(l.project, l.tables.Dataset).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusNotFound {
		return fmt.Errorf("failed to look up dataset %s: %w", l.tables.Dataset, err)
	}

	ds := &bigquery.Dataset{DatasetReference: &bigquery.DatasetReference{ProjectId: l.project, DatasetId: l.tables.Dataset}}
	if _, err := l.svc.Datasets.Insert(l.project, ds).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", l.tables.Dataset, err)
	}
	l.logger.InfoContext(ctx, "Created dataset", slog.String("dataset", l.tables.Dataset))
	return nil
}

func (l *BigQueryLoader) loadTable(ctx context.Context, table string, fields []*bigquery.TableFieldSchema, rows []map[string]any) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to encode %s row: %w", table, err)
		}
	}

	job := &bigquery.Job{
		Configuration: &bigquery.JobConfiguration{
			Load: &bigquery.JobConfigurationLoad{
				DestinationTable: &bigquery.TableReference{
					ProjectId: l.project,
					DatasetId: l.tables.Dataset,
					TableId:   table,
				},
				Schema:            &bigquery.TableSchema{Fields: fields},
				SourceFormat:      "NEWLINE_DELIMITED_JSON",
				WriteDisposition:  "WRITE_TRUNCATE",
				CreateDisposition: "CREATE_IF_NEEDED",
			},
		},
	}

	created, err := l.svc.Jobs.Insert(l.project, job).Media(&body).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to start load of %s: %w", table, err)
	}
	if err := l.wait(ctx, created); err != nil {
		return fmt.Errorf("load of %s failed: %w", table, err)
	}

	l.logger.InfoContext(ctx, "Loaded table",
		slog.String("table", l.tables.Dataset+"."+table),
		slog.Int("rows", len(rows)))
	return nil
}

func (l *BigQueryLoader) wait(ctx context.Context, job *bigquery.Job) error {
	for {
		if job.Status != nil && job.Status.State == "DONE" {
			if job.Status.ErrorResult != nil {
				return fmt.Errorf("%s: %s", job.Status.ErrorResult.Reason, job.Status.ErrorResult.Message)
			}
			return nil
		}
		if job.JobReference == nil {
			return fmt.Errorf("job has no reference")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.pollInterval):
		}

		ref := job.JobReference
		next, err := l.svc.Jobs.Get(l.project, ref.JobId).Location(ref.Location).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to poll job %s: %w", ref.JobId, err)
		}
		job = next
	}
}
