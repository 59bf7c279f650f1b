package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"eduetl/internal/config"
	"eduetl/pkg/contracts/domain"
)

// Loader writes both derived relations, replacing whatever a previous run
// wrote under the same names.
type Loader interface {
	Name() string
	Load(ctx context.Context, rel domain.Relations) error
	Close() error
}

// Tables names the destination of the two relations.
type Tables struct {
	Dataset    string
	Timeseries string
	TimeChange string
}

// TablesFrom reads the destination names from cfg.
func TablesFrom(cfg config.WarehouseConfig) Tables {
	return Tables{
		Dataset:    cfg.Dataset,
		Timeseries: cfg.TimeseriesTable,
		TimeChange: cfg.TimechangeTable,
	}
}

// NewLoader builds the loader selected by cfg. Embedded and file outputs
// live under paths.WarehouseDir.
func NewLoader(ctx context.Context, cfg config.WarehouseConfig, paths *config.Paths, logger *slog.Logger) (Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tables := TablesFrom(cfg)

	switch cfg.Backend {
	case config.WarehouseBackendBigQuery:
		return NewBigQueryLoaderFromConfig(ctx, cfg, logger)
	case config.WarehouseBackendPostgres:
		db, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return NewSQLLoader(db, Postgres, tables, logger), nil
	case config.WarehouseBackendSQLite, "":
		db, err := OpenSQLite(filepath.Join(paths.WarehouseDir, cfg.Dataset+".db"))
		if err != nil {
			return nil, err
		}
		return NewSQLLoader(db, SQLite, tables, logger), nil
	case config.WarehouseBackendFile:
		return NewFileLoader(paths.WarehouseDir, cfg.FileFormat, tables, logger), nil
	default:
		return nil, fmt.Errorf("unknown warehouse backend %q", cfg.Backend)
	}
}
