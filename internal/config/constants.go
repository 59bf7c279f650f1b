package config

import "time"

// Application constants
const (
	AppName    = "eduetl"
	AppVersion = "1.0.0"
)

// Pipeline defaults
const (
	DefaultTableTemplate = "Annual EM %s"
	DefaultSubgroup      = "All Students"
	DefaultURLTemplate   = "https://data.nysed.gov/files/essa/%02d-%02d/SRC20%02d.zip"

	// ArtifactPrefix names both the downloaded archive and the staged
	// artifact of a processing year, e.g. SRC2022.
	ArtifactPrefix = "SRC"
)

// Semester scopes decide which records contribute to the max-year lookup.
const (
	SemesterScopeTable = "table"
	SemesterScopeBatch = "batch"
)

// Staging backends
const (
	StagingBackendLocal = "local"
	StagingBackendGCS   = "gcs"
	StagingBackendS3    = "s3"
)

// Warehouse backends
const (
	WarehouseBackendBigQuery = "bigquery"
	WarehouseBackendPostgres = "postgres"
	WarehouseBackendSQLite   = "sqlite"
	WarehouseBackendFile     = "file"
)

// Work directory layout (relative to PathsConfig.WorkDir)
const (
	ZipDirName      = "zip"
	UnzippedDirName = "unzipped"
	CSVDirName      = "csv"
	ParquetDirName  = "parquet"
	WarehouseDir    = "warehouse"
)

// Timeouts
const (
	DefaultHTTPTimeout   = 30 * time.Second
	BigQueryPollInterval = 2 * time.Second
)
