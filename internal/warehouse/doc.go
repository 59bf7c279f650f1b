// Package warehouse loads the timeseries and timechange relations into an
// analytical store. Every Loader overwrites both relations in full.
//
// Backends:
//
//	bigquery  load jobs with WRITE_TRUNCATE through the BigQuery v2 API
//	postgres  one transaction over the pgx stdlib driver, dataset as schema
//	sqlite    one transaction over modernc.org/sqlite, <dataset>.db file
//	file      CSV per relation or a single XLSX workbook
package warehouse
