// Package exporter writes the derived relations as flat files.
//
// CSVWriter produces one UTF-8 CSV per relation, and XLSXWriter one
// workbook with a sheet per relation. Both take the Table form built by
// TimeseriesTable and TimeChangeTable, where a missing value is an empty
// cell.
//
//	tables := exporter.RelationTables(rel, "timeseries", "timechange")
//	path, err := exporter.NewCSVWriter(dir, logger).WriteTable("", tables[0])
package exporter
