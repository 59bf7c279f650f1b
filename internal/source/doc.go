// Package source is the extraction collaborator of the pipeline. It
// downloads a year's archive with a bounded retry policy and a request
// rate limit, unpacks it, requires exactly one legacy database inside, and
// exports one table per subject through an external command such as
// mdb-export. The exported CSV is decoded with dataprocessing.ReadRawTable.
package source
