// Package staging publishes the long table of each processing year as a
// Parquet artifact named SRC<year>.parquet under a configurable key
// prefix, and reads all staged years back as one table for the second
// stage.
//
// Objects live behind the Backend interface. LocalBackend writes below
// the work directory, GCSBackend uses the Cloud Storage JSON API and
// S3Backend any S3 compatible store.
package staging
