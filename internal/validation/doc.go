// Package validation checks command line paths before a run starts: the
// config file, the export directory and the local staging directory.
package validation
