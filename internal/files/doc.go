// Package files provides file system operations and discovery utilities
// used around the pipeline's work directory.
//
// Discovery finds files by extension, either in one directory or below it.
// The source stage uses it to locate the single legacy database inside an
// unpacked archive and the local staging backend uses it to enumerate
// staged artifacts.
//
// Manager performs atomic writes, copies, removals and ZIP extraction
// relative to a root directory:
//
//	manager := files.NewManager(paths.StagingDir, logger)
//	_, err := manager.WriteFile("data/parquet/SRC2022.parquet", r)
//
//	discovery := files.NewDiscovery("")
//	dbs, err := discovery.FindByExtension(year.UnzippedDir, ".accdb")
package files
