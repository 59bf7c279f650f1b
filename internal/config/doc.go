// Package config provides centralized configuration management for the
// education assessment pipeline. It handles loading configuration from
// multiple sources, validation, and the on-disk work directory layout.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. Configuration file (YAML)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern EDU_<SECTION>_<KEY>:
//
//	EDU_PIPELINE_YEARS=2022,2021,2019,2018
//	EDU_PIPELINE_CHANGE_ASSESSMENTS=MATH8
//	EDU_STAGING_BACKEND=gcs
//	EDU_STAGING_BUCKET=my-bucket
//	EDU_WAREHOUSE_BACKEND=bigquery
//	EDU_WAREHOUSE_PROJECT=my-project
//
// EDU_CONFIG_FILE points at an explicit YAML file; otherwise config.yaml and
// configs/config.yaml are probed.
//
// # Validation
//
// Struct tags are checked with go-playground/validator. Rules spanning
// several fields (change assessments must be a subset of the assessment
// codes, the two change semesters must differ) are checked by Validate.
//
// # Path Management
//
// Paths resolves the work directory. Each processing year gets a private
// scratch tree (zip/, unzipped/, csv/, parquet/) that is removed after the
// year's artifact is staged:
//
//	paths, _ := config.GetPaths(cfg.Paths.WorkDir)
//	year := paths.ForYear(config.ArtifactName(2022))
//	archive := year.ArchivePath("SRC2022")
package config
