// Package services assembles the pipeline from configuration and exposes
// it to the command line, the scheduler and the HTTP API.
//
// PipelineService builds the archive fetcher, the extractor, the staging
// store and the warehouse loader selected by the configuration, registers
// one ingest step per year plus the transform and load steps, and offers
// synchronous (Run) and background (Start) execution:
//
//	svc, err := services.NewPipelineService(ctx, cfg, services.PipelineOptions{Logger: logger})
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//	resp, err := svc.Run(ctx, operations.RunRequest{Mode: operations.ModeRun})
//
// HealthService reports whether the work directory is writable and the
// staging backend is reachable.
//
// Errors returned to handlers wrap ErrInvalidInput, ErrRunNotFound or
// ErrRunNotRunning so that they can be mapped to HTTP statuses.
package services
