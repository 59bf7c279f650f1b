// Package operations runs the assessment pipeline as a graph of steps.
//
// A run is made of three kinds of step:
//
//   - ingest-<year>: fetch, extract and normalize one year, then stage it
//   - transform: read every staged year and build the wide relations
//   - load: write the relations to the warehouse
//
// The Registry holds the steps and orders any subset of them by their
// dependencies. The Manager selects the subset for a run mode, executes it
// sequentially or in parallel waves, retries retryable failures with
// exponential backoff and skips the dependents of a failed step.
// Dependencies that are not part of the run count as satisfied, which lets
// a transform run read years staged by earlier ingest runs.
//
// Every state change is pushed through the StatusBroadcaster, which keeps a
// snapshot per run and forwards it to a WebSocketHub.
//
// Example usage:
//
//	manager := operations.NewManager(hub, nil, operations.NewConfig(), logger, metrics)
//	for _, year := range years {
//		manager.RegisterStep(operations.NewIngestStep(year, ingestOpts))
//	}
//	manager.RegisterStep(operations.NewTransformStep(transformOpts))
//	manager.RegisterStep(operations.NewLoadStep(loader, logger))
//
//	resp, err := manager.Execute(ctx, operations.RunRequest{Mode: operations.ModeRun})
package operations
