// Package app wires the components of serve mode and manages their
// lifecycle.
//
// # Initialization Flow
//
//	1. Initialize OpenTelemetry providers and the pipeline instruments
//	2. Create the WebSocket hub
//	3. Build the pipeline service, which registers the run steps
//	4. Create the health service and, when a cron spec is set, the scheduler
//	5. Mount middleware and handlers on a chi router
//
// # Usage
//
//	a, err := app.NewApplication(ctx, cfg, app.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
package app
