// Package http implements the HTTP handlers of the run API. Handlers parse
// and validate requests, call the pipeline service and render JSON. Errors
// are answered as RFC 7807 problem documents by the shared error handler.
//
// # Endpoints
//
//	POST   /api/runs        start a run: {"mode":"run|ingest|transform","years":[2022]}
//	GET    /api/runs        list runs, newest first (?status=running&limit=20)
//	GET    /api/runs/{id}   state of one run
//	DELETE /api/runs/{id}   cancel an active run
//	GET    /api/health      liveness plus dependency checks
//
// Progress of every run is pushed over the WebSocket endpoint as
// run:snapshot events.
package http
