// Package api implements the formsense REST API.
//
// Routes (all under /api/v1/):
//
//	GET    /health                   library version, session and event totals
//	GET    /exercises                every exercise in the active library
//	GET    /exercises/{id}           one exercise with its criteria
//	POST   /frames                   process one frame, respond with its report
//	GET    /diagnostics?session=&n=  most recent diagnostic events
//	GET    /diagnostics/counts       event totals per kind and severity
//	DELETE /sessions/{id}            drop a session's state
//
// Metrics serves the diagnostic counters in Prometheus text format and is
// mounted separately at /metrics.
//
// All responses are JSON. Errors use {"error": "..."}.
package api
