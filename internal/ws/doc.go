// Package ws implements the live report stream for formsense.
//
// Hub manages a set of connected WebSocket clients and pushes every report
// published by the pipeline to each of them as it is produced.
//
// New(buffer) creates a Hub.
// Hub.Publish(r) queues a report without blocking; when the queue is full the
// report is dropped for streaming (the output writer still receives it).
// Hub.Run(ctx) drains the queue and broadcasts. It blocks until ctx is
// cancelled, then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends a hello
// message immediately on connect, then streams reports. The optional session
// query parameter restricts the stream to one session.
//
// Message format sent to clients:
//
//	{
//	  "event": "report",
//	  "data":  { /* one frame report */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The endpoint is mounted at /ws/reports.
package ws
