// Package diag records structured diagnostic events emitted while frames are
// processed.
//
// Events flow through the Sink interface so producers never depend on a
// logging backend. Recorder keeps a bounded ring of recent events, queryable
// with Tail independently of the report stream, and counts events per kind
// and severity. WriteMetrics renders those counts in the Prometheus text
// exposition format. SlogSink forwards events to log/slog and Multi fans out
// to several sinks.
package diag
