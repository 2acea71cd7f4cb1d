// Package shipper delivers reports to an io.Writer as JSON lines.
//
// Shipper.Ship() is non-blocking: reports are placed in an in-memory channel
// (default capacity 1000). When the buffer is full the oldest report is
// evicted so the most recent feedback is always preserved.
//
// Shipper.Run() drains the buffer in a loop. A failed write is retried with
// truncated exponential backoff (starting at output.retry_base, doubling up to
// 30s, ±25% jitter) for at most output.retry_max attempts, after which the
// report is dropped. A report that cannot be encoded is dropped immediately.
// When ctx is cancelled Run flushes what is left in the buffer with one
// attempt per report and returns.
package shipper
