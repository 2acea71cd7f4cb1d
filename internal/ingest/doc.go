// Package ingest decodes frames from a JSON-lines stream.
//
// Each line is one frame:
//
//	{"session": "s1", "ts_ms": 1712000000123, "exercise": "", "metrics": {"knee_left_deg": 91.5}}
//
// session and exercise are optional. Frames without a session share the
// decoder's stream id, a random UUID generated per Decoder, so independent
// unnamed streams never collide. Blank lines and lines starting with '#' are
// skipped. A malformed line yields a *LineError and decoding continues with
// the next line.
package ingest
