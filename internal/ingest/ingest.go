package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/formsense/formsense/pkg/types"
)

// maxLine bounds a single frame line.
const maxLine = 1 << 20

// wireFrame is the on-the-wire shape of one line.
type wireFrame struct {
	Session  string             `json:"session"`
	TsMs     *float64           `json:"ts_ms"`
	Exercise string             `json:"exercise"`
	Metrics  types.Measurements `json:"metrics"`
}

// LineError reports a line that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("ingest: line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

// Decoder reads frames from a JSON-lines stream. It is not safe for
// concurrent use.
type Decoder struct {
	sc     *bufio.Scanner
	stream string
	line   int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Decoder{sc: sc, stream: uuid.NewString()}
}

// Stream returns the session id given to frames without one.
func (d *Decoder) Stream() string { return d.stream }

// Next returns the next frame. It returns io.EOF at the end of the stream.
func (d *Decoder) Next() (types.Frame, error) {
	for d.sc.Scan() {
		d.line++
		line := bytes.TrimSpace(d.sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		f, err := Decode(line, d.stream)
		if err != nil {
			return types.Frame{}, &LineError{Line: d.line, Err: err}
		}
		return f, nil
	}
	if err := d.sc.Err(); err != nil {
		return types.Frame{}, fmt.Errorf("ingest: read: %w", err)
	}
	return types.Frame{}, io.EOF
}

// Decode parses one frame document. Frames without a session get
// defaultSession.
func Decode(line []byte, defaultSession string) (types.Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(line, &w); err != nil {
		return types.Frame{}, err
	}
	if w.TsMs == nil {
		return types.Frame{}, errors.New("ts_ms is required")
	}
	if math.IsNaN(*w.TsMs) || math.IsInf(*w.TsMs, 0) {
		return types.Frame{}, errors.New("ts_ms is not finite")
	}
	f := types.Frame{
		Session:  w.Session,
		At:       time.UnixMicro(int64(math.Round(*w.TsMs * 1000))).UTC(),
		Exercise: w.Exercise,
		Raw:      w.Metrics,
	}
	if f.Session == "" {
		f.Session = defaultSession
	}
	if f.Raw == nil {
		f.Raw = types.Measurements{}
	}
	return f, nil
}

// Each decodes frames from d and calls fn for each one until the stream ends
// or ctx is cancelled. Malformed lines are logged and skipped. It returns the
// number of skipped lines.
func Each(ctx context.Context, d *Decoder, fn func(types.Frame)) (int, error) {
	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return skipped, nil
		}
		f, err := d.Next()
		var lineErr *LineError
		switch {
		case errors.Is(err, io.EOF):
			return skipped, nil
		case errors.As(err, &lineErr):
			skipped++
			slog.Warn("ingest: skipping malformed frame", "line", lineErr.Line, "err", lineErr.Err)
			continue
		case err != nil:
			return skipped, err
		}
		fn(f)
	}
}
