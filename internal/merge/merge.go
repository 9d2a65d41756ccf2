// Package merge concatenates segment audio files into one output file.
package merge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-tts/internal/artifact"
	"github.com/loqalabs/loqa-tts/internal/codec"
)

// ErrIncompatible is returned when inputs do not share one stream format.
var ErrIncompatible = errors.New("incompatible audio formats")

// Error reports the input (or output) that made a merge fail.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("merge %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Merger concatenates files of one container format, in the order given.
type Merger struct {
	format string
	logger *slog.Logger
}

func New(format string, log *slog.Logger) *Merger {
	return &Merger{format: format, logger: log.With(slog.String("component", "merger"))}
}

// Merge writes the concatenation of inputs to out.Path. With no inputs nothing
// is written and the returned Merged has Empty set. A failed merge does not
// replace the file at out.Path; a previous merge under the same name survives.
func (m *Merger) Merge(inputs []string, out artifact.Merged) (artifact.Merged, error) {
	if len(inputs) == 0 {
		out.Empty = true
		return out, nil
	}
	start := time.Now()

	var (
		data []byte
		err  error
	)
	switch m.format {
	case "wav":
		data, err = mergeWAV(inputs)
	default:
		data, err = mergeMP3(inputs)
	}
	if err != nil {
		return out, err
	}
	if err := artifact.WriteAtomic(out.Path, data); err != nil {
		return out, &Error{Path: out.Path, Err: err}
	}
	m.logger.Info("merged audio",
		slog.String("output", out.Name),
		slog.Int("inputs", len(inputs)),
		slog.Int("bytes", len(data)),
		slog.Duration("took", time.Since(start)),
	)
	return out, nil
}

func mergeMP3(inputs []string) ([]byte, error) {
	var (
		out   []byte
		first codec.FrameHeader
	)
	for i, path := range inputs {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Path: path, Err: err}
		}
		frames, h, err := codec.InspectMP3(raw)
		if err != nil {
			return nil, &Error{Path: path, Err: err}
		}
		if i == 0 {
			first = h
		} else if !first.SameStream(h) {
			return nil, &Error{Path: path, Err: fmt.Errorf("%w: %s after %s", ErrIncompatible, h, first)}
		}
		out = append(out, frames...)
	}
	return out, nil
}

func mergeWAV(inputs []string) ([]byte, error) {
	var (
		samples []int
		first   codec.WAVFormat
	)
	for i, path := range inputs {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, &Error{Path: path, Err: err}
		}
		buf, format, err := codec.DecodeWAV(raw)
		if err != nil {
			return nil, &Error{Path: path, Err: err}
		}
		if i == 0 {
			first = format
		} else if format != first {
			return nil, &Error{Path: path, Err: fmt.Errorf("%w: %+v after %+v", ErrIncompatible, format, first)}
		}
		samples = append(samples, buf.Data...)
	}
	return codec.WAVBytes(first, samples)
}
