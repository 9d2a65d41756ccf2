// Package segment splits input text into ordered, sentence-sized fragments.
package segment

import (
	"strings"
	"unicode"
)

// Mode selects the splitting rule.
type Mode string

const (
	// ModeTerminator closes a fragment after every sentence terminator.
	ModeTerminator Mode = "terminator"
	// ModeBounded closes a fragment after every sentence terminator, and after a
	// soft separator once the fragment has reached MaxLength runes.
	ModeBounded Mode = "bounded"
)

// DefaultMaxLength is the bounded-mode fragment length in runes.
const DefaultMaxLength = 30

// Segment is one fragment of the source text.
type Segment struct {
	Index int
	Text  string
}

// Options configures Split.
type Options struct {
	Mode      Mode
	MaxLength int
}

// DefaultOptions returns bounded splitting at DefaultMaxLength.
func DefaultOptions() Options {
	return Options{Mode: ModeBounded, MaxLength: DefaultMaxLength}
}

func isTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func isSoftSeparator(r rune) bool {
	switch r {
	case '，', ',', '；', ';':
		return true
	}
	return false
}

// Split divides text into trimmed, non-empty segments with contiguous
// zero-based indices. A run without separators is never force-split, so a
// bounded-mode fragment may exceed MaxLength when the run itself does.
func Split(text string, opts Options) []Segment {
	if opts.Mode == "" {
		opts.Mode = ModeBounded
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}

	runes := []rune(text)
	var (
		segments []Segment
		current  strings.Builder
		length   int
	)

	flush := func() {
		fragment := strings.TrimSpace(current.String())
		current.Reset()
		length = 0
		if fragment == "" {
			return
		}
		segments = append(segments, Segment{Index: len(segments), Text: fragment})
	}

	for i, r := range runes {
		current.WriteRune(r)
		if !unicode.IsSpace(r) || length > 0 {
			length++
		}

		switch {
		case isTerminator(r):
			if r == '.' && isDecimalPoint(runes, i) {
				continue
			}
			flush()
		case opts.Mode == ModeBounded && isSoftSeparator(r):
			if length >= opts.MaxLength {
				flush()
			}
		}
	}
	flush()

	return segments
}

// isDecimalPoint reports whether the '.' at i sits between two digits.
func isDecimalPoint(runes []rune, i int) bool {
	return i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
}

// Texts returns the text of each segment in index order.
func Texts(segments []Segment) []string {
	out := make([]string, len(segments))
	for i, s := range segments {
		out[i] = s.Text
	}
	return out
}
