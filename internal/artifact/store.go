// Package artifact owns the on-disk naming scheme for segment and merged audio files.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// IndexWidth is the zero-padded width of segment indices in file names.
const IndexWidth = 4

const maxBaseNameRunes = 128

// ErrInvalidName is returned for base names that cannot be used as file names.
var ErrInvalidName = errors.New("invalid artifact name")

// Audio is one synthesized segment file.
type Audio struct {
	Path         string
	SegmentIndex int
	BaseName     string
	VoiceTag     string
}

// Merged is the final per-request file exposed for download.
type Merged struct {
	BaseName string
	VoiceTag string
	Name     string
	Path     string
	// Empty is set when there was nothing to merge and no file was written.
	Empty bool
}

// Store maps request names onto the segment and output directories.
type Store struct {
	segmentDir string
	outputDir  string
	ext        string
}

func New(segmentDir, outputDir, format string) (*Store, error) {
	if filepath.Clean(segmentDir) == filepath.Clean(outputDir) {
		return nil, fmt.Errorf("output directory must differ from segment directory %q", segmentDir)
	}
	ext := strings.TrimPrefix(strings.ToLower(format), ".")
	if ext == "" {
		return nil, errors.New("artifact format must not be empty")
	}
	return &Store{segmentDir: segmentDir, outputDir: outputDir, ext: ext}, nil
}

// Ensure creates both directories.
func (s *Store) Ensure() error {
	for _, dir := range []string{s.segmentDir, s.outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func (s *Store) SegmentDir() string { return s.segmentDir }
func (s *Store) OutputDir() string  { return s.outputDir }
func (s *Store) Ext() string        { return s.ext }

// ValidateBaseName rejects names that would escape the directories or hide files.
func ValidateBaseName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name must not be empty", ErrInvalidName)
	case utf8.RuneCountInString(name) > maxBaseNameRunes:
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidName, maxBaseNameRunes)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: name must not contain path separators", ErrInvalidName)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: name must not start with a dot", ErrInvalidName)
	}
	return nil
}

func stem(base, voiceTag string) string {
	if voiceTag == "" {
		return base
	}
	return base + "_" + voiceTag
}

// SegmentName is {base}[_{voice}]_{index:04d}.{ext}.
func (s *Store) SegmentName(base, voiceTag string, index int) string {
	return fmt.Sprintf("%s_%0*d.%s", stem(base, voiceTag), IndexWidth, index, s.ext)
}

func (s *Store) SegmentPath(base, voiceTag string, index int) string {
	return filepath.Join(s.segmentDir, s.SegmentName(base, voiceTag, index))
}

// Segment describes the artifact for one segment index.
func (s *Store) Segment(base, voiceTag string, index int) Audio {
	return Audio{
		Path:         s.SegmentPath(base, voiceTag, index),
		SegmentIndex: index,
		BaseName:     base,
		VoiceTag:     voiceTag,
	}
}

// MergedName is {base}[_{voice}].{ext}.
func (s *Store) MergedName(base, voiceTag string) string {
	return stem(base, voiceTag) + "." + s.ext
}

func (s *Store) Merged(base, voiceTag string) Merged {
	name := s.MergedName(base, voiceTag)
	return Merged{
		BaseName: base,
		VoiceTag: voiceTag,
		Name:     name,
		Path:     filepath.Join(s.outputDir, name),
	}
}

// ResolveOutput maps a download name onto the output directory. Names that
// are not plain file names resolve to ErrInvalidName.
func (s *Store) ResolveOutput(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.outputDir, name), nil
}

// ListTransient returns segment-directory files with the store's extension,
// sorted by name.
func (s *Store) ListTransient() ([]string, error) {
	entries, err := os.ReadDir(s.segmentDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list segment dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !s.HasExt(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(s.segmentDir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// HasExt reports whether name carries the store's audio extension.
func (s *Store) HasExt(name string) bool {
	return strings.EqualFold(filepath.Ext(name), "."+s.ext)
}

// WriteAtomic writes data to a hidden temporary file next to path and renames
// it into place. On error path is left as it was and the temporary file is
// removed. The ".part" suffix keeps the temporary file out of ListTransient.
func WriteAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
