// Package blob stores uploaded audio and documents in a local directory and
// resolves them by opaque reference.
package blob

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reference does not resolve to a stored file.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidRef is returned for references that were not issued by Put.
var ErrInvalidRef = errors.New("invalid blob reference")

// ErrTooLarge is returned by Put for content over MaxSize.
var ErrTooLarge = errors.New("blob too large")

// MaxSize is the largest blob Put accepts.
const MaxSize = 32 << 20

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)
	refPattern  = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}_[\p{L}\p{N}._-]+$`)
)

// Dir is a flat directory of blobs.
type Dir struct {
	root string
}

// NewDir creates root if needed and returns a Dir over it.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Put stores the content of r under a new reference derived from filename.
func (d *Dir) Put(filename string, r io.Reader) (string, error) {
	ref := uuid.New().String() + "_" + sanitize(filename)

	f, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating blob: %w", err)
	}
	tmp := f.Name()
	n, err := io.Copy(f, io.LimitReader(r, MaxSize+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > MaxSize {
		err = fmt.Errorf("%w: over %d bytes", ErrTooLarge, MaxSize)
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing blob: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(d.root, ref)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("storing blob: %w", err)
	}
	return ref, nil
}

// Read returns the full content of the blob at ref.
func (d *Dir) Read(ref string) ([]byte, error) {
	path, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Open returns a reader over the blob at ref. The caller closes it.
func (d *Dir) Open(ref string) (io.ReadCloser, error) {
	path, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Name returns the original (sanitized) filename encoded in ref.
func Name(ref string) string {
	if _, name, ok := strings.Cut(ref, "_"); ok {
		return name
	}
	return ref
}

func (d *Dir) path(ref string) (string, error) {
	if !refPattern.MatchString(ref) || strings.Contains(ref, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(d.root, ref), nil
}

func sanitize(filename string) string {
	name := unsafeChars.ReplaceAllString(filepath.Base(filename), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	return name
}
