// Package images stores one JPEG per detected plate. Artifacts are
// write-once: a plate already on disk is never fetched again.
package images

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/hazyhaar/plates/horosafe"
	"github.com/hazyhaar/plates/platewatch/internal/extract"
)

// Capturer renders an image URL to JPEG bytes.
type Capturer interface {
	CaptureImage(ctx context.Context, url string) ([]byte, error)
}

// FetchError reports a failed image fetch. It is never fatal to a cycle.
type FetchError struct {
	Plate string
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("images: fetch %s for plate %q: %v", e.URL, e.Plate, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

var unsafeChars = regexp.MustCompile(`[<>:"/\\|?*]`)

// Key returns the storage key of a plate: the plate with filesystem-unsafe
// characters removed.
func Key(plate string) string {
	return unsafeChars.ReplaceAllString(plate, "")
}

// Store is a directory of plate images.
type Store struct {
	dir    string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore creates the directory if needed.
func NewStore(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("images: mkdir %s: %w", dir, err)
	}
	s := &Store{dir: dir, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(plate string) (string, error) {
	key := Key(plate)
	if key == "" {
		return "", fmt.Errorf("images: plate %q has no usable characters", plate)
	}
	return horosafe.SafePath(s.dir, key+".jpg")
}

// Lookup returns the artifact path of plate if one is stored.
func (s *Store) Lookup(plate string) (string, bool) {
	p, err := s.path(plate)
	if err != nil {
		return "", false
	}
	if fi, err := os.Stat(p); err != nil || fi.IsDir() {
		return "", false
	}
	return p, true
}

// Fetch materialises the image of req unless it is already stored.
// Returns whether a new artifact was written.
func (s *Store) Fetch(ctx context.Context, c Capturer, req extract.ImageRequest) (bool, error) {
	p, err := s.path(req.Plate)
	if err != nil {
		return false, &FetchError{Plate: req.Plate, URL: req.URL, Err: err}
	}
	if _, err := os.Stat(p); err == nil {
		return false, nil
	}

	data, err := c.CaptureImage(ctx, req.URL)
	if err != nil {
		return false, &FetchError{Plate: req.Plate, URL: req.URL, Err: err}
	}
	if len(data) == 0 {
		return false, &FetchError{Plate: req.Plate, URL: req.URL, Err: fmt.Errorf("empty capture")}
	}
	if err := horosafe.WriteFileAtomic(p, data, 0o644); err != nil {
		return false, &FetchError{Plate: req.Plate, URL: req.URL, Err: err}
	}
	s.logger.Debug("images: stored", "plate", req.Plate, "path", p, "bytes", len(data))
	return true, nil
}
