// Package imagestore manages the local image directories holding original
// and annotated prediction images, keyed by prediction uid.
package imagestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tphakala/yolo-go/internal/conf"
)

// Image type names used in paths and the retrieval API.
const (
	TypeOriginal  = "original"
	TypePredicted = "predicted"
)

// ErrInvalidType is returned for image types other than original/predicted.
var ErrInvalidType = errors.New("invalid image type")

// ErrFileNotFound is returned when the requested image file does not exist.
var ErrFileNotFound = errors.New("image file not found")

// safeFilenamePattern defines the acceptable characters for filenames
var safeFilenamePattern = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)

// Store resolves and validates paths under the local image directories.
// Paths are partitioned by prediction uid, so concurrent writers never
// collide.
type Store struct {
	originalDir  string
	predictedDir string
}

// New creates the image directories if needed and returns the store.
func New(settings *conf.Settings) (*Store, error) {
	s := &Store{
		originalDir:  settings.Uploads.OriginalPath,
		predictedDir: settings.Uploads.PredictedPath,
	}
	for _, dir := range []string{s.originalDir, s.predictedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating image directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// OriginalPath returns the local path for an input image.
func (s *Store) OriginalPath(uid, ext string) string {
	return filepath.Join(s.originalDir, uid+ext)
}

// PredictedPath returns the local path for an annotated image.
func (s *Store) PredictedPath(uid, ext string) string {
	return filepath.Join(s.predictedDir, uid+ext)
}

// Dir returns the directory backing an image type, or ErrInvalidType.
func (s *Store) Dir(imageType string) (string, error) {
	switch imageType {
	case TypeOriginal:
		return s.originalDir, nil
	case TypePredicted:
		return s.predictedDir, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidType, imageType)
	}
}

// Resolve validates the image type and filename and returns the full path
// of an existing file. The filename must not contain path separators or
// traversal sequences.
func (s *Store) Resolve(imageType, filename string) (string, error) {
	dir, err := s.Dir(imageType)
	if err != nil {
		return "", err
	}

	if filename == "" || !safeFilenamePattern.MatchString(filename) {
		return "", fmt.Errorf("invalid filename %q", filename)
	}
	// Sanitize against traversal even though the pattern forbids separators
	filename = filepath.Base(filename)

	fullPath := filepath.Join(dir, filename)
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, filename)
		}
		return "", fmt.Errorf("checking image file %s: %w", fullPath, err)
	}
	return fullPath, nil
}
