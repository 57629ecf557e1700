// Package imagesource obtains a local image reference from a gallery or a camera.
package imagesource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrCancelled means the user backed out of the picker. It is not a failure.
	ErrCancelled = errors.New("image selection cancelled")
	// ErrPermissionDenied means camera access was refused.
	ErrPermissionDenied = errors.New("camera permission denied")
)

const fileScheme = "file://"

// Handle is an opaque reference to a local image. Holders only get read access.
type Handle struct {
	URI string
}

// NewHandle builds a handle from a bare path or a file:// URI.
func NewHandle(uri string) Handle {
	return Handle{URI: uri}
}

// IsZero reports whether the handle references nothing.
func (h Handle) IsZero() bool {
	return h.URI == ""
}

// Path returns the filesystem path behind the handle.
func (h Handle) Path() string {
	return strings.TrimPrefix(h.URI, fileScheme)
}

// Read loads the image bytes.
func (h Handle) Read() ([]byte, error) {
	if h.IsZero() {
		return nil, errors.New("empty image handle")
	}
	data, err := os.ReadFile(h.Path())
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", h.URI, err)
	}
	return data, nil
}

// Gallery lets the user pick an existing image.
type Gallery interface {
	Pick(ctx context.Context) (string, error)
}

// Camera captures a new image after permission has been granted.
type Camera interface {
	RequestPermission(ctx context.Context) (bool, error)
	Capture(ctx context.Context) (string, error)
}

// Source tracks the image the user currently holds.
type Source struct {
	gallery Gallery
	camera  Camera
	logger  *zap.Logger

	mu      sync.Mutex
	current Handle
}

// NewSource constructs a source. Either backend may be nil when unavailable.
func NewSource(gallery Gallery, camera Camera, logger *zap.Logger) *Source {
	return &Source{gallery: gallery, camera: camera, logger: logger.Named("image_source")}
}

// PickFromGallery selects an image from the gallery. On cancellation the held image is kept.
func (s *Source) PickFromGallery(ctx context.Context) (Handle, error) {
	if s.gallery == nil {
		return Handle{}, errors.New("gallery unavailable")
	}
	uri, err := s.gallery.Pick(ctx)
	if err != nil {
		return Handle{}, err
	}
	return s.hold(uri, "gallery")
}

// CaptureFromCamera asks for camera permission and captures an image.
// A refusal yields ErrPermissionDenied and is never retried here.
func (s *Source) CaptureFromCamera(ctx context.Context) (Handle, error) {
	if s.camera == nil {
		return Handle{}, errors.New("camera unavailable")
	}
	granted, err := s.camera.RequestPermission(ctx)
	if err != nil {
		return Handle{}, err
	}
	if !granted {
		s.logger.Info("camera permission denied")
		return Handle{}, ErrPermissionDenied
	}
	uri, err := s.camera.Capture(ctx)
	if err != nil {
		return Handle{}, err
	}
	return s.hold(uri, "camera")
}

func (s *Source) hold(uri, origin string) (Handle, error) {
	if uri == "" {
		return Handle{}, ErrCancelled
	}
	h := NewHandle(uri)
	s.mu.Lock()
	s.current = h
	s.mu.Unlock()
	s.logger.Debug("image selected", zap.String("origin", origin), zap.String("uri", uri))
	return h, nil
}

// Current returns the held image, if any.
func (s *Source) Current() (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, !s.current.IsZero()
}

// Clear drops the held image so the user can choose again.
func (s *Source) Clear() {
	s.mu.Lock()
	s.current = Handle{}
	s.mu.Unlock()
}
