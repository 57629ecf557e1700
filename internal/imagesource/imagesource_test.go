package imagesource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubGallery struct {
	uri string
	err error
}

func (s *stubGallery) Pick(ctx context.Context) (string, error) {
	return s.uri, s.err
}

type stubCamera struct {
	granted      bool
	permErr      error
	uri          string
	captureErr   error
	captureCalls int
}

func (s *stubCamera) RequestPermission(ctx context.Context) (bool, error) {
	return s.granted, s.permErr
}

func (s *stubCamera) Capture(ctx context.Context) (string, error) {
	s.captureCalls++
	return s.uri, s.captureErr
}

func TestPickFromGalleryHoldsImage(t *testing.T) {
	src := NewSource(&stubGallery{uri: "file:///tmp/car.jpg"}, nil, zap.NewNop())

	h, err := src.PickFromGallery(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if h.Path() != "/tmp/car.jpg" {
		t.Fatalf("unexpected path: %s", h.Path())
	}
	cur, ok := src.Current()
	if !ok || cur != h {
		t.Fatalf("expected current handle %+v, got %+v (held=%t)", h, cur, ok)
	}
}

func TestCancelledPickKeepsPreviousImage(t *testing.T) {
	gallery := &stubGallery{uri: "/tmp/first.jpg"}
	src := NewSource(gallery, nil, zap.NewNop())
	if _, err := src.PickFromGallery(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	gallery.uri = ""
	if _, err := src.PickFromGallery(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}

	cur, ok := src.Current()
	if !ok || cur.URI != "/tmp/first.jpg" {
		t.Fatalf("expected previous image to be kept, got %+v", cur)
	}
}

func TestCaptureFromCameraPermissionDenied(t *testing.T) {
	camera := &stubCamera{granted: false, uri: "/tmp/never.jpg"}
	src := NewSource(nil, camera, zap.NewNop())

	_, err := src.CaptureFromCamera(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if camera.captureCalls != 0 {
		t.Fatalf("expected no capture without permission, got %d", camera.captureCalls)
	}
	if _, ok := src.Current(); ok {
		t.Fatal("expected no image to be held")
	}
}

func TestCaptureFromCameraGranted(t *testing.T) {
	src := NewSource(nil, &stubCamera{granted: true, uri: "/tmp/shot.jpg"}, zap.NewNop())

	h, err := src.CaptureFromCamera(context.Background())
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if h.URI != "/tmp/shot.jpg" {
		t.Fatalf("unexpected handle: %+v", h)
	}
}

func TestClearDropsImage(t *testing.T) {
	src := NewSource(&stubGallery{uri: "/tmp/car.jpg"}, nil, zap.NewNop())
	if _, err := src.PickFromGallery(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	src.Clear()
	if _, ok := src.Current(); ok {
		t.Fatal("expected image to be cleared")
	}
}

func TestHandleReadStripsScheme(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "car.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	data, err := NewHandle("file://" + path).Read()
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected data: %q", data)
	}

	if _, err := (Handle{}).Read(); err == nil {
		t.Fatal("expected error for empty handle")
	}
}

func TestSpoolCameraPicksNewestJPEG(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "older.jpg")
	newer := filepath.Join(dir, "newer.JPEG")
	for _, p := range []string{older, newer, filepath.Join(dir, "notes.txt")} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	camera := SpoolCamera{Dir: dir}
	granted, err := camera.RequestPermission(context.Background())
	if err != nil || !granted {
		t.Fatalf("expected permission, got %t (%v)", granted, err)
	}
	uri, err := camera.Capture(context.Background())
	if err != nil {
		t.Fatalf("expected capture, got %v", err)
	}
	if uri != "file://"+newer {
		t.Fatalf("expected newest capture, got %s", uri)
	}
}

func TestSpoolCameraEmptyIsCancelled(t *testing.T) {
	_, err := SpoolCamera{Dir: t.TempDir()}.Capture(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestFileGalleryEmptyPathIsCancelled(t *testing.T) {
	_, err := FileGallery{}.Pick(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}
