package imagesource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileGallery "picks" a fixed path, typically given on the command line.
// An empty path behaves like a user backing out of the picker.
type FileGallery struct {
	Path string
}

func (g FileGallery) Pick(ctx context.Context) (string, error) {
	if g.Path == "" {
		return "", ErrCancelled
	}
	info, err := os.Stat(strings.TrimPrefix(g.Path, fileScheme))
	if err != nil {
		return "", fmt.Errorf("open gallery image: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("gallery image %s is a directory", g.Path)
	}
	return g.Path, nil
}

// SpoolCamera reads captures that a device drops into a directory.
// Permission is granted when the directory is readable.
type SpoolCamera struct {
	Dir string
}

func (c SpoolCamera) RequestPermission(ctx context.Context) (bool, error) {
	if c.Dir == "" {
		return false, nil
	}
	f, err := os.Open(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("capture directory: %w", err)
		}
		return false, nil
	}
	f.Close()
	return true, nil
}

// Capture returns the newest JPEG in the spool directory. An empty spool counts as cancelled.
func (c SpoolCamera) Capture(ctx context.Context) (string, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return "", fmt.Errorf("read capture directory: %w", err)
	}

	var (
		newest  string
		newestT int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isJPEG(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if t := info.ModTime().UnixNano(); newest == "" || t > newestT {
			newest, newestT = entry.Name(), t
		}
	}
	if newest == "" {
		return "", ErrCancelled
	}
	return fileScheme + filepath.Join(c.Dir, newest), nil
}

func isJPEG(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}
