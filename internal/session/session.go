// Package session keeps one analysis workflow per authenticated user.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/damage-check/internal/imagesource"
	"github.com/example/damage-check/internal/logging"
	"github.com/example/damage-check/internal/workflow"
)

// ControllerFactory builds the workflow for a new user. opts must be passed on to
// workflow.NewController; they hand spooled images back to the manager.
type ControllerFactory func(userID string, opts ...workflow.Option) *workflow.Controller

// Manager owns the per-user controllers and the upload spool. A controller is kept
// only while its user has an attempt or an unread outcome; returning to Idle
// through Reset or Abandon drops it.
type Manager struct {
	factory  ControllerFactory
	spoolDir string
	logger   *zap.Logger

	mu          sync.Mutex
	controllers map[string]*workflow.Controller
}

// NewManager constructs a manager that spools uploads under spoolDir.
func NewManager(factory ControllerFactory, spoolDir string, logger *zap.Logger) *Manager {
	return &Manager{
		factory:     factory,
		spoolDir:    spoolDir,
		logger:      logger.Named("session"),
		controllers: make(map[string]*workflow.Controller),
	}
}

func (m *Manager) lookup(userID string) (*workflow.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[userID]
	return c, ok
}

// Submit spools image and confirms it as the user's next attempt.
func (m *Manager) Submit(ctx context.Context, userID string, image []byte, ext string) (string, error) {
	// Checked before touching the disk; Confirm re-checks under the controller lock.
	if c, ok := m.lookup(userID); ok {
		if phase := c.State().Phase; phase.Pending() {
			return "", workflow.ErrAttemptInProgress
		} else if phase.Terminal() {
			return "", workflow.ErrNotIdle
		}
	}

	path, err := m.spool(image, ext)
	if err != nil {
		wrapped := logging.NewOperationError("session.spool_upload", "", err)
		m.logger.Error("failed to spool upload", zap.Error(wrapped), zap.String("user_id", userID))
		return "", wrapped
	}

	// Confirm runs under m.mu so eviction never drops a controller that is
	// about to start an attempt.
	m.mu.Lock()
	c, ok := m.controllers[userID]
	if !ok {
		c = m.factory(userID, workflow.WithImageRelease(m.releaseImage))
		m.controllers[userID] = c
	}
	attemptID, err := c.Confirm(ctx, imagesource.NewHandle(path))
	m.mu.Unlock()
	if err != nil {
		m.remove(path)
		return "", err
	}
	logging.WithOperation(m.logger, "session.submit", attemptID).Info("upload confirmed", zap.String("user_id", userID))
	return attemptID, nil
}

// Current returns the user's workflow state. Users without a controller are Idle.
func (m *Manager) Current(userID string) workflow.State {
	c, ok := m.lookup(userID)
	if !ok {
		return workflow.State{Phase: workflow.Idle}
	}
	return c.State()
}

// Reset discards the user's terminal attempt and its spooled image.
func (m *Manager) Reset(userID string) error {
	c, ok := m.lookup(userID)
	if !ok {
		return nil
	}
	if err := c.Reset(); err != nil {
		return err
	}
	m.evict(userID, c)
	return nil
}

// Abandon stops observing the user's attempt. The spooled image is removed once
// the in-flight call has returned.
func (m *Manager) Abandon(userID string) {
	c, ok := m.lookup(userID)
	if !ok {
		return
	}
	c.Abandon()
	m.evict(userID, c)
}

// Users returns how many users currently hold a controller.
func (m *Manager) Users() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.controllers)
}

func (m *Manager) evict(userID string, c *workflow.Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.controllers[userID] == c && c.State().Phase == workflow.Idle {
		delete(m.controllers, userID)
	}
}

func (m *Manager) releaseImage(image imagesource.Handle) {
	m.remove(image.Path())
}

func (m *Manager) spool(image []byte, ext string) (string, error) {
	if err := os.MkdirAll(m.spoolDir, 0o750); err != nil {
		return "", err
	}
	if ext == "" {
		ext = ".jpg"
	}
	path := filepath.Join(m.spoolDir, uuid.NewString()+ext)
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (m *Manager) remove(path string) {
	if !strings.HasPrefix(path, filepath.Clean(m.spoolDir)+string(filepath.Separator)) {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove spooled image", zap.Error(err), zap.String("path", path))
	}
}
