// Package workflow drives one damage analysis attempt from image confirmation to a
// terminal state.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/damage-check/internal/analysis"
	"github.com/example/damage-check/internal/imagesource"
	"github.com/example/damage-check/internal/logging"
	"github.com/example/damage-check/internal/report"
)

const (
	NoVehicleMessage = "Üzgünüz, bu fotoğrafta bir araç tespit edemedik. Lütfen aracın net bir fotoğrafını yükleyiniz."
	technicalPrefix  = "Analiz sırasında teknik bir sorun oluştu: "

	DefaultScanPhase = 1500 * time.Millisecond
	subscriberBuffer = 8
)

var (
	ErrAttemptInProgress = errors.New("analysis attempt already in progress")
	ErrNotIdle           = errors.New("previous attempt must be reset first")
	ErrNoImage           = errors.New("no image to analyze")
	ErrNoAttempt         = errors.New("no analysis attempt")
)

// Controller is the only writer of the workflow state.
type Controller struct {
	client    analysis.Client
	logger    *zap.Logger
	scanPhase time.Duration
	newID     func() string
	release   func(imagesource.Handle)

	mu          sync.Mutex
	state       State
	image       imagesource.Handle
	generation  uint64
	subscribers map[int]chan State
	nextSubID   int
}

// Option customises a Controller.
type Option func(*Controller)

// WithScanPhase sets how long an attempt shows Scanning before Analyzing. Zero
// switches to Analyzing as soon as the call is dispatched.
func WithScanPhase(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.scanPhase = d
		}
	}
}

// WithIDGenerator overrides attempt id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithImageRelease registers fn to be called once the controller no longer needs
// an image: after Reset, after Abandon, or when an abandoned call returns. fn runs
// without the controller lock held.
func WithImageRelease(fn func(imagesource.Handle)) Option {
	return func(c *Controller) {
		c.release = fn
	}
}

// NewController constructs a controller in the Idle state.
func NewController(client analysis.Client, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		client:      client,
		logger:      logger.Named("workflow"),
		scanPhase:   DefaultScanPhase,
		newID:       uuid.NewString,
		subscribers: make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Image returns the image of the current attempt, if any.
func (c *Controller) Image() (imagesource.Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image, !c.image.IsZero()
}

// Confirm starts an attempt for image and returns its id. The single analyze call
// runs in the background; ctx values are kept but its cancellation is not, so the
// call completes even if the caller goes away.
func (c *Controller) Confirm(ctx context.Context, image imagesource.Handle) (string, error) {
	if image.IsZero() {
		return "", ErrNoImage
	}

	c.mu.Lock()
	switch {
	case c.state.Phase.Pending():
		pending := c.state.AttemptID
		c.mu.Unlock()
		c.logger.Warn("rejected submission while attempt pending", zap.String("attempt_id", pending))
		return "", ErrAttemptInProgress
	case c.state.Phase.Terminal():
		c.mu.Unlock()
		return "", ErrNotIdle
	}
	c.generation++
	gen := c.generation
	id := c.newID()
	c.image = image
	c.setLocked(State{Phase: Scanning, AttemptID: id})
	c.mu.Unlock()

	logging.WithOperation(c.logger, "workflow.confirm", id).Info("analysis attempt started", zap.String("image", image.URI))

	callCtx := analysis.WithAttemptID(context.WithoutCancel(ctx), id)
	go c.run(callCtx, gen, id, image)
	return id, nil
}

func (c *Controller) run(ctx context.Context, gen uint64, id string, image imagesource.Handle) {
	if c.scanPhase <= 0 {
		c.advance(gen)
	} else {
		timer := time.AfterFunc(c.scanPhase, func() { c.advance(gen) })
		defer timer.Stop()
	}

	result, err := c.client.Analyze(ctx, image)
	if !c.finish(gen, id, result, err) {
		c.releaseImage(image)
	}
}

// advance moves Scanning to Analyzing. The pending call is untouched.
func (c *Controller) advance(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.state.Phase != Scanning {
		return
	}
	c.setLocked(State{Phase: Analyzing, AttemptID: c.state.AttemptID})
}

// finish records the outcome of attempt gen and reports whether it was kept.
func (c *Controller) finish(gen uint64, id string, result *report.Result, err error) bool {
	opLogger := logging.WithOperation(c.logger, "workflow.finish", id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		opLogger.Info("discarding outcome of abandoned attempt", zap.Bool("failed", err != nil))
		return false
	}

	if err == nil && result == nil {
		err = &analysis.Error{Kind: analysis.KindMalformed, Message: "empty result"}
	}

	switch {
	case err == nil:
		if !result.Consistent() {
			opLogger.Warn("report totals do not add up",
				zap.String("discrepancy", result.Discrepancy().String()),
				zap.Float64("total_cost", result.TotalCost()),
			)
		}
		opLogger.Info("analysis complete", zap.Int("parts", len(result.Parts())), zap.Float64("total_cost", result.TotalCost()))
		c.setLocked(State{Phase: Complete, AttemptID: id, Result: result})
	case errors.Is(err, analysis.ErrNoVehicleDetected):
		opLogger.Info("no vehicle detected")
		c.setLocked(State{Phase: NoVehicleDetected, AttemptID: id, Message: NoVehicleMessage})
	default:
		opLogger.Error("analysis failed", zap.Error(err), zap.Stringer("kind", analysis.KindOf(err)))
		c.setLocked(State{Phase: TechnicalError, AttemptID: id, Message: TechnicalMessage(err)})
	}
	return true
}

// Reset starts a new attempt from a terminal state, discarding the report and image.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state.Phase.Pending() {
		c.mu.Unlock()
		return ErrAttemptInProgress
	}
	image := c.image
	c.image = imagesource.Handle{}
	if c.state.Phase != Idle {
		c.setLocked(State{Phase: Idle})
	}
	c.mu.Unlock()

	c.releaseImage(image)
	return nil
}

// Abandon stops observing the current attempt. An in-flight call is left to finish
// and its outcome is dropped; its image is released when the call returns.
func (c *Controller) Abandon() {
	c.mu.Lock()
	pending := c.state.Phase.Pending()
	if pending {
		c.logger.Info("attempt abandoned while pending", zap.String("attempt_id", c.state.AttemptID))
	}
	image := c.image
	c.generation++
	c.image = imagesource.Handle{}
	if c.state.Phase != Idle {
		c.setLocked(State{Phase: Idle})
	}
	c.mu.Unlock()

	if !pending {
		c.releaseImage(image)
	}
}

func (c *Controller) releaseImage(image imagesource.Handle) {
	if c.release == nil || image.IsZero() {
		return
	}
	c.release(image)
}

// Subscribe returns a channel receiving the current state followed by every
// transition. Slow readers lose intermediate states, never the latest one.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	ch := make(chan State, subscriberBuffer)
	ch <- c.state
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subscribers, id)
			close(ch)
		})
	}
}

// Wait blocks until the current attempt reaches a terminal state.
func (c *Controller) Wait(ctx context.Context) (State, error) {
	ch, cancel := c.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return c.State(), ctx.Err()
		case s := <-ch:
			switch {
			case s.Phase.Terminal():
				return s, nil
			case s.Phase == Idle:
				return s, ErrNoAttempt
			}
		}
	}
}

func (c *Controller) setLocked(s State) {
	c.state = s
	for _, ch := range c.subscribers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

// TechnicalMessage is the user facing text for a failure that is not a domain rejection.
func TechnicalMessage(err error) string {
	var aErr *analysis.Error
	switch {
	case errors.As(err, &aErr) && aErr.Kind == analysis.KindTransport && aErr.StatusCode != 0:
		return technicalPrefix + fmt.Sprintf("sunucu durumu %d", aErr.StatusCode)
	case errors.Is(err, analysis.ErrTransport):
		return technicalPrefix + "sunucuya ulaşılamadı"
	case errors.Is(err, analysis.ErrMalformedResponse):
		return technicalPrefix + "sunucu yanıtı beklenen biçimde değil, sunucu sürümü güncel olmayabilir"
	case errors.Is(err, analysis.ErrImageUnreadable):
		return technicalPrefix + "fotoğraf okunamadı"
	default:
		return technicalPrefix + "beklenmeyen hata"
	}
}
