// Package analysis talks to the remote damage analysis service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/example/damage-check/internal/imagesource"
	"github.com/example/damage-check/internal/logging"
	"github.com/example/damage-check/internal/report"
)

const (
	AnalyzePath = "/analyze"

	uploadField    = "file"
	uploadFileName = "photo.jpg"
	uploadMIMEType = "image/jpeg"

	DefaultTimeout = 60 * time.Second
)

// Client exposes the subset of functionality used by the analysis workflow.
type Client interface {
	Analyze(ctx context.Context, image imagesource.Handle) (*report.Result, error)
}

type attemptKey struct{}

// WithAttemptID tags ctx so client logs and errors carry the attempt identifier.
func WithAttemptID(ctx context.Context, attemptID string) context.Context {
	return context.WithValue(ctx, attemptKey{}, attemptID)
}

func attemptID(ctx context.Context) string {
	id, _ := ctx.Value(attemptKey{}).(string)
	return id
}

// HTTPClient issues multipart uploads to the analysis service.
type HTTPClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithTimeout bounds a whole analyze call, including reading the response body.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// New builds a client for the service at baseURL. Retries are disabled: a failed
// upload is never resent automatically.
func New(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		http: resty.New().
			SetDebug(false).
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetRetryCount(0).
			SetHeader("Accept", "application/json"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("analysis_client")
	return c
}

type vehicleFlag struct {
	IsVehicle *bool           `json:"is_vehicle"`
	Message   json.RawMessage `json:"message"`
}

// wireResponse mirrors the service JSON. Pointers distinguish absent fields.
type wireResponse struct {
	DetectedParts *[]report.Part `json:"detectedParts"`
	LaborCost     float64        `json:"laborCost"`
	TotalCost     float64        `json:"totalCost"`
	Currency      string         `json:"currency"`
	Confidence    float64        `json:"confidence"`
}

// Analyze uploads the image once and classifies the outcome.
func (c *HTTPClient) Analyze(ctx context.Context, image imagesource.Handle) (*report.Result, error) {
	id := attemptID(ctx)
	opLogger := logging.WithOperation(c.logger, "analysis.analyze", id)

	data, err := image.Read()
	if err != nil {
		opLogger.Error("failed to read image", zap.Error(err))
		return nil, logging.NewOperationError("analysis.read_image", id, errors.Join(ErrImageUnreadable, err))
	}

	started := time.Now()
	res, err := c.http.R().
		SetContext(ctx).
		SetMultipartField(uploadField, uploadFileName, uploadMIMEType, bytes.NewReader(data)).
		Post(AnalyzePath)
	if err != nil {
		opLogger.Error("analysis request failed", zap.Error(err))
		return nil, logging.NewOperationError("analysis.analyze", id, &Error{Kind: KindTransport, Err: err})
	}

	opLogger.Info("analysis response received",
		zap.Int("status", res.StatusCode()),
		zap.Int("image_bytes", len(data)),
		zap.Duration("latency", time.Since(started)),
	)

	result, err := interpret(res.StatusCode(), res.IsSuccess(), res.Body())
	if err != nil {
		opLogger.Warn("analysis did not produce a report", zap.Error(err))
		return nil, logging.NewOperationError("analysis.analyze", id, err)
	}
	return result, nil
}

// interpret applies the response rules in order: status, vehicle flag, required fields.
func interpret(status int, success bool, body []byte) (*report.Result, error) {
	if !success {
		return nil, &Error{Kind: KindTransport, StatusCode: status}
	}

	// The flag is decoded on its own so a rejection is recognised whatever
	// the other fields hold.
	var flag vehicleFlag
	if err := json.Unmarshal(body, &flag); err != nil {
		return nil, &Error{Kind: KindMalformed, StatusCode: status, Err: err}
	}
	if flag.IsVehicle != nil && !*flag.IsVehicle {
		var message string
		_ = json.Unmarshal(flag.Message, &message)
		return nil, &Error{Kind: KindNoVehicle, StatusCode: status, Message: message}
	}

	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, &Error{Kind: KindMalformed, StatusCode: status, Err: err}
	}

	if wire.DetectedParts == nil {
		return nil, &Error{Kind: KindMalformed, StatusCode: status, Message: "detectedParts missing"}
	}

	return report.New(*wire.DetectedParts, wire.LaborCost, wire.TotalCost, wire.Currency, wire.Confidence), nil
}
