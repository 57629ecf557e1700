package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// NewDevelopmentLogger builds a human readable logger for interactive CLI runs.
func NewDevelopmentLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and attempt identifiers.
func WithOperation(logger *zap.Logger, operation, attemptID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if attemptID != "" {
		fields = append(fields, zap.String("attempt_id", attemptID))
	}
	return logger.With(fields...)
}
