// Package handlers exposes the analysis workflow to a presentation layer over HTTP.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/damage-check/internal/auth"
	"github.com/example/damage-check/internal/workflow"
)

// DefaultMaxUploadSize caps a single image upload.
const DefaultMaxUploadSize = 10 << 20

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/heic": ".heic",
}

// Attempts is the workflow surface the handlers drive.
type Attempts interface {
	Submit(ctx context.Context, userID string, image []byte, ext string) (string, error)
	Current(userID string) workflow.State
	Reset(userID string) error
	Abandon(userID string)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, attempts Attempts, authMiddleware gin.HandlerFunc, maxUploadSize int64) {
	if maxUploadSize <= 0 {
		maxUploadSize = DefaultMaxUploadSize
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group := router.Group("/attempts", authMiddleware)

	group.POST("", func(c *gin.Context) {
		userID, ok := auth.UserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		if c.Request.ContentLength > maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > maxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}

		ext, ok := allowedImageTypes[file.Header.Get("Content-Type")]
		if !ok {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		attemptID, err := attempts.Submit(c.Request.Context(), userID, data, ext)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"attempt_id": attemptID})
	})

	group.GET("/current", func(c *gin.Context) {
		userID, _ := auth.UserID(c.Request.Context())
		c.JSON(http.StatusOK, stateBody(attempts.Current(userID)))
	})

	group.DELETE("/current", func(c *gin.Context) {
		userID, _ := auth.UserID(c.Request.Context())
		if err := attempts.Reset(userID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stateBody(attempts.Current(userID)))
	})

	group.POST("/current/abandon", func(c *gin.Context) {
		userID, _ := auth.UserID(c.Request.Context())
		attempts.Abandon(userID)
		c.JSON(http.StatusOK, stateBody(attempts.Current(userID)))
	})
}

func stateBody(s workflow.State) gin.H {
	body := gin.H{
		"phase":      s.Phase.String(),
		"attempt_id": s.AttemptID,
	}
	if s.Message != "" {
		body["message"] = s.Message
	}
	if s.Result != nil {
		body["report"] = s.Result
	}
	return body
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrAttemptInProgress), errors.Is(err, workflow.ErrNotIdle):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrNoImage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
