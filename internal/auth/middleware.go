// Package auth authenticates presentation API callers with HS256 bearer tokens.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type contextKey string

const userIDKey contextKey = "authUserID"

// WithUserID returns a copy of ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID retrieves the authenticated subject from context.
func UserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// Middleware rejects requests without a valid bearer token and stores the token
// subject as the user id.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := BearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err)
			return
		}
		subject, err := v.Verify(raw)
		if err != nil {
			unauthorized(c, err)
			return
		}

		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), subject))
		c.Set(string(userIDKey), subject)
		c.Next()
	}
}

// JWTMiddleware builds a Verifier for secret and audience and returns its
// middleware. Without a secret every request is refused.
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	v, err := NewVerifier(secret, audience, 0)
	if err != nil {
		return func(c *gin.Context) {
			unauthorized(c, err)
		}
	}
	return Middleware(v)
}

// unauthorized never echoes parser details back to the caller.
func unauthorized(c *gin.Context, err error) {
	message := err.Error()
	if errors.Is(err, ErrInvalidToken) {
		message = ErrInvalidToken.Error()
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
