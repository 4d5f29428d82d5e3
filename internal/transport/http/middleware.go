package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/marketwire/internal/auth"
)

// ContextKeyUserID is the context key for storing the caller's user ID.
const ContextKeyUserID = "user_id"

// Handshake rejection codes.
const (
	codeMissingCredential = "missing_credential"
	codeInvalidSignature  = "invalid_signature"
	codeUnknownSubject    = "unknown_subject"
	codeInternal          = "internal_error"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// bearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter browsers use for WebSocket upgrades.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("token")
}

// authFailure maps a verification error to a status and response body.
func authFailure(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return http.StatusUnauthorized, ErrorResponse{Code: codeMissingCredential, Error: "missing bearer credential"}
	case errors.Is(err, auth.ErrInvalidSignature):
		return http.StatusUnauthorized, ErrorResponse{Code: codeInvalidSignature, Error: "invalid or expired credential"}
	case errors.Is(err, auth.ErrUnknownSubject):
		return http.StatusUnauthorized, ErrorResponse{Code: codeUnknownSubject, Error: "unknown user"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Code: codeInternal, Error: "internal server error"}
	}
}

// AuthMiddleware creates a middleware that verifies bearer credentials.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := authService.Verify(c.Request.Context(), bearerToken(c.Request))
		if err != nil {
			status, body := authFailure(err)
			if auth.IsAuthError(err) {
				logger.Debug().Err(err).Msg("rejected credential")
			} else {
				logger.Error().Err(err).Msg("credential verification failed")
			}
			c.AbortWithStatusJSON(status, body)
			return
		}

		c.Set(ContextKeyUserID, identity.ID)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("http request")
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}
