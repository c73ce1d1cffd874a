package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aperture-photos/aperture/internal/apperror"
	"github.com/aperture-photos/aperture/internal/finalize"
	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/metrics"
)

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware validates the bearer JWT and resolves the caller identity.
// Privilege comes from the "privileged" claim; downstream code reads the
// snapshot from the request context, never the token.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apperror.WriteJSON(w, r, apperror.ErrUnauthenticated)
				return
			}

			tokenString := extractBearerToken(authHeader)
			if tokenString == "" {
				apperror.WriteJSON(w, r, apperror.ErrUnauthenticated)
				return
			}

			token, err := parseToken(tokenString, jwtSecret)
			if err != nil || !token.Valid {
				apperror.WriteJSON(w, r, apperror.ErrUnauthenticated)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				apperror.WriteJSON(w, r, apperror.ErrUnauthenticated)
				return
			}

			sub, ok := claims["sub"].(string)
			if !ok || sub == "" {
				apperror.WriteJSON(w, r, apperror.ErrUnauthenticated)
				return
			}

			privileged, _ := claims["privileged"].(bool)

			ctx := context.WithValue(r.Context(), identityKey, finalize.Identity{
				UploaderID: sub,
				Privileged: privileged,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetIdentity(ctx context.Context) (finalize.Identity, bool) {
	id, ok := ctx.Value(identityKey).(finalize.Identity)
	return id, ok
}

func parseToken(tokenString, secret string) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Only HMAC algorithms are accepted, to prevent algorithm
		// substitution attacks.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
}

func extractBearerToken(authHeader string) string {
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// RequestID assigns each request an id, carried in the response header and
// every log line for the request.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), requestID)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.FromContext(r.Context()).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

// Recovery converts a panicking handler into a 500 instead of a dead process.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(r.Context()).Error("handler panic",
					"panic", fmt.Sprint(rec),
					"path", r.URL.Path)
				apperror.WriteJSON(w, r, apperror.ErrInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
