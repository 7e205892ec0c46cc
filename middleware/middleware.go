package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gorilla/mux"
)

type contextKey int

const (
	userIDKey contextKey = iota
	clientIPKey
)

const (
	// UserIDHeader lets a client name its own session
	UserIDHeader = "X-User-ID"
	// SessionCookie is the fallback identity carrier
	SessionCookie = "session_id"
	// AdminSecretHeader carries the admin secret
	AdminSecretHeader = "X-Admin-Secret"

	maxUserIDLength = 128
)

// IdentityMiddleware resolves who is calling: the X-User-ID header, else the
// session_id cookie, else the client IP.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if id == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				id = strings.TrimSpace(c.Value)
			}
		}
		if id == "" || len(id) > maxUserIDLength {
			id = ip
		}

		ctx := context.WithValue(r.Context(), userIDKey, id)
		ctx = context.WithValue(ctx, clientIPKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the identity IdentityMiddleware resolved, or ""
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// ClientIPFrom returns the client IP IdentityMiddleware resolved, or ""
func ClientIPFrom(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// ClientIP extracts the caller's address, preferring proxy headers
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware limits each client to perSecond requests
func RateLimitMiddleware(perSecond float64) func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(perSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetMessageContentType("application/json; charset=utf-8")
	lmt.SetMessage(`{"error":"Too many requests, slow down"}`)

	return func(next http.Handler) http.Handler {
		return tollbooth.LimitHandler(lmt, next)
	}
}

// AdminMiddleware requires the admin secret in X-Admin-Secret or as a bearer
// token. An empty secret leaves the routes open.
func AdminMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			given := r.Header.Get(AdminSecretHeader)
			if given == "" {
				given = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "Admin secret required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Standard returns the middleware every route runs behind, outermost first.
// Identity wraps logging so the request log sees the resolved user.
func Standard(ratePerSecond float64) []mux.MiddlewareFunc {
	stack := []mux.MiddlewareFunc{IdentityMiddleware, LoggingMiddleware}
	if ratePerSecond > 0 {
		stack = append(stack, RateLimitMiddleware(ratePerSecond))
	}
	return stack
}

// LoggingMiddleware logs API requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		if r.URL.Path == "/health" || r.URL.Path == "/api/health" {
			return
		}

		who := UserID(r.Context())
		if who == "" {
			who = ClientIP(r)
		}
		log.Printf("API Request: %s %s -> %d (user: %s, duration: %v)",
			r.Method, r.URL.Path, wrapped.statusCode, who, time.Since(start).Round(time.Millisecond))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	return rw.ResponseWriter.Write(b)
}
