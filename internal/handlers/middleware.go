package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"soporte_wa/internal/models"
	"soporte_wa/internal/services"

	"github.com/rs/zerolog"
)

type ctxKey int

const claimsKey ctxKey = iota

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// accessLog logs one line per request
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Msg("request")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// authenticate requires a valid bearer token and stores its claims
func authenticate(auth *services.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				fail(w, http.StatusUnauthorized, "authorization header required")
				return
			}
			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				fail(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			claims, err := auth.ValidateToken(token)
			if err != nil {
				fail(w, http.StatusUnauthorized, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// requireAdmin lets only admin tokens through. Must run after authenticate.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdmin(r) {
			fail(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFrom(r *http.Request) *services.JWTClaims {
	c, _ := r.Context().Value(claimsKey).(*services.JWTClaims)
	return c
}

// agentID is the caller's agent id
func agentID(r *http.Request) string {
	if c := claimsFrom(r); c != nil {
		return c.AgentID
	}
	return ""
}

func isAdmin(r *http.Request) bool {
	c := claimsFrom(r)
	return c != nil && c.Role == models.AgentRoleAdmin
}
