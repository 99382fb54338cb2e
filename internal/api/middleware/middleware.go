// Package middleware holds the HTTP wrappers shared by every API route:
// request ids, request-scoped logging, CORS, panic recovery and principal
// extraction.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/logger"
)

const (
	// PrincipalHeader carries the caller's user id.
	PrincipalHeader = "X-User-ID"
	// RequestIDHeader is echoed back on every response.
	RequestIDHeader = "X-Request-ID"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so that the first one is outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Logger puts a request-scoped logger into the context and logs one line
// per request once it completes. 5xx responses log at Warn.
func Logger(log zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			fields := log.With().Str("request_id", RequestIDFrom(r.Context()))
			if p, ok := domain.PrincipalFrom(r.Context()); ok {
				fields = fields.Str("principal", p)
			}
			reqLog := fields.Logger()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(logger.WithContext(r.Context(), reqLog)))

			ev := reqLog.Info()
			if sw.status >= http.StatusInternalServerError {
				ev = reqLog.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Int("bytes", sw.written).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}

// CORS allows browser clients on any origin to call the API.
func CORS(next http.Handler) http.Handler {
	allowHeaders := strings.Join([]string{"Content-Type", "Authorization", PrincipalHeader, RequestIDHeader}, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		h.Set("Access-Control-Expose-Headers", RequestIDHeader)
		h.Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Recovery turns a panic into a 500 response.
func Recovery(log zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("request_id", RequestIDFrom(r.Context())).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("Panic recovered")
					WriteError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

// RequestID reuses the caller's X-Request-ID or generates a fresh one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Principal scopes the request to the user named in the X-User-ID header.
// Without it the synchronizer falls back to the configured default user.
func Principal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(PrincipalHeader)); id != "" {
			r = r.WithContext(domain.WithPrincipal(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.written += n
	return n, err
}

// WriteJSON writes data as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
