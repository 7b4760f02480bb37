// Package middleware contains the HTTP middleware chain applied to every route.
package middleware

import (
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// Chain returns the standard stack in order: request id, access log, panic
// recovery, CORS, then the handler timeout.
func Chain(log *zerolog.Logger, allowedOrigins []string, timeout time.Duration) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		RequestID,
		Logger(log),
		chimw.Recoverer,
		CORS(allowedOrigins),
		chimw.Timeout(timeout),
	}
}

// RequestIDFrom returns the request id stored in ctx, if any.
var RequestIDFrom = chimw.GetReqID

// RequestID assigns a request id, reusing an inbound one when present, and
// echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RequestIDHeader, chimw.GetReqID(r.Context()))
		next.ServeHTTP(w, r)
	}))
}

// Logger writes one zerolog access line per request. Panics caught by
// chimw.Recoverer further down the chain are logged through the same entry.
func Logger(log *zerolog.Logger) func(http.Handler) http.Handler {
	return chimw.RequestLogger(&accessLog{log: log})
}

type accessLog struct {
	log *zerolog.Logger
}

func (f *accessLog) NewLogEntry(r *http.Request) chimw.LogEntry {
	return &accessEntry{
		log:       f.log,
		requestID: chimw.GetReqID(r.Context()),
		method:    r.Method,
		path:      r.URL.Path,
	}
}

type accessEntry struct {
	log       *zerolog.Logger
	requestID string
	method    string
	path      string
}

func (e *accessEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	if status == 0 {
		status = http.StatusOK
	}
	evt := e.log.Info()
	if status >= 500 {
		evt = e.log.Error()
	} else if status >= 400 {
		evt = e.log.Warn()
	}
	evt.
		Str("request_id", e.requestID).
		Str("method", e.method).
		Str("path", e.path).
		Int("status", status).
		Int("bytes", bytes).
		Dur("duration", elapsed).
		Msg("HTTP request")
}

func (e *accessEntry) Panic(v interface{}, stack []byte) {
	e.log.Error().
		Interface("panic", v).
		Str("request_id", e.requestID).
		Bytes("stack", stack).
		Msg("Recovered from panic")
}

// CORS allows the configured origins. An empty list or "*" allows any origin,
// in which case credentials are never allowed.
func CORS(allowed []string) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(allowed))
	allowAll := len(allowed) == 0
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			origins = append(origins, o)
		}
	}
	if allowAll {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: !allowAll,
		MaxAge:           300,
	})
}
