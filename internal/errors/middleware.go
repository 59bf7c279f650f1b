package errors

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// maxLoggedBody caps how much of a request body is buffered for logging
	maxLoggedBody = 64 * 1024
	// maxBodyAttr caps the logged body attribute
	maxBodyAttr = 500
)

// redactedFields are blanked out of logged JSON bodies at any depth.
var redactedFields = map[string]bool{
	"password":        true,
	"token":           true,
	"secret":          true,
	"api_key":         true,
	"apikey":          true,
	"credentials":     true,
	"service_account": true,
	"dsn":             true,
}

// ErrorMiddleware recovers panics into problem responses and writes one
// access log line per request, leveled by response status.
type ErrorMiddleware struct {
	handler *ErrorHandler
	logger  *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(handler *ErrorHandler, logger *slog.Logger) *ErrorMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorMiddleware{
		handler: handler,
		logger:  logger.With(slog.String("component", "http")),
	}
}

// Handler returns the middleware handler function
func (m *ErrorMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		body := captureBody(r)
		start := time.Now()

		defer func() {
			if rec := recover(); rec != nil {
				m.handler.HandlePanic(ww, r, rec)
			}
			m.logRequest(r, ww, body, time.Since(start))
		}()

		next.ServeHTTP(ww, r)
	})
}

func (m *ErrorMiddleware) logRequest(r *http.Request, ww middleware.WrapResponseWriter, body []byte, elapsed time.Duration) {
	status := ww.Status()
	if status == 0 {
		status = http.StatusOK
	}

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
		slog.Int("bytes", ww.BytesWritten()),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			attrs = append(attrs, slog.String("route", pattern))
		}
		if id := rctx.URLParam("id"); id != "" {
			attrs = append(attrs, slog.String("run_id", id))
		}
	}
	if r.URL.RawQuery != "" {
		attrs = append(attrs, slog.String("query", r.URL.RawQuery))
	}
	if status >= 400 && len(body) > 0 {
		attrs = append(attrs, slog.String("request_body", redactBody(body)))
	}

	m.logger.LogAttrs(r.Context(), statusLevel(status), "http request", attrs...)
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// captureBody buffers small request bodies and rewinds r.Body.
func captureBody(r *http.Request) []byte {
	if r.Body == nil || r.ContentLength <= 0 || r.ContentLength >= maxLoggedBody {
		return nil
	}
	body, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return body
}

// redactBody masks sensitive JSON fields and truncates the result.
// Non-JSON bodies are only truncated.
func redactBody(body []byte) string {
	out := string(body)
	var data interface{}
	if err := json.Unmarshal(body, &data); err == nil {
		if b, err := json.Marshal(redact(data)); err == nil {
			out = string(b)
		}
	}
	if len(out) > maxBodyAttr {
		out = out[:maxBodyAttr] + "..."
	}
	return out
}

func redact(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			if redactedFields[strings.ToLower(k)] {
				t[k] = "[REDACTED]"
				continue
			}
			t[k] = redact(child)
		}
	case []interface{}:
		for i, child := range t {
			t[i] = redact(child)
		}
	}
	return v
}

// RecoveryMiddleware turns panics into a 500 problem response without
// access logging.
func RecoveryMiddleware(handler *ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					handler.HandlePanic(w, r, rec)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
