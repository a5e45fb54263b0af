package web

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ugoodapp/ugood/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// requestInfo is shared between the access logger and the handlers so the
// log line can carry the authenticated user after routing.
type requestInfo struct {
	ID     string
	UserID string
}

type requestInfoKey struct{}

func withRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return info
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// accessLog assigns a request id (reusing a well-formed inbound one) and
// writes one log line per request.
func accessLog(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		info := &requestInfo{ID: id}
		r = r.WithContext(withRequestInfo(r.Context(), info))
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		path := r.Pattern
		if path == "" {
			path = r.URL.Path
		}

		var ev *zerolog.Event
		switch {
		case sw.status >= 500:
			ev = logger.Error()
		case sw.status >= 400:
			ev = logger.Warn()
		default:
			ev = logger.Info()
		}
		ev = ev.Str("request_id", id).
			Str("method", r.Method).
			Str("path", path).
			Int("status", sw.status).
			Int64("duration_ms", time.Since(start).Milliseconds())
		if info.UserID != "" {
			ev = ev.Str("user", logging.UserRef(info.UserID))
		}
		ev.Msg("http request")
	})
}
