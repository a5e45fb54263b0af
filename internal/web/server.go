package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/ugoodapp/ugood/internal/audio"
	"github.com/ugoodapp/ugood/internal/auth"
	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/metrics"
	"github.com/ugoodapp/ugood/internal/store"
)

// Deps are the collaborators the HTTP API is built from.
type Deps struct {
	Store    store.Store
	Config   *config.Config
	Verifier *auth.Verifier
	Logger   zerolog.Logger

	// Metrics defaults to a no-op recorder
	Metrics metrics.Recorder

	// Audio is optional; without it the upload and playback routes answer 503
	Audio *audio.Presigner

	Version string
}

// NewHandler builds the routed, middleware-wrapped API handler.
func NewHandler(d Deps) (http.Handler, error) {
	if d.Store == nil || d.Config == nil {
		return nil, fmt.Errorf("web: store and config are required")
	}
	if d.Verifier == nil {
		return nil, fmt.Errorf("web: a token verifier is required (set auth.jwt_secret)")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New(config.MetricsConfig{})
	}

	h := &Handlers{
		store:   d.Store,
		cfg:     d.Config,
		logger:  d.Logger,
		metrics: d.Metrics,
		audio:   d.Audio,
		version: d.Version,
	}
	authed := auth.Middleware(d.Verifier, h.renderError)

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", h.HandleDocs)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	if mh := d.Metrics.Handler(); mh != nil {
		mux.Handle("GET /metrics", mh)
	}

	mux.Handle("POST /v1/troubles", authed(http.HandlerFunc(h.HandleShareTrouble)))
	mux.Handle("GET /v1/troubles", authed(http.HandlerFunc(h.HandleTroubleHistory)))
	mux.Handle("PUT /v1/troubles/{id}", authed(http.HandlerFunc(h.HandleEditTrouble)))
	mux.Handle("POST /v1/matches", authed(http.HandlerFunc(h.HandleFindMatch)))
	mux.Handle("GET /v1/matches/current", authed(http.HandlerFunc(h.HandleCurrentMatch)))
	mux.Handle("GET /v1/matches/incoming", authed(http.HandlerFunc(h.HandleMatchInbox)))
	mux.Handle("POST /v1/matches/{id}/blessings", authed(http.HandlerFunc(h.HandleRecordBlessing)))
	mux.Handle("GET /v1/blessings", authed(http.HandlerFunc(h.HandleBlessingInbox)))
	mux.Handle("GET /v1/blessings/{id}/audio-url", authed(http.HandlerFunc(h.HandleBlessingAudio)))
	mux.Handle("POST /v1/audio/upload-url", authed(http.HandlerFunc(h.HandleUploadURL)))

	// metrics.Middleware must sit directly on the mux: it reads r.Pattern
	// after routing, which only works on the request the mux was handed.
	var handler http.Handler = metrics.Middleware(d.Metrics, mux)
	handler = securityHeaders(handler)
	if origins := d.Config.HTTP.CORSOrigins; len(origins) > 0 {
		handler = corsHandler(origins).Handler(handler)
	}
	handler = accessLog(d.Logger, handler)

	return handler, nil
}

// NewServer creates the HTTP server for the UGood API.
func NewServer(d Deps) (*http.Server, error) {
	handler, err := NewHandler(d)
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", d.Config.HTTP.Bind, d.Config.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

// corsHandler allows the configured web origins to call the API.
// cors treats an empty origin list as "*", so callers skip it when none are set.
func corsHandler(origins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         600,
	})
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, srv *http.Server, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info().Str("addr", srv.Addr).Msg("ugood API listening")

	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, "[::]") || strings.HasPrefix(srv.Addr, ":") {
		logger.Warn().Msg("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
