// Package httpapi exposes the bus over HTTP with JSON bodies.
//
// Authentication is expected upstream (reverse proxy or tailnet). The
// package also provides Client, which speaks the same API so the CLI can
// drive a remote bus.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/roach88/agentbus/internal/engine"
	"github.com/roach88/agentbus/internal/telemetry"
)

// maxBodyBytes bounds request bodies. It leaves room for a full payload
// plus JSON framing.
const maxBodyBytes = engine.MaxPayloadBytes + 16<<10

// Handlers serves bus operations.
type Handlers struct {
	bus    Bus
	logger zerolog.Logger
}

// NewRouter builds the chi router for bus. /metrics is mounted only when
// telemetry has been initialized.
func NewRouter(bus Bus, logger zerolog.Logger) http.Handler {
	h := &Handlers{bus: bus, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.handleHealth)
	if metrics := telemetry.Handler(); metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.handleRegister)
			r.Get("/", h.handleListSessions)
			r.Delete("/", h.handleUnregisterByClient)
			r.Delete("/{sessionID}", h.handleUnregisterByID)
		})
		r.Get("/channels", h.handleListChannels)
		r.Post("/events", h.handlePublish)
		r.Get("/events", h.handleGetEvents)
		r.Post("/notify", h.handleNotify)
		r.Post("/sweep", h.handleSweep)
	})

	return r
}

// requestLogger logs each request at debug, and failed ones at info.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			ev := logger.Debug()
			if ww.Status() >= http.StatusBadRequest {
				ev = logger.Info()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}

// Server runs the router until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a server for bus listening on addr.
func NewServer(addr string, bus Bus, logger zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(bus, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

// writeJSON writes a successful JSON response.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError maps an engine error to its HTTP status.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	body := errorResponse{Error: err.Error(), Code: "INTERNAL"}
	status := http.StatusInternalServerError

	var ee *engine.Error
	if errors.As(err, &ee) {
		body.Code = string(ee.Code)
		body.Op = ee.Op
		body.Error = ee.Message
		if ee.Err != nil {
			body.Error += ": " + ee.Err.Error()
		}
		status = statusFor(ee.Code)
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("Request failed")
	}
	h.writeJSON(w, status, body)
}

// badRequest reports a malformed request that never reached the engine.
func (h *Handlers) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Code: string(engine.ErrCodeInvalidArgument)})
}

func statusFor(code engine.ErrorCode) int {
	switch code {
	case engine.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case engine.ErrCodeNotFound:
		return http.StatusNotFound
	case engine.ErrCodeConflict:
		return http.StatusConflict
	case engine.ErrCodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. Unknown fields are rejected.
func decode(r *http.Request, w http.ResponseWriter, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
