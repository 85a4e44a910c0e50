package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/domain"
	apimw "github.com/hamed0406/devicewatch/internal/httpapi/middleware"
)

// maxPauseMinutes caps a timed pause at one week.
const maxPauseMinutes = 7 * 24 * 60

// Controller is the agent surface the API drives.
type Controller interface {
	Status() domain.Status
	PauseAlerts(ctx context.Context, d time.Duration)
	ResumeAlerts(ctx context.Context)
}

type Limits struct {
	PublicRPM, PublicBurst int
	AdminRPM, AdminBurst   int
}

type Server struct {
	Logger   *zap.Logger
	Agent    Controller
	Registry prometheus.Gatherer // nil serves the default registry
}

func NewServer(l *zap.Logger, a Controller, reg prometheus.Gatherer) *Server {
	return &Server{Logger: l, Agent: a, Registry: reg}
}

// Router wires the routes. allowedOrigins empty means any origin.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, lim Limits) http.Handler {
	r := chi.NewRouter()
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.metricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(apimw.RequireAny(keys))

		r.With(apimw.RateLimit(lim.PublicRPM, lim.PublicBurst)).
			Get("/status", s.handleStatus)

		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAdmin(keys), apimw.RateLimit(lim.AdminRPM, lim.AdminBurst))
			r.Post("/alerts/pause", s.handlePause)
			r.Post("/alerts/resume", s.handleResume)
		})
	})
	return r
}

func (s *Server) metricsHandler() http.Handler {
	if s.Registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Agent.Status())
}

type pausePayload struct {
	Minutes *int `json:"minutes"`
}

// handlePause: {"minutes":N} pauses for N minutes; 0, a missing field or
// an empty body pause until resumed.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var p pausePayload
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<12)).Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	minutes := 0
	if p.Minutes != nil {
		minutes = *p.Minutes
	}
	if minutes < 0 || minutes > maxPauseMinutes {
		writeError(w, http.StatusBadRequest, "minutes out of range")
		return
	}

	s.Agent.PauseAlerts(r.Context(), time.Duration(minutes)*time.Minute)
	s.Logger.Info("api_alerts_paused", zap.Int("minutes", minutes))
	writeJSON(w, http.StatusOK, s.Agent.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.Agent.ResumeAlerts(r.Context())
	s.Logger.Info("api_alerts_resumed")
	writeJSON(w, http.StatusOK, s.Agent.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
