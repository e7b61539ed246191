// Package api exposes the vitals and patients services over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"vitals-service/internal/models"
	"vitals-service/internal/patients"
	"vitals-service/internal/ranges"
	"vitals-service/internal/service"
	"vitals-service/internal/store"
)

const (
	defaultRange = "last_day"
	version      = "1.0.0"
	dbHint       = "Check your database configuration and ensure the database server is accessible from this application server."
)

// Diagnostics answers the database test endpoints.
type Diagnostics interface {
	ServerTime(ctx context.Context) (string, error)
	Columns(ctx context.Context) ([]string, error)
	Tables(ctx context.Context) ([]string, error)
	Target() string
}

type Config struct {
	AllowedOrigins   []string
	LiveDefaultLimit int
	LiveMaxLimit     int
	RequestTimeout   time.Duration
}

type Server struct {
	router   *mux.Router
	vitals   *service.Service
	patients *patients.Service
	diag     Diagnostics
	cfg      Config
	logger   *slog.Logger
}

func NewServer(vitals *service.Service, pts *patients.Service, diag Diagnostics, cfg Config, logger *slog.Logger) *Server {
	if cfg.LiveDefaultLimit <= 0 {
		cfg.LiveDefaultLimit = 100
	}
	if cfg.LiveMaxLimit <= 0 {
		cfg.LiveMaxLimit = 1000
	}
	if cfg.LiveDefaultLimit > cfg.LiveMaxLimit {
		cfg.LiveDefaultLimit = cfg.LiveMaxLimit
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router:   mux.NewRouter(),
		vitals:   vitals,
		patients: pts,
		diag:     diag,
		cfg:      cfg,
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestID, instrument(s.logger))
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(withTimeout(s.cfg.RequestTimeout))
	}

	s.router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/{metric:vitals|hrv|sv}/live", s.liveHandler).Methods(http.MethodGet)
	api.HandleFunc("/{metric:vitals|hrv|sv|str|rs|hrv-sv}", s.rangeHandler).Methods(http.MethodGet)
	api.HandleFunc("/test/database", s.testDatabaseHandler).Methods(http.MethodGet)
	api.HandleFunc("/test/columns", s.columnsHandler).Methods(http.MethodGet)
	api.HandleFunc("/patients", s.patientsHandler).Methods(http.MethodGet)
	api.HandleFunc("/patients/{id:[0-9]+}", s.patientHandler).Methods(http.MethodGet)
	api.HandleFunc("/cache", s.clearCacheHandler).Methods(http.MethodDelete)
}

// Handler returns the router wrapped with panic recovery, gzip and CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"X-Cache", requestIDHeader},
	})
	h := handlers.CompressHandler(s.router)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.logger}))(h)
	return c.Handler(h)
}

func withTimeout(d time.Duration) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ranges.ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: "Invalid range. Use one of: " + strings.Join(s.vitals.Policy().Keys(), ", ") + ".",
		})
	case errors.Is(err, patients.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Patient not found"})
	case errors.Is(err, service.ErrUnknownMetric):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, service.ErrUpstream):
		s.logger.Error("database error",
			"request_id", RequestIDFrom(r.Context()),
			"target", s.diag.Target(),
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:   "Service Unavailable",
			Details: store.Describe(err, s.diag.Target()),
			Hint:    dbHint,
		})
	default:
		s.logger.Error("request failed", "request_id", RequestIDFrom(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal Server Error"})
	}
}

// upstream marks a store failure outside the vitals service.
func upstream(err error) error {
	return fmt.Errorf("%w: %w", service.ErrUpstream, err)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": models.FormatTimestamp(time.Now()),
		"version":   version,
	}
	status := http.StatusOK
	if err := s.vitals.Ping(r.Context()); err != nil {
		health["status"] = "unhealthy"
		health["database"] = store.Describe(err, s.diag.Target())
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) rangeHandler(w http.ResponseWriter, r *http.Request) {
	metric := strings.ReplaceAll(mux.Vars(r)["metric"], "-", "_")
	rangeKey := r.URL.Query().Get("range")
	if rangeKey == "" {
		rangeKey = defaultRange
	}

	res, err := s.vitals.GetAggregation(r.Context(), metric, rangeKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	cacheState := "MISS"
	if res.Cached {
		cacheState = "HIT"
	}
	w.Header().Set("X-Cache", cacheState)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(res.Body)
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.LiveDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, s.cfg.LiveMaxLimit)
	}

	records, err := s.vitals.Live(r.Context(), mux.Vars(r)["metric"], limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) testDatabaseHandler(w http.ResponseWriter, r *http.Request) {
	now, err := s.diag.ServerTime(r.Context())
	if err != nil {
		s.writeError(w, r, upstream(err))
		return
	}
	tables, err := s.diag.Tables(r.Context())
	if err != nil {
		s.writeError(w, r, upstream(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Database connection successful",
		"serverTime": now,
		"target":     s.diag.Target(),
		"tables":     tables,
	})
}

func (s *Server) columnsHandler(w http.ResponseWriter, r *http.Request) {
	names, err := s.diag.Columns(r.Context())
	if err != nil {
		s.writeError(w, r, upstream(err))
		return
	}
	cols := make([]models.Column, len(names))
	for i, n := range names {
		cols[i] = models.Column{Name: n}
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": cols})
}

func (s *Server) patientsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.patients.Overview(r.Context())
	if err != nil {
		s.writeError(w, r, upstream(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": list})
}

func (s *Server) patientHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid patient id"})
		return
	}
	detail, err := s.patients.Detail(r.Context(), id)
	if err != nil {
		if !errors.Is(err, patients.ErrNotFound) {
			err = upstream(err)
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	s.vitals.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
