// Package server exposes the operational HTTP endpoints: metrics, health,
// lookup cache status and active totals.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/mevdschee/stockbatch/cache"
	"github.com/mevdschee/stockbatch/metrics"
	"github.com/mevdschee/stockbatch/persistence"
)

// Server serves the operational endpoints
type Server struct {
	router *chi.Mux
	store  *persistence.Manager
	caches *cache.Registry
	tables map[string]bool // tables that may be counted
	server *http.Server
}

// New creates a server. Totals are only reported for the given tables.
func New(store *persistence.Manager, caches *cache.Registry, tables []string) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	s := &Server{
		router: router,
		store:  store,
		caches: caches,
		tables: make(map[string]bool, len(tables)),
	}
	for _, t := range tables {
		s.tables[t] = true
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", metrics.Handler())
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/caches", s.handleCaches)
	s.router.Get("/totals/{table}", s.handleTotals)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Stop is called
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	log.Printf("[HTTP] Listening on %s", addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type healthResponse struct {
	Status   string          `json:"status"`
	Primary  string          `json:"primary"`
	Replicas map[string]bool `json:"replicas"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	pool := s.store.Pool()
	resp := healthResponse{
		Status:   "ok",
		Primary:  "ok",
		Replicas: pool.Status(),
	}
	code := http.StatusOK
	if err := pool.PingPrimary(r.Context()); err != nil {
		resp.Status = "unavailable"
		resp.Primary = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleCaches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.caches.Statuses())
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !s.tables[table] {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown table " + table})
		return
	}

	total, err := s.store.CountActive(r.Context(), nil, table)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "active": total})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}
