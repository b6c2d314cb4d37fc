// Package statussvc implements the read-only, non-authoritative HTTP status
// surface: a liveness probe, which reports a fixed "ok" status and the start
// time without reading the queue, and a pending-liquidations probe derived
// from the priority queue's id snapshot. Modeled on nhbchain's
// services/otc-gateway server's chi middleware stack.
package statussvc

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Divas-Sagta/goquant-liquidation/internal/liqqueue"
)

// Server exposes /healthz, /pending-liquidations, and /metrics.
type Server struct {
	queue     *liqqueue.Queue
	startedAt time.Time
	router    http.Handler
}

// New builds a status Server over queue.
func New(queue *liqqueue.Queue) *Server {
	s := &Server{queue: queue, startedAt: time.Now()}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.health)
	r.Get("/pending-liquidations", s.pendingLiquidations)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

type healthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", StartedAt: s.startedAt})
}

type pendingLiquidationsResponse struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

func (s *Server) pendingLiquidations(w http.ResponseWriter, r *http.Request) {
	ids := s.queue.SnapshotIDs()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	writeJSON(w, http.StatusOK, pendingLiquidationsResponse{Count: len(out), IDs: out})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
