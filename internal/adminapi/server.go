// Package adminapi is a minimal read-only admin query surface: GET /swaps,
// GET /swaps/{id}, GET /health. Modeled on the teacher's net/http.ServeMux
// method-pattern routing and JSON response idiom in internal/rpc, trimmed
// to the read-only shape this relayer actually needs.
package adminapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/health"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

// SwapReader is the slice of *storage.Storage the admin surface reads from.
type SwapReader interface {
	Load(swapID string) (*storage.Swap, error)
	ListByStatus(status *storage.Status, limit int) ([]*storage.Swap, error)
}

// HealthReporter computes the health snapshot GET /health serves.
type HealthReporter interface {
	Report(ctx context.Context) health.Status
}

// Server serves the admin query surface over plain HTTP.
type Server struct {
	repo    SwapReader
	health  HealthReporter
	log     *logging.Logger

	server   *http.Server
	listener net.Listener
}

// New constructs a Server. Call Start to begin serving.
func New(repo SwapReader, reporter HealthReporter) *Server {
	return &Server{
		repo:   repo,
		health: reporter,
		log:    logging.GetDefault().Component("adminapi"),
	}
}

// Start listens on addr and begins serving in a background goroutine.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("GET /swaps", s.handleListSwaps)
	mux.HandleFunc("GET /swaps/{id}", s.handleGetSwap)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.server = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("admin api server error", "error", err)
		}
	}()

	s.log.Info("admin api started", "addr", addr)
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	var status *storage.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := storage.Status(raw)
		status = &st
	}

	limit := 100
	swaps, err := s.repo.ListByStatus(status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, swaps)
}

func (s *Server) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	swap, err := s.repo.Load(id)
	if err != nil {
		if err == storage.ErrSwapNotFound {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, swap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.health.Report(r.Context())
	code := http.StatusOK
	if !st.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// corsMiddleware mirrors the teacher's permissive CORS handling, allowing
// the admin surface to be polled from a browser-based dashboard.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
