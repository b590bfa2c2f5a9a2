package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klingon-tech/htlc-relayer/internal/health"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
)

type fakeRepo struct {
	swaps map[string]*storage.Swap
}

func (f *fakeRepo) Load(swapID string) (*storage.Swap, error) {
	sw, ok := f.swaps[swapID]
	if !ok {
		return nil, storage.ErrSwapNotFound
	}
	return sw, nil
}

func (f *fakeRepo) ListByStatus(status *storage.Status, limit int) ([]*storage.Swap, error) {
	var out []*storage.Swap
	for _, sw := range f.swaps {
		out = append(out, sw)
	}
	return out, nil
}

type fakeHealth struct{ st health.Status }

func (f *fakeHealth) Report(ctx context.Context) health.Status { return f.st }

func newTestServer(repo *fakeRepo, h *fakeHealth) *Server {
	return New(repo, h)
}

func TestHandleGetSwapFound(t *testing.T) {
	repo := &fakeRepo{swaps: map[string]*storage.Swap{"swap1": {SwapID: "swap1"}}}
	s := newTestServer(repo, &fakeHealth{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /swaps/{id}", s.handleGetSwap)

	req := httptest.NewRequest(http.MethodGet, "/swaps/swap1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetSwapNotFound(t *testing.T) {
	repo := &fakeRepo{swaps: map[string]*storage.Swap{}}
	s := newTestServer(repo, &fakeHealth{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /swaps/{id}", s.handleGetSwap)

	req := httptest.NewRequest(http.MethodGet, "/swaps/missing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListSwaps(t *testing.T) {
	repo := &fakeRepo{swaps: map[string]*storage.Swap{
		"swap1": {SwapID: "swap1"},
		"swap2": {SwapID: "swap2"},
	}}
	s := newTestServer(repo, &fakeHealth{})

	req := httptest.NewRequest(http.MethodGet, "/swaps", nil)
	rec := httptest.NewRecorder()
	s.handleListSwaps(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealthUnhealthy(t *testing.T) {
	s := newTestServer(&fakeRepo{swaps: map[string]*storage.Swap{}}, &fakeHealth{st: health.Status{Healthy: false}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleHealthHealthy(t *testing.T) {
	s := newTestServer(&fakeRepo{swaps: map[string]*storage.Swap{}}, &fakeHealth{st: health.Status{Healthy: true}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
