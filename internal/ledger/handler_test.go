package ledger

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestHandler() http.Handler {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestHandleLevelMissingIdentity(t *testing.T) {
	router := newTestHandler()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/levels", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/levels?variant_id=101&branch_id=1", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleMovementsMissingIdentity(t *testing.T) {
	router := newTestHandler()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/movements", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLevelMissingRecordIsZero(t *testing.T) {
	router := newTestHandler()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/levels?variant_id=101&branch_id=1&batch_number=B-001", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"available":0,"reserved":0}`, rec.Body.String())
}
