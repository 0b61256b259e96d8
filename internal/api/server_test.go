package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
)

func testServer() *Server {
	rep := engine.NewRunReport(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	rep.Stages[engine.StageProduct] = engine.StageReport{Attempted: 10, Succeeded: 7, FailedPermanent: 3}
	rep.FinalState = engine.RunStageReview
	return NewServer(func() engine.RunReport { return rep }, zap.NewNop())
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	srv := testServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Report(t *testing.T) {
	t.Parallel()
	srv := testServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var rep engine.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	require.Equal(t, engine.RunStageReview, rep.FinalState)
	require.Equal(t, 7, rep.Stages[engine.StageProduct].Succeeded)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	srv := testServer()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}
