package extract

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
)

type capturingSnapshots struct {
	mu    sync.Mutex
	paths []string
}

func (s *capturingSnapshots) Save(_ context.Context, path, _ string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths = append(s.paths, path)
	return "mem://" + path, nil
}

func testIdentity() engine.Identity {
	return engine.Identity{Label: "identity-0", UserAgent: "test-agent/1.0"}
}

func TestExecutor_FetchAndParseProduct(t *testing.T) {
	t.Parallel()
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, `<html><body><span id="productTitle">Widget</span></body></html>`)
	}))
	defer srv.Close()

	snaps := &capturingSnapshots{}
	exec := NewExecutor(NewFetcher(), snaps, Config{}, zap.NewNop())

	task := &engine.Task{ID: "t1", Stage: engine.StageProduct, Target: srv.URL + "/dp/B0AAA", Key: "B0AAA"}
	payload, err := exec.Execute(context.Background(), task, testIdentity())
	require.NoError(t, err)
	require.Equal(t, "Widget", payload.Fields["title"])
	require.Equal(t, "test-agent/1.0", gotUA)
	require.Equal(t, []string{"product/B0AAA.html"}, snaps.paths)
}

func TestExecutor_HTTPStatusError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	exec := NewExecutor(NewFetcher(), nil, Config{}, zap.NewNop())
	task := &engine.Task{ID: "t1", Stage: engine.StageProduct, Target: srv.URL + "/dp/B0AAA"}
	_, err := exec.Execute(context.Background(), task, testIdentity())

	var attemptErr *engine.AttemptError
	require.ErrorAs(t, err, &attemptErr)
	require.Equal(t, engine.KindHTTPStatus, attemptErr.Kind)
	require.Equal(t, http.StatusTooManyRequests, attemptErr.StatusCode)
}

func TestExecutor_BlockPageDetected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>Enter the characters you see below</p></body></html>`)
	}))
	defer srv.Close()

	snaps := &capturingSnapshots{}
	exec := NewExecutor(NewFetcher(), snaps, Config{}, zap.NewNop())
	task := &engine.Task{ID: "t1", Stage: engine.StageProduct, Target: srv.URL + "/dp/B0AAA", Key: "B0AAA"}
	_, err := exec.Execute(context.Background(), task, testIdentity())

	var attemptErr *engine.AttemptError
	require.ErrorAs(t, err, &attemptErr)
	require.Equal(t, engine.KindBlocked, attemptErr.Kind)
	// Block pages are not worth archiving.
	require.Empty(t, snaps.paths)
}

func TestExecutor_ConnectionFailure(t *testing.T) {
	t.Parallel()
	// A closed server guarantees a refused connection.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	exec := NewExecutor(NewFetcher(), nil, Config{}, zap.NewNop())
	task := &engine.Task{ID: "t1", Stage: engine.StageProduct, Target: url + "/dp/B0AAA"}
	_, err := exec.Execute(context.Background(), task, testIdentity())

	var attemptErr *engine.AttemptError
	require.ErrorAs(t, err, &attemptErr)
	require.Equal(t, engine.KindConnectionFailed, attemptErr.Kind)
}

func TestSnapshotPath(t *testing.T) {
	t.Parallel()
	require.Equal(t, "product/B0AAA.html",
		snapshotPath(&engine.Task{Stage: engine.StageProduct, Key: "B0AAA"}))
	require.Equal(t, "category/s-k-widgets.html",
		snapshotPath(&engine.Task{Stage: engine.StageCategory, Target: "https://www.example.com/s?k=widgets"}))
}
