package sparkapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, cfg Config) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	return NewClient(cfg, nil), srv
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func completedApp(id, user string) Application {
	return Application{
		ID:   id,
		Name: id,
		Attempts: []ApplicationAttempt{
			{AttemptID: "1", SparkUser: user, Completed: true},
		},
	}
}

func TestCheckVersion(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, VersionInfo{Spark: "3.4.1"})
	})
	client, _ := newTestClient(t, handler, Config{})

	version, err := client.CheckVersion(context.Background(), []string{"3.3.0", "3.4.1"})
	require.NoError(t, err)
	assert.Equal(t, "3.4.1", version)

	_, err = client.CheckVersion(context.Background(), []string{"3.5.0"})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestListApplications_Filters(t *testing.T) {
	apps := []Application{
		completedApp("app-1", "alice"),
		completedApp("app-2", "bob"),
		{ID: "app-3", Attempts: []ApplicationAttempt{{SparkUser: "alice"}}}, // not completed
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "completed", r.URL.Query().Get("status"))
		writeJSON(t, w, apps)
	})
	client, _ := newTestClient(t, handler, Config{})

	got, err := client.ListApplications(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Len(t, got, 2, "incomplete applications are dropped")

	got, err = client.ListApplications(context.Background(), 0, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "app-1", got[0].ID)
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(t, w, VersionInfo{Spark: "3.4.1"})
	})
	client, _ := newTestClient(t, handler, Config{MaxRetries: 5})

	version, err := client.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.4.1", version)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_NotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	})
	client, _ := newTestClient(t, handler, Config{MaxRetries: 5})

	_, err := client.Stages(context.Background(), "app-x", "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestGet_BoundedConcurrency(t *testing.T) {
	const budget = 3

	var inFlight, peak atomic.Int32
	var mu sync.Mutex
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		mu.Lock()
		if cur > peak.Load() {
			peak.Store(cur)
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		writeJSON(t, w, []Stage{})
	})
	client, _ := newTestClient(t, handler, Config{MaxConcurrency: budget})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.Stages(context.Background(), fmt.Sprintf("app-%d", i), "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(budget), "in-flight requests must never exceed the budget")
	assert.Positive(t, peak.Load())
}

func TestAllTasks_Pages(t *testing.T) {
	// 1200 tasks across three pages of 500.
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		length, _ := strconv.Atoi(r.URL.Query().Get("length"))

		var page []Task
		for i := offset; i < offset+length && i < 1200; i++ {
			page = append(page, Task{TaskID: int64(i)})
		}
		writeJSON(t, w, page)
	})
	client, _ := newTestClient(t, handler, Config{})

	tasks, err := client.AllTasks(context.Background(), "app-1", "1", 0, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1200)
	assert.Equal(t, int64(0), tasks[0].TaskID)
	assert.Equal(t, int64(1199), tasks[1199].TaskID)
}

func TestAppPath(t *testing.T) {
	assert.Equal(t, "app-1/2", appPath("app-1", "2"))
	assert.Equal(t, "app-1", appPath("app-1", ""))
}
