package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/server"
	"github.com/raphaelgruber/tmimport/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	calls []string
	jobs  map[string]*models.ImportJob
	err   error
}

func (f *fakeProcessor) Process(_ context.Context, id string, mode service.Mode) error {
	f.calls = append(f.calls, id+":"+string(mode))
	if f.err != nil {
		return f.err
	}
	if job, ok := f.jobs[id]; ok && mode == service.ModeImport {
		job.Status = models.StatusCompleted
	}
	return nil
}

func (f *fakeProcessor) Job(_ context.Context, id string) (*models.ImportJob, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}
	return job, nil
}

func newServer(t *testing.T, proc server.Processor) (*httptest.Server, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv := httptest.NewServer(server.New(":0", proc, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, &logs
}

func post(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp, out
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, &fakeProcessor{})
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProcess(t *testing.T) {
	proc := &fakeProcessor{jobs: map[string]*models.ImportJob{
		"j1": {ID: "j1", Status: models.StatusReady},
	}}
	srv, logs := newServer(t, proc)

	resp, body := post(t, srv.URL+"/process", `{"job_id": "j1", "mode": "import"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, []string{"j1:import"}, proc.calls)
	assert.Contains(t, logs.String(), "path=/process")
}

func TestProcessErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "bad mode", body: `{"job_id": "j1", "mode": "export"}`, want: http.StatusBadRequest},
		{name: "missing id", body: `{"mode": "analyze"}`, want: http.StatusBadRequest},
		{name: "unknown job", body: `{"job_id": "j1", "mode": "analyze"}`, err: models.ErrJobNotFound, want: http.StatusNotFound},
		{name: "wrong state", body: `{"job_id": "j1", "mode": "import"}`, err: service.ErrInvalidTransition, want: http.StatusConflict},
		{name: "job failed", body: `{"job_id": "j1", "mode": "import"}`, err: fmt.Errorf("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, &fakeProcessor{err: tt.err, jobs: map[string]*models.ImportJob{}})
			resp, body := post(t, srv.URL+"/process", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetJob(t *testing.T) {
	proc := &fakeProcessor{jobs: map[string]*models.ImportJob{
		"j1": {ID: "j1", Status: models.StatusRunning, ProcessedCount: 3, TotalCount: 10},
	}}
	srv, _ := newServer(t, proc)

	resp, err := http.Get(srv.URL + "/jobs/j1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var job models.ImportJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, 3, job.ProcessedCount)

	missing, err := http.Get(srv.URL + "/jobs/nope")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestTruncatedQueryIsLogged(t *testing.T) {
	srv, logs := newServer(t, &fakeProcessor{})
	resp, err := http.Get(srv.URL + "/health?x=" + strings.Repeat("a", 300))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, logs.String(), "...")
}
