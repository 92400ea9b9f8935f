package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: exitOK},
		{name: "coded", err: withCode(exitDB, errors.New("down")), want: exitDB},
		{name: "wrapped coded", err: fmt.Errorf("run: %w", withCode(exitConfig, errors.New("bad"))), want: exitConfig},
		{name: "unknown job", err: fmt.Errorf("job x: %w", models.ErrJobNotFound), want: exitUsage},
		{name: "wrong state", err: service.ErrInvalidTransition, want: exitUsage},
		{name: "job failure", err: errors.New("boom"), want: exitJob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestReadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("statuses:\n  1: {action: map, mappedTo: 4}\n"), 0o644))
	jsonPath := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"statuses": {"1": {"action": "map", "mappedTo": 4}}}`), 0o644))

	for _, path := range []string{yamlPath, jsonPath} {
		raw, err := readConfigFile(path)
		require.NoError(t, err, path)
		d, ok := mapping.Normalize(raw).Get(mapping.Statuses, 1)
		require.True(t, ok, path)
		assert.Equal(t, mapping.MapTo{TargetID: 4}, d, path)
	}

	_, err := readConfigFile(filepath.Join(dir, "absent.yaml"))
	assert.Equal(t, exitUsage, ExitCode(err))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("statuses: [\n"), 0o644))
	_, err = readConfigFile(bad)
	assert.Equal(t, exitConfig, ExitCode(err))
}

func TestWriteConfigDropsEmptyTables(t *testing.T) {
	cfg := mapping.New()
	cfg.Set(mapping.Tags, 3, mapping.MapTo{TargetID: 9})

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, cfg))
	assert.Contains(t, buf.String(), "tags:")
	assert.NotContains(t, buf.String(), "statuses:")
}

func TestByteSize(t *testing.T) {
	assert.Equal(t, "512 B", byteSize(512))
	assert.Equal(t, "1.5 KiB", byteSize(1536))
	assert.Equal(t, "2.0 MiB", byteSize(2<<20))
}

func TestJobProgress(t *testing.T) {
	pct, counts := jobProgress(&models.ImportJob{
		Phase:   models.PhaseAnalyzing,
		Analyze: &models.AnalyzeProgress{BytesRead: 1024, TotalBytes: 4096, Percentage: 25},
	})
	assert.InDelta(t, 0.25, pct, 0.0001)
	assert.Equal(t, "1.0 KiB / 4.0 KiB", counts)

	eta := 90.0
	pct, counts = jobProgress(&models.ImportJob{
		Phase:                  models.PhaseImporting,
		ProcessedCount:         50,
		TotalCount:             200,
		EstimatedTimeRemaining: &eta,
	})
	assert.InDelta(t, 0.25, pct, 0.0001)
	assert.Equal(t, "50/200 ETA 1m30s", counts)
}

func TestPrintJob(t *testing.T) {
	src := int64(7)
	msg := "unresolved status_id"
	started := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	job := &models.ImportJob{
		ID:             "abc123",
		FileKey:        "exports/acme.json",
		Phase:          models.PhaseImporting,
		Status:         models.StatusFailed,
		ProcessedCount: 10,
		TotalCount:     20,
		Error:          &msg,
		StartedAt:      &started,
		CompletedAt:    &completed,
		EntityProgress: map[string]models.EntityProgress{"runs": {Total: 5, Created: 4, Mapped: 1}},
		ActivityLog: []models.ActivityEntry{
			{Level: "info", Message: "first"},
			{Level: "warn", Entity: "results", SourceID: &src, Message: "skipped"},
		},
	}

	var buf bytes.Buffer
	printJob(&buf, job, 1)
	out := buf.String()
	assert.Contains(t, out, "Job: abc123")
	assert.Contains(t, out, "Progress: 10/20")
	assert.Contains(t, out, "Duration: 1m30s")
	assert.Contains(t, out, "Error: unresolved status_id")
	assert.Contains(t, out, "runs")
	assert.Contains(t, out, "results 7: skipped")
	assert.NotContains(t, out, "first")
}

func TestSettled(t *testing.T) {
	assert.True(t, settled(&models.ImportJob{Status: models.StatusReady}))
	assert.True(t, settled(&models.ImportJob{Status: models.StatusCanceled}))
	assert.False(t, settled(&models.ImportJob{Status: models.StatusRunning}))
	assert.False(t, settled(&models.ImportJob{Status: models.StatusPending}))
}
