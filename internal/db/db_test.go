//go:build integration

package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client
var testContainer testcontainers.Container

// TestMain sets up and tears down the SurrealDB container for all tests.
func TestMain(m *testing.M) {
	// Disable ryuk (cleanup container) as it can cause issues in some environments
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	var err error
	testContainer, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := testContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	// Workaround: testcontainers may return "null" as host in some environments
	if host == "" || host == "null" {
		host = "localhost"
	}
	mappedPort, err := testContainer.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, mappedPort.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	if err := testDB.WipeData(ctx); err != nil {
		log.Fatalf("Failed to wipe test data: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = testContainer.Terminate(ctx)

	os.Exit(code)
}

func stagedRow(job, dataset string, index int, data map[string]any) models.StagingRow {
	return models.StagingRow{JobID: job, Dataset: dataset, RowIndex: index, RowData: data}
}

// =============================================================================
// STAGING TESTS
// =============================================================================

func TestInsertRowsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	job := "job-insert"
	t.Cleanup(func() { _ = testDB.DeleteJobData(ctx, job) })

	rows := []models.StagingRow{
		stagedRow(job, "tags", 0, map[string]any{"id": int64(1), "name": "smoke"}),
		stagedRow(job, "tags", 1, map[string]any{"id": int64(2), "name": "regression"}),
	}
	if err := testDB.InsertRows(ctx, rows); err != nil {
		t.Fatalf("InsertRows failed: %v", err)
	}

	rows[1].RowData["name"] = "nightly"
	if err := testDB.InsertRows(ctx, rows); err != nil {
		t.Fatalf("InsertRows (again) failed: %v", err)
	}

	count, err := testDB.CountRows(ctx, job, "tags")
	if err != nil {
		t.Fatalf("CountRows failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}

	got, err := testDB.ListRows(ctx, job, "tags", -1, 10)
	if err != nil {
		t.Fatalf("ListRows failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].RowIndex != 0 {
		t.Errorf("expected first row index 0, got %d", got[0].RowIndex)
	}
	if got[1].RowData["name"] != "nightly" {
		t.Errorf("expected second row to be overwritten, got %v", got[1].RowData["name"])
	}
}

func TestListRowsPagesInIndexOrder(t *testing.T) {
	ctx := context.Background()
	job := "job-pages"
	t.Cleanup(func() { _ = testDB.DeleteJobData(ctx, job) })

	var rows []models.StagingRow
	for i := 9; i >= 0; i-- {
		rows = append(rows, stagedRow(job, "cases", i, map[string]any{"id": int64(i + 100)}))
	}
	if err := testDB.InsertRows(ctx, rows); err != nil {
		t.Fatalf("InsertRows failed: %v", err)
	}

	first, err := testDB.ListRows(ctx, job, "cases", -1, 4)
	if err != nil {
		t.Fatalf("ListRows failed: %v", err)
	}
	if got := indexes(first); !slices.Equal(got, []int{0, 1, 2, 3}) {
		t.Errorf("first page = %v, want [0 1 2 3]", got)
	}

	rest, err := testDB.ListRows(ctx, job, "cases", 3, 100)
	if err != nil {
		t.Fatalf("ListRows after 3 failed: %v", err)
	}
	if got := indexes(rest); !slices.Equal(got, []int{4, 5, 6, 7, 8, 9}) {
		t.Errorf("second page = %v, want [4 5 6 7 8 9]", got)
	}
}

func TestMarkFailedAndReset(t *testing.T) {
	ctx := context.Background()
	job := "job-failed"
	t.Cleanup(func() { _ = testDB.DeleteJobData(ctx, job) })

	if err := testDB.InsertRows(ctx, []models.StagingRow{
		stagedRow(job, "runs", 0, map[string]any{"id": int64(1)}),
	}); err != nil {
		t.Fatalf("InsertRows failed: %v", err)
	}
	if err := testDB.MarkFailed(ctx, job, "runs", 0, "bad run"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	// Row 7 was never staged; a placeholder is written.
	if err := testDB.MarkFailed(ctx, job, "runs", 7, "unstageable"); err != nil {
		t.Fatalf("MarkFailed (placeholder) failed: %v", err)
	}

	rows, err := testDB.ListRows(ctx, job, "runs", -1, 10)
	if err != nil {
		t.Fatalf("ListRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for _, r := range rows {
		if !r.Failed() || !r.Processed {
			t.Errorf("row %d should be failed and processed, got %+v", r.RowIndex, r)
		}
	}

	n, err := testDB.ResetFailed(ctx, job)
	if err != nil {
		t.Fatalf("ResetFailed failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 reset rows, got %d", n)
	}

	rows, err = testDB.ListRows(ctx, job, "runs", -1, 10)
	if err != nil {
		t.Fatalf("ListRows after reset failed: %v", err)
	}
	for _, r := range rows {
		if r.Failed() || r.Processed {
			t.Errorf("row %d should be pending after reset, got %+v", r.RowIndex, r)
		}
	}
}

func TestMarkProcessed(t *testing.T) {
	ctx := context.Background()
	job := "job-processed"
	t.Cleanup(func() { _ = testDB.DeleteJobData(ctx, job) })

	if err := testDB.InsertRows(ctx, []models.StagingRow{
		stagedRow(job, "users", 0, map[string]any{"id": int64(1)}),
		stagedRow(job, "users", 1, map[string]any{"id": int64(2)}),
	}); err != nil {
		t.Fatalf("InsertRows failed: %v", err)
	}
	if err := testDB.MarkProcessed(ctx, job, "users", []int{1}); err != nil {
		t.Fatalf("MarkProcessed failed: %v", err)
	}

	rows, err := testDB.ListRows(ctx, job, "users", -1, 10)
	if err != nil {
		t.Fatalf("ListRows failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Processed {
		t.Error("row 0 should not be processed")
	}
	if !rows[1].Processed {
		t.Error("row 1 should be processed")
	}
}

func TestUpsertMappings(t *testing.T) {
	ctx := context.Background()
	job := "job-mappings"
	t.Cleanup(func() { _ = testDB.DeleteJobData(ctx, job) })

	if err := testDB.UpsertMappings(ctx, []models.EntityMapping{
		{JobID: job, EntityType: "tags", SourceID: 1, TargetID: 10, TargetType: "tag"},
		{JobID: job, EntityType: "tags", SourceID: 2, TargetID: 20, TargetType: "tag"},
	}); err != nil {
		t.Fatalf("UpsertMappings failed: %v", err)
	}
	if err := testDB.UpsertMappings(ctx, []models.EntityMapping{
		{JobID: job, EntityType: "tags", SourceID: 2, TargetID: 21, TargetType: "tag"},
	}); err != nil {
		t.Fatalf("UpsertMappings (update) failed: %v", err)
	}

	got, err := testDB.ListMappings(ctx, job)
	if err != nil {
		t.Fatalf("ListMappings failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(got))
	}
	if got[0].TargetID != 10 || got[1].TargetID != 21 {
		t.Errorf("unexpected targets %d, %d; want 10, 21", got[0].TargetID, got[1].TargetID)
	}
}

func TestDatasetsRoundTrip(t *testing.T) {
	ctx := context.Background()
	job := "job-datasets"
	t.Cleanup(func() { _ = testDB.DeleteJobData(ctx, job) })

	if err := testDB.SaveDatasets(ctx, []models.Dataset{
		{JobID: job, Name: "tags", RowCount: 3},
		{JobID: job, Name: "repositories", RowCount: 2, FilteredCount: 1},
	}); err != nil {
		t.Fatalf("SaveDatasets failed: %v", err)
	}
	// Saving again replaces rather than duplicates.
	if err := testDB.SaveDatasets(ctx, []models.Dataset{
		{JobID: job, Name: "tags", RowCount: 4},
	}); err != nil {
		t.Fatalf("SaveDatasets (again) failed: %v", err)
	}

	got, err := testDB.ListDatasets(ctx, job)
	if err != nil {
		t.Fatalf("ListDatasets failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(got))
	}
	if got[0].Name != "repositories" || got[0].StagedCount() != 1 {
		t.Errorf("unexpected first dataset %+v", got[0])
	}
	if got[1].RowCount != 4 {
		t.Errorf("expected tags row count 4, got %d", got[1].RowCount)
	}
}

// =============================================================================
// JOB TESTS
// =============================================================================

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := &models.ImportJob{
		ID:        "job-lifecycle",
		FileKey:   "exports/export.json",
		Phase:     models.PhaseAnalyzing,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := testDB.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := testDB.CreateJob(ctx, job); !errors.Is(err, ErrEntityAlreadyExists) {
		t.Errorf("expected ErrEntityAlreadyExists on duplicate create, got %v", err)
	}

	job.Status = models.StatusRunning
	job.ProcessedCount = 42
	if err := testDB.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	got, err := testDB.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != models.StatusRunning {
		t.Errorf("expected status RUNNING, got %s", got.Status)
	}
	if got.ProcessedCount != 42 {
		t.Errorf("expected processed 42, got %d", got.ProcessedCount)
	}
	if got.CancelRequested {
		t.Error("expected no cancel request")
	}

	jobs, err := testDB.ListJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) == 0 {
		t.Error("expected at least one job")
	}
}

func TestCancelSurvivesJobSave(t *testing.T) {
	ctx := context.Background()
	job := &models.ImportJob{
		ID:        "job-cancel",
		FileKey:   "exports/export.json",
		Phase:     models.PhaseImporting,
		Status:    models.StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := testDB.CreateJob(ctx, job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if err := testDB.RequestCancel(ctx, job.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	// A worker persisting a stale snapshot must not clear the request.
	job.ProcessedCount = 7
	if err := testDB.SaveJob(ctx, job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	requested, err := testDB.IsCancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("IsCancelRequested failed: %v", err)
	}
	if !requested {
		t.Error("cancel request was cleared by SaveJob")
	}

	got, err := testDB.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !got.CancelRequested {
		t.Error("expected job to report CancelRequested")
	}
}

func TestClearCancel(t *testing.T) {
	ctx := context.Background()
	if err := testDB.RequestCancel(ctx, "job-clear"); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	if err := testDB.ClearCancel(ctx, "job-clear"); err != nil {
		t.Fatalf("ClearCancel failed: %v", err)
	}

	requested, err := testDB.IsCancelRequested(ctx, "job-clear")
	if err != nil {
		t.Fatalf("IsCancelRequested failed: %v", err)
	}
	if requested {
		t.Error("expected cancel request to be cleared")
	}
}

func TestGetJobNotFound(t *testing.T) {
	_, err := testDB.GetJob(context.Background(), "does-not-exist")
	if !errors.Is(err, models.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEnqueueReindexAll(t *testing.T) {
	ctx := context.Background()
	before, err := testDB.PendingReindexRequests(ctx)
	if err != nil {
		t.Fatalf("PendingReindexRequests failed: %v", err)
	}

	if err := testDB.EnqueueReindexAll(ctx, "job-reindex"); err != nil {
		t.Fatalf("EnqueueReindexAll failed: %v", err)
	}

	after, err := testDB.PendingReindexRequests(ctx)
	if err != nil {
		t.Fatalf("PendingReindexRequests failed: %v", err)
	}
	if after != before+1 {
		t.Errorf("expected %d pending requests, got %d", before+1, after)
	}
}

func TestWipeData(t *testing.T) {
	ctx := context.Background()
	job := "job-wipe"
	if err := testDB.InsertRows(ctx, []models.StagingRow{
		stagedRow(job, "tags", 0, map[string]any{"id": int64(1)}),
	}); err != nil {
		t.Fatalf("InsertRows failed: %v", err)
	}
	if err := testDB.EnqueueReindexAll(ctx, job); err != nil {
		t.Fatalf("EnqueueReindexAll failed: %v", err)
	}

	if err := testDB.WipeData(ctx); err != nil {
		t.Fatalf("WipeData failed: %v", err)
	}

	count, err := testDB.CountRows(ctx, job, "tags")
	if err != nil {
		t.Fatalf("CountRows failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no staged rows after wipe, got %d", count)
	}
	pending, err := testDB.PendingReindexRequests(ctx)
	if err != nil {
		t.Fatalf("PendingReindexRequests failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("expected no pending reindex requests after wipe, got %d", pending)
	}
}

func indexes(rows []models.StagingRow) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.RowIndex
	}
	return out
}
