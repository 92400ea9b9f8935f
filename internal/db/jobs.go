package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreateJob stores a new job record; the job id is the record id.
func (c *Client) CreateJob(ctx context.Context, job *models.ImportJob) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("import_job", $id) CONTENT $job RETURN NONE
	`, map[string]any{"id": job.ID, "job": job})
	if err != nil {
		return fmt.Errorf("create job: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob loads a job record, folding in any pending cancellation request.
func (c *Client) GetJob(ctx context.Context, id string) (*models.ImportJob, error) {
	results, err := surrealdb.Query[[]models.ImportJob](ctx, c.db, `
		SELECT * OMIT id FROM type::record("import_job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", wrapQueryError(err))
	}
	jobs := firstResult(results)
	if len(jobs) == 0 {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}
	job := jobs[0]

	canceled, err := c.IsCancelRequested(ctx, id)
	if err != nil {
		return nil, err
	}
	job.CancelRequested = job.CancelRequested || canceled
	return &job, nil
}

// SaveJob replaces the job document. Cancellation requests are stored apart
// and survive the overwrite.
func (c *Client) SaveJob(ctx context.Context, job *models.ImportJob) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("import_job", $id) CONTENT $job RETURN NONE
	`, map[string]any{"id": job.ID, "job": job})
	if err != nil {
		return fmt.Errorf("save job: %w", wrapQueryError(err))
	}
	return nil
}

// ListJobs returns the most recent jobs first.
func (c *Client) ListJobs(ctx context.Context, limit int) ([]models.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := surrealdb.Query[[]models.ImportJob](ctx, c.db, `
		SELECT * OMIT id FROM import_job ORDER BY created_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapQueryError(err))
	}
	return firstResult(results), nil
}

// RequestCancel records a cancellation request for a job.
func (c *Client) RequestCancel(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("job_cancel", $id) SET job_id = $id, requested_at = time::now() RETURN NONE
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("request cancel: %w", wrapQueryError(err))
	}
	return nil
}

// ClearCancel drops a pending cancellation request.
func (c *Client) ClearCancel(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("job_cancel", $id) RETURN NONE
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("clear cancel: %w", wrapQueryError(err))
	}
	return nil
}

type cancelRow struct {
	JobID string `json:"job_id"`
}

// IsCancelRequested reports whether cancellation was requested for a job.
func (c *Client) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	results, err := surrealdb.Query[[]cancelRow](ctx, c.db, `
		SELECT job_id FROM type::record("job_cancel", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return false, fmt.Errorf("check cancel: %w", wrapQueryError(err))
	}
	return len(firstResult(results)) > 0, nil
}

// EnqueueReindexAll writes one "reindex all" request to the outbox table
// consumed by the search indexer.
func (c *Client) EnqueueReindexAll(ctx context.Context, jobID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE reindex_request SET scope = "all", job_id = $job RETURN NONE
	`, map[string]any{"job": jobID})
	if err != nil {
		return fmt.Errorf("enqueue reindex: %w", wrapQueryError(err))
	}
	return nil
}

// PendingReindexRequests counts outbox entries not yet handled.
func (c *Client) PendingReindexRequests(ctx context.Context) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, c.db, `
		SELECT count() AS count FROM reindex_request WHERE handled_at = NONE GROUP ALL
	`, nil)
	if err != nil {
		return 0, fmt.Errorf("count reindex requests: %w", wrapQueryError(err))
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}
