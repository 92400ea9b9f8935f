package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// InsertRows writes a batch of staged rows. Rows whose (job, dataset,
// rowIndex) already exists are overwritten, so re-running analyze converges.
func (c *Client) InsertRows(ctx context.Context, rows []models.StagingRow) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		INSERT INTO staging_row $rows ON DUPLICATE KEY UPDATE
			row_data = $input.row_data,
			text_columns = $input.text_columns,
			processed = $input.processed,
			error = $input.error
		RETURN NONE
	`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("insert staging rows: %w", wrapQueryError(err))
	}
	return nil
}

// ListRows returns up to limit rows with row_index > after in ascending order.
func (c *Client) ListRows(ctx context.Context, jobID, dataset string, after, limit int) ([]models.StagingRow, error) {
	results, err := surrealdb.Query[[]models.StagingRow](ctx, c.db, `
		SELECT * OMIT id FROM staging_row
		WHERE job_id = $job AND dataset = $dataset AND row_index > $after
		ORDER BY row_index ASC
		LIMIT $limit
	`, map[string]any{
		"job":     jobID,
		"dataset": dataset,
		"after":   after,
		"limit":   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list staging rows: %w", wrapQueryError(err))
	}
	return firstResult(results), nil
}

type countRow struct {
	Count int `json:"count"`
}

// CountRows counts the staged rows of one dataset.
func (c *Client) CountRows(ctx context.Context, jobID, dataset string) (int, error) {
	results, err := surrealdb.Query[[]countRow](ctx, c.db, `
		SELECT count() AS count FROM staging_row
		WHERE job_id = $job AND dataset = $dataset
		GROUP ALL
	`, map[string]any{"job": jobID, "dataset": dataset})
	if err != nil {
		return 0, fmt.Errorf("count staging rows: %w", wrapQueryError(err))
	}
	rows := firstResult(results)
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

// MarkProcessed flags rows as consumed and clears their error.
func (c *Client) MarkProcessed(ctx context.Context, jobID, dataset string, rowIndexes []int) error {
	if len(rowIndexes) == 0 {
		return nil
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE staging_row SET processed = true, error = NONE
		WHERE job_id = $job AND dataset = $dataset AND row_index IN $indexes
		RETURN NONE
	`, map[string]any{"job": jobID, "dataset": dataset, "indexes": rowIndexes})
	if err != nil {
		return fmt.Errorf("mark rows processed: %w", wrapQueryError(err))
	}
	return nil
}

// MarkFailed records a row-level failure, creating a placeholder row when
// the row was never staged.
func (c *Client) MarkFailed(ctx context.Context, jobID, dataset string, rowIndex int, msg string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		INSERT INTO staging_row {
			job_id: $job,
			dataset: $dataset,
			row_index: $index,
			processed: true,
			error: $msg
		} ON DUPLICATE KEY UPDATE processed = true, error = $input.error
		RETURN NONE
	`, map[string]any{"job": jobID, "dataset": dataset, "index": rowIndex, "msg": msg})
	if err != nil {
		return fmt.Errorf("mark row failed: %w", wrapQueryError(err))
	}
	return nil
}

// ResetFailed makes failed rows eligible for processing again.
func (c *Client) ResetFailed(ctx context.Context, jobID string) (int, error) {
	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, `
		UPDATE staging_row SET processed = false, error = NONE
		WHERE job_id = $job AND error != NONE
		RETURN row_index
	`, map[string]any{"job": jobID})
	if err != nil {
		return 0, fmt.Errorf("reset failed rows: %w", wrapQueryError(err))
	}
	return len(firstResult(results)), nil
}

// UpsertMappings records source→destination correspondences.
func (c *Client) UpsertMappings(ctx context.Context, mappings []models.EntityMapping) error {
	if len(mappings) == 0 {
		return nil
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		INSERT INTO entity_mapping $mappings ON DUPLICATE KEY UPDATE
			target_id = $input.target_id,
			target_type = $input.target_type,
			metadata = $input.metadata
		RETURN NONE
	`, map[string]any{"mappings": mappings})
	if err != nil {
		return fmt.Errorf("upsert entity mappings: %w", wrapQueryError(err))
	}
	return nil
}

// ListMappings returns every mapping recorded for a job.
func (c *Client) ListMappings(ctx context.Context, jobID string) ([]models.EntityMapping, error) {
	results, err := surrealdb.Query[[]models.EntityMapping](ctx, c.db, `
		SELECT job_id, entity_type, source_id, target_id, target_type, metadata
		FROM entity_mapping WHERE job_id = $job
		ORDER BY entity_type, source_id
	`, map[string]any{"job": jobID})
	if err != nil {
		return nil, fmt.Errorf("list entity mappings: %w", wrapQueryError(err))
	}
	return firstResult(results), nil
}

// SaveDatasets stores dataset summaries keyed by (job, name).
func (c *Client) SaveDatasets(ctx context.Context, datasets []models.Dataset) error {
	for _, d := range datasets {
		_, err := surrealdb.Query[any](ctx, c.db, `
			UPSERT type::record("import_dataset", $key) CONTENT $dataset RETURN NONE
		`, map[string]any{"key": d.JobID + ":" + d.Name, "dataset": d})
		if err != nil {
			return fmt.Errorf("save dataset %s: %w", d.Name, wrapQueryError(err))
		}
	}
	return nil
}

// ListDatasets returns the dataset summaries of a job ordered by name.
func (c *Client) ListDatasets(ctx context.Context, jobID string) ([]models.Dataset, error) {
	results, err := surrealdb.Query[[]models.Dataset](ctx, c.db, `
		SELECT * OMIT id FROM import_dataset WHERE job_id = $job ORDER BY name
	`, map[string]any{"job": jobID})
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", wrapQueryError(err))
	}
	return firstResult(results), nil
}

// DeleteJobData removes a job's staged rows, mappings and dataset summaries.
func (c *Client) DeleteJobData(ctx context.Context, jobID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE staging_row WHERE job_id = $job;
		DELETE entity_mapping WHERE job_id = $job;
		DELETE import_dataset WHERE job_id = $job;
	`, map[string]any{"job": jobID})
	if err != nil {
		return fmt.Errorf("delete job data: %w", wrapQueryError(err))
	}
	return nil
}
