// Package staging defines the durable row store that decouples decoding an
// export from importing it.
package staging

import (
	"context"
	"time"

	"github.com/raphaelgruber/tmimport/internal/metrics"
	"github.com/raphaelgruber/tmimport/internal/models"
)

// Store persists staged rows, entity mappings and dataset summaries.
// Implementations must enforce uniqueness of (job, dataset, rowIndex) for
// rows and (job, entityType, sourceId) for mappings; writing an existing key
// replaces it.
type Store interface {
	InsertRows(ctx context.Context, rows []models.StagingRow) error
	// ListRows returns up to limit rows with RowIndex > after, ascending.
	ListRows(ctx context.Context, jobID, dataset string, after, limit int) ([]models.StagingRow, error)
	CountRows(ctx context.Context, jobID, dataset string) (int, error)
	MarkProcessed(ctx context.Context, jobID, dataset string, rowIndexes []int) error
	// MarkFailed records a row-level failure. A placeholder row is written
	// when the row itself never made it to the store.
	MarkFailed(ctx context.Context, jobID, dataset string, rowIndex int, msg string) error
	// ResetFailed clears processed/error on failed rows and returns how many
	// rows were reset.
	ResetFailed(ctx context.Context, jobID string) (int, error)

	UpsertMappings(ctx context.Context, mappings []models.EntityMapping) error
	ListMappings(ctx context.Context, jobID string) ([]models.EntityMapping, error)

	SaveDatasets(ctx context.Context, datasets []models.Dataset) error
	ListDatasets(ctx context.Context, jobID string) ([]models.Dataset, error)

	// DeleteJobData removes every row, mapping and dataset of a job.
	DeleteJobData(ctx context.Context, jobID string) error
}

// WithPageMetrics returns s with every ListRows call timed as a staging page.
func WithPageMetrics(s Store, rec metrics.Recorder) Store {
	if rec == nil {
		return s
	}
	if t, ok := s.(timedStore); ok {
		s = t.Store
	}
	return timedStore{Store: s, rec: rec}
}

type timedStore struct {
	Store
	rec metrics.Recorder
}

func (t timedStore) ListRows(ctx context.Context, jobID, dataset string, after, limit int) ([]models.StagingRow, error) {
	start := time.Now()
	rows, err := t.Store.ListRows(ctx, jobID, dataset, after, limit)
	if err == nil {
		t.rec.RecordBatch(metrics.OpStagingPage, time.Since(start), len(rows))
	}
	return rows, err
}

// Each pages through a dataset in RowIndex order and calls fn per page.
func Each(ctx context.Context, s Store, jobID, dataset string, pageSize int, fn func([]models.StagingRow) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	after := -1
	for {
		rows, err := s.ListRows(ctx, jobID, dataset, after, pageSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			return err
		}
		after = rows[len(rows)-1].RowIndex
		if len(rows) < pageSize {
			return nil
		}
	}
}
