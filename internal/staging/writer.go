package staging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/tmimport/internal/metrics"
	"github.com/raphaelgruber/tmimport/internal/models"
	"golang.org/x/time/rate"
)

// DefaultBatchSize is the number of rows buffered before a flush.
const DefaultBatchSize = 1000

// Writer buffers rows and writes them to a Store in fixed-size batches.
//
// When a batch insert fails, the rows are retried one by one; rows that still
// fail are recorded with processed=true and the error message, keeping their
// data where the store accepts it, so that "reset failed rows" can bring
// them back. Only a failure to record the
// failure itself aborts the write.
type Writer struct {
	store     Store
	batchSize int
	buf       []models.StagingRow
	metrics   metrics.Recorder
	logger    *slog.Logger
	warn      rate.Sometimes

	// AfterFlush runs after every batch; a non-nil error stops the writer.
	AfterFlush func(ctx context.Context) error

	staged int
	failed int
}

// NewWriter returns a Writer flushing every batchSize rows.
func NewWriter(store Store, batchSize int, rec metrics.Recorder, logger *slog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if rec == nil {
		rec = metrics.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:     store,
		batchSize: batchSize,
		buf:       make([]models.StagingRow, 0, batchSize),
		metrics:   rec,
		logger:    logger,
		warn:      rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// Add buffers a row, flushing when the batch is full.
func (w *Writer) Add(ctx context.Context, row models.StagingRow) error {
	w.buf = append(w.buf, row)
	if len(w.buf) >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes any buffered rows.
func (w *Writer) Flush(ctx context.Context) error {
	if len(w.buf) == 0 {
		return nil
	}
	batch := w.buf
	w.buf = make([]models.StagingRow, 0, w.batchSize)

	start := time.Now()
	err := w.store.InsertRows(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.insertOneByOne(ctx, batch); err != nil {
			return err
		}
	} else {
		w.staged += len(batch)
	}
	w.metrics.RecordBatch(metrics.OpStageBatch, time.Since(start), len(batch))

	if w.AfterFlush != nil {
		return w.AfterFlush(ctx)
	}
	return nil
}

func (w *Writer) insertOneByOne(ctx context.Context, batch []models.StagingRow) error {
	for _, row := range batch {
		err := w.store.InsertRows(ctx, []models.StagingRow{row})
		if err == nil {
			w.staged++
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.failed++
		w.warn.Do(func() {
			w.logger.Warn("failed to stage row",
				"job_id", row.JobID, "dataset", row.Dataset, "row_index", row.RowIndex, "error", err)
		})
		if markErr := w.recordFailure(ctx, row, err.Error()); markErr != nil {
			return fmt.Errorf("record staging failure for %s[%d]: %w", row.Dataset, row.RowIndex, markErr)
		}
	}
	return nil
}

// recordFailure stores the row flagged as failed so a reset can bring it
// back with its data. When even that insert is refused, only a placeholder
// carrying the error is written.
func (w *Writer) recordFailure(ctx context.Context, row models.StagingRow, msg string) error {
	row.Processed = true
	row.Error = &msg
	if err := w.store.InsertRows(ctx, []models.StagingRow{row}); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return ctx.Err()
	}
	return w.store.MarkFailed(ctx, row.JobID, row.Dataset, row.RowIndex, msg)
}

// Staged returns the number of rows written successfully.
func (w *Writer) Staged() int { return w.staged }

// Failed returns the number of rows recorded as failed.
func (w *Writer) Failed() int { return w.failed }
