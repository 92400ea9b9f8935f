package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/tmimport/internal/dataset"
	"github.com/raphaelgruber/tmimport/internal/importer"
	"github.com/raphaelgruber/tmimport/internal/jsonstream"
	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/metrics"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/staging"
	"golang.org/x/sync/errgroup"
)

// analyzeProgressInterval debounces job writes from the byte counter.
const analyzeProgressInterval = time.Second

// analyze streams the export into staging and summarizes its datasets. A
// decoder goroutine feeds rows to a writer goroutine; cancellation is
// checked after every staged batch. A canceled analyze removes everything
// it staged.
func (o *Orchestrator) analyze(ctx context.Context, job *models.ImportJob) error {
	if job.Phase != models.PhaseAnalyzing {
		return fmt.Errorf("%w: job %s is in phase %s, not %s", ErrInvalidTransition, job.ID, job.Phase, models.PhaseAnalyzing)
	}
	if o.opts.Blobs == nil {
		return errors.New("no blob store configured")
	}
	log := o.opts.Logger.With("job_id", job.ID)
	collector := metrics.NewCollector()

	rec := newRecord(job)
	rec.update(func(j *models.ImportJob) {
		now := o.opts.Now().UTC()
		j.Status = models.StatusRunning
		j.StartedAt = &now
		j.UpdatedAt = now
		j.Error = nil
		j.Analyze = &models.AnalyzeProgress{}
	})
	if err := rec.save(ctx, o.opts.Jobs); err != nil {
		return err
	}
	// Rows from an interrupted earlier attempt would otherwise outlive a
	// shorter re-read.
	if err := o.opts.Staging.DeleteJobData(ctx, job.ID); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}
	log.Info("analyze started", "file_key", job.FileKey)

	datasets, staged, failed, err := o.stage(ctx, rec, collector)
	if err == nil {
		err = o.opts.Staging.SaveDatasets(ctx, datasets)
	}

	saveCtx := context.WithoutCancel(ctx)
	switch {
	case errors.Is(err, importer.ErrCanceled):
		if delErr := o.opts.Staging.DeleteJobData(saveCtx, job.ID); delErr != nil {
			log.Warn("failed to remove staged rows of canceled job", "error", delErr)
		}
		rec.update(func(j *models.ImportJob) { o.finish(j, models.StatusCanceled) })
		log.Info("analyze canceled", "metrics", collector.Snapshot())
		return rec.save(saveCtx, o.opts.Jobs)
	case err != nil && ctx.Err() != nil:
		// Shutdown, not a job failure: the job stays RUNNING and is analyzed
		// again from the start.
		log.Warn("analyze interrupted", "error", err)
		return err
	case err != nil:
		o.fail(saveCtx, rec, fmt.Errorf("analyze: %w", err))
		return err
	}

	if len(job.Configuration) == 0 {
		cfg, err := o.SuggestConfiguration(ctx, job.ID)
		if err != nil {
			o.fail(saveCtx, rec, fmt.Errorf("suggest configuration: %w", err))
			return err
		}
		rec.update(func(j *models.ImportJob) { j.Configuration = mapping.Serialize(cfg) })
	}
	rec.update(func(j *models.ImportJob) {
		j.Phase = models.PhaseConfiguring
		j.Status = models.StatusReady
		j.ErrorCount = failed
		j.UpdatedAt = o.opts.Now().UTC()
		if j.Analyze != nil && j.Analyze.TotalBytes > 0 {
			j.Analyze.Percentage = 100
		}
	})
	if err := rec.save(ctx, o.opts.Jobs); err != nil {
		return err
	}
	log.Info("analyze finished", "datasets", len(datasets), "rows", staged, "failed_rows", failed, "metrics", collector.Snapshot())
	return nil
}

// stage runs the decoder and the staging writer side by side.
func (o *Orchestrator) stage(ctx context.Context, rec *record, collector *metrics.Collector) ([]models.Dataset, int, int, error) {
	jobID := rec.id
	start := time.Now()
	rc, size, err := o.opts.Blobs.OpenReadStream(ctx, rec.job.FileKey)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open %s: %w", rec.job.FileKey, err)
	}
	defer rc.Close()
	collector.RecordBatch(metrics.OpBlobOpen, time.Since(start), 1)

	cfg := o.opts.Import
	rows := make(chan models.StagingRow, max(cfg.StageBatchSize, 1))
	g, gctx := errgroup.WithContext(ctx)

	var datasets []models.Dataset
	g.Go(func() error {
		defer close(rows)
		var last time.Time
		counter := jsonstream.NewCountingReader(gctx, rc, size, func(p jsonstream.Progress) {
			rec.update(func(j *models.ImportJob) {
				j.Analyze = &models.AnalyzeProgress{
					BytesRead:  p.BytesRead,
					TotalBytes: p.TotalBytes,
					Percentage: p.Percentage,
					ETASeconds: p.ETASeconds,
				}
			})
			if time.Since(last) < analyzeProgressInterval {
				return
			}
			last = time.Now()
			if err := rec.save(gctx, o.opts.Jobs); err != nil {
				o.opts.Logger.Warn("failed to persist analyze progress", "job_id", jobID, "error", err)
			}
		})
		asm := dataset.NewAssembler(dataset.Options{
			JobID:            jobID,
			SampleRowLimit:   cfg.SampleRows,
			SampleValueLimit: cfg.SampleValueLimit,
			Sanitizers:       dataset.DefaultSanitizers(),
		}, func(row models.StagingRow) error {
			select {
			case rows <- row:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
		if err := jsonstream.NewDecoder(counter, 0).Decode(asm); err != nil {
			return err
		}
		ds, err := asm.Finish()
		if err != nil {
			return err
		}
		datasets = ds
		return nil
	})

	w := staging.NewWriter(o.opts.Staging, cfg.StageBatchSize, collector, o.opts.Logger)
	w.AfterFlush = func(ctx context.Context) error {
		return o.isCanceled(ctx, jobID)
	}
	g.Go(func() error {
		for row := range rows {
			if err := w.Add(gctx, row); err != nil {
				return err
			}
		}
		return w.Flush(gctx)
	})

	if err := g.Wait(); err != nil {
		return nil, w.Staged(), w.Failed(), err
	}
	if n := w.Failed(); n > 0 {
		o.opts.Logger.Warn("rows failed to stage", "job_id", jobID, "rows", n)
	}
	return datasets, w.Staged(), w.Failed(), nil
}
