package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/tmimport/internal/importer"
	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/metrics"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/progress"
)

// runImport moves the staged rows into the destination. It starts from a
// READY job or resumes one left RUNNING by an interrupted worker.
func (o *Orchestrator) runImport(ctx context.Context, job *models.ImportJob) error {
	resuming := job.Status == models.StatusRunning && job.Phase == models.PhaseImporting
	if job.Status != models.StatusReady && !resuming {
		return fmt.Errorf("%w: job %s is %s/%s, import needs a READY job", ErrInvalidTransition, job.ID, job.Phase, job.Status)
	}
	if o.opts.Dest == nil {
		return errors.New("no destination store configured")
	}
	log := o.opts.Logger.With("job_id", job.ID)
	collector := metrics.NewCollector()
	cfg := mapping.Normalize(job.Configuration)

	rec := newRecord(job)
	rec.update(func(j *models.ImportJob) {
		now := o.opts.Now().UTC()
		j.Phase = models.PhaseImporting
		j.Status = models.StatusRunning
		j.Configuration = mapping.Serialize(cfg)
		j.Error = nil
		j.UpdatedAt = now
		if !resuming {
			j.StartedAt = &now
		}
	})
	if err := rec.save(ctx, o.opts.Jobs); err != nil {
		return err
	}

	persist := func(ctx context.Context, s progress.Snapshot) error {
		start := time.Now()
		rec.update(func(j *models.ImportJob) {
			s.Apply(j)
			j.Configuration = mapping.Serialize(cfg)
			j.UpdatedAt = o.opts.Now().UTC()
		})
		err := rec.save(ctx, o.opts.Jobs)
		collector.RecordBatch(metrics.OpPersistJob, time.Since(start), 1)
		return err
	}
	imp := o.opts.Import
	tracker := progress.New(progress.Options{
		PersistEvery:    imp.PersistEvery,
		PersistInterval: imp.PersistInterval,
		Now:             o.opts.Now,
		Logger:          o.opts.Logger,
	}, persist)
	tracker.Resume(job)

	ic := &importer.Context{
		JobID:   job.ID,
		Staging: o.opts.Staging,
		Dest:    o.opts.Dest,
		Config:  cfg,
		Tracker: tracker,
		Chunks: importer.ChunkPolicy{
			Default: imp.ChunkSize,
			Sizes:   imp.ChunkSizes,
			Timeout: imp.TxTimeout,
		},
		Metrics: collector,
		Logger:  log,
		CheckCancel: func(ctx context.Context) (bool, error) {
			return o.opts.Jobs.IsCancelRequested(ctx, job.ID)
		},
		Checkpoint: tracker.MaybePersist,
	}
	if resuming {
		log.Info("import resumed", "processed", job.ProcessedCount)
	} else {
		log.Info("import started")
	}

	summaries, err := o.opts.Pipeline.Run(ctx, ic)

	saveCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		if err := tracker.Persist(saveCtx); err != nil {
			return err
		}
		rec.update(func(j *models.ImportJob) { o.finish(j, models.StatusCompleted) })
		if err := rec.save(saveCtx, o.opts.Jobs); err != nil {
			return err
		}
		if o.opts.Reindex != nil {
			if err := o.opts.Reindex.EnqueueReindexAll(saveCtx, job.ID); err != nil {
				log.Warn("failed to enqueue reindex", "error", err)
			}
		}
		log.Info("import completed", "importers", len(summaries), "metrics", collector.Snapshot())
		return nil

	case errors.Is(err, importer.ErrCanceled):
		tracker.Info("", "import canceled", nil)
		if err := tracker.Persist(saveCtx); err != nil {
			return err
		}
		rec.update(func(j *models.ImportJob) { o.finish(j, models.StatusCanceled) })
		log.Info("import canceled", "metrics", collector.Snapshot())
		return rec.save(saveCtx, o.opts.Jobs)

	case ctx.Err() != nil:
		// Shutdown: keep the job RUNNING so the next worker resumes it.
		if perr := tracker.Persist(saveCtx); perr != nil {
			log.Warn("failed to persist progress on shutdown", "error", perr)
		}
		log.Warn("import interrupted", "error", err)
		return err

	default:
		tracker.Log("error", "", nil, err.Error(), nil)
		if perr := tracker.Persist(saveCtx); perr != nil {
			log.Warn("failed to persist progress", "error", perr)
		}
		log.Info("import aborted", "metrics", collector.Snapshot())
		o.fail(saveCtx, rec, err)
		return err
	}
}
