// Package service drives import jobs through their lifecycle: analyzing an
// uploaded export into staging, waiting for a mapping configuration, and
// importing the staged rows into the destination schema.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/tmimport/internal/blob"
	"github.com/raphaelgruber/tmimport/internal/config"
	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/importer"
	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/staging"
)

// ErrInvalidTransition is returned when an operation does not apply to the
// job's current state.
var ErrInvalidTransition = errors.New("invalid job state transition")

// Mode selects the work Process does.
type Mode string

const (
	ModeAnalyze Mode = "analyze"
	ModeImport  Mode = "import"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAnalyze, ModeImport:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want analyze or import)", s)
}

// JobStore persists job records. *db.Client implements it.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.ImportJob) error
	GetJob(ctx context.Context, id string) (*models.ImportJob, error)
	SaveJob(ctx context.Context, job *models.ImportJob) error
	ListJobs(ctx context.Context, limit int) ([]models.ImportJob, error)
	RequestCancel(ctx context.Context, id string) error
	ClearCancel(ctx context.Context, id string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
}

// Reindexer is told once per completed import that the destination needs a
// full search reindex. *db.Client implements it.
type Reindexer interface {
	EnqueueReindexAll(ctx context.Context, jobID string) error
}

// Options wires an Orchestrator.
type Options struct {
	Jobs     JobStore
	Staging  staging.Store
	Dest     dest.Store
	Blobs    blob.Store
	Reindex  Reindexer
	Import   config.ImportConfig
	Pipeline *importer.Pipeline // DefaultPipeline when nil
	Logger   *slog.Logger
	Now      func() time.Time
}

// Orchestrator owns the job state machine:
//
//	PENDING/ANALYZING → READY/CONFIGURING → RUNNING/IMPORTING → COMPLETED | FAILED | CANCELED
//
// Process runs one job at a time.
type Orchestrator struct {
	opts Options
	mu   sync.Mutex
}

// New returns an orchestrator. Jobs and Staging are required.
func New(opts Options) *Orchestrator {
	if opts.Pipeline == nil {
		opts.Pipeline = importer.DefaultPipeline()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{opts: opts}
}

// CreateJob registers an uploaded export. An optional raw configuration is
// normalized and stored with the job.
func (o *Orchestrator) CreateJob(ctx context.Context, fileKey, fileName string, raw map[string]any) (*models.ImportJob, error) {
	if fileKey == "" {
		return nil, errors.New("file key is required")
	}
	now := o.opts.Now().UTC()
	job := &models.ImportJob{
		ID:        uuid.New().String()[:8], // Short ID for convenience
		FileKey:   fileKey,
		FileName:  fileName,
		Phase:     models.PhaseAnalyzing,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if raw != nil {
		job.Configuration = mapping.Serialize(mapping.Normalize(raw))
	}
	if err := o.opts.Jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	o.opts.Logger.Info("job created", "job_id", job.ID, "file_key", fileKey)
	return job, nil
}

// Job loads a job record.
func (o *Orchestrator) Job(ctx context.Context, id string) (*models.ImportJob, error) {
	return o.opts.Jobs.GetJob(ctx, id)
}

// Jobs lists the most recent jobs first.
func (o *Orchestrator) Jobs(ctx context.Context, limit int) ([]models.ImportJob, error) {
	return o.opts.Jobs.ListJobs(ctx, limit)
}

// Datasets returns the dataset summaries written by analyze.
func (o *Orchestrator) Datasets(ctx context.Context, id string) ([]models.Dataset, error) {
	if _, err := o.opts.Jobs.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return o.opts.Staging.ListDatasets(ctx, id)
}

// Process runs one unit of queued work. Jobs already in a final status are
// left alone, so a redelivered message is harmless.
func (o *Orchestrator) Process(ctx context.Context, id string, mode Mode) (err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, err := o.opts.Jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsFinal() {
		o.opts.Logger.Info("job already final, skipping", "job_id", id, "status", job.Status, "mode", mode)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			o.opts.Logger.Error("job panicked", "job_id", id, "mode", mode, "panic", r)
			err = fmt.Errorf("internal panic: %v", r)
			o.fail(context.WithoutCancel(ctx), newRecord(job), err)
		}
	}()

	switch mode {
	case ModeAnalyze:
		return o.analyze(ctx, job)
	case ModeImport:
		return o.runImport(ctx, job)
	}
	return fmt.Errorf("unknown mode %q", mode)
}

// SaveConfiguration normalizes raw and stores it on a job that is waiting
// for one.
func (o *Orchestrator) SaveConfiguration(ctx context.Context, id string, raw map[string]any) (*mapping.Config, error) {
	job, err := o.opts.Jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusReady {
		return nil, fmt.Errorf("%w: job %s is %s, configuration can only change while READY", ErrInvalidTransition, id, job.Status)
	}
	cfg := mapping.Normalize(raw)
	job.Configuration = mapping.Serialize(cfg)
	job.UpdatedAt = o.opts.Now().UTC()
	if err := o.opts.Jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SuggestConfiguration derives a configuration that creates every
// reference entity found in the staged export.
func (o *Orchestrator) SuggestConfiguration(ctx context.Context, id string) (*mapping.Config, error) {
	rows := make(map[string][]map[string]any)
	for _, ds := range mapping.SourceDatasets {
		if _, ok := rows[ds]; ok {
			continue
		}
		var list []map[string]any
		err := staging.Each(ctx, o.opts.Staging, id, ds, o.opts.Import.StageBatchSize, func(page []models.StagingRow) error {
			for _, r := range page {
				if !r.Failed() {
					list = append(list, r.RowData)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ds, err)
		}
		rows[ds] = list
	}
	return mapping.Suggest(rows), nil
}

// RequestCancel asks a job to stop. A job that is not running is canceled
// right away; a running one stops at its next chunk boundary.
func (o *Orchestrator) RequestCancel(ctx context.Context, id string) (*models.ImportJob, error) {
	job, err := o.opts.Jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsFinal() {
		return nil, fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, id, job.Status)
	}
	if err := o.opts.Jobs.RequestCancel(ctx, id); err != nil {
		return nil, err
	}
	job.CancelRequested = true
	if job.Status != models.StatusRunning {
		o.finish(job, models.StatusCanceled)
		if err := o.opts.Jobs.SaveJob(ctx, job); err != nil {
			return nil, err
		}
	}
	o.opts.Logger.Info("cancel requested", "job_id", id, "status", job.Status)
	return job, nil
}

// Retry moves a failed job back to where it can run again. A failed import
// returns to READY with the configuration it failed with, so decisions
// already committed stay resolved. A failed analyze starts over.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*models.ImportJob, error) {
	job, err := o.opts.Jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusFailed {
		return nil, fmt.Errorf("%w: only FAILED jobs can be retried, job %s is %s", ErrInvalidTransition, id, job.Status)
	}
	if err := o.opts.Jobs.ClearCancel(ctx, id); err != nil {
		return nil, err
	}
	if job.Phase == models.PhaseAnalyzing {
		job.Status = models.StatusPending
	} else {
		job.Phase = models.PhaseConfiguring
		job.Status = models.StatusReady
	}
	job.Error = nil
	job.CompletedAt = nil
	job.CancelRequested = false
	job.UpdatedAt = o.opts.Now().UTC()
	if err := o.opts.Jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	o.opts.Logger.Info("job retried", "job_id", id, "phase", job.Phase, "status", job.Status)
	return job, nil
}

// ResetFailedRows makes rows that failed in an earlier run eligible again.
func (o *Orchestrator) ResetFailedRows(ctx context.Context, id string) (int, error) {
	job, err := o.opts.Jobs.GetJob(ctx, id)
	if err != nil {
		return 0, err
	}
	if job.Status == models.StatusRunning {
		return 0, fmt.Errorf("%w: job %s is running", ErrInvalidTransition, id)
	}
	n, err := o.opts.Staging.ResetFailed(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("reset failed rows: %w", err)
	}
	o.opts.Logger.Info("failed rows reset", "job_id", id, "rows", n)
	return n, nil
}

// Cleanup deletes the staging data of a finished job. The job record stays.
func (o *Orchestrator) Cleanup(ctx context.Context, id string) error {
	job, err := o.opts.Jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.IsFinal() {
		return fmt.Errorf("%w: job %s is %s, only finished jobs can be cleaned up", ErrInvalidTransition, id, job.Status)
	}
	if err := o.opts.Staging.DeleteJobData(ctx, id); err != nil {
		return fmt.Errorf("delete staging data: %w", err)
	}
	o.opts.Logger.Info("job cleaned up", "job_id", id)
	return nil
}

// finish moves a job into a final status.
func (o *Orchestrator) finish(job *models.ImportJob, status models.Status) {
	now := o.opts.Now().UTC()
	job.Status = status
	if status != models.StatusFailed {
		job.Phase = models.PhaseDone
	}
	job.CompletedAt = &now
	job.UpdatedAt = now
}

// fail records err on the job. The phase is kept so Retry knows where to
// resume.
func (o *Orchestrator) fail(ctx context.Context, rec *record, err error) {
	msg := err.Error()
	rec.update(func(job *models.ImportJob) {
		o.finish(job, models.StatusFailed)
		job.Error = &msg
	})
	if saveErr := rec.save(ctx, o.opts.Jobs); saveErr != nil {
		o.opts.Logger.Warn("failed to persist job failure", "job_id", rec.id, "error", saveErr)
	}
	o.opts.Logger.Error("job failed", "job_id", rec.id, "error", err)
}

func (o *Orchestrator) isCanceled(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	canceled, err := o.opts.Jobs.IsCancelRequested(ctx, id)
	if err != nil {
		return fmt.Errorf("check cancel: %w", err)
	}
	if canceled {
		return importer.ErrCanceled
	}
	return nil
}

// record guards a job that is updated from more than one goroutine.
type record struct {
	id  string
	mu  sync.Mutex
	job *models.ImportJob
}

func newRecord(job *models.ImportJob) *record {
	return &record{id: job.ID, job: job}
}

func (r *record) update(fn func(job *models.ImportJob)) {
	r.mu.Lock()
	fn(r.job)
	r.mu.Unlock()
}

func (r *record) snapshot() *models.ImportJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone()
}

func (r *record) save(ctx context.Context, store JobStore) error {
	return store.SaveJob(ctx, r.snapshot())
}
