// Package progress tracks import progress: per-entity counters, a smoothed
// throughput estimate and the operator-facing activity log.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/tmimport/internal/models"
	"golang.org/x/time/rate"
)

// Options tunes a Tracker. Zero values take the defaults below.
type Options struct {
	WindowSize      int           // max samples kept (60)
	WindowSpan      time.Duration // max age of the oldest sample (60s)
	Smoothing       float64       // EMA factor (0.3)
	FloorRatio      float64       // smoothed rate floor as a share of the run average (0.2)
	PersistEvery    int           // units processed between persists (100)
	PersistInterval time.Duration // time between persists (5s)
	WarningCap      int           // activity-log warnings kept per entity (200)

	Now    func() time.Time
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.WindowSize <= 1 {
		o.WindowSize = 60
	}
	if o.WindowSpan <= 0 {
		o.WindowSpan = 60 * time.Second
	}
	if o.Smoothing <= 0 || o.Smoothing > 1 {
		o.Smoothing = 0.3
	}
	if o.FloorRatio <= 0 {
		o.FloorRatio = 0.2
	}
	if o.PersistEvery <= 0 {
		o.PersistEvery = 100
	}
	if o.PersistInterval <= 0 {
		o.PersistInterval = 5 * time.Second
	}
	if o.WarningCap <= 0 {
		o.WarningCap = 200
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// PersistFunc writes a snapshot to the job record.
type PersistFunc func(ctx context.Context, s Snapshot) error

type sample struct {
	at        time.Time
	processed int
}

// Tracker is safe for concurrent use, though the pipeline drives it from a
// single goroutine.
type Tracker struct {
	mu   sync.Mutex
	opts Options

	start     time.Time
	total     int
	processed int
	resumed   int // units done by earlier runs, excluded from rates
	errors    int
	skipped   int
	entities  map[string]models.EntityProgress

	activity   []models.ActivityEntry
	warnings   map[string]int
	suppressed map[string]int // entity -> index of its suppression entry

	window []sample

	persist          PersistFunc
	lastPersistAt    time.Time
	lastPersistCount int

	warnLog rate.Sometimes
}

// New returns a tracker that persists through fn (which may be nil).
func New(opts Options, fn PersistFunc) *Tracker {
	opts = opts.withDefaults()
	now := opts.Now()
	return &Tracker{
		opts:          opts,
		start:         now,
		entities:      make(map[string]models.EntityProgress),
		warnings:      make(map[string]int),
		suppressed:    make(map[string]int),
		window:        []sample{{at: now}},
		persist:       fn,
		lastPersistAt: now,
		warnLog:       rate.Sometimes{First: 10, Interval: 5 * time.Second},
	}
}

// Resume carries the activity log, per-entity progress and error counters
// of a previous run.
func (t *Tracker) Resume(job *models.ImportJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activity = slices.Clone(job.ActivityLog)
	for entity, p := range job.EntityProgress {
		t.entities[entity] = p
	}
	t.errors = job.ErrorCount
	t.skipped = job.SkippedCount
	for i, e := range t.activity {
		if e.Level == "warn" && e.Entity != "" {
			if e.Kind == models.ActivitySummary {
				t.suppressed[e.Entity] = i
				continue
			}
			t.warnings[e.Entity]++
		}
	}
}

// SetTotal sets the number of units the whole run will process.
func (t *Tracker) SetTotal(total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
}

// StartEntity records the total for one entity type.
func (t *Tracker) StartEntity(entity string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.entities[entity]
	p.Total = total
	t.entities[entity] = p
}

// Created counts n newly created destination entities.
func (t *Tracker) Created(entity string, n int) {
	t.advance(entity, n, 0, n)
}

// Mapped counts n source entities mapped onto existing destination ones.
func (t *Tracker) Mapped(entity string, n int) {
	t.advance(entity, 0, n, n)
}

// Processed counts n units handled without creating or mapping anything.
func (t *Tracker) Processed(n int) {
	t.advance("", 0, 0, n)
}

// Resumed counts n units finished by an earlier run. They move the processed
// count but not the throughput: the window baseline shifts with them.
func (t *Tracker) Resumed(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed += n
	t.resumed += n
	t.lastPersistCount += n
	for i := range t.window {
		t.window[i].processed += n
	}
}

// Skipped counts n rows dropped as row-level data errors.
func (t *Tracker) Skipped(n int) {
	t.mu.Lock()
	t.skipped += n
	t.mu.Unlock()
	t.advance("", 0, 0, n)
}

// Errored counts n failures: rows marked failed in staging and chunks that
// rolled back.
func (t *Tracker) Errored(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors += n
}

func (t *Tracker) advance(entity string, created, mapped, units int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entity != "" {
		p := t.entities[entity]
		p.Created += created
		p.Mapped += mapped
		t.entities[entity] = p
	}
	t.processed += units
	t.addSampleLocked(t.opts.Now())
}

func (t *Tracker) addSampleLocked(now time.Time) {
	t.window = append(t.window, sample{at: now, processed: t.processed})
	cutoff := now.Add(-t.opts.WindowSpan)
	drop := 0
	for drop < len(t.window)-2 && (len(t.window)-drop > t.opts.WindowSize || t.window[drop].at.Before(cutoff)) {
		drop++
	}
	if drop > 0 {
		t.window = slices.Delete(t.window, 0, drop)
	}
}

// Log appends an activity entry. Warnings beyond the per-entity cap are
// folded into one suppression summary per entity.
func (t *Tracker) Log(level, entity string, sourceID *int64, msg string, details map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if level == "warn" {
		t.warnLog.Do(func() {
			attrs := []any{"entity", entity}
			if sourceID != nil {
				attrs = append(attrs, "source_id", *sourceID)
			}
			t.opts.Logger.Warn(msg, append(attrs, "details", details)...)
		})
		if entity != "" {
			t.warnings[entity]++
			if t.warnings[entity] > t.opts.WarningCap {
				t.suppressLocked(entity)
				return
			}
		}
	}

	t.activity = append(t.activity, models.ActivityEntry{
		Time:     t.opts.Now(),
		Kind:     models.ActivityLog,
		Level:    level,
		Entity:   entity,
		SourceID: sourceID,
		Message:  msg,
		Details:  details,
	})
}

func (t *Tracker) suppressLocked(entity string) {
	n := t.warnings[entity] - t.opts.WarningCap
	if i, ok := t.suppressed[entity]; ok && i < len(t.activity) {
		t.activity[i].Details = map[string]any{"suppressed": n}
		t.activity[i].Message = suppressionMessage(n)
		t.activity[i].Time = t.opts.Now()
		return
	}
	t.suppressed[entity] = len(t.activity)
	t.activity = append(t.activity, models.ActivityEntry{
		Time:    t.opts.Now(),
		Kind:    models.ActivitySummary,
		Level:   "warn",
		Entity:  entity,
		Message: suppressionMessage(n),
		Details: map[string]any{"suppressed": n},
	})
}

func suppressionMessage(n int) string {
	return fmt.Sprintf("%d further warnings suppressed", n)
}

// Info logs an informational activity entry.
func (t *Tracker) Info(entity, msg string, details map[string]any) {
	t.Log("info", entity, nil, msg, details)
}

// Warn logs a row-level warning.
func (t *Tracker) Warn(entity string, sourceID *int64, msg string, details map[string]any) {
	t.Log("warn", entity, sourceID, msg, details)
}

// Summary appends the end-of-entity summary entry.
func (t *Tracker) Summary(entity string, total, created, mapped int, details map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := map[string]any{"total": total, "created": created, "mapped": mapped}
	maps.Copy(d, details)
	t.activity = append(t.activity, models.ActivityEntry{
		Time:    t.opts.Now(),
		Kind:    models.ActivitySummary,
		Level:   "info",
		Entity:  entity,
		Message: fmt.Sprintf("%s: %d created, %d mapped of %d", entity, created, mapped, total),
		Details: d,
	})
}

// Rate is the smoothed throughput in units per second.
func (t *Tracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rateLocked()
}

func (t *Tracker) rateLocked() float64 {
	var ema float64
	seeded := false
	for i := 1; i < len(t.window); i++ {
		dt := t.window[i].at.Sub(t.window[i-1].at).Seconds()
		if dt <= 0 {
			continue
		}
		r := float64(t.window[i].processed-t.window[i-1].processed) / dt
		if !seeded {
			ema, seeded = r, true
			continue
		}
		ema = t.opts.Smoothing*r + (1-t.opts.Smoothing)*ema
	}

	if elapsed := t.opts.Now().Sub(t.start).Seconds(); elapsed > 0 {
		floor := t.opts.FloorRatio * float64(t.processed-t.resumed) / elapsed
		if ema < floor {
			ema = floor
		}
	}
	return ema
}

// ETA estimates the seconds remaining, or nil when no rate is known yet.
func (t *Tracker) ETA() *float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.etaLocked()
}

func (t *Tracker) etaLocked() *float64 {
	r := t.rateLocked()
	if r <= 0 || t.total <= 0 {
		return nil
	}
	remaining := max(t.total-t.processed, 0)
	eta := float64(remaining) / r
	return &eta
}

// Finish marks the run complete: processed equals total.
func (t *Tracker) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.processed < t.total {
		t.processed = t.total
	}
	if t.total < t.processed {
		t.total = t.processed
	}
	t.addSampleLocked(t.opts.Now())
}

// Snapshot is the persisted view of a tracker.
type Snapshot struct {
	Processed int
	Total     int
	Errors    int
	Skipped   int
	Entities  map[string]models.EntityProgress
	Activity  []models.ActivityEntry
	ETA       *float64
	Rate      *float64
}

// Apply copies the snapshot onto a job record.
func (s Snapshot) Apply(job *models.ImportJob) {
	job.ProcessedCount = s.Processed
	job.TotalCount = s.Total
	job.ErrorCount = s.Errors
	job.SkippedCount = s.Skipped
	job.EntityProgress = s.Entities
	job.ActivityLog = s.Activity
	job.EstimatedTimeRemaining = s.ETA
	job.ProcessingRate = s.Rate
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{
		Processed: t.processed,
		Total:     t.total,
		Errors:    t.errors,
		Skipped:   t.skipped,
		Entities:  maps.Clone(t.entities),
		Activity:  slices.Clone(t.activity),
		ETA:       t.etaLocked(),
	}
	if r := t.rateLocked(); r > 0 {
		s.Rate = &r
	}
	return s
}

// ShouldPersist reports whether enough work or time has passed since the
// last persist.
func (t *Tracker) ShouldPersist() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed-t.lastPersistCount >= t.opts.PersistEvery ||
		t.opts.Now().Sub(t.lastPersistAt) >= t.opts.PersistInterval
}

// MaybePersist persists when ShouldPersist allows it.
func (t *Tracker) MaybePersist(ctx context.Context) error {
	if !t.ShouldPersist() {
		return nil
	}
	return t.Persist(ctx)
}

// Persist writes the current snapshot unconditionally.
func (t *Tracker) Persist(ctx context.Context) error {
	t.mu.Lock()
	snap := t.snapshotLocked()
	t.lastPersistAt = t.opts.Now()
	t.lastPersistCount = t.processed
	t.mu.Unlock()

	if t.persist == nil {
		return nil
	}
	if err := t.persist(ctx, snap); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	return nil
}
