package progress

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTracker(opts Options) (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts.Now = clock.Now
	return New(opts, nil), clock
}

func TestRateSteadyThroughput(t *testing.T) {
	tr, clock := newTracker(Options{})
	tr.SetTotal(100)
	for range 5 {
		clock.Advance(time.Second)
		tr.Created("tags", 10)
	}
	assert.InDelta(t, 10.0, tr.Rate(), 1e-9)

	eta := tr.ETA()
	require.NotNil(t, eta)
	assert.InDelta(t, 5.0, *eta, 1e-9)
}

func TestRateSmoothing(t *testing.T) {
	tr, clock := newTracker(Options{})
	clock.Advance(time.Second)
	tr.Processed(10)
	clock.Advance(time.Second)
	tr.Processed(20)
	// ema = 0.3*20 + 0.7*10
	assert.InDelta(t, 13.0, tr.Rate(), 1e-9)
}

func TestRateFloorAfterStall(t *testing.T) {
	tr, clock := newTracker(Options{})
	clock.Advance(time.Second)
	tr.Processed(100)
	clock.Advance(99 * time.Second)
	tr.Processed(1)

	// Instantaneous rate is 1/99; the floor is 20% of 101 units over 100s.
	assert.InDelta(t, 0.2*101/100, tr.Rate(), 1e-9)
}

func TestWindowIsBounded(t *testing.T) {
	tr, clock := newTracker(Options{})
	for range 500 {
		clock.Advance(100 * time.Millisecond)
		tr.Processed(1)
	}
	assert.LessOrEqual(t, len(tr.window), 60)
	span := tr.window[len(tr.window)-1].at.Sub(tr.window[0].at)
	assert.LessOrEqual(t, span, 60*time.Second)
}

func TestETAUnknownWithoutProgress(t *testing.T) {
	tr, _ := newTracker(Options{})
	tr.SetTotal(10)
	assert.Nil(t, tr.ETA())
	assert.Nil(t, tr.Snapshot().Rate)
}

func TestEntityCounters(t *testing.T) {
	tr, _ := newTracker(Options{})
	tr.StartEntity("tags", 3)
	tr.Created("tags", 2)
	tr.Mapped("tags", 1)
	tr.Skipped(1)
	tr.Errored(1)

	s := tr.Snapshot()
	assert.Equal(t, models.EntityProgress{Total: 3, Created: 2, Mapped: 1}, s.Entities["tags"])
	assert.Equal(t, 4, s.Processed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Errors)
}

func TestWarningCap(t *testing.T) {
	tr, _ := newTracker(Options{WarningCap: 2})
	id := int64(7)
	for range 5 {
		tr.Warn("runs", &id, "bad date", nil)
	}
	tr.Warn("cases", nil, "other entity", nil)

	activity := tr.Snapshot().Activity
	require.Len(t, activity, 4)
	assert.Equal(t, models.ActivityLog, activity[0].Kind)
	assert.Equal(t, models.ActivityLog, activity[1].Kind)
	assert.Equal(t, models.ActivitySummary, activity[2].Kind)
	assert.Equal(t, map[string]any{"suppressed": 3}, activity[2].Details)
	assert.Equal(t, "cases", activity[3].Entity)
}

func TestSummaryEntry(t *testing.T) {
	tr, _ := newTracker(Options{})
	tr.Summary("tags", 3, 2, 1, map[string]any{"skipped": 0})

	entry := tr.Snapshot().Activity[0]
	assert.Equal(t, models.ActivitySummary, entry.Kind)
	assert.Equal(t, "tags", entry.Entity)
	assert.Equal(t, map[string]any{"total": 3, "created": 2, "mapped": 1, "skipped": 0}, entry.Details)
}

func TestPersistGating(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	var persisted []Snapshot
	tr := New(Options{PersistEvery: 10, PersistInterval: time.Minute, Now: clock.Now},
		func(_ context.Context, s Snapshot) error {
			persisted = append(persisted, s)
			return nil
		})
	ctx := context.Background()

	tr.Processed(5)
	require.NoError(t, tr.MaybePersist(ctx))
	assert.Empty(t, persisted)

	tr.Processed(5)
	require.NoError(t, tr.MaybePersist(ctx))
	require.Len(t, persisted, 1)
	assert.Equal(t, 10, persisted[0].Processed)

	tr.Processed(1)
	require.NoError(t, tr.MaybePersist(ctx))
	assert.Len(t, persisted, 1)

	clock.Advance(time.Minute)
	require.NoError(t, tr.MaybePersist(ctx))
	assert.Len(t, persisted, 2)
}

func TestPersistError(t *testing.T) {
	boom := errors.New("boom")
	tr := New(Options{}, func(context.Context, Snapshot) error { return boom })
	assert.ErrorIs(t, tr.Persist(context.Background()), boom)
}

func TestFinishAndApply(t *testing.T) {
	tr, _ := newTracker(Options{})
	tr.SetTotal(10)
	tr.Created("projects", 7)
	tr.Finish()

	job := &models.ImportJob{}
	tr.Snapshot().Apply(job)
	assert.Equal(t, 10, job.ProcessedCount)
	assert.Equal(t, job.TotalCount, job.ProcessedCount)
	assert.Equal(t, 7, job.EntityProgress["projects"].Created)
}

func TestResumeKeepsActivity(t *testing.T) {
	tr, _ := newTracker(Options{WarningCap: 1})
	tr.Resume(&models.ImportJob{
		ErrorCount: 2,
		ActivityLog: []models.ActivityEntry{
			{Kind: models.ActivityLog, Level: "warn", Entity: "runs", Message: "old"},
		},
	})
	tr.Warn("runs", nil, "new", nil)

	s := tr.Snapshot()
	assert.Equal(t, 2, s.Errors)
	require.Len(t, s.Activity, 2)
	assert.Equal(t, models.ActivitySummary, s.Activity[1].Kind)
}

func TestResumeRestoresEntityProgress(t *testing.T) {
	tr, clock := newTracker(Options{})
	tr.Resume(&models.ImportJob{
		EntityProgress: map[string]models.EntityProgress{"runs": {Total: 10, Created: 4}},
	})
	tr.SetTotal(10)
	tr.Resumed(4)

	clock.Advance(time.Second)
	tr.Created("runs", 1)

	s := tr.Snapshot()
	assert.Equal(t, 5, s.Processed)
	assert.Equal(t, models.EntityProgress{Total: 10, Created: 5}, s.Entities["runs"])
	assert.InDelta(t, 1.0, tr.Rate(), 1e-9, "resumed rows do not count as throughput")

	eta := tr.ETA()
	require.NotNil(t, eta)
	assert.InDelta(t, 5.0, *eta, 1e-9)
}

func TestResumedRowsDoNotTriggerPersist(t *testing.T) {
	tr, _ := newTracker(Options{PersistEvery: 10, PersistInterval: time.Hour})
	tr.Resumed(50)
	assert.False(t, tr.ShouldPersist())
	tr.Processed(10)
	assert.True(t, tr.ShouldPersist())
}

func TestWarningLogsSourceIDValue(t *testing.T) {
	var buf bytes.Buffer
	tr, _ := newTracker(Options{Logger: slog.New(slog.NewTextHandler(&buf, nil))})
	id := int64(7)
	tr.Warn("runs", &id, "unresolved status_id", nil)
	tr.Warn("runs", nil, "no id", nil)

	out := buf.String()
	assert.Contains(t, out, "source_id=7")
	assert.NotContains(t, out, "source_id=0x")
	assert.Equal(t, 1, strings.Count(out, "source_id="))
}
