// Package metrics provides in-memory runtime statistics for import jobs.
package metrics

import (
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Items     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Op          string
	Count       int64
	Items       int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64
}

// Snapshot represents the statistics of one job run at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Operations    []OperationSnapshot
}

// LogValue renders the snapshot as a compact slog group.
func (s Snapshot) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(s.Operations)+1)
	attrs = append(attrs, slog.Float64("uptime_s", math.Round(s.UptimeSeconds*10)/10))
	for _, op := range s.Operations {
		attrs = append(attrs, slog.Group(op.Op,
			slog.Int64("count", op.Count),
			slog.Int64("items", op.Items),
			slog.Float64("avg_ms", math.Round(op.AvgTimeMs*10)/10),
			slog.Int64("max_ms", op.MaxTimeMs),
		))
	}
	return slog.GroupValue(attrs...)
}

// Operation names for the collector.
const (
	OpBlobOpen     = "blob_open"
	OpStageBatch   = "stage_batch"
	OpStagingPage  = "staging_page"
	OpImportChunk  = "import_chunk"
	OpPersistJob   = "persist_job"
	OpSaveMappings = "save_mappings"
)

// Recorder is the narrow interface components record timings through.
type Recorder interface {
	RecordBatch(op string, duration time.Duration, items int)
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.RecordBatch(op, duration, 0)
}

// RecordBatch records timing for an operation that handled items units.
func (c *Collector) RecordBatch(op string, duration time.Duration, items int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.Items += int64(items)
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

func snapshotOp(op string, m *OperationMetrics) OperationSnapshot {
	return OperationSnapshot{
		Op:          op,
		Count:       m.Count,
		Items:       m.Items,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns a point-in-time snapshot of all recorded operations,
// sorted by name.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make([]OperationSnapshot, 0, len(c.ops))
	for name, m := range c.ops {
		if m.Count == 0 {
			continue
		}
		ops = append(ops, snapshotOp(name, m))
	}
	slices.SortFunc(ops, func(a, b OperationSnapshot) int {
		switch {
		case a.Op < b.Op:
			return -1
		case a.Op > b.Op:
			return 1
		}
		return 0
	})
	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Operations:    ops,
	}
}

// Discard is a Recorder that drops everything.
var Discard Recorder = discard{}

type discard struct{}

func (discard) RecordBatch(string, time.Duration, int) {}
