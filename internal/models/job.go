// Package models defines the records shared by the staging store, the job
// record store and the import pipeline.
package models

import (
	"errors"
	"slices"
	"time"
)

// ErrJobNotFound is returned by job stores for unknown job ids.
var ErrJobNotFound = errors.New("import job not found")

// Phase is the coarse stage of an import job.
type Phase string

const (
	PhaseAnalyzing   Phase = "ANALYZING"
	PhaseConfiguring Phase = "CONFIGURING"
	PhaseImporting   Phase = "IMPORTING"
	PhaseDone        Phase = "DONE"
)

// Status is the fine-grained state of an import job.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusReady     Status = "READY"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// FinalStatuses are the statuses a job never leaves.
var FinalStatuses = []Status{StatusCompleted, StatusFailed, StatusCanceled}

// IsFinal reports whether s is terminal.
func (s Status) IsFinal() bool {
	return slices.Contains(FinalStatuses, s)
}

// EntityProgress counts work for one entity type.
type EntityProgress struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Mapped  int `json:"mapped"`
}

// Activity entry kinds.
const (
	ActivityLog     = "log"
	ActivitySummary = "summary"
)

// ActivityEntry is one operator-visible line of the job's activity log.
type ActivityEntry struct {
	Time     time.Time      `json:"time"`
	Kind     string         `json:"kind"`
	Level    string         `json:"level"`
	Entity   string         `json:"entity,omitempty"`
	SourceID *int64         `json:"source_id,omitempty"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// AnalyzeProgress reports byte-level progress while the export is decoded.
type AnalyzeProgress struct {
	BytesRead  int64    `json:"bytes_read"`
	TotalBytes int64    `json:"total_bytes"`
	Percentage float64  `json:"percentage"`
	ETASeconds *float64 `json:"eta_seconds,omitempty"`
}

// ImportJob is the persisted job record.
type ImportJob struct {
	ID       string `json:"job_id"`
	FileKey  string `json:"file_key"`
	FileName string `json:"file_name,omitempty"`
	Phase    Phase  `json:"phase"`
	Status   Status `json:"status"`

	ProcessedCount int `json:"processed_count"`
	TotalCount     int `json:"total_count"`
	ErrorCount     int `json:"error_count"`
	SkippedCount   int `json:"skipped_count"`

	Configuration   map[string]any            `json:"configuration,omitempty"`
	ActivityLog     []ActivityEntry           `json:"activity_log,omitempty"`
	EntityProgress  map[string]EntityProgress `json:"entity_progress,omitempty"`
	CancelRequested bool                      `json:"cancel_requested"`

	EstimatedTimeRemaining *float64         `json:"estimated_time_remaining,omitempty"` // seconds
	ProcessingRate         *float64         `json:"processing_rate,omitempty"`          // units per second
	Analyze                *AnalyzeProgress `json:"analyze,omitempty"`

	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *ImportJob) Clone() *ImportJob {
	c := *j
	c.Configuration = cloneMap(j.Configuration)
	c.ActivityLog = slices.Clone(j.ActivityLog)
	if j.EntityProgress != nil {
		c.EntityProgress = make(map[string]EntityProgress, len(j.EntityProgress))
		for k, v := range j.EntityProgress {
			c.EntityProgress[k] = v
		}
	}
	if j.Analyze != nil {
		a := *j.Analyze
		c.Analyze = &a
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
