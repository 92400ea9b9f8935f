package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/metrics"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/progress"
	"github.com/raphaelgruber/tmimport/internal/staging"
)

// IDMaps holds the source→destination id tables built by earlier importers
// and consumed by later ones. Keys are mapping entity names.
type IDMaps struct {
	m map[string]map[int64]int64
}

// NewIDMaps returns empty maps.
func NewIDMaps() *IDMaps {
	return &IDMaps{m: make(map[string]map[int64]int64)}
}

// Load seeds the maps from durable entity mappings.
func (ids *IDMaps) Load(mappings []models.EntityMapping) {
	for _, m := range mappings {
		ids.Set(m.EntityType, m.SourceID, m.TargetID)
	}
}

func (ids *IDMaps) Get(entity string, sourceID int64) (int64, bool) {
	id, ok := ids.m[entity][sourceID]
	return id, ok
}

func (ids *IDMaps) Set(entity string, sourceID, targetID int64) {
	t, ok := ids.m[entity]
	if !ok {
		t = make(map[int64]int64)
		ids.m[entity] = t
	}
	t[sourceID] = targetID
}

func (ids *IDMaps) Delete(entity string, sourceID int64) {
	delete(ids.m[entity], sourceID)
}

func (ids *IDMaps) Len(entity string) int {
	return len(ids.m[entity])
}

// ChunkPolicy bounds the work done in one destination transaction.
type ChunkPolicy struct {
	Default int
	Sizes   map[string]int // per entity overrides
	Timeout time.Duration
}

// DefaultChunkPolicy is used when the caller leaves the policy zero.
var DefaultChunkPolicy = ChunkPolicy{Default: 500, Timeout: 2 * time.Minute}

// Size returns the chunk size for an entity.
func (p ChunkPolicy) Size(entity string) int {
	if n := p.Sizes[entity]; n > 0 {
		return n
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultChunkPolicy.Default
}

// NameCache memoizes destination names for one import run.
type NameCache struct {
	names map[string]map[int64]string
}

// NewNameCache returns an empty cache.
func NewNameCache() *NameCache {
	return &NameCache{names: make(map[string]map[int64]string)}
}

// Name returns the name column of a destination row, or "" when the row
// does not exist.
func (c *NameCache) Name(ctx context.Context, tx dest.Tx, table string, id int64) (string, error) {
	if id == 0 {
		return "", nil
	}
	if name, ok := c.names[table][id]; ok {
		return name, nil
	}
	rec, err := tx.FindByID(ctx, table, id)
	if err != nil && !errors.Is(err, dest.ErrNotFound) {
		return "", err
	}
	name := rec.String("name")
	t, ok := c.names[table]
	if !ok {
		t = make(map[int64]string)
		c.names[table] = t
	}
	t[id] = name
	return name, nil
}

// Context is shared by every importer of one run.
type Context struct {
	JobID   string
	Staging staging.Store
	Dest    dest.Store
	Config  *mapping.Config
	IDs     *IDMaps
	Tracker *progress.Tracker
	Chunks  ChunkPolicy
	Names   *NameCache
	Metrics metrics.Recorder
	Logger  *slog.Logger

	// CheckCancel reports whether cancellation was requested. Nil means
	// never canceled.
	CheckCancel func(ctx context.Context) (bool, error)

	// Checkpoint persists progress and the current configuration. It runs
	// after every committed chunk.
	Checkpoint func(ctx context.Context) error

	chunk       *chunkResult // open chunk; its warnings wait for the commit
	options     map[int64][]dest.Record
	fields      map[int64]dest.Record
	canonical   map[int64]canonicalRepo
	withResults map[int64]struct{}
}

func (ic *Context) withDefaults() {
	if ic.IDs == nil {
		ic.IDs = NewIDMaps()
	}
	if ic.Names == nil {
		ic.Names = NewNameCache()
	}
	if ic.Chunks.Default <= 0 {
		ic.Chunks.Default = DefaultChunkPolicy.Default
	}
	if ic.Chunks.Timeout <= 0 {
		ic.Chunks.Timeout = DefaultChunkPolicy.Timeout
	}
	if ic.Config == nil {
		ic.Config = mapping.New()
	}
	if ic.Tracker == nil {
		ic.Tracker = progress.New(progress.Options{}, nil)
	}
	if ic.Metrics == nil {
		ic.Metrics = metrics.Discard
	}
	ic.Staging = staging.WithPageMetrics(ic.Staging, ic.Metrics)
	if ic.Logger == nil {
		ic.Logger = slog.Default()
	}
}

func (ic *Context) checkCancel(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ic.CheckCancel == nil {
		return nil
	}
	canceled, err := ic.CheckCancel(ctx)
	if err != nil {
		return fmt.Errorf("check cancel: %w", err)
	}
	if canceled {
		return ErrCanceled
	}
	return nil
}

func (ic *Context) checkpoint(ctx context.Context) error {
	if ic.Checkpoint == nil {
		return nil
	}
	return ic.Checkpoint(ctx)
}

// warn records a row-level warning that did not stop the row. Inside a
// chunk the warning is held until the chunk commits.
func (ic *Context) warn(entity string, sourceID int64, msg string, details map[string]any) {
	var id *int64
	if sourceID != 0 {
		id = &sourceID
	}
	if ic.chunk != nil {
		ic.chunk.warnings = append(ic.chunk.warnings, warning{entity: entity, sourceID: id, msg: msg, details: details})
		return
	}
	ic.Tracker.Warn(entity, id, msg, details)
}

// Summary is the outcome of one importer.
type Summary struct {
	Entity  string         `json:"entity"`
	Total   int            `json:"total"`
	Created int            `json:"created"`
	Mapped  int            `json:"mapped"`
	Details map[string]any `json:"details,omitempty"`
}

func (s *Summary) detail(key string, n int) {
	if n == 0 {
		return
	}
	if s.Details == nil {
		s.Details = make(map[string]any)
	}
	prev, _ := s.Details[key].(int)
	s.Details[key] = prev + n
}

// Importer moves one entity type into the destination.
type Importer interface {
	// Entity is the mapping entity name the importer produces.
	Entity() string
	// Plan counts the units Import will process.
	Plan(ctx context.Context, ic *Context) (int, error)
	Import(ctx context.Context, ic *Context) (Summary, error)
}
