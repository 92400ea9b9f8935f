package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/metrics"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/staging"
)

type outcome int

const (
	outcomeNone outcome = iota
	outcomeCreated
	outcomeMapped
)

type idSet struct {
	entity   string
	sourceID int64
	prev     int64
	existed  bool
}

// chunkResult collects what one chunk did so it can be applied after the
// transaction commits, or undone when it rolls back.
type chunkResult struct {
	ic         *Context
	entity     string
	mappings   []models.EntityMapping
	ids        []idSet
	resolved   []resolution
	done       []int
	failed     []failedRow
	warnings   []warning
	created    int
	mapped     int
	resumed    int // mapped decisions already resolved by an earlier run
	plain      int
	adjusted   int
	unselected int
}

type warning struct {
	entity   string
	sourceID *int64
	msg      string
	details  map[string]any
}

type resolution struct {
	et       mapping.EntityType
	sourceID int64
	targetID int64
	created  bool
}

type failedRow struct {
	rowIndex int
	err      *RowError
}

func newChunkResult(ic *Context, entity string) *chunkResult {
	return &chunkResult{ic: ic, entity: entity}
}

// record maps a source id to a destination id: visible to later rows of the
// same chunk at once, durable once the chunk commits.
func (r *chunkResult) record(entity string, sourceID, targetID int64, targetType string) {
	prev, existed := r.ic.IDs.Get(entity, sourceID)
	r.ids = append(r.ids, idSet{entity: entity, sourceID: sourceID, prev: prev, existed: existed})
	r.ic.IDs.Set(entity, sourceID, targetID)
	r.mappings = append(r.mappings, models.EntityMapping{
		JobID:      r.ic.JobID,
		EntityType: entity,
		SourceID:   sourceID,
		TargetID:   targetID,
		TargetType: targetType,
	})
}

func (r *chunkResult) count(o outcome) {
	switch o {
	case outcomeCreated:
		r.created++
	case outcomeMapped:
		r.mapped++
	default:
		r.plain++
	}
}

func (r *chunkResult) rollback() {
	for i := len(r.ids) - 1; i >= 0; i-- {
		s := r.ids[i]
		if s.existed {
			r.ic.IDs.Set(s.entity, s.sourceID, s.prev)
		} else {
			r.ic.IDs.Delete(s.entity, s.sourceID)
		}
	}
	*r = chunkResult{ic: r.ic, entity: r.entity}
}

// commit applies the chunk's bookkeeping after the destination commit.
func (r *chunkResult) commit(ctx context.Context, dataset string, s *Summary) error {
	ic := r.ic
	start := time.Now()
	if err := ic.Staging.UpsertMappings(ctx, r.mappings); err != nil {
		return fmt.Errorf("save %s mappings: %w", r.entity, err)
	}
	ic.Metrics.RecordBatch(metrics.OpSaveMappings, time.Since(start), len(r.mappings))
	for _, res := range r.resolved {
		ic.Config.Resolve(res.et, res.sourceID, res.targetID, res.created)
	}

	if dataset != "" {
		if err := ic.Staging.MarkProcessed(ctx, ic.JobID, dataset, r.done); err != nil {
			return fmt.Errorf("mark %s processed: %w", dataset, err)
		}
		for _, f := range r.failed {
			if err := ic.Staging.MarkFailed(ctx, ic.JobID, dataset, f.rowIndex, f.err.Msg); err != nil {
				return fmt.Errorf("mark %s row %d failed: %w", dataset, f.rowIndex, err)
			}
		}
	}
	for _, w := range r.warnings {
		ic.Tracker.Warn(w.entity, w.sourceID, w.msg, w.details)
	}
	for _, f := range r.failed {
		ic.Tracker.Warn(r.entity, f.err.SourceID, f.err.Msg, f.err.Details)
	}

	ic.Tracker.Created(r.entity, r.created)
	ic.Tracker.Mapped(r.entity, r.mapped-r.resumed)
	ic.Tracker.Resumed(r.resumed)
	ic.Tracker.Processed(r.plain)
	ic.Tracker.Skipped(len(r.failed))
	ic.Tracker.Errored(len(r.failed))
	s.Created += r.created
	s.Mapped += r.mapped
	s.detail("skipped", len(r.failed))
	s.detail("durations_adjusted", r.adjusted)
	s.detail("unselected_skipped", r.unselected)

	return ic.checkpoint(ctx)
}

// rowFunc handles one staged row inside a chunk transaction. Returning a
// *RowError skips the row; any other error aborts the chunk.
type rowFunc func(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error)

// importRows runs fn over the unprocessed rows of a dataset in row order,
// one transaction per chunk. Rows finished by an earlier run are counted
// but not touched; their ids come from the preloaded mappings.
func (ic *Context) importRows(ctx context.Context, entity, dataset string, fn rowFunc) (Summary, error) {
	s := Summary{Entity: entity}
	size := ic.Chunks.Size(entity)
	ic.Tracker.StartEntity(entity, 0)

	err := staging.Each(ctx, ic.Staging, ic.JobID, dataset, size, func(rows []models.StagingRow) error {
		pending := make([]models.StagingRow, 0, len(rows))
		for _, row := range rows {
			s.Total++
			if row.Processed {
				ic.Tracker.Resumed(1)
				s.detail("resumed", 1)
				continue
			}
			pending = append(pending, row)
		}
		ic.Tracker.StartEntity(entity, s.Total)
		if len(pending) == 0 {
			return nil
		}
		return ic.runChunk(ctx, entity, dataset, pending, fn, &s)
	})
	if err != nil {
		return s, err
	}
	ic.Tracker.StartEntity(entity, s.Total)
	return s, nil
}

func (ic *Context) runChunk(ctx context.Context, entity, dataset string, rows []models.StagingRow, fn rowFunc, s *Summary) error {
	if err := ic.checkCancel(ctx); err != nil {
		return err
	}

	res := newChunkResult(ic, entity)
	start := time.Now()
	ic.chunk = res
	err := ic.Dest.InTx(ctx, ic.Chunks.Timeout, func(ctx context.Context, tx dest.Tx) error {
		for _, row := range rows {
			o, err := fn(ctx, tx, row, res)
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				res.failed = append(res.failed, failedRow{rowIndex: row.RowIndex, err: rowErr})
				continue
			}
			if err != nil {
				return err
			}
			res.done = append(res.done, row.RowIndex)
			res.count(o)
		}
		return nil
	})
	ic.chunk = nil
	if err != nil {
		res.rollback()
		ic.chunkFailed(ctx, err)
		return fmt.Errorf("import %s chunk starting at row %d: %w", entity, rows[0].RowIndex, err)
	}
	ic.Metrics.RecordBatch(metrics.OpImportChunk, time.Since(start), len(rows))
	return res.commit(ctx, dataset, s)
}

// chunkFailed counts a rolled-back chunk as an error unless the run was
// canceled or shut down.
func (ic *Context) chunkFailed(ctx context.Context, err error) {
	if errors.Is(err, ErrCanceled) || ctx.Err() != nil {
		return
	}
	ic.Tracker.Errored(1)
}

// sourceID returns the row's id column.
func sourceID(row models.StagingRow) (int64, bool) {
	return models.Int64(row.Field("id"))
}

// requireID returns the row id or a row error.
func requireID(entity string, row models.StagingRow) (int64, error) {
	id, ok := sourceID(row)
	if !ok {
		return 0, rowErrorf(entity, nil, "row %d has no id", row.RowIndex)
	}
	return id, nil
}

// ref resolves a foreign key column through an id map. Absent references
// resolve to nil; references to unknown sources warn and resolve to nil.
func (ic *Context) ref(entity string, sourceID int64, row models.StagingRow, column, idEntity string) any {
	v := row.Field(column)
	src, ok := models.Int64(v)
	if !ok || src == 0 {
		return nil
	}
	if id, ok := ic.IDs.Get(idEntity, src); ok {
		return id
	}
	ic.warn(entity, sourceID, fmt.Sprintf("unresolved %s reference", column), map[string]any{column: src})
	return nil
}
