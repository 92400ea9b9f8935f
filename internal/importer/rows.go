package importer

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/staging"
)

// rowImporter imports one staged dataset row by row.
type rowImporter struct {
	entity  string
	dataset string
	row     rowFunc
	// before and after run outside the row chunks, e.g. to collect lookups
	// or to link rows that referenced later rows.
	before func(ctx context.Context, ic *Context) error
	after  func(ctx context.Context, ic *Context, s *Summary) error
}

func (imp rowImporter) Entity() string { return imp.entity }

func (imp rowImporter) Plan(ctx context.Context, ic *Context) (int, error) {
	return ic.Staging.CountRows(ctx, ic.JobID, imp.dataset)
}

func (imp rowImporter) Import(ctx context.Context, ic *Context) (Summary, error) {
	if imp.before != nil {
		if err := imp.before(ctx, ic); err != nil {
			return Summary{Entity: imp.entity}, fmt.Errorf("prepare %s: %w", imp.entity, err)
		}
	}
	s, err := ic.importRows(ctx, imp.entity, imp.dataset, imp.row)
	if err != nil {
		return s, err
	}
	if imp.after != nil {
		if err := imp.after(ctx, ic, &s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// lookup resolves a reference column without reporting misses.
func (ic *Context) lookup(idEntity string, row models.StagingRow, column string) (int64, bool) {
	src, ok := models.Int64(row.Field(column))
	if !ok || src == 0 {
		return 0, false
	}
	return ic.IDs.Get(idEntity, src)
}

// required resolves a reference the row cannot be written without.
func (ic *Context) required(entity string, sourceID int64, row models.StagingRow, column, idEntity string) (int64, error) {
	if id, ok := ic.lookup(idEntity, row, column); ok {
		return id, nil
	}
	var src *int64
	if sourceID != 0 {
		src = &sourceID
	}
	return 0, &RowError{
		Entity:   entity,
		SourceID: src,
		Msg:      fmt.Sprintf("unresolved %s", column),
		Details:  map[string]any{column: row.Field(column)},
	}
}

// linkParents sets parent_id on rows whose parent was imported after them.
// It is safe to run repeatedly: rows that already have a parent are left
// alone.
func (ic *Context) linkParents(ctx context.Context, entity, dataset, table string, s *Summary) error {
	linked := 0
	err := staging.Each(ctx, ic.Staging, ic.JobID, dataset, ic.Chunks.Size(entity), func(rows []models.StagingRow) error {
		if err := ic.checkCancel(ctx); err != nil {
			return err
		}
		n := 0
		err := ic.Dest.InTx(ctx, ic.Chunks.Timeout, func(ctx context.Context, tx dest.Tx) error {
			n = 0
			for _, row := range rows {
				src, ok := sourceID(row)
				if !ok || row.Failed() {
					continue
				}
				parentSrc, ok := models.Int64(row.Field("parent_id"))
				if !ok || parentSrc == 0 {
					continue
				}
				child, ok := ic.IDs.Get(entity, src)
				if !ok {
					continue
				}
				parent, ok := ic.IDs.Get(entity, parentSrc)
				if !ok {
					ic.warn(entity, src, "unresolved parent_id", map[string]any{"parent_id": parentSrc})
					continue
				}
				rec, err := tx.FindByID(ctx, table, child)
				if err != nil {
					return fmt.Errorf("load %s %d: %w", table, child, err)
				}
				if rec["parent_id"] != nil {
					continue
				}
				if err := tx.Update(ctx, table, child, dest.Record{"parent_id": parent}); err != nil {
					return fmt.Errorf("link %s %d: %w", table, child, err)
				}
				n++
			}
			return nil
		})
		if err != nil {
			return err
		}
		linked += n
		return nil
	})
	if err != nil {
		return fmt.Errorf("link %s parents: %w", entity, err)
	}
	s.detail("parents_linked", linked)
	return nil
}
