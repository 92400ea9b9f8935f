package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/metrics"
	"github.com/raphaelgruber/tmimport/internal/models"
)

// referenceSpec describes how one configuration entity type lands in the
// destination.
type referenceSpec struct {
	et    mapping.EntityType
	table string
	// natural is the lookup that finds an existing row for a create
	// decision.
	natural func(f mapping.Fields) dest.Record
	record  func(f mapping.Fields) dest.Record
	// children runs after a create decision resolved, for rows owned by the
	// entity (variants, options, field assignments).
	children func(ctx context.Context, tx dest.Tx, r *chunkResult, targetID int64, f mapping.Fields) error
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func systemName(f mapping.Fields) string {
	if f.SystemName != "" {
		return f.SystemName
	}
	return models.SystemName(f.Name)
}

var referenceSpecs = []referenceSpec{
	{
		et:    mapping.Workflows,
		table: "workflows",
		natural: func(f mapping.Fields) dest.Record {
			return dest.Record{"name": f.Name, "workflow_type": orDefault(f.WorkflowType, mapping.WorkflowKinds[0])}
		},
		record: func(f mapping.Fields) dest.Record {
			return dest.Record{
				"name":          f.Name,
				"icon":          f.Icon,
				"color":         f.Color,
				"scope":         orDefault(f.Scope, mapping.WorkflowScopes[0]),
				"workflow_type": orDefault(f.WorkflowType, mapping.WorkflowKinds[0]),
			}
		},
	},
	{
		et:      mapping.Statuses,
		table:   "statuses",
		natural: func(f mapping.Fields) dest.Record { return dest.Record{"system_name": systemName(f)} },
		record: func(f mapping.Fields) dest.Record {
			return dest.Record{
				"name":         f.Name,
				"system_name":  systemName(f),
				"color":        f.Color,
				"is_success":   f.IsSuccess,
				"is_failure":   f.IsFailure,
				"is_completed": f.IsCompleted,
			}
		},
	},
	{
		et:      mapping.Groups,
		table:   "groups",
		natural: byName,
		record: func(f mapping.Fields) dest.Record {
			return dest.Record{"name": f.Name, "note": orNil(f.Note)}
		},
	},
	{
		et:      mapping.Tags,
		table:   "tags",
		natural: byName,
		record:  byName,
	},
	{
		et:      mapping.Roles,
		table:   "roles",
		natural: byName,
		record: func(f mapping.Fields) dest.Record {
			return dest.Record{"name": f.Name, "is_default": f.IsDefault}
		},
	},
	{
		et:      mapping.MilestoneTypes,
		table:   "milestone_types",
		natural: byName,
		record: func(f mapping.Fields) dest.Record {
			return dest.Record{"name": f.Name, "icon": f.Icon, "is_default": f.IsDefault}
		},
	},
	{
		et:       mapping.Configurations,
		table:    "configurations",
		natural:  byName,
		record:   byName,
		children: configVariants,
	},
	{
		et:      mapping.TemplateFields,
		table:   "template_fields",
		natural: func(f mapping.Fields) dest.Record { return dest.Record{"system_name": systemName(f)} },
		record: func(f mapping.Fields) dest.Record {
			return dest.Record{
				"display_name": f.Name,
				"system_name":  systemName(f),
				"field_type":   f.FieldType,
				"target":       orDefault(f.Target, mapping.FieldTargets[0]),
				"is_required":  f.IsRequired,
			}
		},
		children: fieldOptions,
	},
	{
		et:      mapping.Templates,
		table:   "templates",
		natural: byName,
		record: func(f mapping.Fields) dest.Record {
			return dest.Record{"name": f.Name, "is_default": f.IsDefault}
		},
		children: templateAssignments,
	},
	{
		et:      mapping.IssueTargets,
		table:   "issue_targets",
		natural: byName,
		record: func(f mapping.Fields) dest.Record {
			return dest.Record{
				"name":     f.Name,
				"provider": orDefault(f.Provider, mapping.Providers[0]),
				"base_url": orNil(f.BaseURL),
			}
		},
	},
}

var userSpec = referenceSpec{
	et:    mapping.Users,
	table: "users",
	natural: func(f mapping.Fields) dest.Record {
		return dest.Record{"email": strings.ToLower(f.Email)}
	},
	record: func(f mapping.Fields) dest.Record {
		return dest.Record{
			"email":     strings.ToLower(f.Email),
			"name":      userName(f.Name, f.Email),
			"access":    orDefault(f.Access, mapping.UserAccess[0]),
			"is_active": f.IsActive,
		}
	},
}

func byName(f mapping.Fields) dest.Record {
	return dest.Record{"name": f.Name}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// userName falls back to the local part of the email.
func userName(name, email string) string {
	if name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func configVariants(ctx context.Context, tx dest.Tx, r *chunkResult, configID int64, f mapping.Fields) error {
	for _, v := range f.Variants {
		if v.Name == "" {
			continue
		}
		key := dest.Record{"configuration_id": configID, "name": v.Name}
		id, _, err := findOrInsert(ctx, tx, "config_variants", key, key)
		if err != nil {
			return fmt.Errorf("variant %q: %w", v.Name, err)
		}
		if v.SourceID != 0 {
			r.record(EntityConfigVariants, v.SourceID, id, "config_variants")
		}
	}
	return nil
}

func fieldOptions(ctx context.Context, tx dest.Tx, r *chunkResult, fieldID int64, f mapping.Fields) error {
	for i, o := range f.Options {
		if o.Name == "" {
			continue
		}
		id, _, err := findOrInsert(ctx, tx, "field_options",
			dest.Record{"field_id": fieldID, "name": o.Name},
			dest.Record{"field_id": fieldID, "name": o.Name, "position": i})
		if err != nil {
			return fmt.Errorf("option %q: %w", o.Name, err)
		}
		if o.SourceID != 0 {
			r.record(EntityFieldOptions, o.SourceID, id, "field_options")
		}
	}
	delete(r.ic.options, fieldID)
	return nil
}

func templateAssignments(ctx context.Context, tx dest.Tx, r *chunkResult, templateID int64, f mapping.Fields) error {
	for i, src := range f.FieldIDs {
		fieldID, ok := r.ic.IDs.Get(EntityTemplateFields, src)
		if !ok {
			r.ic.warn(EntityTemplates, 0, "template references unknown field", map[string]any{
				"template_id": templateID,
				"field_id":    src,
			})
			continue
		}
		key := dest.Record{"template_id": templateID, "field_id": fieldID}
		if _, _, err := findOrInsert(ctx, tx, "template_field_assignments", key,
			dest.Record{"template_id": templateID, "field_id": fieldID, "position": i}); err != nil {
			return fmt.Errorf("assign field %d: %w", src, err)
		}
	}
	return nil
}

// findOrInsert returns the id of the row matching key, inserting rec when
// none exists. The bool reports whether a row was inserted.
func findOrInsert(ctx context.Context, tx dest.Tx, table string, key, rec dest.Record) (int64, bool, error) {
	found, err := tx.FindOne(ctx, table, key)
	if err == nil {
		return found.ID(), false, nil
	}
	if !errors.Is(err, dest.ErrNotFound) {
		return 0, false, err
	}
	id, err := tx.Insert(ctx, table, rec)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// decide carries out one configuration decision.
func (r *chunkResult) decide(ctx context.Context, tx dest.Tx, spec referenceSpec, e mapping.Entry) (outcome, error) {
	entity := string(spec.et)
	switch d := e.Decision.(type) {
	case mapping.MapTo:
		if err := verifyTarget(ctx, tx, spec, e.SourceID, d.TargetID); err != nil {
			return outcomeNone, err
		}
		r.resolve(spec, e.SourceID, d.TargetID, false)
		return outcomeMapped, nil

	case mapping.Resolved:
		if err := verifyTarget(ctx, tx, spec, e.SourceID, d.TargetID); err != nil {
			return outcomeNone, err
		}
		r.resolve(spec, e.SourceID, d.TargetID, d.Created)
		r.resumed++
		return outcomeMapped, nil

	case mapping.CreateNew:
		if missing := mapping.Missing(spec.et, d.Fields); len(missing) > 0 {
			return outcomeNone, configErrorf(entity, e.SourceID,
				"create is missing required fields: %s", strings.Join(missing, ", "))
		}
		id, inserted, err := findOrInsert(ctx, tx, spec.table, spec.natural(d.Fields), spec.record(d.Fields))
		if err != nil {
			return outcomeNone, fmt.Errorf("%s %d: %w", entity, e.SourceID, err)
		}
		if spec.children != nil {
			if err := spec.children(ctx, tx, r, id, d.Fields); err != nil {
				return outcomeNone, fmt.Errorf("%s %d: %w", entity, e.SourceID, err)
			}
		}
		r.resolve(spec, e.SourceID, id, inserted)
		if inserted {
			return outcomeCreated, nil
		}
		return outcomeMapped, nil

	default:
		return outcomeNone, configErrorf(entity, e.SourceID, "unknown decision %T", e.Decision)
	}
}

func verifyTarget(ctx context.Context, tx dest.Tx, spec referenceSpec, sourceID, targetID int64) error {
	if targetID <= 0 {
		return configErrorf(string(spec.et), sourceID, "map decision has no mappedTo")
	}
	_, err := tx.FindByID(ctx, spec.table, targetID)
	if errors.Is(err, dest.ErrNotFound) {
		return configErrorf(string(spec.et), sourceID, "mappedTo %d does not exist in %s", targetID, spec.table)
	}
	return err
}

func (r *chunkResult) resolve(spec referenceSpec, sourceID, targetID int64, created bool) {
	r.record(string(spec.et), sourceID, targetID, spec.table)
	r.resolved = append(r.resolved, resolution{et: spec.et, sourceID: sourceID, targetID: targetID, created: created})
}

// entryFunc handles one configuration entry inside a chunk transaction.
type entryFunc func(ctx context.Context, tx dest.Tx, e mapping.Entry, res *chunkResult) (outcome, error)

// importEntries runs fn over configuration entries in source id order, one
// transaction per chunk.
func (ic *Context) importEntries(ctx context.Context, entity string, entries []mapping.Entry, fn entryFunc, s *Summary) error {
	size := ic.Chunks.Size(entity)
	for start := 0; start < len(entries); start += size {
		chunk := entries[start:min(start+size, len(entries))]
		if err := ic.checkCancel(ctx); err != nil {
			return err
		}
		res := newChunkResult(ic, entity)
		began := time.Now()
		ic.chunk = res
		err := ic.Dest.InTx(ctx, ic.Chunks.Timeout, func(ctx context.Context, tx dest.Tx) error {
			for _, e := range chunk {
				o, err := fn(ctx, tx, e, res)
				if err != nil {
					return err
				}
				res.count(o)
			}
			return nil
		})
		ic.chunk = nil
		if err != nil {
			res.rollback()
			ic.chunkFailed(ctx, err)
			return fmt.Errorf("import %s: %w", entity, err)
		}
		ic.Metrics.RecordBatch(metrics.OpImportChunk, time.Since(began), len(chunk))
		s.Total += len(chunk)
		if err := res.commit(ctx, "", s); err != nil {
			return err
		}
	}
	return nil
}

// referenceImporter imports one configuration entity type.
type referenceImporter struct {
	spec referenceSpec
}

func (imp referenceImporter) Entity() string { return string(imp.spec.et) }

func (imp referenceImporter) Plan(_ context.Context, ic *Context) (int, error) {
	return ic.Config.Len(imp.spec.et), nil
}

func (imp referenceImporter) Import(ctx context.Context, ic *Context) (Summary, error) {
	entity := imp.Entity()
	s := Summary{Entity: entity}
	entries := ic.Config.Entries(imp.spec.et)
	ic.Tracker.StartEntity(entity, len(entries))
	err := ic.importEntries(ctx, entity, entries, func(ctx context.Context, tx dest.Tx, e mapping.Entry, res *chunkResult) (outcome, error) {
		return res.decide(ctx, tx, imp.spec, e)
	}, &s)
	return s, err
}
