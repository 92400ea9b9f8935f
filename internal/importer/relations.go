package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/models"
)

type relationColumn struct {
	source   string // export column
	target   string // destination column
	idEntity string // id map the source value resolves through
}

// relationImporter connects already imported entities through a join
// table. Existing pairs are left as they are.
type relationImporter struct {
	entity  string
	dataset string
	table   string
	columns []relationColumn
}

func (imp relationImporter) Entity() string { return imp.entity }

func (imp relationImporter) Plan(ctx context.Context, ic *Context) (int, error) {
	return ic.Staging.CountRows(ctx, ic.JobID, imp.dataset)
}

func (imp relationImporter) Import(ctx context.Context, ic *Context) (Summary, error) {
	return ic.importRows(ctx, imp.entity, imp.dataset, imp.connect)
}

func (imp relationImporter) connect(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	src, _ := sourceID(row)
	rec := make(dest.Record, len(imp.columns))
	for _, c := range imp.columns {
		id, err := res.ic.required(imp.entity, src, row, c.source, c.idEntity)
		if err != nil {
			return outcomeNone, err
		}
		rec[c.target] = id
	}
	exists, err := tx.Exists(ctx, imp.table, rec)
	if err != nil {
		return outcomeNone, fmt.Errorf("check %s: %w", imp.table, err)
	}
	if exists {
		return outcomeMapped, nil
	}
	if _, err := tx.Insert(ctx, imp.table, rec); err != nil {
		return outcomeNone, fmt.Errorf("insert %s: %w", imp.table, err)
	}
	return outcomeCreated, nil
}

var relationImporters = []relationImporter{
	{
		entity: EntityCaseTags, dataset: "case_tags", table: "case_tags",
		columns: []relationColumn{
			{source: "case_id", target: "case_id", idEntity: EntityCases},
			{source: "tag_id", target: "tag_id", idEntity: EntityTags},
		},
	},
	{
		entity: EntityRunTags, dataset: "run_tags", table: "run_tags",
		columns: []relationColumn{
			{source: "run_id", target: "run_id", idEntity: EntityRuns},
			{source: "tag_id", target: "tag_id", idEntity: EntityTags},
		},
	},
	{
		entity: EntitySessionTags, dataset: "session_tags", table: "session_tags",
		columns: []relationColumn{
			{source: "session_id", target: "session_id", idEntity: EntitySessions},
			{source: "tag_id", target: "tag_id", idEntity: EntityTags},
		},
	},
	{
		entity: EntityCaseIssues, dataset: "case_issues", table: "case_issues",
		columns: []relationColumn{
			{source: "case_id", target: "case_id", idEntity: EntityCases},
			{source: "issue_id", target: "issue_id", idEntity: EntityIssues},
		},
	},
	{
		entity: EntityRunIssues, dataset: "run_issues", table: "run_issues",
		columns: []relationColumn{
			{source: "run_id", target: "run_id", idEntity: EntityRuns},
			{source: "issue_id", target: "issue_id", idEntity: EntityIssues},
		},
	},
	{
		entity: EntityResultIssues, dataset: "result_issues", table: "result_issues",
		columns: []relationColumn{
			{source: "result_id", target: "result_id", idEntity: EntityResults},
			{source: "issue_id", target: "issue_id", idEntity: EntityIssues},
		},
	},
	{
		entity: EntitySessionIssues, dataset: "session_issues", table: "session_issues",
		columns: []relationColumn{
			{source: "session_id", target: "session_id", idEntity: EntitySessions},
			{source: "issue_id", target: "issue_id", idEntity: EntityIssues},
		},
	},
}

// linkTargets maps the entity_type of an exported link to the id map and
// destination entity type it attaches to.
var linkTargets = map[string]struct {
	idEntity string
	destType string
}{
	"case":      {EntityCases, "case"},
	"run":       {EntityRuns, "run"},
	"result":    {EntityResults, "result"},
	"session":   {EntitySessions, "session"},
	"milestone": {EntityMilestones, "milestone"},
	"project":   {EntityProjects, "project"},
}

var linksImporter = rowImporter{
	entity:  EntityLinks,
	dataset: "links",
	row:     importLink,
}

func importLink(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	src, _ := sourceID(row)
	var srcPtr *int64
	if src != 0 {
		srcPtr = &src
	}
	kind := strings.ToLower(textValue(row, "entity_type"))
	target, ok := linkTargets[kind]
	if !ok {
		return outcomeNone, rowErrorf(EntityLinks, srcPtr, "unknown link entity type %q", kind)
	}
	entityID, err := res.ic.required(EntityLinks, src, row, "entity_id", target.idEntity)
	if err != nil {
		return outcomeNone, err
	}
	url := strings.TrimSpace(textValue(row, "url"))
	if url == "" {
		return outcomeNone, rowErrorf(EntityLinks, srcPtr, "link has no url")
	}
	key := dest.Record{"entity_type": target.destType, "entity_id": entityID, "url": url}
	exists, err := tx.Exists(ctx, "entity_links", key)
	if err != nil {
		return outcomeNone, fmt.Errorf("check link: %w", err)
	}
	if exists {
		return outcomeMapped, nil
	}
	key["title"] = orNil(textValue(row, "title"))
	if _, err := tx.Insert(ctx, "entity_links", key); err != nil {
		return outcomeNone, fmt.Errorf("insert link: %w", err)
	}
	return outcomeCreated, nil
}
