package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/tmimport/internal/dataset"
	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/richtext"
	"github.com/raphaelgruber/tmimport/internal/staging"
)

// DefaultRepositoryName names repositories created for projects whose
// export has none.
const DefaultRepositoryName = "Repository"

type canonicalRepo struct {
	sourceID int64
	name     string
	master   bool
}

// collectCanonical picks one repository per project: the master when the
// export flags one, otherwise the first non-snapshot repository.
func collectCanonical(ctx context.Context, ic *Context) error {
	ic.canonical = make(map[int64]canonicalRepo)
	return staging.Each(ctx, ic.Staging, ic.JobID, "repositories", ic.Chunks.Size(EntityRepositories), func(rows []models.StagingRow) error {
		for _, row := range rows {
			src, ok := sourceID(row)
			if !ok || models.Bool(row.Field("is_snapshot")) {
				continue
			}
			project, ok := models.Int64(row.Field("project_id"))
			if !ok {
				continue
			}
			master := models.Bool(row.Field("is_master"))
			cur, seen := ic.canonical[project]
			if seen && (cur.master || !master) {
				continue
			}
			ic.canonical[project] = canonicalRepo{sourceID: src, name: textValue(row, "name"), master: master}
		}
		return nil
	})
}

var repositoriesImporter = rowImporter{
	entity:  EntityRepositories,
	dataset: "repositories",
	row:     importRepository,
	before:  collectCanonical,
}

// importRepository maps every repository of a project onto the project's
// canonical destination repository.
func importRepository(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityRepositories, row)
	if err != nil {
		return outcomeNone, err
	}
	project, err := ic.required(EntityRepositories, src, row, "project_id", EntityProjects)
	if err != nil {
		return outcomeNone, err
	}
	projectSrc, _ := models.Int64(row.Field("project_id"))
	canon, ok := ic.canonical[projectSrc]
	if !ok {
		canon = canonicalRepo{sourceID: src, name: textValue(row, "name")}
	}
	if id, ok := ic.IDs.Get(EntityRepositories, canon.sourceID); ok {
		res.record(EntityRepositories, src, id, "repositories")
		return outcomeMapped, nil
	}
	id, err := tx.Insert(ctx, "repositories", dest.Record{
		"project_id": project,
		"name":       orDefault(strings.TrimSpace(canon.name), DefaultRepositoryName),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("repository %d: %w", src, err)
	}
	res.record(EntityRepositories, canon.sourceID, id, "repositories")
	if src != canon.sourceID {
		res.record(EntityRepositories, src, id, "repositories")
	}
	return outcomeCreated, nil
}

// ensureRepository returns a destination repository of the project,
// creating one when the project has none.
func ensureRepository(ctx context.Context, tx dest.Tx, projectID int64) (int64, error) {
	id, _, err := findOrInsert(ctx, tx, "repositories",
		dest.Record{"project_id": projectID},
		dest.Record{"project_id": projectID, "name": DefaultRepositoryName})
	return id, err
}

// ensureFolder returns the folder called name under parent (0 for the
// repository root), creating it when missing.
func ensureFolder(ctx context.Context, tx dest.Tx, repositoryID, parent int64, name string) (int64, error) {
	var parentID any
	if parent != 0 {
		parentID = parent
	}
	id, _, err := findOrInsert(ctx, tx, "repository_folders",
		dest.Record{"repository_id": repositoryID, "parent_id": parentID, "name": name},
		dest.Record{"repository_id": repositoryID, "parent_id": parentID, "name": name})
	return id, err
}

func position(row models.StagingRow) int {
	for _, col := range []string{"order", "position"} {
		if n, ok := models.Int64(row.Field(col)); ok {
			return int(n)
		}
	}
	return 0
}

var foldersImporter = rowImporter{
	entity:  EntityFolders,
	dataset: "repository_folders",
	row:     importFolder,
	after: func(ctx context.Context, ic *Context, s *Summary) error {
		return ic.linkParents(ctx, EntityFolders, "repository_folders", "repository_folders", s)
	},
}

func importFolder(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityFolders, row)
	if err != nil {
		return outcomeNone, err
	}
	repo, err := ic.required(EntityFolders, src, row, dataset.RepositoryColumn, EntityRepositories)
	if err != nil {
		return outcomeNone, err
	}
	var parent any
	if id, ok := ic.lookup(EntityFolders, row, "parent_id"); ok {
		parent = id
	}
	id, err := tx.Insert(ctx, "repository_folders", dest.Record{
		"repository_id": repo,
		"parent_id":     parent,
		"name":          orDefault(strings.TrimSpace(textValue(row, "name")), fmt.Sprintf("Folder %d", src)),
		"docs":          richText(row, "docs"),
		"position":      position(row),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("folder %d: %w", src, err)
	}
	res.record(EntityFolders, src, id, "repository_folders")
	return outcomeCreated, nil
}

var casesImporter = rowImporter{
	entity:  EntityCases,
	dataset: "repository_cases",
	row:     importCase,
}

func importCase(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityCases, row)
	if err != nil {
		return outcomeNone, err
	}
	name := strings.TrimSpace(textValue(row, "title"))
	if name == "" {
		name = strings.TrimSpace(textValue(row, "name"))
	}
	if name == "" {
		return outcomeNone, rowErrorf(EntityCases, &src, "case has no title")
	}
	repo, err := ic.required(EntityCases, src, row, dataset.RepositoryColumn, EntityRepositories)
	if err != nil {
		return outcomeNone, err
	}
	project, ok := ic.lookup(EntityProjects, row, "project_id")
	if !ok {
		rec, err := tx.FindByID(ctx, "repositories", repo)
		if err != nil {
			return outcomeNone, fmt.Errorf("case %d repository: %w", src, err)
		}
		project, _ = models.Int64(rec["project_id"])
	}
	template := ic.ref(EntityCases, src, row, "template_id", EntityTemplates)
	workflow := ic.ref(EntityCases, src, row, "state_id", EntityWorkflows)
	estimate := res.duration(src, row, "estimate")
	created := timestampOrNow(row, "created_at")

	id, err := tx.Insert(ctx, "repository_cases", dest.Record{
		"project_id":    project,
		"repository_id": repo,
		"folder_id":     ic.ref(EntityCases, src, row, "folder_id", EntityFolders),
		"template_id":   template,
		"workflow_id":   workflow,
		"name":          name,
		"position":      position(row),
		"estimate":      estimate,
		"created_by":    ic.ref(EntityCases, src, row, "created_by", EntityUsers),
		"created_at":    created,
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("case %d: %w", src, err)
	}
	if err := writeCaseVersion(ctx, tx, ic, id, name, project, template, workflow, estimate, created); err != nil {
		return outcomeNone, fmt.Errorf("case %d version: %w", src, err)
	}
	res.record(EntityCases, src, id, "repository_cases")
	return outcomeCreated, nil
}

// writeCaseVersion stores the version 1 snapshot of a new case.
func writeCaseVersion(ctx context.Context, tx dest.Tx, ic *Context, caseID int64, name string, project int64, template, workflow, estimate, created any) error {
	projectName, err := ic.Names.Name(ctx, tx, "projects", project)
	if err != nil {
		return err
	}
	snapshot := map[string]any{
		"name":       name,
		"project":    projectName,
		"estimate":   estimate,
		"created_at": created,
	}
	if id, ok := template.(int64); ok {
		if snapshot["template"], err = ic.Names.Name(ctx, tx, "templates", id); err != nil {
			return err
		}
	}
	if id, ok := workflow.(int64); ok {
		if snapshot["state"], err = ic.Names.Name(ctx, tx, "workflows", id); err != nil {
			return err
		}
	}
	_, err = tx.Insert(ctx, "case_versions", dest.Record{
		"case_id":  caseID,
		"version":  1,
		"snapshot": snapshot,
	})
	return err
}

var caseStepsImporter = rowImporter{
	entity:  EntityCaseSteps,
	dataset: "repository_case_steps",
	row:     importCaseStep,
}

// Step text lives in split columns: text1 is the action, text2 the expected
// result, text3 and text4 the test data.
func importCaseStep(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityCaseSteps, row)
	if err != nil {
		return outcomeNone, err
	}
	caseID, err := ic.required(EntityCaseSteps, src, row, "case_id", EntityCases)
	if err != nil {
		return outcomeNone, err
	}
	id, err := tx.Insert(ctx, "case_steps", dest.Record{
		"case_id":  caseID,
		"position": position(row),
		"step":     richText(row, "text1"),
		"expected": richText(row, "text2"),
		"data":     joinedText(row, "text3", "text4"),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("case step %d: %w", src, err)
	}
	res.record(EntityCaseSteps, src, id, "case_steps")
	return outcomeCreated, nil
}

func joinedText(row models.StagingRow, columns ...string) any {
	var parts []string
	for _, col := range columns {
		if s := strings.TrimSpace(textValue(row, col)); s != "" {
			parts = append(parts, s)
		}
	}
	doc, ok := richtext.Convert(strings.Join(parts, "\n\n"))
	if !ok {
		return nil
	}
	return doc
}

var caseValuesImporter = rowImporter{
	entity:  EntityCaseValues,
	dataset: "repository_case_values",
	row:     importCaseValue,
}

// importCaseValue writes one custom-field value. Values are stored in a
// {"value": ...} envelope so every field type is valid JSON.
func importCaseValue(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, _ := sourceID(row)
	caseID, err := ic.required(EntityCaseValues, src, row, "case_id", EntityCases)
	if err != nil {
		return outcomeNone, err
	}
	fieldID, err := ic.required(EntityCaseValues, src, row, "field_id", EntityTemplateFields)
	if err != nil {
		return outcomeNone, err
	}
	field, err := ic.fieldDef(ctx, tx, fieldID)
	if err != nil {
		return outcomeNone, err
	}
	value, err := res.fieldValue(ctx, tx, src, field, row.Field("value"))
	if err != nil {
		return outcomeNone, err
	}
	var stored any
	if value != nil {
		stored = map[string]any{"value": value}
	}

	existing, err := tx.FindOne(ctx, "case_field_values", dest.Record{"case_id": caseID, "field_id": fieldID})
	switch {
	case err == nil:
		if err := tx.Update(ctx, "case_field_values", existing.ID(), dest.Record{"value": stored}); err != nil {
			return outcomeNone, fmt.Errorf("update case value: %w", err)
		}
		return outcomeMapped, nil
	case !errors.Is(err, dest.ErrNotFound):
		return outcomeNone, fmt.Errorf("find case value: %w", err)
	}
	if _, err := tx.Insert(ctx, "case_field_values", dest.Record{
		"case_id":  caseID,
		"field_id": fieldID,
		"value":    stored,
	}); err != nil {
		return outcomeNone, fmt.Errorf("insert case value: %w", err)
	}
	return outcomeCreated, nil
}

func (ic *Context) fieldDef(ctx context.Context, tx dest.Tx, id int64) (dest.Record, error) {
	if ic.fields == nil {
		ic.fields = make(map[int64]dest.Record)
	}
	if f, ok := ic.fields[id]; ok {
		return f, nil
	}
	f, err := tx.FindByID(ctx, "template_fields", id)
	if err != nil {
		return nil, fmt.Errorf("load template field %d: %w", id, err)
	}
	ic.fields[id] = f
	return f, nil
}
