package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/models"
)

var projectsImporter = rowImporter{
	entity:  EntityProjects,
	dataset: "projects",
	row:     importProject,
}

func importProject(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityProjects, row)
	if err != nil {
		return outcomeNone, err
	}
	name := strings.TrimSpace(textValue(row, "name"))
	if name == "" {
		return outcomeNone, rowErrorf(EntityProjects, &src, "project has no name")
	}
	id, err := tx.Insert(ctx, "projects", dest.Record{
		"name":         name,
		"note":         richText(row, "description"),
		"is_completed": models.Bool(row.Field("is_completed")),
		"created_by":   ic.ref(EntityProjects, src, row, "created_by", EntityUsers),
		"created_at":   timestampOrNow(row, "created_at"),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("project %d: %w", src, err)
	}
	res.record(EntityProjects, src, id, "projects")
	return outcomeCreated, nil
}

var milestonesImporter = rowImporter{
	entity:  EntityMilestones,
	dataset: "milestones",
	row:     importMilestone,
	after: func(ctx context.Context, ic *Context, s *Summary) error {
		return ic.linkParents(ctx, EntityMilestones, "milestones", "milestones", s)
	},
}

func importMilestone(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityMilestones, row)
	if err != nil {
		return outcomeNone, err
	}
	project, err := ic.required(EntityMilestones, src, row, "project_id", EntityProjects)
	if err != nil {
		return outcomeNone, err
	}
	var parent any
	if id, ok := ic.lookup(EntityMilestones, row, "parent_id"); ok {
		parent = id
	}
	id, err := tx.Insert(ctx, "milestones", dest.Record{
		"project_id":        project,
		"parent_id":         parent,
		"milestone_type_id": ic.ref(EntityMilestones, src, row, "milestone_type_id", EntityMilestoneTypes),
		"name":              orDefault(strings.TrimSpace(textValue(row, "name")), fmt.Sprintf("Milestone %d", src)),
		"note":              richText(row, "description"),
		"due_at":            timestamp(row, "due_at"),
		"is_completed":      models.Bool(row.Field("is_completed")),
		"created_at":        timestampOrNow(row, "created_at"),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("milestone %d: %w", src, err)
	}
	res.record(EntityMilestones, src, id, "milestones")
	return outcomeCreated, nil
}

var sessionsImporter = rowImporter{
	entity:  EntitySessions,
	dataset: "sessions",
	row:     importSession,
}

func importSession(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntitySessions, row)
	if err != nil {
		return outcomeNone, err
	}
	project, err := ic.required(EntitySessions, src, row, "project_id", EntityProjects)
	if err != nil {
		return outcomeNone, err
	}
	id, err := tx.Insert(ctx, "sessions", dest.Record{
		"project_id":   project,
		"milestone_id": ic.ref(EntitySessions, src, row, "milestone_id", EntityMilestones),
		"template_id":  ic.ref(EntitySessions, src, row, "template_id", EntityTemplates),
		"workflow_id":  ic.ref(EntitySessions, src, row, "state_id", EntityWorkflows),
		"assignee_id":  ic.ref(EntitySessions, src, row, "assignee_id", EntityUsers),
		"name":         orDefault(strings.TrimSpace(textValue(row, "name")), fmt.Sprintf("Session %d", src)),
		"mission":      richText(row, "mission"),
		"estimate":     res.duration(src, row, "estimate"),
		"elapsed":      res.duration(src, row, "elapsed"),
		"is_completed": models.Bool(row.Field("is_closed")),
		"created_by":   ic.ref(EntitySessions, src, row, "created_by", EntityUsers),
		"created_at":   timestampOrNow(row, "created_at"),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("session %d: %w", src, err)
	}
	res.record(EntitySessions, src, id, "sessions")
	return outcomeCreated, nil
}

var issuesImporter = rowImporter{
	entity:  EntityIssues,
	dataset: "issues",
	row:     importIssue,
}

// importIssue reuses issues by (target, external key) so the same ticket
// referenced from several exports lands once.
func importIssue(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityIssues, row)
	if err != nil {
		return outcomeNone, err
	}
	key := strings.TrimSpace(textValue(row, "key"))
	if key == "" {
		return outcomeNone, rowErrorf(EntityIssues, &src, "issue has no key")
	}
	target := ic.ref(EntityIssues, src, row, "issue_target_id", EntityIssueTargets)
	id, inserted, err := findOrInsert(ctx, tx, "issues",
		dest.Record{"issue_target_id": target, "external_key": key},
		dest.Record{
			"issue_target_id": target,
			"external_key":    key,
			"title":           orNil(textValue(row, "title")),
			"url":             orNil(textValue(row, "url")),
		})
	if err != nil {
		return outcomeNone, fmt.Errorf("issue %d: %w", src, err)
	}
	res.record(EntityIssues, src, id, "issues")
	if inserted {
		return outcomeCreated, nil
	}
	return outcomeMapped, nil
}
