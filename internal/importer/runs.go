package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/staging"
)

var runsImporter = rowImporter{
	entity:  EntityRuns,
	dataset: "runs",
	row:     importRun,
}

func importRun(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityRuns, row)
	if err != nil {
		return outcomeNone, err
	}
	project, err := ic.required(EntityRuns, src, row, "project_id", EntityProjects)
	if err != nil {
		return outcomeNone, err
	}
	id, err := tx.Insert(ctx, "test_runs", dest.Record{
		"project_id":        project,
		"milestone_id":      ic.ref(EntityRuns, src, row, "milestone_id", EntityMilestones),
		"config_variant_id": ic.ref(EntityRuns, src, row, "config_id", EntityConfigVariants),
		"template_id":       ic.ref(EntityRuns, src, row, "template_id", EntityTemplates),
		"workflow_id":       ic.ref(EntityRuns, src, row, "state_id", EntityWorkflows),
		"assignee_id":       ic.ref(EntityRuns, src, row, "assignee_id", EntityUsers),
		"name":              orDefault(strings.TrimSpace(textValue(row, "name")), fmt.Sprintf("Run %d", src)),
		"note":              richText(row, "description"),
		"elapsed":           res.duration(src, row, "elapsed"),
		"is_completed":      models.Bool(row.Field("is_completed")),
		"created_by":        ic.ref(EntityRuns, src, row, "created_by", EntityUsers),
		"created_at":        timestampOrNow(row, "created_at"),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("run %d: %w", src, err)
	}
	res.record(EntityRuns, src, id, "test_runs")
	return outcomeCreated, nil
}

// ImportRunCase is the policy for exported run tests. A test flagged
// is_selected without any result is an untouched placeholder in the source
// and is skipped. Every other test is imported, including unselected tests
// that have results.
func ImportRunCase(isSelected, hasResult bool) bool {
	return !isSelected || hasResult
}

// collectTestsWithResults records which run tests have at least one result.
func collectTestsWithResults(ctx context.Context, ic *Context) error {
	ic.withResults = make(map[int64]struct{})
	return staging.Each(ctx, ic.Staging, ic.JobID, "run_results", ic.Chunks.Size(EntityResults), func(rows []models.StagingRow) error {
		for _, row := range rows {
			if id, ok := models.Int64(row.Field("test_id")); ok {
				ic.withResults[id] = struct{}{}
			}
		}
		return nil
	})
}

var runCasesImporter = rowImporter{
	entity:  EntityRunCases,
	dataset: "run_tests",
	row:     importRunCase,
	before:  collectTestsWithResults,
}

func importRunCase(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityRunCases, row)
	if err != nil {
		return outcomeNone, err
	}
	_, hasResult := ic.withResults[src]
	if !ImportRunCase(models.Bool(row.Field("is_selected")), hasResult) {
		res.unselected++
		return outcomeNone, nil
	}
	run, err := ic.required(EntityRunCases, src, row, "run_id", EntityRuns)
	if err != nil {
		return outcomeNone, err
	}
	caseID, err := ic.required(EntityRunCases, src, row, "case_id", EntityCases)
	if err != nil {
		return outcomeNone, err
	}
	id, err := tx.Insert(ctx, "test_run_cases", dest.Record{
		"run_id":       run,
		"case_id":      caseID,
		"status_id":    ic.ref(EntityRunCases, src, row, "status_id", EntityStatuses),
		"assignee_id":  ic.ref(EntityRunCases, src, row, "assignee_id", EntityUsers),
		"position":     position(row),
		"is_completed": models.Bool(row.Field("is_completed")),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("run test %d: %w", src, err)
	}
	res.record(EntityRunCases, src, id, "test_run_cases")
	return outcomeCreated, nil
}

var resultsImporter = rowImporter{
	entity:  EntityResults,
	dataset: "run_results",
	row:     importResult,
}

// importResult writes a result and moves the run case to the result's
// status; results arrive in export order, so the last one wins.
func importResult(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityResults, row)
	if err != nil {
		return outcomeNone, err
	}
	runCase, err := ic.required(EntityResults, src, row, "test_id", EntityRunCases)
	if err != nil {
		return outcomeNone, err
	}
	status := ic.ref(EntityResults, src, row, "status_id", EntityStatuses)
	id, err := tx.Insert(ctx, "test_run_results", dest.Record{
		"run_case_id": runCase,
		"status_id":   status,
		"comment":     richText(row, "comment"),
		"elapsed":     res.duration(src, row, "elapsed"),
		"created_by":  ic.ref(EntityResults, src, row, "created_by", EntityUsers),
		"created_at":  timestampOrNow(row, "created_at"),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("result %d: %w", src, err)
	}
	if status != nil {
		if err := tx.Update(ctx, "test_run_cases", runCase, dest.Record{"status_id": status}); err != nil {
			return outcomeNone, fmt.Errorf("result %d run case status: %w", src, err)
		}
	}
	res.record(EntityResults, src, id, "test_run_results")
	return outcomeCreated, nil
}

var resultStepsImporter = rowImporter{
	entity:  EntityResultSteps,
	dataset: "run_result_steps",
	row:     importResultStep,
}

func importResultStep(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, _ := sourceID(row)
	result, err := ic.required(EntityResultSteps, src, row, "result_id", EntityResults)
	if err != nil {
		return outcomeNone, err
	}
	id, err := tx.Insert(ctx, "test_run_step_results", dest.Record{
		"result_id": result,
		"step_id":   ic.ref(EntityResultSteps, src, row, "step_id", EntityCaseSteps),
		"status_id": ic.ref(EntityResultSteps, src, row, "status_id", EntityStatuses),
		"comment":   richText(row, "comment"),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("result step: %w", err)
	}
	if src != 0 {
		res.record(EntityResultSteps, src, id, "test_run_step_results")
	}
	return outcomeCreated, nil
}
