package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/models"
)

// AutomationFolder is the root folder automation cases are filed under.
const AutomationFolder = "Automation"

// automationPath splits a dotted test name such as
// "com.acme.LoginTest.testValid" into its folder path and case name.
func automationPath(fullName string) ([]string, string) {
	var parts []string
	for _, p := range strings.Split(fullName, ".") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return nil, ""
	}
	return parts[:len(parts)-1], parts[len(parts)-1]
}

var automationCasesImporter = rowImporter{
	entity:  EntityAutomationCases,
	dataset: "automation_cases",
	row:     importAutomationCase,
}

// importAutomationCase files an automated test as a repository case under
// Automation/<package path>, reusing the case when the key already exists.
func importAutomationCase(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityAutomationCases, row)
	if err != nil {
		return outcomeNone, err
	}
	project, err := ic.required(EntityAutomationCases, src, row, "project_id", EntityProjects)
	if err != nil {
		return outcomeNone, err
	}
	key := strings.TrimSpace(textValue(row, "full_name"))
	if key == "" {
		key = strings.TrimSpace(textValue(row, "name"))
	}
	folders, name := automationPath(key)
	if name == "" {
		return outcomeNone, rowErrorf(EntityAutomationCases, &src, "automation case has no name")
	}

	repo, err := ensureRepository(ctx, tx, project)
	if err != nil {
		return outcomeNone, fmt.Errorf("automation case %d repository: %w", src, err)
	}
	var folder int64
	for _, part := range append([]string{AutomationFolder}, folders...) {
		if folder, err = ensureFolder(ctx, tx, repo, folder, part); err != nil {
			return outcomeNone, fmt.Errorf("automation case %d folder %q: %w", src, part, err)
		}
	}

	id, inserted, err := findOrInsert(ctx, tx, "repository_cases",
		dest.Record{"repository_id": repo, "automation_key": key},
		dest.Record{
			"project_id":     project,
			"repository_id":  repo,
			"folder_id":      folder,
			"name":           name,
			"is_automated":   true,
			"automation_key": key,
			"created_at":     timestampOrNow(row, "created_at"),
		})
	if err != nil {
		return outcomeNone, fmt.Errorf("automation case %d: %w", src, err)
	}
	if inserted {
		if err := writeCaseVersion(ctx, tx, ic, id, name, project, nil, nil, nil, timestampOrNow(row, "created_at")); err != nil {
			return outcomeNone, fmt.Errorf("automation case %d version: %w", src, err)
		}
	}
	res.record(EntityAutomationCases, src, id, "repository_cases")
	if inserted {
		return outcomeCreated, nil
	}
	return outcomeMapped, nil
}

var automationRunsImporter = rowImporter{
	entity:  EntityAutomationRuns,
	dataset: "automation_runs",
	row:     importAutomationRun,
}

func importAutomationRun(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityAutomationRuns, row)
	if err != nil {
		return outcomeNone, err
	}
	project, err := ic.required(EntityAutomationRuns, src, row, "project_id", EntityProjects)
	if err != nil {
		return outcomeNone, err
	}
	id, err := tx.Insert(ctx, "test_runs", dest.Record{
		"project_id":   project,
		"milestone_id": ic.ref(EntityAutomationRuns, src, row, "milestone_id", EntityMilestones),
		"name":         orDefault(strings.TrimSpace(textValue(row, "name")), fmt.Sprintf("Automation run %d", src)),
		"elapsed":      res.duration(src, row, "elapsed"),
		"is_completed": models.Bool(row.Field("is_completed")),
		"is_automated": true,
		"created_at":   timestampOrNow(row, "created_at"),
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("automation run %d: %w", src, err)
	}
	res.record(EntityAutomationRuns, src, id, "test_runs")
	return outcomeCreated, nil
}

var automationRunTestsImporter = rowImporter{
	entity:  EntityAutomationRunTests,
	dataset: "automation_run_tests",
	row:     importAutomationRunTest,
}

// importAutomationRunTest adds the case to the run and records its single
// result.
func importAutomationRunTest(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityAutomationRunTests, row)
	if err != nil {
		return outcomeNone, err
	}
	run, err := ic.required(EntityAutomationRunTests, src, row, "run_id", EntityAutomationRuns)
	if err != nil {
		return outcomeNone, err
	}
	caseID, err := ic.required(EntityAutomationRunTests, src, row, "automation_case_id", EntityAutomationCases)
	if err != nil {
		return outcomeNone, err
	}
	status := ic.ref(EntityAutomationRunTests, src, row, "status_id", EntityStatuses)
	runCase, err := tx.Insert(ctx, "test_run_cases", dest.Record{
		"run_id":       run,
		"case_id":      caseID,
		"status_id":    status,
		"position":     position(row),
		"is_completed": status != nil,
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("automation run test %d: %w", src, err)
	}
	if status != nil {
		if _, err := tx.Insert(ctx, "test_run_results", dest.Record{
			"run_case_id":  runCase,
			"status_id":    status,
			"comment":      richText(row, "message"),
			"elapsed":      res.duration(src, row, "elapsed"),
			"is_automated": true,
			"created_at":   timestampOrNow(row, "created_at"),
		}); err != nil {
			return outcomeNone, fmt.Errorf("automation run test %d result: %w", src, err)
		}
	}
	res.record(EntityAutomationRunTests, src, runCase, "test_run_cases")
	return outcomeCreated, nil
}
