package importer

import "github.com/raphaelgruber/tmimport/internal/mapping"

// Entity names used for id maps, entity mappings and progress. Reference
// entities reuse the mapping configuration table names.
const (
	EntityWorkflows      = string(mapping.Workflows)
	EntityStatuses       = string(mapping.Statuses)
	EntityGroups         = string(mapping.Groups)
	EntityTags           = string(mapping.Tags)
	EntityRoles          = string(mapping.Roles)
	EntityMilestoneTypes = string(mapping.MilestoneTypes)
	EntityConfigurations = string(mapping.Configurations)
	EntityConfigVariants = "configVariants"
	EntityTemplateFields = string(mapping.TemplateFields)
	EntityFieldOptions   = "fieldOptions"
	EntityTemplates      = string(mapping.Templates)
	EntityIssueTargets   = string(mapping.IssueTargets)
	EntityUsers          = string(mapping.Users)
	EntityGroupMembers   = "groupMembers"

	EntityProjects           = "projects"
	EntityMilestones         = "milestones"
	EntitySessions           = "sessions"
	EntityRepositories       = "repositories"
	EntityFolders            = "folders"
	EntityCases              = "cases"
	EntityCaseSteps          = "caseSteps"
	EntityCaseValues         = "caseValues"
	EntityAutomationCases    = "automationCases"
	EntityAutomationRuns     = "automationRuns"
	EntityAutomationRunTests = "automationRunTests"
	EntityRuns               = "runs"
	EntityRunCases           = "runCases"
	EntityResults            = "results"
	EntityResultSteps        = "resultSteps"
	EntityIssues             = "issues"
	EntityCaseTags           = "caseTags"
	EntityRunTags            = "runTags"
	EntitySessionTags        = "sessionTags"
	EntityLinks              = "links"
	EntityCaseIssues         = "caseIssues"
	EntityRunIssues          = "runIssues"
	EntityResultIssues       = "resultIssues"
	EntitySessionIssues      = "sessionIssues"
)
