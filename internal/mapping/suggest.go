package mapping

import "github.com/raphaelgruber/tmimport/internal/models"

// SourceDatasets maps each entity type to the export dataset its
// suggestions are derived from.
var SourceDatasets = map[EntityType]string{
	Workflows:      "states",
	Statuses:       "statuses",
	Groups:         "groups",
	Tags:           "tags",
	Roles:          "roles",
	MilestoneTypes: "milestone_types",
	Configurations: "configs",
	Templates:      "templates",
	TemplateFields: "fields",
	IssueTargets:   "issue_targets",
	Users:          "users",
}

// Defaults used when an export row lacks a field the destination requires.
const (
	DefaultColor         = "#6b7280"
	DefaultWorkflowIcon  = "circle"
	DefaultMilestoneIcon = "flag"
)

// Suggest builds a configuration that creates (or reuses by natural key)
// every reference entity found in the export. rows is keyed by dataset name.
func Suggest(rows map[string][]map[string]any) *Config {
	c := New()
	for _, et := range EntityTypes {
		for _, row := range rows[SourceDatasets[et]] {
			id, ok := models.Int64(row["id"])
			if !ok {
				continue
			}
			f, ok := suggestFields(et, row)
			if !ok {
				continue
			}
			c.Set(et, id, CreateNew{Fields: f})
		}
	}
	return c
}

func suggestFields(et EntityType, row map[string]any) (Fields, bool) {
	m := map[string]any{}
	for k, v := range row {
		m[k] = v
	}
	name := str(row, "name")
	switch et {
	case Users:
		if str(row, "email") == "" {
			return Fields{}, false
		}
		if models.Bool(row["is_admin"]) {
			m["access"] = "admin"
		}
		m["isActive"] = !models.Bool(row["is_disabled"])
	case Workflows:
		m["icon"] = orDefault(str(row, "icon"), DefaultWorkflowIcon)
		m["color"] = colorOrDefault(row)
		m["workflowType"] = str(row, "type")
	case Statuses:
		m["systemName"] = str(row, "system_name")
		m["color"] = colorOrDefault(row)
		m["isSuccess"] = row["is_success"]
		m["isFailure"] = row["is_failure"]
		m["isCompleted"] = row["is_final"]
	case MilestoneTypes:
		m["icon"] = orDefault(str(row, "icon"), DefaultMilestoneIcon)
		m["isDefault"] = row["is_default"]
	case Roles, Templates:
		m["isDefault"] = row["is_default"]
		if et == Templates {
			m["fieldIds"] = row["fields"]
		}
	case TemplateFields:
		m["displayName"] = orDefault(str(row, "label"), name)
		m["systemName"] = str(row, "system_name")
		m["fieldType"] = str(row, "type")
		m["isRequired"] = row["is_required"]
		m["options"] = options(row["options"])
	case IssueTargets:
		m["baseUrl"] = str(row, "url")
	}
	if et != Users && name == "" && str(m, "displayName") == "" {
		return Fields{}, false
	}
	return normalizeFields(et, m), true
}

// options accepts both [{id,name}] and plain string lists.
func options(v any) []any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, map[string]any{"name": s})
			continue
		}
		out = append(out, item)
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func colorOrDefault(row map[string]any) string {
	if c := color(row); c != "" {
		return c
	}
	return DefaultColor
}
