package mapping

import (
	"regexp"
	"slices"
)

// Option is a selectable value of a dropdown/multi-select template field.
type Option struct {
	SourceID int64
	Name     string
}

// Variant is one value of a configuration (e.g. a browser version).
type Variant struct {
	SourceID int64
	Name     string
}

// Fields carries the creation fields of a CreateNew decision. Which fields
// are read depends on the entity type; see RequiredFields.
type Fields struct {
	Name         string
	SystemName   string
	Icon         string
	Color        string
	Note         string
	Scope        string
	WorkflowType string
	IsSuccess    bool
	IsFailure    bool
	IsCompleted  bool
	IsDefault    bool
	IsRequired   bool
	IsActive     bool
	Email        string
	Access       string
	FieldType    string
	Target       string
	Provider     string
	BaseURL      string
	Options      []Option
	Variants     []Variant
	FieldIDs     []int64
}

func (f Fields) clone() Fields {
	f.Options = slices.Clone(f.Options)
	f.Variants = slices.Clone(f.Variants)
	f.FieldIDs = slices.Clone(f.FieldIDs)
	return f
}

// Enumerations accepted by Normalize. Anything else falls back to the
// listed default (first element) or, for required enumerations, to empty.
var (
	WorkflowScopes = []string{"global", "project"}
	WorkflowKinds  = []string{"case", "run", "session"}
	UserAccess     = []string{"member", "admin", "viewer"}
	FieldTargets   = []string{"case", "result", "run", "session"}
	FieldTypes     = []string{"text", "textarea", "number", "checkbox", "date", "dropdown", "multiselect", "link", "user", "steps"}
	Providers      = []string{"generic", "jira", "github", "gitlab", "azure"}
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// RequiredFields lists the creation fields that must be non-empty for a
// CreateNew decision of the given type.
func RequiredFields(et EntityType) []string {
	switch et {
	case Workflows:
		return []string{"name", "icon", "color"}
	case Statuses:
		return []string{"name", "systemName", "color"}
	case MilestoneTypes:
		return []string{"name", "icon"}
	case TemplateFields:
		return []string{"name", "systemName", "fieldType"}
	case IssueTargets:
		return []string{"name", "provider"}
	case Users:
		return []string{"email"}
	default:
		return []string{"name"}
	}
}

// Missing returns the required fields that f lacks for entity type et.
func Missing(et EntityType, f Fields) []string {
	var missing []string
	for _, name := range RequiredFields(et) {
		if f.get(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func (f Fields) get(name string) string {
	switch name {
	case "name":
		return f.Name
	case "systemName":
		return f.SystemName
	case "icon":
		return f.Icon
	case "color":
		return f.Color
	case "fieldType":
		return f.FieldType
	case "provider":
		return f.Provider
	case "email":
		return f.Email
	}
	return ""
}

// IsChoiceField reports whether the field type carries options.
func IsChoiceField(fieldType string) bool {
	return fieldType == "dropdown" || fieldType == "multiselect"
}
