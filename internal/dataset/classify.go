// Package dataset reassembles export rows from a token stream and keeps a
// running summary per dataset.
package dataset

// Role is what a container plays in the export layout.
type Role uint8

const (
	// RoleContainer groups datasets (the root, "data", "datasets", ...).
	RoleContainer Role = iota
	// RoleDataset is an object describing one dataset.
	RoleDataset
	// RoleRows is the array whose direct object children are rows.
	RoleRows
	// RoleSchema is a dataset's declared schema.
	RoleSchema
	// RoleOpaque is consumed and discarded.
	RoleOpaque
)

func (r Role) String() string {
	switch r {
	case RoleContainer:
		return "container"
	case RoleDataset:
		return "dataset"
	case RoleRows:
		return "rows"
	case RoleSchema:
		return "schema"
	default:
		return "opaque"
	}
}

var keywords = map[string]bool{
	"":         true,
	"data":     true,
	"rows":     true,
	"records":  true,
	"items":    true,
	"schema":   true,
	"meta":     true,
	"datasets": true,
	"export":   true,
	"tables":   true,
}

var rowKeys = map[string]bool{
	"data":    true,
	"rows":    true,
	"records": true,
	"items":   true,
}

// IsKeyword reports whether key is structural and can never name a dataset.
func IsKeyword(key string) bool {
	return keywords[key]
}

// ClassifyContainer returns the dataset a container at path belongs to: the
// nearest ancestor key (path included) that is not a keyword.
func ClassifyContainer(path []string) (string, bool) {
	for i := len(path) - 1; i >= 0; i-- {
		if !keywords[path[i]] {
			return path[i], true
		}
	}
	return "", false
}

// Classify decides the role of a container opened at path, where path holds
// the member names from the root down to the container itself.
func Classify(path []string, isArray bool) (Role, string) {
	if len(path) == 0 {
		if isArray {
			return RoleOpaque, ""
		}
		return RoleContainer, ""
	}

	named := 0
	for _, key := range path {
		if key == "meta" {
			return RoleOpaque, ""
		}
		if !keywords[key] {
			named++
		}
	}

	name, ok := ClassifyContainer(path)
	if !ok {
		if isArray {
			return RoleOpaque, ""
		}
		return RoleContainer, ""
	}
	if named > 1 {
		return RoleOpaque, name
	}

	last := path[len(path)-1]
	if last == name {
		if isArray {
			return RoleRows, name
		}
		return RoleDataset, name
	}

	// Keyword directly below the dataset object.
	if path[len(path)-2] != name {
		return RoleOpaque, name
	}
	switch {
	case last == "schema" && !isArray:
		return RoleSchema, name
	case rowKeys[last] && isArray:
		return RoleRows, name
	default:
		return RoleOpaque, name
	}
}
