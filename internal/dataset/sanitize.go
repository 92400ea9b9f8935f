package dataset

import (
	"github.com/raphaelgruber/tmimport/internal/models"
)

// Sanitizer inspects a finalized row before it is staged. It may drop the
// row by returning false, edit it in place, or move fields into text.
type Sanitizer interface {
	Sanitize(dataset string, row map[string]any, text map[string]string) bool
}

// RepositoryFilter drops snapshot copies of repositories and every row of
// the repository-scoped datasets that references one.
//
// A repository row is a snapshot when it is flagged is_snapshot or points at
// a different master repository through master_id. Dependent rows are only
// filtered once their repository has been seen; dependents that precede the
// repositories dataset in the file are left for the importer, which skips
// rows whose repository was never imported.
type RepositoryFilter struct {
	dropped    map[int64]struct{}
	dependents map[string]bool
}

// RepositoryColumn is the export's foreign key from folders, cases and steps
// to their repository.
const RepositoryColumn = "repo_id"

// NewRepositoryFilter returns a filter for the standard export datasets.
func NewRepositoryFilter() *RepositoryFilter {
	return &RepositoryFilter{
		dropped: make(map[int64]struct{}),
		dependents: map[string]bool{
			"repository_folders":    true,
			"repository_cases":      true,
			"repository_case_steps": true,
		},
	}
}

// Sanitize implements Sanitizer.
func (f *RepositoryFilter) Sanitize(dataset string, row map[string]any, _ map[string]string) bool {
	switch {
	case dataset == "repositories":
		if !IsSnapshotRepository(row) {
			return true
		}
		if id, ok := models.Int64(row["id"]); ok {
			f.dropped[id] = struct{}{}
		}
		return false
	case f.dependents[dataset]:
		repoID, ok := models.Int64(row[RepositoryColumn])
		if !ok {
			return true
		}
		_, drop := f.dropped[repoID]
		return !drop
	default:
		return true
	}
}

// Dropped returns how many snapshot repositories were seen.
func (f *RepositoryFilter) Dropped() int {
	return len(f.dropped)
}

// IsSnapshotRepository applies the snapshot rule to one repository row.
func IsSnapshotRepository(row map[string]any) bool {
	if models.Bool(row["is_snapshot"]) {
		return true
	}
	if models.Bool(row["is_master"]) {
		return false
	}
	master, ok := models.Int64(row["master_id"])
	if !ok {
		return false
	}
	id, _ := models.Int64(row["id"])
	return master != id
}

// ColumnSplitter moves size-dominant text fields out of the row payload into
// dedicated text columns.
type ColumnSplitter struct {
	Fields map[string][]string
}

// DefaultSplitColumns lists the text-heavy fields per dataset.
var DefaultSplitColumns = map[string][]string{
	"run_results":           {"comment"},
	"repository_case_steps": {"text1", "text2", "text3", "text4"},
}

// Sanitize implements Sanitizer. It never drops rows.
func (c ColumnSplitter) Sanitize(dataset string, row map[string]any, text map[string]string) bool {
	for _, field := range c.Fields[dataset] {
		s, ok := row[field].(string)
		if !ok {
			continue
		}
		delete(row, field)
		text[field] = s
	}
	return true
}

// DefaultSanitizers returns a fresh sanitizer chain. Filters carry state, so
// every analyze run needs its own chain.
func DefaultSanitizers() []Sanitizer {
	return []Sanitizer{
		NewRepositoryFilter(),
		ColumnSplitter{Fields: DefaultSplitColumns},
	}
}
