// Package dest gives the import pipeline generic find/create/update access
// to the destination schema.
package dest

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"
)

// Record is one destination row keyed by column name.
type Record map[string]any

// ID returns the record's id column.
func (r Record) ID() int64 {
	switch v := r["id"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// String returns a text column, or "" when absent.
func (r Record) String(col string) string {
	s, _ := r[col].(string)
	return s
}

func (r Record) columns() []string {
	return slices.Sorted(maps.Keys(r))
}

var (
	// ErrNotFound indicates no destination row matched.
	ErrNotFound = errors.New("destination record not found")

	// ErrUniqueViolation indicates an insert or update collided with a
	// unique constraint.
	ErrUniqueViolation = errors.New("unique constraint violated")
)

// Tx is the set of operations importers run against the destination.
// Where-maps match columns by equality; a nil value matches NULL.
type Tx interface {
	FindOne(ctx context.Context, table string, where Record) (Record, error)
	FindByID(ctx context.Context, table string, id int64) (Record, error)
	FindAll(ctx context.Context, table string, where Record) ([]Record, error)
	Exists(ctx context.Context, table string, where Record) (bool, error)
	// Insert creates a row and returns its id.
	Insert(ctx context.Context, table string, rec Record) (int64, error)
	Update(ctx context.Context, table string, id int64, rec Record) error
	Count(ctx context.Context, table string) (int, error)
}

// Store is a Tx outside any transaction that can also open one.
type Store interface {
	Tx
	// InTx runs fn in one transaction bounded by timeout. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx Tx) error) error
}

// Tables lists every destination table in dependency order.
var Tables = []string{
	"workflows", "statuses", "groups", "tags", "roles", "milestone_types",
	"configurations", "config_variants", "template_fields", "field_options",
	"templates", "template_field_assignments", "users", "group_members",
	"projects", "milestones", "sessions", "repositories", "repository_folders",
	"repository_cases", "case_steps", "case_field_values", "case_versions",
	"test_runs", "test_run_cases", "test_run_results", "test_run_step_results",
	"issue_targets", "issues", "case_tags", "run_tags", "session_tags",
	"entity_links", "case_issues", "run_issues", "result_issues", "session_issues",
}
