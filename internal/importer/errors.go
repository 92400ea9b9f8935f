package importer

import (
	"errors"
	"fmt"
)

// ErrCanceled is returned when a cancellation request stops the pipeline
// between chunks. It is not a failure.
var ErrCanceled = errors.New("import canceled")

// ConfigError is a fatal mapping-configuration error: a map decision whose
// target does not exist, or a create decision missing required fields.
type ConfigError struct {
	Entity   string
	SourceID int64
	Msg      string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s %d: %s", e.Entity, e.SourceID, e.Msg)
}

func configErrorf(entity string, sourceID int64, format string, args ...any) *ConfigError {
	return &ConfigError{Entity: entity, SourceID: sourceID, Msg: fmt.Sprintf(format, args...)}
}

// RowError is a row-level data error. The row is skipped and reported in
// the activity log; the pipeline continues.
type RowError struct {
	Entity   string
	SourceID *int64
	Msg      string
	Details  map[string]any
}

func (e *RowError) Error() string {
	if e.SourceID != nil {
		return fmt.Sprintf("%s %d: %s", e.Entity, *e.SourceID, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Entity, e.Msg)
}

func rowErrorf(entity string, sourceID *int64, format string, args ...any) *RowError {
	return &RowError{Entity: entity, SourceID: sourceID, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err must abort the whole import. Row errors are
// not fatal; cancellation is reported separately.
func IsFatal(err error) bool {
	var rowErr *RowError
	return err != nil && !errors.As(err, &rowErr) && !errors.Is(err, ErrCanceled)
}
