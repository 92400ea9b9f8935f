package models

// Dataset is the finalized accounting of one named collection observed while
// decoding an export.
type Dataset struct {
	JobID         string           `json:"job_id"`
	Name          string           `json:"name"`
	RowCount      int              `json:"row_count"`      // every row seen
	FilteredCount int              `json:"filtered_count"` // rows dropped by sanitizers
	Schema        map[string]any   `json:"schema,omitempty"`
	SchemaSource  string           `json:"schema_source,omitempty"` // "declared" or "inferred"
	SampleRows    []map[string]any `json:"sample_rows,omitempty"`
	Truncated     bool             `json:"truncated"`
}

// StagedCount is the number of rows written to staging.
func (d Dataset) StagedCount() int {
	return d.RowCount - d.FilteredCount
}

// StagingRow is one raw row of an export dataset. (JobID, Dataset, RowIndex)
// is unique.
type StagingRow struct {
	JobID       string            `json:"job_id"`
	Dataset     string            `json:"dataset"`
	RowIndex    int               `json:"row_index"`
	RowData     map[string]any    `json:"row_data,omitempty"`
	TextColumns map[string]string `json:"text_columns,omitempty"`
	Processed   bool              `json:"processed"`
	Error       *string           `json:"error,omitempty"`
}

// Failed reports whether the row was marked with an error.
func (r StagingRow) Failed() bool {
	return r.Error != nil && *r.Error != ""
}

// Field returns a row value, looking in split text columns as well.
func (r StagingRow) Field(name string) any {
	if v, ok := r.RowData[name]; ok {
		return v
	}
	if s, ok := r.TextColumns[name]; ok {
		return s
	}
	return nil
}

// EntityMapping is the durable form of one source→destination id
// correspondence. (JobID, EntityType, SourceID) is unique.
type EntityMapping struct {
	JobID      string         `json:"job_id"`
	EntityType string         `json:"entity_type"`
	SourceID   int64          `json:"source_id"`
	TargetID   int64          `json:"target_id"`
	TargetType string         `json:"target_type"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
