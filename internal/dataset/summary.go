package dataset

import (
	"slices"
	"unicode/utf8"

	"github.com/raphaelgruber/tmimport/internal/models"
)

const (
	maxSchemaFields = 200
	maxSampleItems  = 20
)

type summary struct {
	name       string
	rowCount   int
	filtered   int
	declared   map[string]any
	fieldTypes map[string][]string
	fieldOrder []string
	samples    []map[string]any
}

func newSummary(name string) *summary {
	return &summary{name: name, fieldTypes: make(map[string][]string)}
}

func (s *summary) observe(row map[string]any, sampleLimit, valueLimit int) {
	for key, v := range row {
		types, seen := s.fieldTypes[key]
		if !seen {
			if len(s.fieldOrder) >= maxSchemaFields {
				continue
			}
			s.fieldOrder = append(s.fieldOrder, key)
		}
		t := typeName(v)
		if !slices.Contains(types, t) {
			s.fieldTypes[key] = append(types, t)
		}
	}
	if len(s.samples) < sampleLimit {
		s.samples = append(s.samples, truncateValue(row, valueLimit).(map[string]any))
	}
}

func (s *summary) dataset(jobID string) models.Dataset {
	d := models.Dataset{
		JobID:         jobID,
		Name:          s.name,
		RowCount:      s.rowCount,
		FilteredCount: s.filtered,
		SampleRows:    s.samples,
		Truncated:     s.rowCount-s.filtered > len(s.samples),
	}
	if s.declared != nil {
		d.Schema = s.declared
		d.SchemaSource = "declared"
		return d
	}
	if len(s.fieldOrder) > 0 {
		fields := make(map[string]any, len(s.fieldOrder))
		keys := slices.Clone(s.fieldOrder)
		slices.Sort(keys)
		for _, k := range keys {
			types := slices.Clone(s.fieldTypes[k])
			slices.Sort(types)
			fields[k] = types
		}
		d.Schema = map[string]any{"fields": fields}
		d.SchemaSource = "inferred"
	}
	return d
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int64:
		return "integer"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// truncateValue copies v with long strings cut to limit runes and long
// arrays cut to maxSampleItems elements.
func truncateValue(v any, limit int) any {
	switch t := v.(type) {
	case string:
		if limit > 0 && utf8.RuneCountInString(t) > limit {
			runes := []rune(t)
			return string(runes[:limit]) + "…"
		}
		return t
	case []any:
		n := min(len(t), maxSampleItems)
		out := make([]any, n)
		for i := range n {
			out[i] = truncateValue(t[i], limit)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = truncateValue(e, limit)
		}
		return out
	default:
		return v
	}
}
