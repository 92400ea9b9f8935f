package importer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/richtext"
)

// Duration adjustments reported by NormalizeDuration.
const (
	AdjustMicro   = "micro"
	AdjustNano    = "nano"
	AdjustMilli   = "milli"
	AdjustClamped = "clamped"
)

var durationDivisors = []struct {
	div        int64
	adjustment string
}{
	{1_000_000, AdjustMicro},
	{1_000_000_000, AdjustNano},
	{1_000, AdjustMilli},
}

func fitsInt32(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

// NormalizeDuration fits a duration into the int32 range. Values already in
// range are returned unchanged with no adjustment. Otherwise the value is
// assumed to be in micro-, nano- or milliseconds, tried in that order, and
// the first rescaled value that fits wins; failing all, it is clamped.
func NormalizeDuration(v int64) (int32, string) {
	if fitsInt32(v) {
		return int32(v), ""
	}
	for _, d := range durationDivisors {
		if scaled := v / d.div; fitsInt32(scaled) {
			return int32(scaled), d.adjustment
		}
	}
	if v < 0 {
		return math.MinInt32, AdjustClamped
	}
	return math.MaxInt32, AdjustClamped
}

// roundInt64 rounds f to the nearest int64, saturating at the int64 range
// so the sign of huge values survives.
func roundInt64(f float64) int64 {
	switch {
	case f >= 1<<63:
		return math.MaxInt64
	case f < -(1 << 63):
		return math.MinInt64
	}
	return int64(math.Round(f))
}

// duration reads a duration column, normalizing and reporting adjustments.
func (r *chunkResult) duration(sourceID int64, row models.StagingRow, column string) any {
	v, ok := models.Int64(row.Field(column))
	if !ok {
		if f, isFloat := models.Float64(row.Field(column)); isFloat && !math.IsNaN(f) && !math.IsInf(f, 0) {
			v, ok = roundInt64(f), true
		}
	}
	if !ok {
		return nil
	}
	n, adjustment := NormalizeDuration(v)
	if adjustment != "" {
		r.adjusted++
		r.ic.warn(r.entity, sourceID, fmt.Sprintf("%s rescaled to fit 32-bit range", column), map[string]any{
			"column":     column,
			"original":   v,
			"value":      n,
			"adjustment": adjustment,
		})
	}
	return n
}

// richText converts a free-text column; empty content is nil.
func richText(row models.StagingRow, column string) any {
	doc, ok := richtext.Value(row.Field(column))
	if !ok {
		return nil
	}
	return doc
}

func textValue(row models.StagingRow, column string) string {
	s, _ := models.String(row.Field(column))
	return s
}

// timestamp parses a time column; unparsable values are nil.
func timestamp(row models.StagingRow, column string) any {
	t, ok := models.Time(row.Field(column))
	if !ok {
		return nil
	}
	return t
}

// timestampOrNow returns the row time or now for NOT NULL columns.
func timestampOrNow(row models.StagingRow, column string) time.Time {
	if t, ok := models.Time(row.Field(column)); ok {
		return t
	}
	return time.Now().UTC()
}

// fieldOptions returns the destination options of a template field,
// loading them once per run.
func (ic *Context) fieldOptions(ctx context.Context, tx dest.Tx, fieldID int64) ([]dest.Record, error) {
	if ic.options == nil {
		ic.options = make(map[int64][]dest.Record)
	}
	if opts, ok := ic.options[fieldID]; ok {
		return opts, nil
	}
	opts, err := tx.FindAll(ctx, "field_options", dest.Record{"field_id": fieldID})
	if err != nil {
		return nil, err
	}
	ic.options[fieldID] = opts
	return opts, nil
}

// resolveOption matches one dropdown value against a field's options: by
// source option id first, then by case-insensitive name.
func (ic *Context) resolveOption(opts []dest.Record, v any) (int64, bool) {
	if src, ok := models.Int64(v); ok {
		if id, ok := ic.IDs.Get(EntityFieldOptions, src); ok {
			for _, o := range opts {
				if o.ID() == id {
					return id, true
				}
			}
		}
	}
	name, ok := models.String(v)
	if !ok {
		return 0, false
	}
	for _, o := range opts {
		if strings.EqualFold(o.String("name"), name) {
			return o.ID(), true
		}
	}
	return 0, false
}

// fieldValue converts a custom-field value for a destination field.
// Unresolvable choice values warn and become nil.
func (r *chunkResult) fieldValue(ctx context.Context, tx dest.Tx, sourceID int64, field dest.Record, v any) (any, error) {
	ic := r.ic
	fieldType := field.String("field_type")
	switch {
	case v == nil:
		return nil, nil
	case mapping.IsChoiceField(fieldType):
		opts, err := ic.fieldOptions(ctx, tx, field.ID())
		if err != nil {
			return nil, err
		}
		values := choiceValues(v)
		var resolved []any
		for _, value := range values {
			id, ok := ic.resolveOption(opts, value)
			if !ok {
				ic.warn(r.entity, sourceID, "unresolved option value", map[string]any{
					"field": field.String("system_name"),
					"value": value,
				})
				continue
			}
			resolved = append(resolved, id)
		}
		if fieldType == "dropdown" {
			if len(resolved) == 0 {
				return nil, nil
			}
			return resolved[0], nil
		}
		if len(resolved) == 0 {
			return nil, nil
		}
		return resolved, nil
	case fieldType == "text" || fieldType == "textarea":
		s, ok := v.(string)
		if !ok {
			s, _ = models.String(v)
		}
		doc, ok := richtext.Convert(s)
		if !ok {
			return nil, nil
		}
		return doc, nil
	case fieldType == "number":
		f, ok := models.Float64(v)
		if !ok {
			return nil, rowErrorf(r.entity, &sourceID, "value %v is not a number", v)
		}
		return f, nil
	case fieldType == "checkbox":
		return models.Bool(v), nil
	case fieldType == "date":
		t, ok := models.Time(v)
		if !ok {
			return nil, rowErrorf(r.entity, &sourceID, "value %v is not a date", v)
		}
		return t.Format(time.RFC3339), nil
	default:
		s, _ := models.String(v)
		if s == "" {
			return nil, nil
		}
		return s, nil
	}
}

// choiceValues splits multi-select encodings: arrays, or comma-separated
// strings.
func choiceValues(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case string:
		parts := strings.Split(t, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return []any{v}
	}
}
