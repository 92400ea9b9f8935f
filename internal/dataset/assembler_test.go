package dataset

import (
	"fmt"
	"strings"
	"testing"

	"github.com/raphaelgruber/tmimport/internal/jsonstream"
	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, doc string, opts Options) ([]models.StagingRow, []models.Dataset, error) {
	t.Helper()
	var rows []models.StagingRow
	asm := NewAssembler(opts, func(r models.StagingRow) error {
		rows = append(rows, r)
		return nil
	})
	if err := jsonstream.NewDecoder(strings.NewReader(doc), 32).Decode(asm); err != nil {
		return rows, nil, err
	}
	datasets, err := asm.Finish()
	return rows, datasets, err
}

func byName(datasets []models.Dataset) map[string]models.Dataset {
	out := make(map[string]models.Dataset, len(datasets))
	for _, d := range datasets {
		out[d.Name] = d
	}
	return out
}

const exportDoc = `{
  "meta": {"version": 3, "projects": [{"id": 99}]},
  "data": {
    "projects": {
      "schema": {"id": "int", "name": "string"},
      "count": 2,
      "data": [
        {"id": 1, "name": "Demo", "tags": [1, 2], "settings": {"theme": "dark"}},
        {"id": 2, "name": "Other", "tags": [], "settings": null}
      ]
    },
    "milestones": [
      {"id": 10, "project_id": 1, "name": "M1"}
    ],
    "empty": {"data": []}
  }
}`

func TestAssemblerStagesRowsPerDataset(t *testing.T) {
	rows, datasets, err := analyze(t, exportDoc, Options{JobID: "job1", SampleRowLimit: 5})
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "projects", rows[0].Dataset)
	assert.Equal(t, 0, rows[0].RowIndex)
	assert.Equal(t, 1, rows[1].RowIndex)
	assert.Equal(t, "milestones", rows[2].Dataset)
	assert.Equal(t, 0, rows[2].RowIndex)
	assert.Equal(t, "job1", rows[0].JobID)

	assert.Equal(t, map[string]any{
		"id":       int64(1),
		"name":     "Demo",
		"tags":     []any{int64(1), int64(2)},
		"settings": map[string]any{"theme": "dark"},
	}, rows[0].RowData)
	assert.Equal(t, []any{}, rows[1].RowData["tags"])

	names := make([]string, len(datasets))
	for i, d := range datasets {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"projects", "milestones", "empty"}, names, "meta is never a dataset")

	sets := byName(datasets)
	assert.Equal(t, 2, sets["projects"].RowCount)
	assert.Equal(t, "declared", sets["projects"].SchemaSource)
	assert.Equal(t, map[string]any{"id": "int", "name": "string"}, sets["projects"].Schema)
	assert.Equal(t, "inferred", sets["milestones"].SchemaSource)
	assert.Equal(t, 0, sets["empty"].RowCount)
	assert.False(t, sets["projects"].Truncated)
}

func TestAssemblerTruncatesSamplesButCountsEveryRow(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"data": {"run_results": [`)
	const total = 2500
	for i := range total {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"id": %d, "status_id": 1, "note": "%s"}`, i, strings.Repeat("n", 40))
	}
	b.WriteString(`]}}`)

	rows, datasets, err := analyze(t, b.String(), Options{SampleRowLimit: 3, SampleValueLimit: 10})
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	d := datasets[0]
	assert.Equal(t, total, d.RowCount)
	assert.True(t, d.Truncated)
	require.Len(t, d.SampleRows, 3)
	assert.Equal(t, strings.Repeat("n", 10)+"…", d.SampleRows[0]["note"])
	assert.Equal(t, []string{"integer"}, d.Schema["fields"].(map[string]any)["id"])

	require.Len(t, rows, total)
	for i, r := range rows {
		require.Equal(t, i, r.RowIndex)
	}
	assert.Equal(t, strings.Repeat("n", 40), rows[0].RowData["note"], "staged rows are never truncated")
}

func TestAssemblerDropsSnapshotRepositories(t *testing.T) {
	doc := `{"data": {
	  "repositories": [
	    {"id": 1, "project_id": 1, "is_master": true},
	    {"id": 2, "project_id": 1, "is_snapshot": true},
	    {"id": 3, "project_id": 1, "master_id": 1}
	  ],
	  "repository_cases": [
	    {"id": 10, "repo_id": 1, "name": "keep"},
	    {"id": 11, "repo_id": 2, "name": "drop"},
	    {"id": 12, "repo_id": 3, "name": "drop too"}
	  ]
	}}`
	rows, datasets, err := analyze(t, doc, Options{SampleRowLimit: 5, Sanitizers: DefaultSanitizers()})
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "repositories", rows[0].Dataset)
	assert.Equal(t, int64(1), rows[0].RowData["id"])
	assert.Equal(t, "keep", rows[1].RowData["name"])
	assert.Equal(t, 0, rows[1].RowIndex, "row indexes are dense over staged rows")

	sets := byName(datasets)
	assert.Equal(t, 3, sets["repositories"].RowCount)
	assert.Equal(t, 2, sets["repositories"].FilteredCount)
	assert.Equal(t, 2, sets["repository_cases"].FilteredCount)
}

func TestAssemblerSplitsTextColumns(t *testing.T) {
	doc := `{"data": {"run_results": [{"id": 1, "comment": "<p>long</p>", "status_id": 2}]}}`
	rows, datasets, err := analyze(t, doc, Options{SampleRowLimit: 5, Sanitizers: DefaultSanitizers()})
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.NotContains(t, rows[0].RowData, "comment")
	assert.Equal(t, map[string]string{"comment": "<p>long</p>"}, rows[0].TextColumns)
	assert.Equal(t, "<p>long</p>", rows[0].Field("comment"))
	assert.Contains(t, datasets[0].Schema["fields"], "comment")
}

func TestAssemblerRejectsMalformedInput(t *testing.T) {
	_, _, err := analyze(t, `{"data": {"projects": [{"id": 1}`, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, jsonstream.ErrMalformed)
}

func TestAssemblerPropagatesSinkErrors(t *testing.T) {
	asm := NewAssembler(Options{}, func(models.StagingRow) error { return fmt.Errorf("disk full") })
	err := jsonstream.NewDecoder(strings.NewReader(`{"projects": [{"id": 1}]}`), 0).Decode(asm)
	assert.EqualError(t, err, "disk full")
}

func TestAssemblerFinishFailsWithOpenContainers(t *testing.T) {
	asm := NewAssembler(Options{}, func(models.StagingRow) error { return nil })
	require.NoError(t, asm.HandleEvent(jsonstream.Event{Kind: jsonstream.StartObject}))
	_, err := asm.Finish()
	assert.ErrorIs(t, err, jsonstream.ErrMalformed)
}

func TestAssemblerRejectsUnbalancedEnd(t *testing.T) {
	asm := NewAssembler(Options{}, func(models.StagingRow) error { return nil })
	err := asm.HandleEvent(jsonstream.Event{Kind: jsonstream.EndObject})
	assert.ErrorIs(t, err, jsonstream.ErrMalformed)
}

func TestIsSnapshotRepository(t *testing.T) {
	tests := []struct {
		name string
		row  map[string]any
		want bool
	}{
		{"flagged", map[string]any{"id": int64(2), "is_snapshot": true}, true},
		{"master", map[string]any{"id": int64(1), "is_master": true, "master_id": int64(1)}, false},
		{"points at other master", map[string]any{"id": int64(3), "master_id": int64(1)}, true},
		{"points at itself", map[string]any{"id": int64(1), "master_id": int64(1)}, false},
		{"plain", map[string]any{"id": int64(4)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSnapshotRepository(tt.row))
		})
	}
}
