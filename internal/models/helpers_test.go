package models

import (
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "hello", "hello"},
		{"uppercase", "Hello World", "hello-world"},
		{"underscores", "my_doc_name", "my-doc-name"},
		{"special chars stripped", "Hello, World!", "hello-world"},
		{"numbers preserved", "doc-v2.1", "doc-v21"},
		{"mixed", "My Cool_Doc (v3)", "my-cool-doc-v3"},
		{"empty string", "", ""},
		{"only special chars", "!@#$%", ""},
		{"consecutive spaces", "hello   world", "hello---world"},
		{"unicode stripped", "café résumé", "caf-rsum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.in)
			if got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSystemName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"In Progress", "in_progress"},
		{" Retest! ", "retest"},
		{"???", ""},
	}
	for _, tt := range tests {
		if got := SystemName(tt.in); got != tt.want {
			t.Errorf("SystemName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStatusIsFinal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCanceled, true},
		{StatusRunning, false},
		{StatusReady, false},
	}
	for _, tt := range tests {
		if got := tt.status.IsFinal(); got != tt.want {
			t.Errorf("%s.IsFinal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestImportJobCloneIsDeep(t *testing.T) {
	job := &ImportJob{
		ID:             "abc",
		Configuration:  map[string]any{"users": map[string]any{"1": map[string]any{"action": "map"}}},
		ActivityLog:    []ActivityEntry{{Time: time.Now(), Message: "hi"}},
		EntityProgress: map[string]EntityProgress{"users": {Total: 1}},
	}
	c := job.Clone()
	c.Configuration["users"].(map[string]any)["1"].(map[string]any)["action"] = "create"
	c.ActivityLog[0].Message = "changed"
	c.EntityProgress["users"] = EntityProgress{Total: 9}

	if got := job.Configuration["users"].(map[string]any)["1"].(map[string]any)["action"]; got != "map" {
		t.Errorf("original configuration changed to %v", got)
	}
	if job.ActivityLog[0].Message != "hi" {
		t.Errorf("original activity changed to %q", job.ActivityLog[0].Message)
	}
	if job.EntityProgress["users"].Total != 1 {
		t.Errorf("original entity progress changed to %+v", job.EntityProgress["users"])
	}
}

func TestStagingRowField(t *testing.T) {
	row := StagingRow{
		RowData:     map[string]any{"id": int64(3)},
		TextColumns: map[string]string{"comment": "long"},
	}
	if got := row.Field("id"); got != int64(3) {
		t.Errorf("Field(id) = %v, want 3", got)
	}
	if got := row.Field("comment"); got != "long" {
		t.Errorf("Field(comment) = %v, want long", got)
	}
	if got := row.Field("missing"); got != nil {
		t.Errorf("Field(missing) = %v, want nil", got)
	}
}
