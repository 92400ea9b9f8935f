package mapping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNormalizeDefaults(t *testing.T) {
	c := Normalize(map[string]any{
		"tags":  map[string]any{"1": map[string]any{"name": "smoke"}},
		"users": map[string]any{"2": map[string]any{"mappedTo": 9}},
		"roles": map[string]any{"3": map[string]any{"action": "bogus", "mappedTo": "12"}},
		"groups": map[string]any{
			"not-a-number": map[string]any{"name": "dropped"},
			"4":            "not an object",
		},
		"statuses": "not a table",
	})

	d, ok := c.Get(Tags, 1)
	require.True(t, ok)
	assert.Equal(t, CreateNew{Fields: Fields{Name: "smoke"}}, d)

	d, _ = c.Get(Users, 2)
	assert.Equal(t, MapTo{TargetID: 9}, d)

	d, _ = c.Get(Roles, 3)
	assert.Equal(t, MapTo{TargetID: 12}, d)

	// Entry that is not an object still gets the default decision.
	d, ok = c.Get(Groups, 4)
	require.True(t, ok)
	assert.Equal(t, CreateNew{}, d)
	assert.Equal(t, 1, c.Len(Groups))
	assert.Zero(t, c.Len(Statuses))
}

func TestNormalizeNilInput(t *testing.T) {
	c := Normalize(nil)
	for _, et := range EntityTypes {
		assert.Zero(t, c.Len(et))
	}
}

func TestNormalizeEnumerations(t *testing.T) {
	c := Normalize(map[string]any{
		"workflows": map[string]any{"1": map[string]any{
			"action": "create", "name": "Review", "icon": "eye", "color": "red",
			"scope": "everywhere", "workflowType": "RUN",
		}},
		"templateFields": map[string]any{"2": map[string]any{
			"action": "create", "displayName": "Browser Name", "fieldType": "Dropdown",
			"target": "nowhere", "options": []any{map[string]any{"id": 5, "name": "Firefox"}, map[string]any{"id": 6}},
		}},
		"users": map[string]any{"3": map[string]any{"action": "create", "email": " A@X.com ", "access": "root"}},
	})

	d, _ := c.Get(Workflows, 1)
	wf := d.(CreateNew).Fields
	assert.Equal(t, "", wf.Color, "invalid colors are dropped")
	assert.Equal(t, "global", wf.Scope)
	assert.Equal(t, "case", wf.WorkflowType, "enumerations are case-sensitive")

	d, _ = c.Get(TemplateFields, 2)
	tf := d.(CreateNew).Fields
	assert.Equal(t, "Browser Name", tf.Name)
	assert.Equal(t, "browser_name", tf.SystemName)
	assert.Equal(t, "dropdown", tf.FieldType)
	assert.Equal(t, "case", tf.Target)
	assert.Equal(t, []Option{{SourceID: 5, Name: "Firefox"}}, tf.Options)

	d, _ = c.Get(Users, 3)
	u := d.(CreateNew).Fields
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, "member", u.Access)
	assert.True(t, u.IsActive)
}

func TestNormalizeResolved(t *testing.T) {
	c := Normalize(map[string]any{
		"tags": map[string]any{
			"1": map[string]any{"action": "map", "mappedTo": 7, "resolved": true},
			"2": map[string]any{"action": "create", "mappedTo": 8, "resolved": true, "created": true},
			"3": map[string]any{"action": "map", "resolved": true},
		},
	})
	d, _ := c.Get(Tags, 1)
	assert.Equal(t, Resolved{TargetID: 7}, d)
	d, _ = c.Get(Tags, 2)
	assert.Equal(t, Resolved{TargetID: 8, Created: true}, d)
	d, _ = c.Get(Tags, 3)
	assert.Equal(t, MapTo{}, d, "resolved without a target is not resolved")
	assert.Equal(t, 1, c.Pending())
}

func TestSerializeIsInverseOfNormalize(t *testing.T) {
	raw := map[string]any{
		"workflows": map[string]any{"1": map[string]any{"action": "create", "name": "Draft", "icon": "pen", "color": "#AABBCC", "workflowType": "session"}},
		"statuses":  map[string]any{"2": map[string]any{"action": "create", "name": "Passed", "color": "#00ff00", "isSuccess": true, "isCompleted": 1}},
		"configurations": map[string]any{"3": map[string]any{"name": "Browsers", "variants": []any{
			map[string]any{"id": 31, "name": "Chrome"},
			map[string]any{"id": 32, "name": "Safari"},
		}}},
		"templates":    map[string]any{"4": map[string]any{"name": "Default", "isDefault": true, "fieldIds": []any{1, 2, 2}}},
		"issueTargets": map[string]any{"5": map[string]any{"action": "create", "name": "Jira", "provider": "jira", "baseUrl": "https://x.atlassian.net"}},
		"users":        map[string]any{"6": map[string]any{"action": "create", "email": "b@x.com", "isActive": false}, "7": map[string]any{"mappedTo": 70}},
		"tags":         map[string]any{"8": map[string]any{"mappedTo": 80, "resolved": true, "created": true}},
	}

	c := Normalize(raw)
	again := Normalize(Serialize(c))
	assert.Equal(t, c, again)
	assert.Equal(t, Serialize(c), Serialize(again))

	d, _ := c.Get(Templates, 4)
	assert.Equal(t, []int64{1, 2}, d.(CreateNew).Fields.FieldIDs)
}

func TestSerializeSurvivesJSONRoundTrip(t *testing.T) {
	c := New()
	c.Set(Users, 1, CreateNew{Fields: Fields{Email: "a@x.com", Access: "member", IsActive: true}})
	c.Set(Tags, 2, MapTo{TargetID: 20})
	c.Resolve(Groups, 3, 30, true)

	b, err := json.Marshal(Serialize(c))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))

	assert.Equal(t, c, Normalize(raw))
}

func TestNormalizeYAML(t *testing.T) {
	src := `
users:
  1:
    action: create
    email: a@x.com
milestoneTypes: {}
`
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(src), &raw))

	c := Normalize(raw)
	d, ok := c.Get(Users, 1)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", d.(CreateNew).Fields.Email)
}

func TestMissing(t *testing.T) {
	assert.Equal(t, []string{"icon", "color"}, Missing(Workflows, Fields{Name: "x"}))
	assert.Empty(t, Missing(Tags, Fields{Name: "x"}))
	assert.Equal(t, []string{"email"}, Missing(Users, Fields{Name: "x"}))
	assert.Equal(t, []string{"fieldType"}, Missing(TemplateFields, Fields{Name: "x", SystemName: "x"}))
}

func TestResolveFlipsDecision(t *testing.T) {
	c := New()
	c.Set(Tags, 1, CreateNew{Fields: Fields{Name: "smoke"}})
	c.Resolve(Tags, 1, 42, false)

	d, _ := c.Get(Tags, 1)
	assert.Equal(t, ActionMap, d.Action())
	assert.Equal(t, map[string]any{"action": "map", "mappedTo": int64(42), "resolved": true},
		Serialize(c)["tags"].(map[string]any)["1"])
}

func TestCloneIsIndependent(t *testing.T) {
	c := New()
	c.Set(Templates, 1, CreateNew{Fields: Fields{Name: "T", FieldIDs: []int64{1}}})
	clone := c.Clone()
	clone.Resolve(Templates, 1, 5, true)

	d, _ := c.Get(Templates, 1)
	assert.IsType(t, CreateNew{}, d)
}

func TestSuggest(t *testing.T) {
	c := Suggest(map[string][]map[string]any{
		"states":   {{"id": int64(1), "name": "Design"}},
		"statuses": {{"id": int64(2), "name": "Failed", "color": "#FF0000", "is_failure": true, "is_final": 1}},
		"fields":   {{"id": int64(3), "label": "Priority", "type": "dropdown", "options": []any{"Low", "High"}}},
		"users":    {{"id": int64(4), "name": "Ann", "email": "ann@x.com"}, {"id": int64(5), "name": "No Mail"}},
		"tags":     {{"name": "missing id"}},
	})

	d, _ := c.Get(Workflows, 1)
	assert.Empty(t, Missing(Workflows, d.(CreateNew).Fields))

	d, _ = c.Get(Statuses, 2)
	st := d.(CreateNew).Fields
	assert.Equal(t, "#ff0000", st.Color)
	assert.Equal(t, "failed", st.SystemName)
	assert.True(t, st.IsFailure)
	assert.True(t, st.IsCompleted)

	d, _ = c.Get(TemplateFields, 3)
	tf := d.(CreateNew).Fields
	assert.Equal(t, "priority", tf.SystemName)
	assert.Equal(t, []Option{{Name: "Low"}, {Name: "High"}}, tf.Options)

	assert.Equal(t, 1, c.Len(Users))
	assert.Zero(t, c.Len(Tags))
}
