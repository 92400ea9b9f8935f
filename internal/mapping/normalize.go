package mapping

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/raphaelgruber/tmimport/internal/models"
)

// Normalize turns a loosely-typed configuration (decoded JSON or YAML) into
// a Config. It never fails: malformed tables and entries fall back to
// defaults, unparsable source ids are dropped and invalid enumerations are
// replaced by their default or left empty.
func Normalize(raw map[string]any) *Config {
	c := New()
	for _, et := range EntityTypes {
		table, ok := asMap(raw[string(et)])
		if !ok {
			continue
		}
		for key, v := range table {
			id, ok := models.Int64(key)
			if !ok {
				continue
			}
			entry, _ := asMap(v)
			c.Set(et, id, normalizeEntry(et, entry))
		}
	}
	return c
}

func normalizeEntry(et EntityType, m map[string]any) Decision {
	target, hasTarget := models.Int64(m["mappedTo"])
	if models.Bool(m["resolved"]) && hasTarget && target > 0 {
		return Resolved{TargetID: target, Created: models.Bool(m["created"])}
	}

	action := Action(strings.ToLower(str(m, "action")))
	if action != ActionMap && action != ActionCreate {
		action = DefaultAction(et)
	}
	if action == ActionMap {
		if !hasTarget || target < 0 {
			target = 0
		}
		return MapTo{TargetID: target}
	}
	return CreateNew{Fields: normalizeFields(et, m)}
}

func normalizeFields(et EntityType, m map[string]any) Fields {
	var f Fields
	switch et {
	case Workflows:
		f.Name = str(m, "name")
		f.Icon = str(m, "icon")
		f.Color = color(m)
		f.Scope = enum(str(m, "scope"), WorkflowScopes, WorkflowScopes[0])
		f.WorkflowType = enum(str(m, "workflowType"), WorkflowKinds, WorkflowKinds[0])
	case Statuses:
		f.Name = str(m, "name")
		f.SystemName = systemName(m, f.Name)
		f.Color = color(m)
		f.IsSuccess = models.Bool(m["isSuccess"])
		f.IsFailure = models.Bool(m["isFailure"])
		f.IsCompleted = models.Bool(m["isCompleted"])
	case Groups:
		f.Name = str(m, "name")
		f.Note = str(m, "note")
	case Tags:
		f.Name = str(m, "name")
	case Roles:
		f.Name = str(m, "name")
		f.IsDefault = models.Bool(m["isDefault"])
	case MilestoneTypes:
		f.Name = str(m, "name")
		f.Icon = str(m, "icon")
		f.IsDefault = models.Bool(m["isDefault"])
	case Configurations:
		f.Name = str(m, "name")
		for _, item := range list(m["variants"]) {
			id, ok := models.Int64(item["id"])
			name := str(item, "name")
			if !ok || name == "" {
				continue
			}
			f.Variants = append(f.Variants, Variant{SourceID: id, Name: name})
		}
	case Templates:
		f.Name = str(m, "name")
		f.IsDefault = models.Bool(m["isDefault"])
		if ids, ok := m["fieldIds"].([]any); ok {
			for _, v := range ids {
				if id, ok := models.Int64(v); ok && !slices.Contains(f.FieldIDs, id) {
					f.FieldIDs = append(f.FieldIDs, id)
				}
			}
		}
	case TemplateFields:
		f.Name = str(m, "displayName")
		if f.Name == "" {
			f.Name = str(m, "name")
		}
		f.SystemName = systemName(m, f.Name)
		f.FieldType = enum(strings.ToLower(str(m, "fieldType")), FieldTypes, "")
		f.Target = enum(strings.ToLower(str(m, "target")), FieldTargets, FieldTargets[0])
		f.IsRequired = models.Bool(m["isRequired"])
		for _, item := range list(m["options"]) {
			name := str(item, "name")
			if name == "" {
				continue
			}
			id, _ := models.Int64(item["id"])
			f.Options = append(f.Options, Option{SourceID: id, Name: name})
		}
	case IssueTargets:
		f.Name = str(m, "name")
		f.Provider = enum(strings.ToLower(str(m, "provider")), Providers, Providers[0])
		f.BaseURL = str(m, "baseUrl")
	case Users:
		f.Email = strings.ToLower(str(m, "email"))
		f.Name = str(m, "name")
		f.Access = enum(strings.ToLower(str(m, "access")), UserAccess, UserAccess[0])
		f.IsActive = true
		if v, ok := m["isActive"]; ok && v != nil {
			f.IsActive = models.Bool(v)
		}
	}
	return f
}

// Serialize is the inverse of Normalize: Normalize(Serialize(c)) equals c
// for every c produced by Normalize or by Config's mutators.
func Serialize(c *Config) map[string]any {
	out := make(map[string]any, len(EntityTypes))
	for _, et := range EntityTypes {
		table := make(map[string]any, c.Len(et))
		for _, e := range c.Entries(et) {
			table[strconv.FormatInt(e.SourceID, 10)] = serializeDecision(et, e.Decision)
		}
		out[string(et)] = table
	}
	return out
}

func serializeDecision(et EntityType, d Decision) map[string]any {
	switch d := d.(type) {
	case Resolved:
		m := map[string]any{"action": string(ActionMap), "mappedTo": d.TargetID, "resolved": true}
		if d.Created {
			m["created"] = true
		}
		return m
	case MapTo:
		m := map[string]any{"action": string(ActionMap)}
		if d.TargetID > 0 {
			m["mappedTo"] = d.TargetID
		}
		return m
	case CreateNew:
		m := serializeFields(et, d.Fields)
		m["action"] = string(ActionCreate)
		return m
	default:
		panic(fmt.Sprintf("mapping: unknown decision %T", d))
	}
}

func serializeFields(et EntityType, f Fields) map[string]any {
	m := map[string]any{}
	put := func(key, v string) {
		if v != "" {
			m[key] = v
		}
	}
	flag := func(key string, v bool) {
		if v {
			m[key] = true
		}
	}
	switch et {
	case Workflows:
		put("name", f.Name)
		put("icon", f.Icon)
		put("color", f.Color)
		put("scope", f.Scope)
		put("workflowType", f.WorkflowType)
	case Statuses:
		put("name", f.Name)
		put("systemName", f.SystemName)
		put("color", f.Color)
		flag("isSuccess", f.IsSuccess)
		flag("isFailure", f.IsFailure)
		flag("isCompleted", f.IsCompleted)
	case Groups:
		put("name", f.Name)
		put("note", f.Note)
	case Tags:
		put("name", f.Name)
	case Roles:
		put("name", f.Name)
		flag("isDefault", f.IsDefault)
	case MilestoneTypes:
		put("name", f.Name)
		put("icon", f.Icon)
		flag("isDefault", f.IsDefault)
	case Configurations:
		put("name", f.Name)
		if len(f.Variants) > 0 {
			variants := make([]any, len(f.Variants))
			for i, v := range f.Variants {
				variants[i] = map[string]any{"id": v.SourceID, "name": v.Name}
			}
			m["variants"] = variants
		}
	case Templates:
		put("name", f.Name)
		flag("isDefault", f.IsDefault)
		if len(f.FieldIDs) > 0 {
			ids := make([]any, len(f.FieldIDs))
			for i, id := range f.FieldIDs {
				ids[i] = id
			}
			m["fieldIds"] = ids
		}
	case TemplateFields:
		put("displayName", f.Name)
		put("systemName", f.SystemName)
		put("fieldType", f.FieldType)
		put("target", f.Target)
		flag("isRequired", f.IsRequired)
		if len(f.Options) > 0 {
			options := make([]any, len(f.Options))
			for i, o := range f.Options {
				opt := map[string]any{"name": o.Name}
				if o.SourceID != 0 {
					opt["id"] = o.SourceID
				}
				options[i] = opt
			}
			m["options"] = options
		}
	case IssueTargets:
		put("name", f.Name)
		put("provider", f.Provider)
		put("baseUrl", f.BaseURL)
	case Users:
		put("email", f.Email)
		put("name", f.Name)
		put("access", f.Access)
		m["isActive"] = f.IsActive
	}
	return m
}

// asMap accepts both JSON-style and YAML-style (non-string keys) maps.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	case map[int]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[strconv.Itoa(k)] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func list(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := asMap(item); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(m map[string]any, key string) string {
	s, _ := models.String(m[key])
	return s
}

func enum(v string, allowed []string, def string) string {
	if slices.Contains(allowed, v) {
		return v
	}
	return def
}

func color(m map[string]any) string {
	c := str(m, "color")
	if !colorPattern.MatchString(c) {
		return ""
	}
	return strings.ToLower(c)
}

func systemName(m map[string]any, name string) string {
	if s := models.SystemName(str(m, "systemName")); s != "" {
		return s
	}
	return models.SystemName(name)
}
