// Package mapping normalizes operator-approved mapping configurations into
// typed per-entity decision tables and tracks how each decision resolves.
package mapping

import (
	"maps"
	"slices"
)

// EntityType names one configurable sub-table.
type EntityType string

const (
	Workflows      EntityType = "workflows"
	Statuses       EntityType = "statuses"
	Groups         EntityType = "groups"
	Tags           EntityType = "tags"
	Roles          EntityType = "roles"
	MilestoneTypes EntityType = "milestoneTypes"
	Configurations EntityType = "configurations"
	Templates      EntityType = "templates"
	TemplateFields EntityType = "templateFields"
	IssueTargets   EntityType = "issueTargets"
	Users          EntityType = "users"
)

// EntityTypes lists every configurable entity type in import order.
var EntityTypes = []EntityType{
	Workflows, Statuses, Groups, Tags, Roles, MilestoneTypes,
	Configurations, TemplateFields, Templates, IssueTargets, Users,
}

// Action is the serialized decision kind.
type Action string

const (
	ActionMap    Action = "map"
	ActionCreate Action = "create"
)

// DefaultAction is applied when an entry's action is absent or unknown.
// Lookup-like entities default to create; entities that normally exist in
// the destination already default to map.
func DefaultAction(et EntityType) Action {
	switch et {
	case Users, Roles, IssueTargets:
		return ActionMap
	default:
		return ActionCreate
	}
}

// Decision is one entry of a decision table: MapTo, CreateNew or Resolved.
type Decision interface {
	Action() Action
	isDecision()
}

// MapTo points a source entity at an existing destination entity.
// A zero TargetID means the operator never picked one.
type MapTo struct {
	TargetID int64
}

// CreateNew asks the importer to create (or reuse by natural key) a
// destination entity.
type CreateNew struct {
	Fields Fields
}

// Resolved is a decision the importer has already carried out.
type Resolved struct {
	TargetID int64
	Created  bool
}

func (MapTo) Action() Action     { return ActionMap }
func (CreateNew) Action() Action { return ActionCreate }

// Action of a resolved decision is always map: re-running points at the
// entity that now exists.
func (Resolved) Action() Action { return ActionMap }

func (MapTo) isDecision()     {}
func (CreateNew) isDecision() {}
func (Resolved) isDecision()  {}

// Table holds the decisions of one entity type keyed by source id.
type Table map[int64]Decision

// Entry is a table row.
type Entry struct {
	SourceID int64
	Decision Decision
}

// Config is a normalized mapping configuration.
type Config struct {
	tables map[EntityType]Table
}

// New returns an empty configuration with a table for every entity type.
func New() *Config {
	c := &Config{tables: make(map[EntityType]Table, len(EntityTypes))}
	for _, et := range EntityTypes {
		c.tables[et] = Table{}
	}
	return c
}

// Get returns the decision for a source entity.
func (c *Config) Get(et EntityType, sourceID int64) (Decision, bool) {
	d, ok := c.tables[et][sourceID]
	return d, ok
}

// Set stores a decision, replacing any previous one.
func (c *Config) Set(et EntityType, sourceID int64, d Decision) {
	t, ok := c.tables[et]
	if !ok {
		t = Table{}
		c.tables[et] = t
	}
	t[sourceID] = d
}

// Resolve records that the decision for sourceID was carried out.
func (c *Config) Resolve(et EntityType, sourceID, targetID int64, created bool) {
	c.Set(et, sourceID, Resolved{TargetID: targetID, Created: created})
}

// Entries returns the rows of one table ordered by source id.
func (c *Config) Entries(et EntityType) []Entry {
	t := c.tables[et]
	ids := slices.Sorted(maps.Keys(t))
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, Entry{SourceID: id, Decision: t[id]})
	}
	return out
}

// Len counts the entries of one table.
func (c *Config) Len(et EntityType) int {
	return len(c.tables[et])
}

// Pending counts entries not yet resolved, across all tables.
func (c *Config) Pending() int {
	n := 0
	for _, t := range c.tables {
		for _, d := range t {
			if _, ok := d.(Resolved); !ok {
				n++
			}
		}
	}
	return n
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := New()
	for et, t := range c.tables {
		nt := make(Table, len(t))
		for id, d := range t {
			if cn, ok := d.(CreateNew); ok {
				d = CreateNew{Fields: cn.Fields.clone()}
			}
			nt[id] = d
		}
		out.tables[et] = nt
	}
	return out
}
