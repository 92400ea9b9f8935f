package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/tmimport/internal/dest"
	"github.com/raphaelgruber/tmimport/internal/mapping"
	"github.com/raphaelgruber/tmimport/internal/models"
)

// usersImporter applies the users configuration, then brings over staged
// users the configuration does not mention, reusing accounts by email.
type usersImporter struct{}

func (usersImporter) Entity() string { return EntityUsers }

func (usersImporter) Plan(ctx context.Context, ic *Context) (int, error) {
	n, err := ic.Staging.CountRows(ctx, ic.JobID, "users")
	if err != nil {
		return 0, err
	}
	return n + ic.Config.Len(mapping.Users), nil
}

func (usersImporter) Import(ctx context.Context, ic *Context) (Summary, error) {
	s := Summary{Entity: EntityUsers}
	entries := ic.Config.Entries(mapping.Users)
	err := ic.importEntries(ctx, EntityUsers, entries, func(ctx context.Context, tx dest.Tx, e mapping.Entry, res *chunkResult) (outcome, error) {
		return res.decide(ctx, tx, userSpec, e)
	}, &s)
	if err != nil {
		return s, err
	}

	rows, err := ic.importRows(ctx, EntityUsers, "users", importUser)
	if err != nil {
		return s, err
	}
	s.Total += rows.Total
	s.Created += rows.Created
	s.Mapped += rows.Mapped
	for k, v := range rows.Details {
		n, _ := v.(int)
		s.detail(k, n)
	}
	ic.Tracker.StartEntity(EntityUsers, s.Total)
	return s, nil
}

func importUser(ctx context.Context, tx dest.Tx, row models.StagingRow, res *chunkResult) (outcome, error) {
	ic := res.ic
	src, err := requireID(EntityUsers, row)
	if err != nil {
		return outcomeNone, err
	}
	if _, ok := ic.Config.Get(mapping.Users, src); ok {
		// Handled by the configuration pass.
		return outcomeNone, nil
	}
	email := strings.ToLower(strings.TrimSpace(textValue(row, "email")))
	if email == "" {
		return outcomeNone, rowErrorf(EntityUsers, &src, "user has no email")
	}
	access := mapping.UserAccess[0]
	if models.Bool(row.Field("is_admin")) {
		access = "admin"
	}
	rec := dest.Record{
		"email":     email,
		"name":      userName(textValue(row, "name"), email),
		"access":    access,
		"is_active": !models.Bool(row.Field("is_disabled")),
		"role_id":   ic.ref(EntityUsers, src, row, "role_id", EntityRoles),
	}
	id, inserted, err := findOrInsert(ctx, tx, "users", dest.Record{"email": email}, rec)
	if err != nil {
		return outcomeNone, fmt.Errorf("user %d: %w", src, err)
	}
	res.record(EntityUsers, src, id, "users")
	if inserted {
		return outcomeCreated, nil
	}
	return outcomeMapped, nil
}

var groupMembersImporter = relationImporter{
	entity:  EntityGroupMembers,
	dataset: "group_users",
	table:   "group_members",
	columns: []relationColumn{
		{source: "group_id", target: "group_id", idEntity: EntityGroups},
		{source: "user_id", target: "user_id", idEntity: EntityUsers},
	},
}
