package dest

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/tmimport/internal/models"
)

// MemoryStore is an in-process Store for tests. Transactions snapshot the
// whole store and restore it on failure.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]map[int64]Record
	seq    map[string]int64
	unique map[string][][]string

	// OnInsert, when set, runs before every insert; a non-nil error fails it.
	OnInsert func(table string, rec Record) error
}

// NewMemoryStore returns an empty store enforcing the same unique keys as
// SchemaSQL.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]map[int64]Record),
		seq:    make(map[string]int64),
		unique: map[string][][]string{
			"statuses":                   {{"system_name"}},
			"groups":                     {{"name"}},
			"tags":                       {{"name"}},
			"roles":                      {{"name"}},
			"milestone_types":            {{"name"}},
			"configurations":             {{"name"}},
			"config_variants":            {{"configuration_id", "name"}},
			"template_fields":            {{"system_name"}},
			"templates":                  {{"name"}},
			"template_field_assignments": {{"template_id", "field_id"}},
			"users":                      {{"email"}},
			"group_members":              {{"group_id", "user_id"}},
			"case_versions":              {{"case_id", "version"}},
			"issue_targets":              {{"name"}},
			"issues":                     {{"issue_target_id", "external_key"}},
			"case_tags":                  {{"case_id", "tag_id"}},
			"run_tags":                   {{"run_id", "tag_id"}},
			"session_tags":               {{"session_id", "tag_id"}},
			"case_issues":                {{"case_id", "issue_id"}},
			"run_issues":                 {{"run_id", "issue_id"}},
			"result_issues":              {{"result_id", "issue_id"}},
			"session_issues":             {{"session_id", "issue_id"}},
		},
	}
}

// Seed inserts a row outside any transaction and returns its id.
func (s *MemoryStore) Seed(table string, rec Record) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.insertLocked(table, rec)
	if err != nil {
		panic(err)
	}
	return id
}

func (s *MemoryStore) FindOne(ctx context.Context, table string, where Record) (Record, error) {
	all, err := s.FindAll(ctx, table, where)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	return all[0], nil
}

func (s *MemoryStore) FindByID(ctx context.Context, table string, id int64) (Record, error) {
	return s.FindOne(ctx, table, Record{"id": id})
}

func (s *MemoryStore) FindAll(ctx context.Context, table string, where Record) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	var out []Record
	for _, id := range slices.Sorted(maps.Keys(rows)) {
		if matches(rows[id], where) {
			out = append(out, maps.Clone(rows[id]))
		}
	}
	return out, nil
}

func (s *MemoryStore) Exists(ctx context.Context, table string, where Record) (bool, error) {
	all, err := s.FindAll(ctx, table, where)
	return len(all) > 0, err
}

func (s *MemoryStore) Insert(ctx context.Context, table string, rec Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.OnInsert != nil {
		if err := s.OnInsert(table, rec); err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(table, rec)
}

func (s *MemoryStore) insertLocked(table string, rec Record) (int64, error) {
	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[int64]Record)
		s.tables[table] = rows
	}
	if key := s.violates(table, 0, rec); key != "" {
		return 0, fmt.Errorf("insert %s: %w: %s", table, ErrUniqueViolation, key)
	}
	s.seq[table]++
	id := s.seq[table]
	row := maps.Clone(rec)
	row["id"] = id
	rows[id] = row
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, table string, id int64, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tables[table][id]
	if !ok {
		return fmt.Errorf("update %s %d: %w", table, id, ErrNotFound)
	}
	merged := maps.Clone(row)
	for k, v := range rec {
		if k != "id" {
			merged[k] = v
		}
	}
	if key := s.violates(table, id, merged); key != "" {
		return fmt.Errorf("update %s: %w: %s", table, ErrUniqueViolation, key)
	}
	s.tables[table][id] = merged
	return nil
}

func (s *MemoryStore) Count(_ context.Context, table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table]), nil
}

// InTx implements Store. Transactions are serialized against each other
// only through the snapshot; the store is meant for single-writer tests.
func (s *MemoryStore) InTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx Tx) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	snapshot := s.snapshot()
	err := fn(ctx, s)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	tables map[string]map[int64]Record
	seq    map[string]int64
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	tables := make(map[string]map[int64]Record, len(s.tables))
	for name, rows := range s.tables {
		copied := make(map[int64]Record, len(rows))
		for id, r := range rows {
			copied[id] = maps.Clone(r)
		}
		tables[name] = copied
	}
	return memorySnapshot{tables: tables, seq: maps.Clone(s.seq)}
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = snap.tables
	s.seq = snap.seq
}

// violates returns the violated unique key, or "".
func (s *MemoryStore) violates(table string, selfID int64, rec Record) string {
	for _, cols := range s.unique[table] {
		where := Record{}
		for _, c := range cols {
			if rec[c] == nil {
				where = nil
				break
			}
			where[c] = rec[c]
		}
		if where == nil {
			continue
		}
		for id, row := range s.tables[table] {
			if id != selfID && matches(row, where) {
				return table + "(" + strings.Join(cols, ", ") + ")"
			}
		}
	}
	return ""
}

func matches(row, where Record) bool {
	for c, want := range where {
		if !equalValues(row[c], want) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := models.Int64(a); ok {
		if _, isString := a.(string); !isString {
			y, ok := models.Int64(b)
			_, bString := b.(string)
			return ok && !bString && x == y
		}
	}
	return reflect.DeepEqual(a, b)
}
