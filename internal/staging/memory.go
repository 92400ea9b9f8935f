package staging

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/raphaelgruber/tmimport/internal/models"
)

type rowKey struct {
	job     string
	dataset string
	index   int
}

type mappingKey struct {
	job        string
	entityType string
	sourceID   int64
}

// MemoryStore is an in-process Store for tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	rows     map[rowKey]models.StagingRow
	mappings map[mappingKey]models.EntityMapping
	datasets map[string][]models.Dataset

	// FailInsert, when set, is consulted for every InsertRows call.
	FailInsert func(rows []models.StagingRow) error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[rowKey]models.StagingRow),
		mappings: make(map[mappingKey]models.EntityMapping),
		datasets: make(map[string][]models.Dataset),
	}
}

// InsertRows implements Store.
func (m *MemoryStore) InsertRows(_ context.Context, rows []models.StagingRow) error {
	if m.FailInsert != nil {
		if err := m.FailInsert(rows); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		r.RowData = maps.Clone(r.RowData)
		r.TextColumns = maps.Clone(r.TextColumns)
		m.rows[rowKey{r.JobID, r.Dataset, r.RowIndex}] = r
	}
	return nil
}

// ListRows implements Store.
func (m *MemoryStore) ListRows(_ context.Context, jobID, dataset string, after, limit int) ([]models.StagingRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StagingRow
	for k, r := range m.rows {
		if k.job == jobID && k.dataset == dataset && k.index > after {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b models.StagingRow) int { return a.RowIndex - b.RowIndex })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountRows implements Store.
func (m *MemoryStore) CountRows(_ context.Context, jobID, dataset string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.rows {
		if k.job == jobID && k.dataset == dataset {
			n++
		}
	}
	return n, nil
}

// MarkProcessed implements Store.
func (m *MemoryStore) MarkProcessed(_ context.Context, jobID, dataset string, rowIndexes []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, idx := range rowIndexes {
		k := rowKey{jobID, dataset, idx}
		r, ok := m.rows[k]
		if !ok {
			continue
		}
		r.Processed = true
		r.Error = nil
		m.rows[k] = r
	}
	return nil
}

// MarkFailed implements Store.
func (m *MemoryStore) MarkFailed(_ context.Context, jobID, dataset string, rowIndex int, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := rowKey{jobID, dataset, rowIndex}
	r, ok := m.rows[k]
	if !ok {
		r = models.StagingRow{JobID: jobID, Dataset: dataset, RowIndex: rowIndex}
	}
	r.Processed = true
	r.Error = &msg
	m.rows[k] = r
	return nil
}

// ResetFailed implements Store.
func (m *MemoryStore) ResetFailed(_ context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, r := range m.rows {
		if k.job != jobID || !r.Failed() {
			continue
		}
		r.Processed = false
		r.Error = nil
		m.rows[k] = r
		n++
	}
	return n, nil
}

// UpsertMappings implements Store.
func (m *MemoryStore) UpsertMappings(_ context.Context, mappings []models.EntityMapping) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, em := range mappings {
		m.mappings[mappingKey{em.JobID, em.EntityType, em.SourceID}] = em
	}
	return nil
}

// ListMappings implements Store.
func (m *MemoryStore) ListMappings(_ context.Context, jobID string) ([]models.EntityMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.EntityMapping
	for k, em := range m.mappings {
		if k.job == jobID {
			out = append(out, em)
		}
	}
	slices.SortFunc(out, func(a, b models.EntityMapping) int {
		if c := cmp.Compare(a.EntityType, b.EntityType); c != 0 {
			return c
		}
		return cmp.Compare(a.SourceID, b.SourceID)
	})
	return out, nil
}

// SaveDatasets implements Store.
func (m *MemoryStore) SaveDatasets(_ context.Context, datasets []models.Dataset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range datasets {
		list := m.datasets[d.JobID]
		i := slices.IndexFunc(list, func(e models.Dataset) bool { return e.Name == d.Name })
		if i >= 0 {
			list[i] = d
		} else {
			list = append(list, d)
		}
		m.datasets[d.JobID] = list
	}
	return nil
}

// ListDatasets implements Store.
func (m *MemoryStore) ListDatasets(_ context.Context, jobID string) ([]models.Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.datasets[jobID]), nil
}

// DeleteJobData implements Store.
func (m *MemoryStore) DeleteJobData(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.rows {
		if k.job == jobID {
			delete(m.rows, k)
		}
	}
	for k := range m.mappings {
		if k.job == jobID {
			delete(m.mappings, k)
		}
	}
	delete(m.datasets, jobID)
	return nil
}
