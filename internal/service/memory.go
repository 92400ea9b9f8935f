package service

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/raphaelgruber/tmimport/internal/models"
)

// MemoryJobStore is an in-process JobStore. Records are copied on the way
// in and out, as a document store would.
type MemoryJobStore struct {
	mu      sync.Mutex
	jobs    map[string]*models.ImportJob
	cancels map[string]bool

	// Saves counts SaveJob calls.
	Saves int
}

// NewMemoryJobStore returns an empty store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:    make(map[string]*models.ImportJob),
		cancels: make(map[string]bool),
	}
}

func (m *MemoryJobStore) CreateJob(_ context.Context, job *models.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryJobStore) GetJob(_ context.Context, id string) (*models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}
	c := job.Clone()
	c.CancelRequested = c.CancelRequested || m.cancels[id]
	return c, nil
}

func (m *MemoryJobStore) SaveJob(_ context.Context, job *models.ImportJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job.Clone()
	m.Saves++
	return nil
}

func (m *MemoryJobStore) ListJobs(_ context.Context, limit int) ([]models.ImportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ImportJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, *j.Clone())
	}
	slices.SortFunc(out, func(a, b models.ImportJob) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryJobStore) RequestCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[id] = true
	return nil
}

func (m *MemoryJobStore) ClearCancel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
	return nil
}

func (m *MemoryJobStore) IsCancelRequested(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels[id], nil
}

// MemoryReindexer records reindex requests. Err, when set, is returned
// instead.
type MemoryReindexer struct {
	mu       sync.Mutex
	Requests []string
	Err      error
}

func (r *MemoryReindexer) EnqueueReindexAll(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Requests = append(r.Requests, jobID)
	return nil
}
