package orchestrator

import (
	"sync"

	"github.com/franksops/gorelay/store"
)

type memStore struct {
	mu    sync.Mutex
	jobs  map[string]*store.JobRecord
	order []string
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*store.JobRecord)}
}

func (m *memStore) SaveJob(job *store.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; !ok {
		m.order = append(m.order, job.ID)
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(id string) (*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *memStore) ListJobs(limit int) ([]*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.JobRecord
	for i := len(m.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *m.jobs[m.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }
