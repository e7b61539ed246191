package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"vitals-service/internal/models"
)

// MemoryStore keeps samples in a slice. It backs tests and demo runs.
type MemoryStore struct {
	mu      sync.RWMutex
	samples []models.Sample
	err     error
	fetches int
}

func NewMemoryStore(samples ...models.Sample) *MemoryStore {
	return &MemoryStore{samples: slices.Clone(samples)}
}

func (m *MemoryStore) Add(samples ...models.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, samples...)
}

// FailWith makes every following call return err; nil restores service.
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Fetches counts FetchSince calls.
func (m *MemoryStore) Fetches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetches
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *MemoryStore) FetchSince(ctx context.Context, cutoff time.Time, required []models.Field) ([]models.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Sample
next:
	for _, s := range m.samples {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		for _, f := range required {
			if _, ok := s.Value(f); !ok {
				continue next
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) Latest(ctx context.Context, limit int) ([]models.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	sorted := slices.Clone(m.samples)
	slices.SortFunc(sorted, func(a, b models.Sample) int { return b.Timestamp.Compare(a.Timestamp) })
	if limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}
