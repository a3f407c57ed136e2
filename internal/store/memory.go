package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"chainwatch/internal/chain"
)

// MemoryStore keeps samples in process memory. History is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	samples map[string][]chain.VolumeSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{samples: make(map[string][]chain.VolumeSample)}
}

func (s *MemoryStore) Append(ctx context.Context, target string, sample chain.VolumeSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.samples[target]
	i := sort.Search(len(list), func(i int) bool { return !list[i].TakenAt.Before(sample.TakenAt) })
	if i < len(list) && list[i].TakenAt.Equal(sample.TakenAt) {
		list[i] = sample
		return nil
	}
	list = append(list, chain.VolumeSample{})
	copy(list[i+1:], list[i:])
	list[i] = sample
	s.samples[target] = list
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, target string, since time.Time) ([]chain.VolumeSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chain.VolumeSample
	for _, smp := range s.samples[target] {
		if !smp.TakenAt.Before(since) {
			out = append(out, smp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Prune(ctx context.Context, target string, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.samples[target]
	i := sort.Search(len(list), func(i int) bool { return !list[i].TakenAt.Before(before) })
	s.samples[target] = append([]chain.VolumeSample(nil), list[i:]...)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
