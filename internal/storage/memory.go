package storage

import (
	"strings"
	"sync"

	"github.com/olehkaliuzhnyi/wave-portal/pkg/models"
)

// MemoryWaveStore is an in-memory WaveStore. Concurrent ReplaceAll calls
// resolve as last write wins.
type MemoryWaveStore struct {
	mu     sync.RWMutex
	policy OrderPolicy
	waves  []models.WaveRecord
}

func NewMemoryWaveStore(policy OrderPolicy) *MemoryWaveStore {
	return &MemoryWaveStore{policy: policy}
}

// Policy returns the order policy applied on replace.
func (s *MemoryWaveStore) Policy() OrderPolicy {
	return s.policy
}

func (s *MemoryWaveStore) ReplaceAll(records []models.WaveRecord) {
	next := make([]models.WaveRecord, len(records))
	if s.policy == OrderNewestFirst {
		for i, r := range records {
			next[len(records)-1-i] = r
		}
	} else {
		copy(next, records)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.waves = next
}

func (s *MemoryWaveStore) Snapshot() []models.WaveRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.WaveRecord, len(s.waves))
	copy(out, s.waves)
	return out
}

func (s *MemoryWaveStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.waves)
}

// MemoryNonceStore is an in-memory NonceStore.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]uint64
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{nonces: make(map[string]uint64)}
}

func (s *MemoryNonceStore) Reserve(address string, floor uint64) (uint64, error) {
	key := strings.ToLower(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nonces[key]
	if floor > n {
		n = floor
	}
	s.nonces[key] = n + 1
	return n, nil
}

func (s *MemoryNonceStore) Release(address string, nonce uint64) error {
	key := strings.ToLower(address)
	s.mu.Lock()
	defer s.mu.Unlock()
	// Only the most recent reservation can be handed back without leaving a gap.
	if s.nonces[key] == nonce+1 {
		s.nonces[key] = nonce
	}
	return nil
}
