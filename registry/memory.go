package registry

import (
	"context"
	"sync"
	"time"

	"github.com/apthunt/harvester/models"
)

// MemoryStore is an in-process Store for tests and one-shot runs.
type MemoryStore struct {
	mu       sync.Mutex
	versions map[string][]models.ScriptVersion
	active   map[string]int
	attempts map[string][]models.Attempt
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: make(map[string][]models.ScriptVersion),
		active:   make(map[string]int),
		attempts: make(map[string][]models.Attempt),
	}
}

// Active implements Store.
func (s *MemoryStore) Active(ctx context.Context, site string) (models.ScriptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, ok := s.active[site]
	if !ok {
		return models.ScriptVersion{}, ErrSiteNotFound
	}
	for _, v := range s.versions[site] {
		if v.Version == active {
			return v, nil
		}
	}
	return models.ScriptVersion{}, ErrSiteNotFound
}

// Seed implements Store.
func (s *MemoryStore) Seed(ctx context.Context, site, body string, force bool) (models.ScriptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.versions[site]) > 0 && !force {
		return models.ScriptVersion{}, ErrAlreadySeeded
	}

	version := models.ScriptVersion{
		Site:       site,
		Version:    s.nextVersionLocked(site),
		Body:       body,
		Provenance: models.ProvenanceSeed,
		CreatedAt:  time.Now(),
	}
	s.versions[site] = append(s.versions[site], version)
	s.active[site] = version.Version
	return version, nil
}

// Promote implements Store.
func (s *MemoryStore) Promote(ctx context.Context, site string, expectVersion int, body string, prov models.Provenance, repairedFrom string) (models.ScriptVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, ok := s.active[site]
	if !ok {
		return models.ScriptVersion{}, ErrSiteNotFound
	}
	if active != expectVersion {
		return models.ScriptVersion{}, ErrVersionConflict
	}

	version := models.ScriptVersion{
		Site:         site,
		Version:      s.nextVersionLocked(site),
		Body:         body,
		Provenance:   prov,
		RepairedFrom: repairedFrom,
		CreatedAt:    time.Now(),
	}
	s.versions[site] = append(s.versions[site], version)
	s.active[site] = version.Version
	return version, nil
}

// RecordAttempt implements Store.
func (s *MemoryStore) RecordAttempt(ctx context.Context, attempt models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.RequestID] = append(s.attempts[attempt.RequestID], attempt)
	return nil
}

// Attempts implements Store.
func (s *MemoryStore) Attempts(ctx context.Context, requestID string) ([]models.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.attempts[requestID]
	out := make([]models.Attempt, len(history))
	copy(out, history)
	return out, nil
}

// Versions returns every version recorded for a site, oldest first.
func (s *MemoryStore) Versions(site string) []models.ScriptVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ScriptVersion, len(s.versions[site]))
	copy(out, s.versions[site])
	return out
}

func (s *MemoryStore) nextVersionLocked(site string) int {
	history := s.versions[site]
	if len(history) == 0 {
		return 1
	}
	return history[len(history)-1].Version + 1
}
