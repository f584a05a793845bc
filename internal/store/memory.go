package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu         sync.RWMutex
	agreements map[uint64]*model.Agreement
	mandates   map[uint64]*model.Mandate
	events     []model.EventRecord
	eventIDs   map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agreements: make(map[uint64]*model.Agreement),
		mandates:   make(map[uint64]*model.Mandate),
		eventIDs:   make(map[string]struct{}),
	}
}

func (s *MemoryStore) UpsertAgreement(_ context.Context, a *model.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Store a copy to avoid external mutation.
	s.agreements[a.ID] = a.Clone()
	return nil
}

func (s *MemoryStore) GetAgreement(_ context.Context, id uint64) (*model.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agreements[id]
	if !ok {
		return nil, fmt.Errorf("agreement %d: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListAgreements(_ context.Context) ([]model.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Agreement, 0, len(s.agreements))
	for _, a := range s.agreements {
		out = append(out, *a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertMandate(_ context.Context, m *model.Mandate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	s.mandates[m.ID] = &c
	return nil
}

func (s *MemoryStore) ListMandatesByAgreement(_ context.Context, agreementID uint64) ([]model.Mandate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Mandate
	for _, m := range s.mandates {
		if m.AgreementID == agreementID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertEvent(_ context.Context, rec *model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.eventIDs[rec.ID]; dup {
		return fmt.Errorf("event %s already recorded", rec.ID)
	}
	s.eventIDs[rec.ID] = struct{}{}
	s.events = append(s.events, *rec)
	return nil
}

func (s *MemoryStore) ListEventsByAgreement(_ context.Context, agreementID uint64) ([]model.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.EventRecord
	for _, e := range s.events {
		if e.AgreementID == agreementID {
			out = append(out, e)
		}
	}
	return out, nil
}
