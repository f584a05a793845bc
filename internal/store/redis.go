package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CloverPatchCore/cryptohelp-smart-contracts-public/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the cache;
// reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, refresh cache) ---

func (s *CachedStore) UpsertAgreement(ctx context.Context, a *model.Agreement) error {
	if err := s.primary.UpsertAgreement(ctx, a); err != nil {
		return err
	}
	// The primary owns MandateIDs; next read re-populates.
	s.rdb.Del(ctx, agreementKey(a.ID))
	return nil
}

func (s *CachedStore) UpsertMandate(ctx context.Context, m *model.Mandate) error {
	if err := s.primary.UpsertMandate(ctx, m); err != nil {
		return err
	}
	s.rdb.Del(ctx, mandatesKey(m.AgreementID), agreementKey(m.AgreementID))
	return nil
}

func (s *CachedStore) InsertEvent(ctx context.Context, rec *model.EventRecord) error {
	if err := s.primary.InsertEvent(ctx, rec); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventsKey(rec.AgreementID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAgreement(ctx context.Context, id uint64) (*model.Agreement, error) {
	data, err := s.rdb.Get(ctx, agreementKey(id)).Bytes()
	if err == nil {
		var a model.Agreement
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAgreement(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, agreementKey(id), a)
	return a, nil
}

func (s *CachedStore) ListMandatesByAgreement(ctx context.Context, agreementID uint64) ([]model.Mandate, error) {
	data, err := s.rdb.Get(ctx, mandatesKey(agreementID)).Bytes()
	if err == nil {
		var out []model.Mandate
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := s.primary.ListMandatesByAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, mandatesKey(agreementID), out)
	return out, nil
}

func (s *CachedStore) ListEventsByAgreement(ctx context.Context, agreementID uint64) ([]model.EventRecord, error) {
	data, err := s.rdb.Get(ctx, eventsKey(agreementID)).Bytes()
	if err == nil {
		var out []model.EventRecord
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := s.primary.ListEventsByAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, eventsKey(agreementID), out)
	return out, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAgreements(ctx context.Context) ([]model.Agreement, error) {
	return s.primary.ListAgreements(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func agreementKey(id uint64) string { return fmt.Sprintf("escrow:agreement:%d", id) }
func mandatesKey(id uint64) string  { return fmt.Sprintf("escrow:mandates:%d", id) }
func eventsKey(id uint64) string    { return fmt.Sprintf("escrow:events:%d", id) }
