package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

// MemorySessionStore implements domain.SessionStore using ttlcache. It is
// the dev/test backend; it does not survive restarts and is not visible to
// other processes, which is exactly what the persistent backends exist to
// fix.
type MemorySessionStore struct {
	cache    *ttlcache.Cache[string, domain.SessionRecord]
	validity time.Duration
}

// NewMemorySessionStore creates an in-memory store with automatic expiry
// after the validity window.
func NewMemorySessionStore(validity time.Duration) *MemorySessionStore {
	cache := ttlcache.New(
		// Touch-on-hit is left enabled: a Get re-extends the window, which
		// is the SessionStore validity contract.
		ttlcache.WithTTL[string, domain.SessionRecord](validity),
	)
	go cache.Start()

	return &MemorySessionStore{
		cache:    cache,
		validity: validity,
	}
}

// Get implements domain.SessionStore.Get.
func (s *MemorySessionStore) Get(_ context.Context, sid string) (*domain.SessionRecord, error) {
	item := s.cache.Get(sid)
	if item == nil {
		return nil, serrors.ErrSessionMiss
	}

	record := item.Value()
	if time.Since(record.WriteTime) > s.validity {
		s.cache.Delete(sid)
		return nil, serrors.ErrSessionMiss
	}

	record.WriteTime = time.Now().UTC()
	s.cache.Set(sid, record, s.validity)
	return &record, nil
}

// Upsert implements domain.SessionStore.Upsert. ttlcache serializes Set
// calls internally, so concurrent upserts for the same sid each land whole.
func (s *MemorySessionStore) Upsert(_ context.Context, record *domain.SessionRecord) error {
	if record.WriteTime.IsZero() {
		record.WriteTime = time.Now().UTC()
	}
	s.cache.Set(record.SID, *record, s.validity)
	return nil
}

// Delete implements domain.SessionStore.Delete.
func (s *MemorySessionStore) Delete(_ context.Context, sid string) error {
	s.cache.Delete(sid)
	return nil
}

// SweepOlderThan implements domain.SessionStore.SweepOlderThan.
func (s *MemorySessionStore) SweepOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var stale []string
	s.cache.Range(func(item *ttlcache.Item[string, domain.SessionRecord]) bool {
		if item.Value().WriteTime.Before(cutoff) {
			stale = append(stale, item.Key())
		}
		return true
	})
	for _, sid := range stale {
		s.cache.Delete(sid)
	}
	return int64(len(stale)), nil
}

// Close stops the cleanup goroutine.
func (s *MemorySessionStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ domain.SessionStore = (*MemorySessionStore)(nil)
