package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

// SessionStore implements domain.SessionStore using Redis. Records expire
// with the validity window via key TTLs; a successful Get re-extends the
// TTL with GETEX, so validity follows use, not just writes.
type SessionStore struct {
	client   *redis.Client
	prefix   string
	validity time.Duration
}

// NewSessionStore creates a new [SessionStore] instance.
func NewSessionStore(client *redis.Client, prefix string, validity time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		prefix:   prefix,
		validity: validity,
	}
}

// redisKey returns the Redis key for a given sid.
func (s *SessionStore) redisKey(sid string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sid)
}

// Get fetches a record and extends its TTL in one round trip.
func (s *SessionStore) Get(ctx context.Context, sid string) (*domain.SessionRecord, error) {
	payload, err := s.client.GetEx(ctx, s.redisKey(sid), s.validity).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, serrors.ErrSessionMiss
		}
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var record domain.SessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}

	// The TTL is authoritative in Redis, but write_time is part of the
	// record contract, so keep it in step with the touch.
	record.WriteTime = time.Now().UTC()
	if err := s.Upsert(ctx, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert stores the record with a single SET, which is atomic in Redis:
// concurrent writers for the same sid each land a whole record.
func (s *SessionStore) Upsert(ctx context.Context, record *domain.SessionRecord) error {
	if record.WriteTime.IsZero() {
		record.WriteTime = time.Now().UTC()
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	if err := s.client.Set(ctx, s.redisKey(record.SID), payload, s.validity).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *SessionStore) Delete(ctx context.Context, sid string) error {
	if err := s.client.Del(ctx, s.redisKey(sid)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

// SweepOlderThan scans for records whose write_time predates the cutoff.
// Key TTLs already expire stale records; the sweep exists for windows
// shorter than the configured validity (e.g. forced global logout).
func (s *SessionStore) SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, fmt.Sprintf("%s:session:*", s.prefix), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue // Expired between scan and get.
		}
		var record domain.SessionRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			continue
		}
		if record.WriteTime.Before(cutoff) {
			if err := s.client.Del(ctx, key).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan sessions in Redis: %w", err)
	}
	return removed, nil
}

var _ domain.SessionStore = (*SessionStore)(nil)
