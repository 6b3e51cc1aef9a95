package domain

import (
	"context"
	"time"
)

// SessionRecord is a persisted login session. A record is valid only while
// WriteTime is within the rolling validity window; validity is re-extended
// on each successful lookup-and-use, not only on write.
type SessionRecord struct {
	SID         string    `bson:"_id" json:"sid"`
	AccountID   string    `bson:"account_id" json:"account_id"`
	TenantKey   string    `bson:"tenant_key,omitempty" json:"tenant_key,omitempty"`
	ContextBlob []byte    `bson:"context_blob,omitempty" json:"context_blob,omitempty"`
	WriteTime   time.Time `bson:"write_time" json:"write_time"`
}

// SessionStore is a pluggable persistent sid→session mapping, so lookups
// succeed from any process instance and across restarts. Implementations
// must use an atomic insert-or-update: concurrent Upserts for the same sid
// (double-submit, duplicated tabs) must each land whole.
type SessionStore interface {
	// Get returns the record for sid and extends its validity window, or
	// ErrSessionMiss when absent or older than the window. Both conditions
	// mean "not authenticated", not a failure.
	Get(ctx context.Context, sid string) (*SessionRecord, error)
	Upsert(ctx context.Context, record *SessionRecord) error
	Delete(ctx context.Context, sid string) error
	// SweepOlderThan removes records whose WriteTime predates the cutoff.
	SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
