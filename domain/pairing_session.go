package domain

import (
	"context"
	"time"
)

// PairingStatus represents the status of a pairing (QR login) session.
type PairingStatus string

const (
	PairingStatusPending   PairingStatus = "pending"
	PairingStatusScanned   PairingStatus = "scanned"
	PairingStatusConfirmed PairingStatus = "confirmed"
	PairingStatusExpired   PairingStatus = "expired"
	PairingStatusCanceled  PairingStatus = "canceled"
)

// Terminal reports whether no further transition is possible from s.
func (s PairingStatus) Terminal() bool {
	switch s {
	case PairingStatusConfirmed, PairingStatusExpired, PairingStatusCanceled:
		return true
	}
	return false
}

// PairingSession tracks one out-of-band login attempt from initiation to
// confirmation or expiry. Its ID doubles as the OAuth state parameter in
// direct-redirect flows and as the QR payload in scan flows, so it has to
// be an unguessable high-entropy string.
type PairingSession struct {
	ID               string        `bson:"_id" json:"id"`
	ProviderConfigID string        `bson:"provider_config_id" json:"provider_config_id"`
	Status           PairingStatus `bson:"status" json:"status"`
	ExternalOpenID   string        `bson:"external_open_id,omitempty" json:"external_open_id,omitempty"`
	LocalAccountID   string        `bson:"local_account_id,omitempty" json:"local_account_id,omitempty"`
	CreatedAt        time.Time     `bson:"created_at" json:"created_at"`
	ExpiresAt        time.Time     `bson:"expires_at" json:"expires_at"`
	ScannedAt        time.Time     `bson:"scanned_at,omitempty" json:"scanned_at,omitempty"`
	ConfirmedAt      time.Time     `bson:"confirmed_at,omitempty" json:"confirmed_at,omitempty"`
}

// PairingSessionRepository persists pairing sessions. Every transition is a
// single guarded write: the expected prior status is part of the filter so
// concurrent callers and the expiry sweep can never move a session
// backwards or out of a terminal state.
type PairingSessionRepository interface {
	Create(ctx context.Context, session *PairingSession) error
	GetByID(ctx context.Context, id string) (*PairingSession, error)
	// MarkScanned transitions pending→scanned. Returns ErrPairingConflict
	// when the session is not in pending.
	MarkScanned(ctx context.Context, id, externalOpenID string) (*PairingSession, error)
	// Confirm transitions pending/scanned→confirmed and records the
	// resolved local account.
	Confirm(ctx context.Context, id, localAccountID string) (*PairingSession, error)
	// Cancel transitions pending/scanned→canceled.
	Cancel(ctx context.Context, id string) (*PairingSession, error)
	// CancelByAccount cancels every live session already confirmed-bound
	// or scan-bound to the given account. Used on revocation.
	CancelByAccount(ctx context.Context, localAccountID string) (int64, error)
	// SweepExpired moves every pending/scanned session whose ExpiresAt has
	// passed into expired. Idempotent and safe to run concurrently.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	// PurgeOlderThan removes sessions created before the cutoff, whatever
	// their status. Retention cleanup, not a state transition.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
