package mongodb

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

// setupPairingRepoTest connects to a throwaway database. Tests skip when no
// MongoDB is reachable, so the suite still passes on a bare machine.
func setupPairingRepoTest(t *testing.T) (domain.PairingSessionRepository, context.Context) {
	t.Helper()

	mongoURI := os.Getenv("TEST_MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}
	dbName := fmt.Sprintf("test_fedlogin_pairing_%d", time.Now().UnixNano())

	ctx := context.Background()
	client, err := mongo.Connect(options.Client().ApplyURI(mongoURI).SetConnectTimeout(5 * time.Second))
	if err != nil {
		t.Skipf("skipping: mongo.Connect failed: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		t.Skipf("skipping: MongoDB not reachable at %s: %v", mongoURI, err)
	}

	db := client.Database(dbName)
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	repo, err := NewPairingSessionRepository(ctx, db)
	require.NoError(t, err)
	return repo, ctx
}

func newTestSession(id string, ttl time.Duration) *domain.PairingSession {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.PairingSession{
		ID:               id,
		ProviderConfigID: "cfg-1",
		Status:           domain.PairingStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
}

func TestPairingRepo_GuardedTransitions(t *testing.T) {
	repo, ctx := setupPairingRepoTest(t)

	require.NoError(t, repo.Create(ctx, newTestSession("s1", 5*time.Minute)))

	scanned, err := repo.MarkScanned(ctx, "s1", "open-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PairingStatusScanned, scanned.Status)
	assert.Equal(t, "open-1", scanned.ExternalOpenID)
	assert.False(t, scanned.ScannedAt.IsZero())

	// pending-only transition cannot run twice.
	_, err = repo.MarkScanned(ctx, "s1", "open-1")
	assert.ErrorIs(t, err, serrors.ErrPairingConflict)

	confirmed, err := repo.Confirm(ctx, "s1", "acc-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PairingStatusConfirmed, confirmed.Status)
	assert.Equal(t, "acc-1", confirmed.LocalAccountID)

	// Terminal states accept no further transitions.
	_, err = repo.Cancel(ctx, "s1")
	assert.ErrorIs(t, err, serrors.ErrPairingConflict)
	_, err = repo.Confirm(ctx, "s1", "acc-2")
	assert.ErrorIs(t, err, serrors.ErrPairingConflict)

	// And the winner's write is untouched.
	got, err := repo.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", got.LocalAccountID)
}

func TestPairingRepo_UnknownSession(t *testing.T) {
	repo, ctx := setupPairingRepoTest(t)

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, serrors.ErrPairingNotFound)

	_, err = repo.MarkScanned(ctx, "missing", "open-1")
	assert.ErrorIs(t, err, serrors.ErrPairingNotFound)
}

func TestPairingRepo_SweepExpiredIsIdempotent(t *testing.T) {
	repo, ctx := setupPairingRepoTest(t)

	require.NoError(t, repo.Create(ctx, newTestSession("live", 10*time.Minute)))
	overdue := newTestSession("overdue", -time.Minute)
	require.NoError(t, repo.Create(ctx, overdue))

	n, err := repo.SweepExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	expired, err := repo.GetByID(ctx, "overdue")
	require.NoError(t, err)
	assert.Equal(t, domain.PairingStatusExpired, expired.Status)

	// Second run matches nothing.
	n, err = repo.SweepExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n)

	// An expired session cannot be confirmed afterwards.
	_, err = repo.Confirm(ctx, "overdue", "acc-1")
	assert.ErrorIs(t, err, serrors.ErrPairingConflict)
}

func TestPairingRepo_CancelByAccountAndPurge(t *testing.T) {
	repo, ctx := setupPairingRepoTest(t)

	bound := newTestSession("bound", 5*time.Minute)
	bound.Status = domain.PairingStatusScanned
	bound.LocalAccountID = "acc-1"
	require.NoError(t, repo.Create(ctx, bound))

	done := newTestSession("done", 5*time.Minute)
	done.Status = domain.PairingStatusConfirmed
	done.LocalAccountID = "acc-1"
	require.NoError(t, repo.Create(ctx, done))

	n, err := repo.CancelByAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only live sessions are canceled")

	old := newTestSession("old", 5*time.Minute)
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, repo.Create(ctx, old))

	purged, err := repo.PurgeOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = repo.GetByID(ctx, "old")
	assert.ErrorIs(t, err, serrors.ErrPairingNotFound)
}
