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
)

func setupConfigRepoTest(t *testing.T) (domain.ProviderConfigRepository, context.Context) {
	t.Helper()

	mongoURI := os.Getenv("TEST_MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}
	dbName := fmt.Sprintf("test_fedlogin_configs_%d", time.Now().UnixNano())

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

	repo, err := NewProviderConfigRepository(ctx, db)
	require.NoError(t, err)
	return repo, ctx
}

func newTestConfig(clientKey string) *domain.ProviderConfig {
	return &domain.ProviderConfig{
		TenantKey:    "default",
		Name:         "Open Platform",
		ClientKey:    clientKey,
		ClientSecret: "cs-1",
		AuthorizeURL: "https://open.example/authorize",
		TokenURL:     "https://open.example/token",
		RefreshURL:   "https://open.example/refresh",
		CallbackURL:  "https://login.example.com/auth/callback",
	}
}

func TestConfigRepo_UpdatePersistsEveryEndpoint(t *testing.T) {
	repo, ctx := setupConfigRepoTest(t)

	cfg := newTestConfig("ck-1")
	require.NoError(t, repo.Create(ctx, cfg))

	cfg.UserInfoURL = "https://open.example/userinfo"
	cfg.RevokeURL = "https://open.example/revoke"
	cfg.ClientTokenURL = "https://open.example/client_token"
	cfg.ClientSecret = "cs-rotated"
	require.NoError(t, repo.Update(ctx, cfg))

	stored, err := repo.GetByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://open.example/userinfo", stored.UserInfoURL)
	assert.Equal(t, "https://open.example/revoke", stored.RevokeURL)
	assert.Equal(t, "https://open.example/client_token", stored.ClientTokenURL)
	assert.Equal(t, "cs-rotated", stored.ClientSecret)
}

func TestConfigRepo_ActivateDemotesPreviousActive(t *testing.T) {
	repo, ctx := setupConfigRepoTest(t)

	first := newTestConfig("ck-a")
	second := newTestConfig("ck-b")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	require.NoError(t, repo.Activate(ctx, first.ID))
	require.NoError(t, repo.Activate(ctx, second.ID))

	active, err := repo.GetActive(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	demoted, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, demoted.Active)
}
