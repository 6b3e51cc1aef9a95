package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

// ProviderConfigRepositoryMongo implements domain.ProviderConfigRepository.
type ProviderConfigRepositoryMongo struct {
	collection *mongo.Collection
}

// NewProviderConfigRepository creates the repository and ensures indexes.
func NewProviderConfigRepository(ctx context.Context, db *mongo.Database) (domain.ProviderConfigRepository, error) {
	repo := &ProviderConfigRepositoryMongo{
		collection: db.Collection(ProviderConfigsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "client_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// At most one active config per tenant. The partial filter keeps
			// inactive configs out of the uniqueness constraint.
			Keys: bson.D{{Key: "tenant_key", Value: 1}, {Key: "active", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
	}

	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for provider_configs collection (might already exist)")
	}

	return repo, nil
}

func (r *ProviderConfigRepositoryMongo) Create(ctx context.Context, cfg *domain.ProviderConfig) error {
	if cfg.ID == "" {
		cfg.ID = NewObjectID()
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, cfg)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New("provider config with this client key already exists")
		}
		log.Error().Err(err).Msg("Error storing provider config")
		return err
	}
	return nil
}

func (r *ProviderConfigRepositoryMongo) Update(ctx context.Context, cfg *domain.ProviderConfig) error {
	if cfg.ID == "" {
		return errors.New("provider config ID is required for update")
	}
	cfg.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"name":             cfg.Name,
		"client_key":       cfg.ClientKey,
		"client_secret":    cfg.ClientSecret,
		"authorize_url":    cfg.AuthorizeURL,
		"token_url":        cfg.TokenURL,
		"refresh_url":      cfg.RefreshURL,
		"client_token_url": cfg.ClientTokenURL,
		"user_info_url":    cfg.UserInfoURL,
		"revoke_url":       cfg.RevokeURL,
		"callback_url":     cfg.CallbackURL,
		"scope":            cfg.Scope,
		"updated_at":       cfg.UpdatedAt,
	}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": cfg.ID}, update)
	if err != nil {
		log.Error().Err(err).Str("id", cfg.ID).Msg("Error updating provider config")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrConfigMissing
	}
	return nil
}

func (r *ProviderConfigRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.ProviderConfig, error) {
	var cfg domain.ProviderConfig
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&cfg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrConfigMissing
		}
		return nil, err
	}
	return &cfg, nil
}

func (r *ProviderConfigRepositoryMongo) GetActive(ctx context.Context, tenantKey string) (*domain.ProviderConfig, error) {
	var cfg domain.ProviderConfig
	err := r.collection.FindOne(ctx, bson.M{"tenant_key": tenantKey, "active": true}).Decode(&cfg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrConfigMissing
		}
		log.Error().Err(err).Str("tenant", tenantKey).Msg("Error getting active provider config")
		return nil, err
	}
	return &cfg, nil
}

// Activate promotes the config and demotes the previous active one of the
// same tenant. The demote runs first so the partial unique index never sees
// two active rows.
func (r *ProviderConfigRepositoryMongo) Activate(ctx context.Context, id string) error {
	target, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = r.collection.UpdateMany(ctx,
		bson.M{"tenant_key": target.TenantKey, "active": true, "_id": bson.M{"$ne": id}},
		bson.M{"$set": bson.M{"active": false, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"active": true, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrConfigMissing
	}
	return nil
}

func (r *ProviderConfigRepositoryMongo) List(ctx context.Context, tenantKey string) ([]*domain.ProviderConfig, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"tenant_key": tenantKey},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var configs []*domain.ProviderConfig
	if err = cursor.All(ctx, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

var _ domain.ProviderConfigRepository = (*ProviderConfigRepositoryMongo)(nil)
