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

// IdentityTokenRepositoryMongo implements domain.IdentityTokenRepository.
type IdentityTokenRepositoryMongo struct {
	collection *mongo.Collection
}

// NewIdentityTokenRepository creates the repository and ensures indexes.
func NewIdentityTokenRepository(ctx context.Context, db *mongo.Database) (domain.IdentityTokenRepository, error) {
	repo := &IdentityTokenRepositoryMongo{
		collection: db.Collection(IdentityTokensCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider_config_id", Value: 1}, {Key: "external_open_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "external_union_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for identity_tokens collection (might already exist)")
	}

	return repo, nil
}

// Upsert stores a token pair atomically keyed on (provider config, open id).
// A failed exchange never reaches this point, so a stored pair is only ever
// replaced whole, never partially overwritten.
func (r *IdentityTokenRepositoryMongo) Upsert(ctx context.Context, token *domain.ExternalIdentityToken) error {
	now := time.Now().UTC()
	filter := bson.M{
		"provider_config_id": token.ProviderConfigID,
		"external_open_id":   token.ExternalOpenID,
	}
	update := bson.M{
		"$set": bson.M{
			"external_union_id": token.ExternalUnionID,
			"access_token":      token.AccessToken,
			"refresh_token":     token.RefreshToken,
			"scope":             token.Scope,
			"expires_at":        token.ExpiresAt,
			"updated_at":        now,
		},
		"$setOnInsert": bson.M{
			"_id":        NewObjectID(),
			"created_at": now,
		},
	}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		log.Error().Err(err).Msg("Error upserting identity token")
		return err
	}
	return nil
}

func (r *IdentityTokenRepositoryMongo) GetByOpenID(ctx context.Context, providerConfigID, externalOpenID string) (*domain.ExternalIdentityToken, error) {
	var token domain.ExternalIdentityToken
	err := r.collection.FindOne(ctx, bson.M{
		"provider_config_id": providerConfigID,
		"external_open_id":   externalOpenID,
	}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

// Revoke clears the token material but keeps the record.
func (r *IdentityTokenRepositoryMongo) Revoke(ctx context.Context, providerConfigID, externalOpenID string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"provider_config_id": providerConfigID,
			"external_open_id":   externalOpenID,
		},
		bson.M{"$set": bson.M{
			"access_token":  "",
			"refresh_token": "",
			"updated_at":    time.Now().UTC(),
		}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrTokenNotFound
	}
	return nil
}

var _ domain.IdentityTokenRepository = (*IdentityTokenRepositoryMongo)(nil)
