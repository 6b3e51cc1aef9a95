package mongodb

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.duodoo.tech/fedlogin/domain"
	serrors "go.duodoo.tech/fedlogin/errors"
)

// AccountRepositoryMongo implements domain.AccountRepository.
type AccountRepositoryMongo struct {
	collection *mongo.Collection
}

// NewAccountRepository creates the repository and ensures indexes.
func NewAccountRepository(ctx context.Context, db *mongo.Database) (domain.AccountRepository, error) {
	repo := &AccountRepositoryMongo{
		collection: db.Collection(AccountsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "login_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// One account per external identity per provider config.
			Keys: bson.D{{Key: "provider_config_id", Value: 1}, {Key: "external_open_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"external_open_id": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "external_union_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for accounts collection (might already exist)")
	}

	return repo, nil
}

func (r *AccountRepositoryMongo) Create(ctx context.Context, account *domain.LocalAccount) error {
	if account.ID == "" {
		account.ID = NewObjectID()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, account)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// The duplicate key message names the violated index.
			if strings.Contains(err.Error(), "login_name") {
				return serrors.ErrDuplicateLoginName
			}
			return serrors.ErrDuplicateIdentity
		}
		log.Error().Err(err).Msg("Error storing account")
		return err
	}
	return nil
}

func (r *AccountRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.LocalAccount, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *AccountRepositoryMongo) GetByLoginName(ctx context.Context, loginName string) (*domain.LocalAccount, error) {
	return r.findOne(ctx, bson.M{"login_name": loginName})
}

func (r *AccountRepositoryMongo) GetByOpenID(ctx context.Context, providerConfigID, externalOpenID string) (*domain.LocalAccount, error) {
	return r.findOne(ctx, bson.M{
		"provider_config_id": providerConfigID,
		"external_open_id":   externalOpenID,
	})
}

func (r *AccountRepositoryMongo) GetByUnionID(ctx context.Context, externalUnionID string) (*domain.LocalAccount, error) {
	return r.findOne(ctx, bson.M{"external_union_id": externalUnionID})
}

func (r *AccountRepositoryMongo) findOne(ctx context.Context, filter bson.M) (*domain.LocalAccount, error) {
	var account domain.LocalAccount
	err := r.collection.FindOne(ctx, filter).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepositoryMongo) Update(ctx context.Context, account *domain.LocalAccount) error {
	if account.ID == "" {
		return errors.New("account ID is required for update")
	}
	account.UpdatedAt = time.Now().UTC()

	update := bson.M{"$set": bson.M{
		"display_name":       account.DisplayName,
		"provider_config_id": account.ProviderConfigID,
		"external_open_id":   account.ExternalOpenID,
		"external_union_id":  account.ExternalUnionID,
		"profile":            account.Profile,
		"last_login_at":      account.LastLoginAt,
		"updated_at":         account.UpdatedAt,
	}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": account.ID}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return serrors.ErrDuplicateIdentity
		}
		log.Error().Err(err).Str("id", account.ID).Msg("Error updating account")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrAccountNotFound
	}
	return nil
}

var _ domain.AccountRepository = (*AccountRepositoryMongo)(nil)
