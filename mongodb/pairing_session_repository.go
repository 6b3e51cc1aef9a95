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

// PairingSessionRepositoryMongo implements domain.PairingSessionRepository.
// All transitions are single FindOneAndUpdate calls with the expected prior
// status in the filter, so they are linearizable per session id: a late
// MarkScanned cannot resurrect a confirmed or expired session.
type PairingSessionRepositoryMongo struct {
	collection *mongo.Collection
}

// NewPairingSessionRepository creates the repository and ensures indexes.
func NewPairingSessionRepository(ctx context.Context, db *mongo.Database) (domain.PairingSessionRepository, error) {
	repo := &PairingSessionRepositoryMongo{
		collection: db.Collection(PairingSessionsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "local_account_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
		},
	}

	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for pairing_sessions collection (might already exist)")
	}

	return repo, nil
}

func (r *PairingSessionRepositoryMongo) Create(ctx context.Context, session *domain.PairingSession) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		log.Error().Err(err).Msg("Error storing pairing session")
		return err
	}
	return nil
}

func (r *PairingSessionRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.PairingSession, error) {
	var session domain.PairingSession
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrPairingNotFound
		}
		return nil, err
	}
	return &session, nil
}

// transition performs one guarded status change and returns the updated
// document. ErrPairingConflict when the session exists but is not in one of
// the allowed prior states, ErrPairingNotFound when it does not exist.
func (r *PairingSessionRepositoryMongo) transition(ctx context.Context, id string, from []domain.PairingStatus, set bson.M) (*domain.PairingSession, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": from},
	}
	update := bson.M{"$set": set}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated domain.PairingSession
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish absent from wrong-state for the caller's logs.
			if _, getErr := r.GetByID(ctx, id); getErr != nil {
				return nil, serrors.ErrPairingNotFound
			}
			return nil, serrors.ErrPairingConflict
		}
		return nil, err
	}
	return &updated, nil
}

func (r *PairingSessionRepositoryMongo) MarkScanned(ctx context.Context, id, externalOpenID string) (*domain.PairingSession, error) {
	return r.transition(ctx, id,
		[]domain.PairingStatus{domain.PairingStatusPending},
		bson.M{
			"status":           domain.PairingStatusScanned,
			"external_open_id": externalOpenID,
			"scanned_at":       time.Now().UTC(),
		})
}

func (r *PairingSessionRepositoryMongo) Confirm(ctx context.Context, id, localAccountID string) (*domain.PairingSession, error) {
	return r.transition(ctx, id,
		[]domain.PairingStatus{domain.PairingStatusPending, domain.PairingStatusScanned},
		bson.M{
			"status":           domain.PairingStatusConfirmed,
			"local_account_id": localAccountID,
			"confirmed_at":     time.Now().UTC(),
		})
}

func (r *PairingSessionRepositoryMongo) Cancel(ctx context.Context, id string) (*domain.PairingSession, error) {
	return r.transition(ctx, id,
		[]domain.PairingStatus{domain.PairingStatusPending, domain.PairingStatusScanned},
		bson.M{"status": domain.PairingStatusCanceled})
}

func (r *PairingSessionRepositoryMongo) CancelByAccount(ctx context.Context, localAccountID string) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{
			"local_account_id": localAccountID,
			"status":           bson.M{"$in": []domain.PairingStatus{domain.PairingStatusPending, domain.PairingStatusScanned}},
		},
		bson.M{"$set": bson.M{"status": domain.PairingStatusCanceled}})
	if err != nil {
		return 0, err
	}
	return result.ModifiedCount, nil
}

// SweepExpired is idempotent: the status filter means a second run, or a
// concurrent run, matches nothing that is already terminal.
func (r *PairingSessionRepositoryMongo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{
			"status":     bson.M{"$in": []domain.PairingStatus{domain.PairingStatusPending, domain.PairingStatusScanned}},
			"expires_at": bson.M{"$lte": now},
		},
		bson.M{"$set": bson.M{"status": domain.PairingStatusExpired}})
	if err != nil {
		log.Error().Err(err).Msg("Error sweeping expired pairing sessions")
		return 0, err
	}
	return result.ModifiedCount, nil
}

func (r *PairingSessionRepositoryMongo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ domain.PairingSessionRepository = (*PairingSessionRepositoryMongo)(nil)
