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

// SessionStoreMongo implements domain.SessionStore on a MongoDB collection.
// The sid is the document _id, so every lookup is a primary-key read.
type SessionStoreMongo struct {
	collection *mongo.Collection
	validity   time.Duration
}

// NewSessionStore creates the store. validity is the rolling window a
// record stays usable without being touched.
func NewSessionStore(ctx context.Context, db *mongo.Database, validity time.Duration) (*SessionStoreMongo, error) {
	store := &SessionStoreMongo{
		collection: db.Collection(SessionRecordsCollection),
		validity:   validity,
	}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "account_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "write_time", Value: 1}},
		},
	}

	if _, err := store.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for session_records collection (might already exist)")
	}

	return store, nil
}

// Get fetches a live record and extends its window in the same spirit as a
// read-through touch: the write_time guard in the filter makes stale
// records invisible, and the touch only lands when the record is live.
func (s *SessionStoreMongo) Get(ctx context.Context, sid string) (*domain.SessionRecord, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"_id":        sid,
		"write_time": bson.M{"$gte": now.Add(-s.validity)},
	}
	update := bson.M{"$set": bson.M{"write_time": now}}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var record domain.SessionRecord
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opt).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrSessionMiss
		}
		log.Error().Err(err).Str("sid", sid).Msg("Error reading session record")
		return nil, err
	}
	return &record, nil
}

// Upsert stores the record with a single ReplaceOne upsert so concurrent
// writers for the same sid each land a whole record.
func (s *SessionStoreMongo) Upsert(ctx context.Context, record *domain.SessionRecord) error {
	if record.WriteTime.IsZero() {
		record.WriteTime = time.Now().UTC()
	}
	_, err := s.collection.ReplaceOne(ctx,
		bson.M{"_id": record.SID},
		record,
		options.Replace().SetUpsert(true))
	if err != nil {
		log.Error().Err(err).Str("sid", record.SID).Msg("Error upserting session record")
		return err
	}
	return nil
}

func (s *SessionStoreMongo) Delete(ctx context.Context, sid string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": sid})
	return err
}

func (s *SessionStoreMongo) SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{"write_time": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}

var _ domain.SessionStore = (*SessionStoreMongo)(nil)
