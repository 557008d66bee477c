package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/paperpress/blog-api/domain"
)

// RevokedTokenRepository implements domain.RevokedTokenRepository using
// MongoDB.
type RevokedTokenRepository struct {
	coll *mongo.Collection
}

// NewRevokedTokenRepository creates the repository and ensures its indexes.
// A TTL index on expires_at lets MongoDB prune entries on its own; the
// cleanup job remains as a belt for deployments where TTL monitors lag.
func NewRevokedTokenRepository(ctx context.Context, db *mongo.Database) (domain.RevokedTokenRepository, error) {
	repo := &RevokedTokenRepository{
		coll: db.Collection(RevokedTokensCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "revoked_at", Value: -1}},
		},
	}

	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for revoked_tokens collection (might already exist)")
	}

	return repo, nil
}

// Store persists a denylist entry. Inserting an already-present credential ID
// is treated as success; revocation is idempotent.
func (r *RevokedTokenRepository) Store(ctx context.Context, token *domain.RevokedToken) error {
	_, err := r.coll.InsertOne(ctx, token)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		log.Error().Err(err).Msg("Error storing revoked token in MongoDB")
		return err
	}
	return nil
}

// Exists reports whether a denylist entry is present for the credential ID.
func (r *RevokedTokenRepository) Exists(ctx context.Context, tokenID string) (bool, error) {
	err := r.coll.FindOne(ctx, bson.M{"_id": tokenID}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountRevokedSince counts entries a user created in the trailing window.
func (r *RevokedTokenRepository) CountRevokedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{
		"user_id":    userID,
		"revoked_at": bson.M{"$gte": since},
	})
}

// DeleteExpired removes entries whose underlying credential has expired.
func (r *RevokedTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteByUser removes every entry belonging to a user.
func (r *RevokedTokenRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
