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

// RefreshTokenRepository implements domain.RefreshTokenRepository using
// MongoDB.
type RefreshTokenRepository struct {
	coll *mongo.Collection
}

// NewRefreshTokenRepository creates the repository and ensures its indexes.
func NewRefreshTokenRepository(ctx context.Context, db *mongo.Database) (domain.RefreshTokenRepository, error) {
	repo := &RefreshTokenRepository{
		coll: db.Collection(RefreshTokensCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "revoked", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
		},
	}

	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for refresh_tokens collection (might already exist)")
	}

	return repo, nil
}

// Store persists a new session.
func (r *RefreshTokenRepository) Store(ctx context.Context, token *domain.RefreshToken) error {
	_, err := r.coll.InsertOne(ctx, token)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New("refresh token with this value already exists")
		}
		log.Error().Err(err).Msg("Error storing refresh token in MongoDB")
		return err
	}
	return nil
}

// FindActive returns the session iff it is not revoked and not expired.
func (r *RefreshTokenRepository) FindActive(ctx context.Context, token string, now time.Time) (*domain.RefreshToken, error) {
	var record domain.RefreshToken
	err := r.coll.FindOne(ctx, bson.M{
		"_id": token, "revoked": false,
		"expires_at": bson.M{"$gt": now},
	}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrInvalidSession
	}
	if err != nil {
		log.Error().Err(err).Msg("Error finding active refresh token")
		return nil, err
	}
	return &record, nil
}

// Touch updates last_used_at on a session.
func (r *RefreshTokenRepository) Touch(ctx context.Context, token string, at time.Time) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": token},
		bson.M{"$set": bson.M{"last_used_at": at}},
	)
	return err
}

// Revoke marks a session revoked iff it is currently active. The revoked
// filter is the compare-and-set preventing double-rotation.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": token, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "revoked_at": at}},
	)
	if err != nil {
		log.Error().Err(err).Msg("Error revoking refresh token")
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// RevokeAllForUser marks every active session for the user revoked.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"user_id": userID, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true, "revoked_at": at}},
	)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error revoking all refresh tokens for user")
		return 0, err
	}
	return res.ModifiedCount, nil
}

// FindActiveByUser returns the user's active sessions, oldest first.
func (r *RefreshTokenRepository) FindActiveByUser(ctx context.Context, userID string, now time.Time) ([]*domain.RefreshToken, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{
		"user_id": userID, "revoked": false,
		"expires_at": bson.M{"$gt": now},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var tokens []*domain.RefreshToken
	if err := cursor.All(ctx, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// CountActiveByUser counts the user's active sessions.
func (r *RefreshTokenRepository) CountActiveByUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{
		"user_id": userID, "revoked": false,
		"expires_at": bson.M{"$gt": now},
	})
}

// CountCreatedSince counts sessions the user created in the trailing window,
// revoked or not. Used for the creation rate limit.
func (r *RefreshTokenRepository) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{
		"user_id":    userID,
		"created_at": bson.M{"$gte": since},
	})
}

// DeleteExpired removes sessions past their expiry.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteRevokedBefore removes revoked sessions older than the retention
// cutoff.
func (r *RefreshTokenRepository) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{
		"revoked":    true,
		"revoked_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
