package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/paperpress/blog-api/domain"
)

// ActionTokenRepository implements domain.ActionTokenRepository using MongoDB.
type ActionTokenRepository struct {
	coll *mongo.Collection
}

// NewActionTokenRepository creates the repository and ensures its indexes.
func NewActionTokenRepository(ctx context.Context, db *mongo.Database) (domain.ActionTokenRepository, error) {
	repo := &ActionTokenRepository{
		coll: db.Collection(ActionTokensCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			// Rate-limit window counts and supersede scans.
			Keys: bson.D{{Key: "subject", Value: 1}, {Key: "category", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "used_at", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	if _, err := repo.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for action_tokens collection (might already exist)")
	}

	return repo, nil
}

// Store persists a new token record.
func (r *ActionTokenRepository) Store(ctx context.Context, token *domain.ActionToken) error {
	_, err := r.coll.InsertOne(ctx, token)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New("action token with this value already exists")
		}
		log.Error().Err(err).Msg("Error storing action token in MongoDB")
		return err
	}
	return nil
}

// FindByValue looks a token up by value and category.
func (r *ActionTokenRepository) FindByValue(ctx context.Context, value string, category domain.TokenCategory) (*domain.ActionToken, error) {
	var token domain.ActionToken
	err := r.coll.FindOne(ctx, bson.M{"_id": value, "category": category}).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		log.Error().Err(err).Str("category", string(category)).Msg("Error finding action token")
		return nil, err
	}
	return &token, nil
}

// MarkUsed sets used_at iff it is currently unset. The filter is the
// compare-and-set: two concurrent consumers resolve to one winner.
func (r *ActionTokenRepository) MarkUsed(ctx context.Context, value string, category domain.TokenCategory, usedAt time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": value, "category": category, "used_at": nil},
		bson.M{"$set": bson.M{"used_at": usedAt}},
	)
	if err != nil {
		log.Error().Err(err).Str("category", string(category)).Msg("Error marking action token used")
		return err
	}
	if res.MatchedCount == 0 {
		// Distinguish a lost race from a missing record.
		n, countErr := r.coll.CountDocuments(ctx, bson.M{"_id": value, "category": category})
		if countErr != nil {
			return countErr
		}
		if n == 0 {
			return domain.ErrTokenNotFound
		}
		return domain.ErrTokenAlreadyUsed
	}
	return nil
}

// MarkAllUsed consumes every currently-valid token for the subject/category.
func (r *ActionTokenRepository) MarkAllUsed(ctx context.Context, subject string, category domain.TokenCategory, usedAt time.Time) (int64, error) {
	res, err := r.coll.UpdateMany(ctx,
		bson.M{
			"subject": subject, "category": category,
			"used_at": nil, "expires_at": bson.M{"$gt": usedAt},
		},
		bson.M{"$set": bson.M{"used_at": usedAt}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate existing tokens: %w", err)
	}
	return res.ModifiedCount, nil
}

// CountCreatedSince counts tokens created in the trailing window.
func (r *ActionTokenRepository) CountCreatedSince(ctx context.Context, subject string, category domain.TokenCategory, since time.Time) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{
		"subject": subject, "category": category,
		"created_at": bson.M{"$gte": since},
	})
}

// FindOldestCreatedSince returns the oldest token in the trailing window.
func (r *ActionTokenRepository) FindOldestCreatedSince(ctx context.Context, subject string, category domain.TokenCategory, since time.Time) (*domain.ActionToken, error) {
	var token domain.ActionToken
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	err := r.coll.FindOne(ctx, bson.M{
		"subject": subject, "category": category,
		"created_at": bson.M{"$gte": since},
	}, opts).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// FindMostRecentValid returns the newest still-valid token for the subject.
func (r *ActionTokenRepository) FindMostRecentValid(ctx context.Context, subject string, category domain.TokenCategory, now time.Time) (*domain.ActionToken, error) {
	var token domain.ActionToken
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	err := r.coll.FindOne(ctx, bson.M{
		"subject": subject, "category": category,
		"used_at": nil, "expires_at": bson.M{"$gt": now},
	}, opts).Decode(&token)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// DeleteExpired removes tokens past their expiry.
func (r *ActionTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteUsedBefore removes consumed tokens older than the retention cutoff.
func (r *ActionTokenRepository) DeleteUsedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{
		"used_at":    bson.M{"$ne": nil},
		"created_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// DeleteBySubject removes every token for a subject.
func (r *ActionTokenRepository) DeleteBySubject(ctx context.Context, subject string) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.M{"subject": subject})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// CountValidByCategory counts still-valid tokens of a category.
func (r *ActionTokenRepository) CountValidByCategory(ctx context.Context, category domain.TokenCategory, now time.Time) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{
		"category": category, "used_at": nil,
		"expires_at": bson.M{"$gt": now},
	})
}

// CountUsedByCategory counts consumed tokens of a category.
func (r *ActionTokenRepository) CountUsedByCategory(ctx context.Context, category domain.TokenCategory) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{
		"category": category, "used_at": bson.M{"$ne": nil},
	})
}
