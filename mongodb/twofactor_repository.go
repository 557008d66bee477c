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

// TwoFactorRepository implements domain.TwoFactorRepository using MongoDB.
type TwoFactorRepository struct {
	coll *mongo.Collection
}

// NewTwoFactorRepository creates the repository. The user ID is the document
// key, so no secondary indexes are needed.
func NewTwoFactorRepository(db *mongo.Database) domain.TwoFactorRepository {
	return &TwoFactorRepository{
		coll: db.Collection(TwoFactorCollection),
	}
}

// Save upserts the configuration for auth.UserID.
func (r *TwoFactorRepository) Save(ctx context.Context, auth *domain.TwoFactorAuth) error {
	opts := options.Replace().SetUpsert(true)
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": auth.UserID}, auth, opts)
	if err != nil {
		log.Error().Err(err).Str("userID", auth.UserID).Msg("Error saving two-factor configuration")
	}
	return err
}

// FindByUser returns the user's configuration.
func (r *TwoFactorRepository) FindByUser(ctx context.Context, userID string) (*domain.TwoFactorAuth, error) {
	var auth domain.TwoFactorAuth
	err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&auth)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrTwoFactorNotConfigured
	}
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error finding two-factor configuration")
		return nil, err
	}
	return &auth, nil
}

// Enable flips the enabled flag and records when it happened.
func (r *TwoFactorRepository) Enable(ctx context.Context, userID string, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"enabled": true, "enabled_at": at}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrTwoFactorNotConfigured
	}
	return nil
}

// Disable clears the enabled flag and its timestamp.
func (r *TwoFactorRepository) Disable(ctx context.Context, userID string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$set":   bson.M{"enabled": false},
			"$unset": bson.M{"enabled_at": ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrTwoFactorNotConfigured
	}
	return nil
}

// UseBackupCode appends the code to the consumed set iff it is not already
// there. The $ne filter is the compare-and-set: concurrent attempts to spend
// the same code resolve to one winner.
func (r *TwoFactorRepository) UseBackupCode(ctx context.Context, userID, code string, at time.Time) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{
			"_id":               userID,
			"backup_codes":      code,
			"used_backup_codes": bson.M{"$ne": code},
		},
		bson.M{
			"$push": bson.M{"used_backup_codes": code},
			"$set":  bson.M{"last_used_at": at},
		},
	)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error consuming backup code")
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// TouchLastUsed records a successful verification.
func (r *TwoFactorRepository) TouchLastUsed(ctx context.Context, userID string, at time.Time) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"last_used_at": at}},
	)
	return err
}

// ReplaceBackupCodes swaps in a new code set and clears the consumed set.
func (r *TwoFactorRepository) ReplaceBackupCodes(ctx context.Context, userID string, codes []string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{"backup_codes": codes, "used_backup_codes": []string{}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrTwoFactorNotConfigured
	}
	return nil
}
