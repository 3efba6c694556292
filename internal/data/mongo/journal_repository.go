// Package mongo provides the MongoDB-backed wallet movement journal.
package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rental-payments-ledger/internal/domain/journal"
)

// DefaultJournalCollection is used when no collection name is configured
const DefaultJournalCollection = "wallet_journal"

var _ journal.Repository = (*JournalRepository)(nil)

// JournalRepository implements journal.Repository for MongoDB
type JournalRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewJournalRepository creates a journal repository on the given collection
func NewJournalRepository(logger *slog.Logger, db *mongo.Database, collection string) *JournalRepository {
	if collection == "" {
		collection = DefaultJournalCollection
	}
	return &JournalRepository{
		collection: db.Collection(collection),
		logger:     logger,
	}
}

// EnsureIndexes creates the lookup indexes used by ListByWallet and ListByBooking
func (r *JournalRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "booking_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create journal indexes: %w", err)
	}
	return nil
}

// Append inserts entries in order
func (r *JournalRepository) Append(ctx context.Context, entries ...*journal.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, e)
	}

	if _, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		r.logger.Error("Failed to append journal entries",
			"wallet_id", entries[0].WalletID.String(),
			"count", len(entries),
			"error", err)
		return fmt.Errorf("failed to append journal entries: %w", err)
	}

	return nil
}

// ListByWallet returns a page of entries, newest first
func (r *JournalRepository) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]*journal.Entry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	return r.find(ctx, bson.M{"wallet_id": walletID}, opts)
}

// CountByWallet counts the entries of a wallet
func (r *JournalRepository) CountByWallet(ctx context.Context, walletID uuid.UUID) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"wallet_id": walletID})
	if err != nil {
		r.logger.Error("Failed to count journal entries", "wallet_id", walletID.String(), "error", err)
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return count, nil
}

// ListByBooking returns every entry attributed to a booking, oldest first
func (r *JournalRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*journal.Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return r.find(ctx, bson.M{"booking_id": bookingID}, opts)
}

func (r *JournalRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*journal.Entry, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to query journal entries", "filter", filter, "error", err)
		return nil, fmt.Errorf("failed to query journal entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []*journal.Entry{}
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode journal entries", "error", err)
		return nil, fmt.Errorf("failed to decode journal entries: %w", err)
	}

	return entries, nil
}
