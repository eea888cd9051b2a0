package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ledgerlog/ledgerlog/pkg/config"
	"github.com/ledgerlog/ledgerlog/pkg/log"
	"github.com/ledgerlog/ledgerlog/pkg/types"
)

// MongoStore implements Store backed by two MongoDB collections:
// one for records and one for sync control.
type MongoStore struct {
	client  *mongo.Client
	records *mongo.Collection
	sync    *mongo.Collection
	logger  zerolog.Logger
}

// NewMongoStore connects to MongoDB with the configured pool limits,
// retrying the initial ping with exponential backoff up to the
// configured budget, and ensures all indexes exist. Exhausting the
// retry budget is fatal to startup.
func NewMongoStore(ctx context.Context, cfg config.StoreConfig) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetMinPoolSize(cfg.MinPoolSize).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMaxConnIdleTime(cfg.IdleTimeout).
		SetServerSelectionTimeout(cfg.SelectionTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create store client: %w", err)
	}

	logger := log.WithComponent("store")

	backoff := time.Second
	for attempt := 0; ; attempt++ {
		err = client.Ping(ctx, nil)
		if err == nil {
			break
		}
		if attempt >= cfg.ConnectRetries {
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("failed to connect to store after %d attempts: %w", attempt+1, err)
		}
		logger.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("store unreachable, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			_ = client.Disconnect(context.Background())
			return nil, fmt.Errorf("store connect cancelled: %w", ctx.Err())
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}

	db := client.Database(cfg.Database)
	s := &MongoStore{
		client:  client,
		records: db.Collection(cfg.Collection),
		sync:    db.Collection(cfg.SyncControlCollection),
		logger:  logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logger.Info().Str("database", cfg.Database).Msg("store connected")
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	asc, desc := int32(1), int32(-1)

	recordIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: asc}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "timestamp", Value: desc}}},
		{Keys: bson.D{{Key: "source", Value: asc}, {Key: "timestamp", Value: desc}}},
		{Keys: bson.D{{Key: "level", Value: asc}, {Key: "timestamp", Value: desc}}},
		{Keys: bson.D{{Key: "source", Value: asc}, {Key: "level", Value: asc}, {Key: "timestamp", Value: desc}}},
		{Keys: bson.D{{Key: "created_at", Value: desc}}},
		{Keys: bson.D{{Key: "batch_id", Value: asc}}},
	}
	if _, err := s.records.Indexes().CreateMany(ctx, recordIndexes); err != nil {
		return fmt.Errorf("failed to create record indexes: %w", err)
	}

	syncIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "record_id", Value: asc}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: asc}}},
		{Keys: bson.D{{Key: "created_at", Value: asc}}},
	}
	if _, err := s.sync.Indexes().CreateMany(ctx, syncIndexes); err != nil {
		return fmt.Errorf("failed to create sync control indexes: %w", err)
	}

	return nil
}

// InsertRecord stores one record; a duplicate id maps to ErrDuplicateID
func (s *MongoStore) InsertRecord(ctx context.Context, r *types.Record) error {
	_, err := s.records.InsertOne(ctx, r)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("record %s: %w", r.ID, ErrDuplicateID)
		}
		return wrapStoreErr("insert record", err)
	}
	return nil
}

func (s *MongoStore) FindRecordByID(ctx context.Context, id string) (*types.Record, error) {
	var r types.Record
	err := s.records.FindOne(ctx, bson.M{"id": id}).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return nil, wrapStoreErr("find record", err)
	}
	return &r, nil
}

func (s *MongoStore) FindRecords(ctx context.Context, filter RecordFilter, page Page) ([]*types.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(page.Limit).
		SetSkip(page.Offset)

	cur, err := s.records.Find(ctx, recordFilterQuery(filter), opts)
	if err != nil {
		return nil, wrapStoreErr("find records", err)
	}

	var records []*types.Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, wrapStoreErr("decode records", err)
	}
	return records, nil
}

func (s *MongoStore) CountRecords(ctx context.Context, filter RecordFilter) (int64, error) {
	n, err := s.records.CountDocuments(ctx, recordFilterQuery(filter))
	if err != nil {
		return 0, wrapStoreErr("count records", err)
	}
	return n, nil
}

// FindUnbatched returns up to limit records with no batch_id,
// oldest first by created_at. This ordering defines the Merkle leaf
// order for the batch that claims them.
func (s *MongoStore) FindUnbatched(ctx context.Context, limit int) ([]*types.Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cur, err := s.records.Find(ctx, bson.M{"batch_id": bson.M{"$exists": false}}, opts)
	if err != nil {
		return nil, wrapStoreErr("find unbatched", err)
	}

	var records []*types.Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, wrapStoreErr("decode unbatched", err)
	}
	return records, nil
}

// FindByBatch returns the batch members sorted ascending by
// created_at, the same order used when the root was computed.
func (s *MongoStore) FindByBatch(ctx context.Context, batchID string) ([]*types.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cur, err := s.records.Find(ctx, bson.M{"batch_id": batchID}, opts)
	if err != nil {
		return nil, wrapStoreErr("find by batch", err)
	}

	var records []*types.Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, wrapStoreErr("decode batch", err)
	}
	return records, nil
}

// TagBatch sets (batch_id, merkle_root, batched_at) on every listed
// record that is still unbatched. A modified count short of len(ids)
// means another worker claimed some of them first; the caller must not
// anchor and gets ErrPartialTag.
func (s *MongoStore) TagBatch(ctx context.Context, ids []string, batchID, merkleRoot string) error {
	filter := bson.M{
		"id":       bson.M{"$in": ids},
		"batch_id": bson.M{"$exists": false},
	}
	update := bson.M{"$set": bson.M{
		"batch_id":    batchID,
		"merkle_root": merkleRoot,
		"batched_at":  time.Now().UTC(),
	}}

	res, err := s.records.UpdateMany(ctx, filter, update)
	if err != nil {
		return wrapStoreErr("tag batch", err)
	}
	if res.ModifiedCount != int64(len(ids)) {
		return fmt.Errorf("batch %s: modified %d of %d: %w", batchID, res.ModifiedCount, len(ids), ErrPartialTag)
	}
	return nil
}

func (s *MongoStore) InsertSyncControl(ctx context.Context, sc *types.SyncControl) error {
	_, err := s.sync.InsertOne(ctx, sc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("sync control %s: %w", sc.RecordID, ErrDuplicateID)
		}
		return wrapStoreErr("insert sync control", err)
	}
	return nil
}

func (s *MongoStore) UpsertSyncControl(ctx context.Context, sc *types.SyncControl) error {
	opts := options.Update().SetUpsert(true)
	update := bson.M{"$setOnInsert": sc}
	_, err := s.sync.UpdateOne(ctx, bson.M{"record_id": sc.RecordID}, update, opts)
	if err != nil {
		return wrapStoreErr("upsert sync control", err)
	}
	return nil
}

func (s *MongoStore) UpdateSyncStatus(ctx context.Context, recordID string, status types.SyncStatus, batchID, txID string) error {
	res, err := s.sync.UpdateOne(ctx, bson.M{"record_id": recordID}, syncStatusUpdate(status, batchID, txID))
	if err != nil {
		return wrapStoreErr("update sync status", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("sync control %s: %w", recordID, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) UpdateSyncStatusBatch(ctx context.Context, recordIDs []string, status types.SyncStatus, batchID, txID string) error {
	filter := bson.M{"record_id": bson.M{"$in": recordIDs}}
	_, err := s.sync.UpdateMany(ctx, filter, syncStatusUpdate(status, batchID, txID))
	if err != nil {
		return wrapStoreErr("update sync status batch", err)
	}
	return nil
}

func (s *MongoStore) AggregateSyncStats(ctx context.Context) (*types.SyncStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cur, err := s.sync.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapStoreErr("aggregate sync stats", err)
	}

	var rows []struct {
		Status types.SyncStatus `bson:"_id"`
		Count  int64            `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, wrapStoreErr("decode sync stats", err)
	}

	stats := &types.SyncStats{}
	for _, row := range rows {
		switch row.Status {
		case types.SyncPending:
			stats.Pending = row.Count
		case types.SyncPendingBatch:
			stats.PendingBatch = row.Count
		case types.SyncSynced:
			stats.Synced = row.Count
		case types.SyncFailed:
			stats.Failed = row.Count
		}
		stats.Total += row.Count
	}
	return stats, nil
}

// AggregateBatches lists batches reverse-chronologically by grouping
// the denormalized batch fields on the records.
func (s *MongoStore) AggregateBatches(ctx context.Context, page Page) ([]*types.BatchSummary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"batch_id": bson.M{"$exists": true}}}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$batch_id",
			"merkle_root": bson.M{"$first": "$merkle_root"},
			"num_records": bson.M{"$sum": 1},
			"batched_at":  bson.M{"$max": "$batched_at"},
		}}},
		{{Key: "$sort", Value: bson.M{"batched_at": -1}}},
		{{Key: "$skip", Value: page.Offset}},
		{{Key: "$limit", Value: page.Limit}},
	}

	cur, err := s.records.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapStoreErr("aggregate batches", err)
	}

	var batches []*types.BatchSummary
	if err := cur.All(ctx, &batches); err != nil {
		return nil, wrapStoreErr("decode batches", err)
	}
	return batches, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return wrapStoreErr("ping", err)
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// recordFilterQuery builds the query document for a record filter
func recordFilterQuery(f RecordFilter) bson.M {
	q := bson.M{}
	if f.Source != "" {
		q["source"] = f.Source
	}
	if f.Level != "" {
		q["level"] = f.Level
	}
	return q
}

// syncStatusUpdate builds the $set document for a status transition
func syncStatusUpdate(status types.SyncStatus, batchID, txID string) bson.M {
	set := bson.M{"status": status}
	if batchID != "" {
		set["batch_id"] = batchID
	}
	if txID != "" {
		set["tx_id"] = txID
	}
	now := time.Now().UTC()
	switch status {
	case types.SyncSynced:
		set["synced_at"] = now
	case types.SyncFailed:
		set["failed_at"] = now
	}
	return bson.M{"$set": set}
}

// wrapStoreErr maps driver failures onto the package taxonomy:
// timeouts and network errors become ErrUnavailable (retriable).
func wrapStoreErr(op string, err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %v: %w", op, err, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetriable reports whether re-issuing the failed operation is
// expected to eventually succeed.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
