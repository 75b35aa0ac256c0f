package primarysink

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes bootstraps the index set spec.md §4.4 names (I1-I5),
// creating any that are missing. It is idempotent: re-running against a
// collection that already has these indexes is a no-op driven entirely by
// MongoDB's own name-collision handling.
func (s *Sink) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{ // I1: latest-value lookup by node
			Keys: bson.D{{Key: "nodeId", Value: 1}, {Key: "sourceTimestamp", Value: -1}},
		},
		{ // I2: time-window scans across all nodes
			Keys: bson.D{{Key: "timestampUtc", Value: -1}},
		},
		{ // I3: per-server, per-node time-window scans
			Keys: bson.D{
				{Key: "serverId", Value: 1},
				{Key: "nodeId", Value: 1},
				{Key: "sourceTimestamp", Value: -1},
			},
		},
		{ // I4: per-server dashboards ordered by ingest time
			Keys: bson.D{{Key: "serverId", Value: 1}, {Key: "timestampUtc", Value: -1}},
		},
	}

	if s.cfg.TTLDays > 0 {
		// I5: optional TTL expiry, only created when the operator configures
		// a retention window.
		ttlSeconds := int32(s.cfg.TTLDays * 24 * 60 * 60)
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: "timestampUtc", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(ttlSeconds),
		})
	}

	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("ensure primary store indexes: %w", err)
	}
	return nil
}
