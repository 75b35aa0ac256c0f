// Package primarysink implements the MongoDB-backed primary store (C4):
// batched, unordered bulk inserts guarded by the circuit breaker, plus the
// index bootstrap the store needs to serve the query shapes named in
// spec.md §6.
package primarysink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fieldpulse/daqagent/internal/circuitbreaker"
	"github.com/fieldpulse/daqagent/internal/logging"
	"github.com/fieldpulse/daqagent/internal/sample"
)

// Config holds the connection and collection details from spec.md §4.4/§6.
type Config struct {
	ConnectionURI string
	Database      string
	Collection    string
	WriteTimeout  time.Duration
	TTLDays       int
}

// DefaultWriteTimeout matches the spec's stated default.
const DefaultWriteTimeout = 5 * time.Second

// Sink performs unordered bulk inserts against a MongoDB collection,
// admitting writes through a Breaker so a sustained outage fails fast
// instead of piling up blocked goroutines.
type Sink struct {
	client  *mongo.Client
	coll    *mongo.Collection
	cfg     Config
	breaker *circuitbreaker.Breaker
}

// Connect dials MongoDB and returns a Sink wrapping the configured
// collection. It does not bootstrap indexes; call EnsureIndexes separately
// so callers can decide when that (potentially slow, first-run) work runs.
func Connect(ctx context.Context, cfg Config, breaker *circuitbreaker.Breaker) (*Sink, error) {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	defer connectCancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.ConnectionURI))
	if err != nil {
		return nil, fmt.Errorf("connect to primary store: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping primary store: %w", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	return &Sink{client: client, coll: coll, cfg: cfg, breaker: breaker}, nil
}

// Close disconnects the underlying client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// document is the on-the-wire shape from spec.md §6's primary store schema.
type document struct {
	ServerID       string      `bson:"serverId"`
	ServerName     string      `bson:"serverName,omitempty"`
	TimestampUTC   time.Time   `bson:"timestampUtc"`
	NodeID         string      `bson:"nodeId"`
	DisplayName    string      `bson:"displayName,omitempty"`
	BrowsePath     string      `bson:"browsePath,omitempty"`
	DataType       string      `bson:"dataType,omitempty"`
	Value          interface{} `bson:"value"`
	StatusCode     uint32      `bson:"statusCode"`
	Quality        string      `bson:"quality"`
	SourceTime     *time.Time  `bson:"sourceTimestamp,omitempty"`
	ServerTime     *time.Time  `bson:"serverTimestamp,omitempty"`
}

// encodeValue implements spec.md §4.4's polymorphic encoding: primitives
// stored natively, arrays recursed, uuid canonicalized to a lowercase
// string, anything unrecognized stringified, nulls preserved explicitly.
func encodeValue(v sample.Value) interface{} {
	switch v.Kind {
	case sample.KindNull:
		return nil
	case sample.KindBool:
		return v.Bool
	case sample.KindInt64:
		return v.Int64
	case sample.KindUint64:
		return v.Uint64
	case sample.KindFloat32:
		return float64(v.Float32)
	case sample.KindFloat64:
		return v.Float64
	case sample.KindDecimal:
		return v.Decimal
	case sample.KindString:
		return v.Str
	case sample.KindBytes:
		return v.Bytes
	case sample.KindTimestamp:
		return v.Time.UTC()
	case sample.KindUUID:
		return v.UUID.String()
	case sample.KindArray:
		out := make(bson.A, len(v.Array))
		for i, e := range v.Array {
			out[i] = encodeValue(e)
		}
		return out
	default:
		return fmt.Sprintf("%v", v.Native())
	}
}

func toDocument(s sample.Sample) document {
	return document{
		ServerID:     s.ServerID,
		ServerName:   s.ServerName,
		TimestampUTC: s.ReceiveTimeUTC.UTC(),
		NodeID:       s.NodeID,
		DisplayName:  s.DisplayName,
		BrowsePath:   s.BrowsePath,
		DataType:     s.DataType,
		Value:        encodeValue(s.Value),
		StatusCode:   s.StatusCode,
		Quality:      string(s.Quality),
		SourceTime:   s.SourceTime,
		ServerTime:   s.ServerTime,
	}
}

// Write performs one unordered bulk insert of batch, gated by the circuit
// breaker. A partial failure — some documents rejected, the call itself
// succeeding — counts as a breaker success and a sink success per
// spec.md §4.4; rejected documents are not retried by this method. accepted
// and rejected count individual documents; err is non-nil only when the
// bulk operation could not be attempted or failed outright (e.g. the
// breaker is open, or every document was rejected due to a connection
// failure rather than a per-document validation error).
func (s *Sink) Write(ctx context.Context, batch []sample.Sample) (accepted, rejected int, err error) {
	if len(batch) == 0 {
		return 0, 0, nil
	}

	docs := make([]interface{}, len(batch))
	for i, smp := range batch {
		docs[i] = toDocument(smp)
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	execErr := s.breaker.Execute(func() error {
		res, insertErr := s.coll.InsertMany(writeCtx, docs, options.InsertMany().SetOrdered(false))
		if res != nil {
			accepted = len(res.InsertedIDs)
			rejected = len(batch) - accepted
		}
		if insertErr == nil {
			return nil
		}

		var bulkErr mongo.BulkWriteException
		if isBulkWriteException(insertErr, &bulkErr) {
			// Individual document rejections inside an otherwise-completed
			// bulk write do not trip the breaker.
			logging.Warn().Int("rejected", rejected).Msg("primary sink: some documents rejected in bulk insert")
			return nil
		}
		return insertErr
	})

	if execErr != nil {
		return accepted, rejected, fmt.Errorf("primary sink write: %w", execErr)
	}
	return accepted, rejected, nil
}

func isBulkWriteException(err error, target *mongo.BulkWriteException) bool {
	if bwe, ok := err.(mongo.BulkWriteException); ok {
		*target = bwe
		return true
	}
	return false
}

// Probe is the health.Prober implementation: one Ping against the primary
// store over the sink's own client, the same connection pool Write uses.
// There is no separate probe-only connection.
func (s *Sink) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := s.client.Ping(ctx, nil)
	return time.Since(start), err
}
