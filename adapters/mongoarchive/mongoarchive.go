// Package mongoarchive implements the EventStore's long-term archive sink
// (kernel/eventstore.Archiver) over go.mongodb.org/mongo-driver/v2: every
// event evicted from the bounded in-memory ring is persisted here so the
// hash chain remains reconstructible past the ring's capacity.
//
// Grounded on the teacher's features/memory/mongo client layering (a thin
// collection-interface wrapper behind a concrete *mongo.Client, options
// struct with defaulted database/collection/timeout), adapted to the
// mongo-driver/v2 API surface the kernel depends on.
package mongoarchive

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/autonomy-kernel/kernel/kernel/eventstore"
)

const (
	defaultCollection = "autonomy_event_archive"
	defaultTimeout    = 5 * time.Second
)

// Options configures an Archive.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string // defaults to "autonomy_event_archive"
	Timeout    time.Duration
}

// Archive implements eventstore.Archiver by persisting every evicted event
// as a document, indexed for replay by correlation/request id.
type Archive struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// New constructs an Archive and ensures its indexes exist.
func New(ctx context.Context, opts Options) (*Archive, error) {
	if opts.Client == nil {
		return nil, errors.New("mongoarchive: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongoarchive: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collName)
	a := &Archive{coll: coll, timeout: timeout}
	if err := a.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Archive) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err := a.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "correlation_id", Value: 1}, {Key: "sequence_id", Value: 1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}, {Key: "sequence_id", Value: 1}}},
		{Keys: bson.D{{Key: "sequence_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	return err
}

// Ping verifies connectivity to the backing Mongo deployment.
func (a *Archive) Ping(ctx context.Context) error {
	return a.coll.Database().Client().Ping(ctx, readpref.Primary())
}

type eventDocument struct {
	SequenceID    uint64         `bson:"sequence_id"`
	RequestID     string         `bson:"request_id"`
	CorrelationID string         `bson:"correlation_id"`
	Type          string         `bson:"type"`
	Payload       map[string]any `bson:"payload,omitempty"`
	Timestamp     time.Time      `bson:"timestamp"`
	PrevHash      string         `bson:"prev_hash"`
	EventHash     string         `bson:"event_hash"`
}

// Archive implements eventstore.Archiver: persists evicted into the
// archive collection, upserting on sequence_id so a re-delivered eviction
// (e.g. after a crash-restart of the ring) never duplicates.
func (a *Archive) Archive(ctx context.Context, evicted eventstore.Event) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	doc := eventDocument{
		SequenceID:    evicted.SequenceID,
		RequestID:     evicted.RequestID,
		CorrelationID: evicted.CorrelationID,
		Type:          string(evicted.Type),
		Payload:       evicted.Payload,
		Timestamp:     evicted.Timestamp,
		PrevHash:      evicted.PrevHash,
		EventHash:     evicted.EventHash,
	}

	filter := bson.M{"sequence_id": evicted.SequenceID}
	update := bson.M{"$setOnInsert": doc}
	_, err := a.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// LoadByCorrelationID returns every archived event sharing correlationID,
// ordered by sequence_id ascending, for replaying a chain that has since
// been evicted from the in-memory ring.
func (a *Archive) LoadByCorrelationID(ctx context.Context, correlationID string) ([]eventstore.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "sequence_id", Value: 1}})
	cursor, err := a.coll.Find(ctx, bson.M{"correlation_id": correlationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []eventstore.Event
	for cursor.Next(ctx) {
		var doc eventDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, eventstore.Event{
			SequenceID:    doc.SequenceID,
			RequestID:     doc.RequestID,
			CorrelationID: doc.CorrelationID,
			Type:          eventstore.Type(doc.Type),
			Payload:       doc.Payload,
			Timestamp:     doc.Timestamp,
			PrevHash:      doc.PrevHash,
			EventHash:     doc.EventHash,
		})
	}
	return out, cursor.Err()
}
