// Package audit keeps a history of game lifecycle events.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/avvvet/gamehost-services/internal/comm"
	"github.com/avvvet/gamehost-services/internal/db"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	Collection    = "game_events"
	insertTimeout = 5 * time.Second
)

// Entry is one stored event. The event id is the document id so that a
// redelivered event is stored once.
type Entry struct {
	EventID   string    `bson:"_id"`
	Type      string    `bson:"type"`
	GameID    int64     `bson:"game_id"`
	Name      string    `bson:"name"`
	CreatorID int64     `bson:"creator_id"`
	Version   string    `bson:"version"`
	IsOnline  bool      `bson:"is_online"`
	Reason    string    `bson:"reason,omitempty"`
	At        time.Time `bson:"at"`
	ExpiresAt time.Time `bson:"expires_at"`
}

type Sink interface {
	Insert(ctx context.Context, e Entry) error
	Recent(ctx context.Context, gameID int64, limit int) ([]Entry, error)
}

type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

type Recorder struct {
	sink Sink
	ttl  time.Duration
}

func NewRecorder(sink Sink, ttl time.Duration) *Recorder {
	return &Recorder{sink: sink, ttl: ttl}
}

// Subscribe records every message published on topic.
func (r *Recorder) Subscribe(conn Subscriber, topic string) (*nats.Subscription, error) {
	return conn.Subscribe(topic, func(m *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		defer cancel()
		if err := r.Record(ctx, m.Data); err != nil {
			log.Errorf("audit: %s", err)
		}
	})
}

// Record stores one bus message.
func (r *Recorder) Record(ctx context.Context, raw []byte) error {
	msg, event, err := comm.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if event.EventID == "" {
		return fmt.Errorf("%s event for game %d has no id", msg.Type, event.GameID)
	}

	at := event.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return r.sink.Insert(ctx, Entry{
		EventID:   event.EventID,
		Type:      msg.Type,
		GameID:    event.GameID,
		Name:      event.Name,
		CreatorID: event.CreatorID,
		Version:   event.Version,
		IsOnline:  event.IsOnline,
		Reason:    event.Reason,
		At:        at,
		ExpiresAt: at.Add(r.ttl),
	})
}

type MongoSink struct {
	coll *mongo.Collection
}

// NewMongoSink makes sure the TTL index exists and returns a sink writing
// to the audit collection.
func NewMongoSink(ctx context.Context, database *mongo.Database) (*MongoSink, error) {
	if err := db.CreateTTLIndexForCollection(ctx, database, Collection); err != nil {
		return nil, err
	}
	return &MongoSink{coll: database.Collection(Collection)}, nil
}

func (s *MongoSink) Insert(ctx context.Context, e Entry) error {
	_, err := s.coll.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert %s event %s: %w", e.Type, e.EventID, err)
	}
	return nil
}

// Recent returns the newest entries of one game, newest first.
func (s *MongoSink) Recent(ctx context.Context, gameID int64, limit int) ([]Entry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.coll.Find(ctx, bson.M{"game_id": gameID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find events of game %d: %w", gameID, err)
	}
	defer cursor.Close(ctx)

	entries := []Entry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode events of game %d: %w", gameID, err)
	}
	return entries, nil
}
