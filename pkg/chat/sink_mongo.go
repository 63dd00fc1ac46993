package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoConfig configures the MongoDB sink. It maps to the "mongo" section
// of the config file.
type MongoConfig struct {
	Enabled        bool   `yaml:"enabled" json:"enabled"`
	URI            string `yaml:"uri" json:"uri"`
	Database       string `yaml:"database" json:"database"`
	ChatCollection string `yaml:"chat_collection" json:"chat_collection"`
	TTLDays        int    `yaml:"ttl_days" json:"ttl_days"`
}

const (
	defaultChatCollection = "chat_messages"

	sessionCreatedIndexName = "session_created_desc"
	expiresAtIndexName      = "expires_at_ttl"
)

// MongoSink stores chat messages in a MongoDB collection with a compound
// (session_id, created_at desc) index for recent-message retrieval and a
// TTL index on expires_at so the database purges expired documents itself.
type MongoSink struct {
	enabled bool
	ttlDays int
	client  *mongo.Client
	coll    *mongo.Collection
}

var _ Sink = &MongoSink{}

// NewMongoSink connects to the configured database. When the config is
// disabled or has no URI the returned sink is a safe no-op and no
// connection is attempted.
func NewMongoSink(ctx context.Context, cfg MongoConfig) (*MongoSink, error) {
	if !cfg.Enabled || cfg.URI == "" {
		return &MongoSink{}, nil
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo sink: database is empty")
	}
	collName := cfg.ChatCollection
	if collName == "" {
		collName = defaultChatCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.Wrap(err, "mongo sink: connect")
	}

	return &MongoSink{
		enabled: true,
		ttlDays: cfg.TTLDays,
		client:  client,
		coll:    client.Database(cfg.Database).Collection(collName),
	}, nil
}

func (s *MongoSink) Enabled() bool {
	return s != nil && s.enabled
}

// EnsureIndexes creates the retrieval and TTL indexes if they do not exist
// yet. Safe to call repeatedly; existing index names are checked first.
func (s *MongoSink) EnsureIndexes(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	existing, err := s.existingIndexNames(ctx)
	if err != nil {
		return errors.Wrap(err, "mongo sink: list indexes")
	}

	if !existing[sessionCreatedIndexName] {
		_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{
				{Key: "session_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
			Options: options.Index().SetName(sessionCreatedIndexName),
		})
		if err != nil {
			return errors.Wrap(err, "mongo sink: create session index")
		}
	}

	if s.ttlDays > 0 && !existing[expiresAtIndexName] {
		// expireAfterSeconds=0 means each document expires at its own
		// expires_at timestamp.
		_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName(expiresAtIndexName).SetExpireAfterSeconds(0),
		})
		if err != nil {
			return errors.Wrap(err, "mongo sink: create ttl index")
		}
	}

	return nil
}

func (s *MongoSink) existingIndexNames(ctx context.Context) (map[string]bool, error) {
	cursor, err := s.coll.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	names := map[string]bool{}
	for cursor.Next(ctx) {
		var spec struct {
			Name string `bson:"name"`
		}
		if err := cursor.Decode(&spec); err != nil {
			return nil, err
		}
		names[spec.Name] = true
	}
	return names, cursor.Err()
}

// InsertMessages bulk-inserts messages after normalization and returns the
// number of documents written. Write failures are logged and reported as a
// shortfall in the returned count, never as an error.
func (s *MongoSink) InsertMessages(ctx context.Context, msgs []Message) int {
	if !s.Enabled() || len(msgs) == 0 {
		return 0
	}

	docs := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		docs = append(docs, normalizeMessage(msg, s.ttlDays))
	}

	res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		inserted := 0
		if res != nil {
			inserted = len(res.InsertedIDs)
		}
		log.Error().
			Err(err).
			Int("batch_size", len(msgs)).
			Int("inserted", inserted).
			Msg("mongo sink insert failed")
		return inserted
	}
	return len(res.InsertedIDs)
}

func (s *MongoSink) InsertMessage(ctx context.Context, msg Message) bool {
	return s.InsertMessages(ctx, []Message{msg}) == 1
}

// FetchRecent returns up to limit messages for a session in chronological
// order. The query sorts newest-first to use the compound index, then the
// batch is reversed before returning.
func (s *MongoSink) FetchRecent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.coll.Find(ctx, bson.D{{Key: "session_id", Value: sessionID}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "mongo sink: find")
	}

	var msgs []Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, errors.Wrap(err, "mongo sink: decode")
	}

	reverseMessages(msgs)
	return msgs, nil
}

func (s *MongoSink) Health(ctx context.Context) HealthStatus {
	if !s.Enabled() {
		return HealthStatus{Status: HealthDisabled}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx, readpref.Primary()); err != nil {
		return HealthStatus{Status: HealthError, Error: err.Error()}
	}
	return HealthStatus{Status: HealthOK}
}

func (s *MongoSink) Close() error {
	if !s.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func reverseMessages(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
