// Package mongostore keeps the leaderboard, question history and job queue
// in MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/kalambet/tagask/internal/storage"
)

type leaderboardDoc struct {
	UserID      string `bson:"_id"`
	DisplayName string `bson:"display_name"`
	Points      int    `bson:"points"`
	Seq         int64  `bson:"seq"`
}

type tagDoc struct {
	ID   string `bson:"id"`
	Name string `bson:"name"`
}

// historyDoc stores created_at as Unix nanoseconds; BSON dates only keep
// milliseconds.
type historyDoc struct {
	ID              string   `bson:"_id"`
	Topic           string   `bson:"topic"`
	Body            string   `bson:"body"`
	Tags            []tagDoc `bson:"tags"`
	ConversationID  string   `bson:"conversation_id"`
	ConversationURL string   `bson:"conversation_url,omitempty"`
	RequesterID     string   `bson:"requester_id"`
	CreatedAt       int64    `bson:"created_at"`
	Summary         string   `bson:"summary,omitempty"`
}

type jobDoc struct {
	ID          string    `bson:"_id"`
	Type        string    `bson:"type"`
	PayloadJSON string    `bson:"payload_json"`
	Status      string    `bson:"status"`
	Attempts    int       `bson:"attempts"`
	MaxAttempts int       `bson:"max_attempts"`
	RunAfter    time.Time `bson:"run_after"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
	LastError   string    `bson:"last_error,omitempty"`
}

// Store implements storage.Backend on a MongoDB database.
type Store struct {
	client      *mongo.Client
	leaderboard *mongo.Collection
	history     *mongo.Collection
	jobs        *mongo.Collection
	counters    *mongo.Collection
}

var _ storage.Backend = (*Store)(nil)

// Open connects to uri, verifies the connection and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	s := New(client, client.Database(database))
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensuring indexes: %w", err)
	}
	return s, nil
}

// New wraps an existing database. client may be nil when the caller owns
// the connection.
func New(client *mongo.Client, db *mongo.Database) *Store {
	return &Store{
		client:      client,
		leaderboard: db.Collection("leaderboard"),
		history:     db.Collection("question_history"),
		jobs:        db.Collection("jobs"),
		counters:    db.Collection("counters"),
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.history.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "tags.id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_history_tag"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_history_created"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().SetName("idx_history_conversation"),
		},
	}); err != nil {
		return err
	}
	if _, err := s.jobs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "status", Value: 1}, {Key: "run_after", Value: 1}},
		Options: options.Index().SetName("idx_jobs_claim"),
	}); err != nil {
		return err
	}
	_, err := s.leaderboard.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "seq", Value: 1}},
		Options: options.Index().SetName("idx_leaderboard_seq"),
	})
	return err
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

// --- Leaderboard ---

func (s *Store) GetLeaderboardEntry(ctx context.Context, userID string) (storage.LeaderboardEntry, error) {
	var d leaderboardDoc
	err := s.leaderboard.FindOne(ctx, bson.M{"_id": userID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.LeaderboardEntry{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.LeaderboardEntry{}, err
	}
	return storage.LeaderboardEntry{UserID: d.UserID, DisplayName: d.DisplayName, Points: d.Points, Seq: d.Seq}, nil
}

func (s *Store) nextSeq(ctx context.Context, name string) (int64, error) {
	var out struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	return out.Value, err
}

func pointsUpdate(displayName string, delta int) bson.M {
	update := bson.M{"$inc": bson.M{"points": delta}}
	if displayName != "" {
		update["$set"] = bson.M{"display_name": displayName}
	}
	return update
}

// AddLeaderboardPoints increments userID's points with $inc. A new entry
// takes the next value of the leaderboard counter as its Seq; existing
// entries keep theirs. An empty displayName keeps the stored one.
func (s *Store) AddLeaderboardPoints(ctx context.Context, userID, displayName string, delta int) error {
	res, err := s.leaderboard.UpdateOne(ctx, bson.M{"_id": userID}, pointsUpdate(displayName, delta))
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	seq, err := s.nextSeq(ctx, "leaderboard")
	if err != nil {
		return fmt.Errorf("allocating leaderboard seq: %w", err)
	}
	upsert := pointsUpdate(displayName, delta)
	upsert["$setOnInsert"] = bson.M{"seq": seq}
	_, err = s.leaderboard.UpdateOne(ctx, bson.M{"_id": userID}, upsert, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// Another writer inserted the entry between our two updates.
		_, err = s.leaderboard.UpdateOne(ctx, bson.M{"_id": userID}, pointsUpdate(displayName, delta))
	}
	return err
}

func (s *Store) ListLeaderboard(ctx context.Context) ([]storage.LeaderboardEntry, error) {
	cur, err := s.leaderboard.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []storage.LeaderboardEntry
	for cur.Next(ctx) {
		var d leaderboardDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, storage.LeaderboardEntry{UserID: d.UserID, DisplayName: d.DisplayName, Points: d.Points, Seq: d.Seq})
	}
	return out, cur.Err()
}

// --- Question history ---

func toHistoryDoc(e storage.HistoryEntry) historyDoc {
	d := historyDoc{
		ID:              e.ID,
		Topic:           e.Topic,
		Body:            e.Body,
		Tags:            []tagDoc{},
		ConversationID:  e.ConversationID,
		ConversationURL: e.ConversationURL,
		RequesterID:     e.RequesterID,
		CreatedAt:       e.CreatedAt.UTC().UnixNano(),
		Summary:         e.Summary,
	}
	for _, t := range e.Tags {
		d.Tags = append(d.Tags, tagDoc{ID: t.ID, Name: t.Name})
	}
	return d
}

func (d historyDoc) entry() storage.HistoryEntry {
	e := storage.HistoryEntry{
		ID:              d.ID,
		Topic:           d.Topic,
		Body:            d.Body,
		Tags:            make([]storage.TagRef, 0, len(d.Tags)),
		ConversationID:  d.ConversationID,
		ConversationURL: d.ConversationURL,
		RequesterID:     d.RequesterID,
		CreatedAt:       time.Unix(0, d.CreatedAt).UTC(),
		Summary:         d.Summary,
	}
	for _, t := range d.Tags {
		e.Tags = append(e.Tags, storage.TagRef{ID: t.ID, Name: t.Name})
	}
	return e
}

func (s *Store) InsertHistory(ctx context.Context, e storage.HistoryEntry) error {
	_, err := s.history.InsertOne(ctx, toHistoryDoc(e))
	return err
}

func (s *Store) findHistory(ctx context.Context, filter bson.M, limit int) ([]storage.HistoryEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.history.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []storage.HistoryEntry
	for cur.Next(ctx) {
		var d historyDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, d.entry())
	}
	return out, cur.Err()
}

func (s *Store) ListHistoryByTag(ctx context.Context, tagID string, limit int) ([]storage.HistoryEntry, error) {
	return s.findHistory(ctx, bson.M{"tags.id": tagID}, limit)
}

func (s *Store) ListRecentHistory(ctx context.Context, limit int) ([]storage.HistoryEntry, error) {
	return s.findHistory(ctx, bson.M{}, limit)
}

func (s *Store) GetHistoryByConversation(ctx context.Context, conversationID string) (storage.HistoryEntry, error) {
	out, err := s.findHistory(ctx, bson.M{"conversation_id": conversationID}, 1)
	if err != nil {
		return storage.HistoryEntry{}, err
	}
	if len(out) == 0 {
		return storage.HistoryEntry{}, storage.ErrNotFound
	}
	return out[0], nil
}

func (s *Store) SetHistorySummary(ctx context.Context, conversationID, summary string) (bool, error) {
	res, err := s.history.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID},
		bson.M{"$set": bson.M{"summary": summary}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// --- Jobs ---

func (d jobDoc) job() storage.Job {
	return storage.Job{
		ID:          d.ID,
		Type:        d.Type,
		PayloadJSON: d.PayloadJSON,
		Status:      d.Status,
		Attempts:    d.Attempts,
		MaxAttempts: d.MaxAttempts,
		RunAfter:    d.RunAfter,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		LastError:   d.LastError,
	}
}

func (s *Store) EnqueueJob(ctx context.Context, job storage.Job) error {
	now := time.Now().UTC()
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.jobs.InsertOne(ctx, jobDoc{
		ID:          job.ID,
		Type:        job.Type,
		PayloadJSON: job.PayloadJSON,
		Status:      storage.JobPending,
		MaxAttempts: maxAttempts,
		RunAfter:    runAfter,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return err
}

// ClaimNextJob atomically flips the oldest runnable pending job to running.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var d jobDoc
	err := s.jobs.FindOneAndUpdate(ctx,
		bson.M{
			"status":    storage.JobPending,
			"run_after": bson.M{"$lte": now},
			"type":      bson.M{"$in": types},
		},
		bson.M{"$set": bson.M{"status": storage.JobRunning, "updated_at": now}},
		options.FindOneAndUpdate().
			SetSort(bson.D{{Key: "run_after", Value: 1}, {Key: "created_at", Value: 1}}).
			SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming next job: %w", err)
	}
	j := d.job()
	return &j, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.jobs.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": storage.JobCompleted, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id, errMsg string) error {
	var d jobDoc
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts := d.Attempts + 1
	set := bson.M{"attempts": attempts, "last_error": errMsg, "updated_at": now}
	if attempts >= d.MaxAttempts {
		set["status"] = storage.JobFailed
	} else {
		set["status"] = storage.JobPending
		set["run_after"] = now.Add(storage.JobBackoff(attempts))
	}
	_, err = s.jobs.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (storage.Job, error) {
	var d jobDoc
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.Job{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Job{}, err
	}
	return d.job(), nil
}
