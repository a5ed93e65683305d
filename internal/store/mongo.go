// Package store provides storage backends for HabitCoach.
//
// This file implements the MongoDB-backed store, the primary production
// backend. Updates map one-to-one onto document operators ($set for partial
// and nested-field writes, $push for array appends).
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/habitcoach/habitcoach/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo connection configuration constants
const (
	// DefaultDatabaseName is the database used when the DSN does not name one.
	DefaultDatabaseName = "habitcoach"
	// userCollectionName is the collection holding one document per user.
	userCollectionName = "users"
	// DefaultConnectTimeout bounds the initial connection attempt.
	DefaultConnectTimeout = 10 * time.Second
)

// MongoStore is a MongoDB-backed Store keyed by user id.
type MongoStore struct {
	client *mongo.Client
	users  *mongo.Collection
}

// NewMongoStore connects to MongoDB using the DSN from the provided options
// and verifies the connection with a ping before returning.
func NewMongoStore(opts ...Option) (*MongoStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("MongoStore.NewMongoStore: creating Mongo store", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("MongoStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		slog.Error("MongoDB ping failed", "error", err)
		discCtx, discCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer discCancel()
		_ = client.Disconnect(discCtx)
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}
	slog.Debug("MongoDB ping successful")

	users := client.Database(DefaultDatabaseName).Collection(userCollectionName)
	return &MongoStore{client: client, users: users}, nil
}

// CreateUser inserts a fresh record, failing if the user already exists.
func (s *MongoStore) CreateUser(ctx context.Context, rec models.UserRecord) error {
	_, err := s.users.InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrUserAlreadyExists
		}
		slog.Error("MongoStore CreateUser failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to insert user %s: %w", rec.UserID, err)
	}
	slog.Debug("MongoStore CreateUser succeeded", "userID", rec.UserID)
	return nil
}

// GetUser returns the record for a user id, or (nil, nil) if absent.
func (s *MongoStore) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	var rec models.UserRecord
	err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		slog.Debug("MongoStore GetUser not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("MongoStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to read user %s: %w", userID, err)
	}
	if rec.ProgressLog == nil {
		rec.ProgressLog = make(map[string]models.ProgressEntry)
	}
	if rec.ExerciseHistory == nil {
		rec.ExerciseHistory = make(map[string][]models.ExercisePerformance)
	}
	return &rec, nil
}

// SaveUser upserts the whole record.
func (s *MongoStore) SaveUser(ctx context.Context, rec models.UserRecord) error {
	rec.UpdatedAt = time.Now()
	opts := options.Replace().SetUpsert(true)
	_, err := s.users.ReplaceOne(ctx, bson.M{"_id": rec.UserID}, rec, opts)
	if err != nil {
		slog.Error("MongoStore SaveUser failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to save user %s: %w", rec.UserID, err)
	}
	slog.Debug("MongoStore SaveUser succeeded", "userID", rec.UserID)
	return nil
}

// SetFields applies a partial update via $set.
func (s *MongoStore) SetFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set[k] = v
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	if err != nil {
		slog.Error("MongoStore SetFields failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to update fields for user %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return models.ErrUserNotFound
	}
	slog.Debug("MongoStore SetFields succeeded", "userID", userID, "fields", len(fields))
	return nil
}

// AppendMessage pushes one entry onto the conversation history array.
func (s *MongoStore) AppendMessage(ctx context.Context, userID string, msg models.ConversationMessage) error {
	return s.push(ctx, userID, "conversation_history", msg)
}

// SetProgressEntry sets the nested per-date progress entry.
func (s *MongoStore) SetProgressEntry(ctx context.Context, userID, date string, entry models.ProgressEntry) error {
	field := fmt.Sprintf("progress_log.%s", date)
	return s.SetFields(ctx, userID, map[string]interface{}{field: entry})
}

// AppendExercisePerformance pushes a performance record onto the named
// exercise's history array.
func (s *MongoStore) AppendExercisePerformance(ctx context.Context, userID, exercise string, perf models.ExercisePerformance) error {
	field := fmt.Sprintf("exercise_history.%s", exercise)
	return s.push(ctx, userID, field, perf)
}

// SetCurrentWorkout stores the active workout plan; nil clears it.
func (s *MongoStore) SetCurrentWorkout(ctx context.Context, userID string, plan *models.WorkoutPlan) error {
	return s.SetFields(ctx, userID, map[string]interface{}{"current_workout": plan})
}

// AppendWorkoutSession pushes a finished session summary.
func (s *MongoStore) AppendWorkoutSession(ctx context.Context, userID string, session models.WorkoutSession) error {
	return s.push(ctx, userID, "workout_sessions", session)
}

// ListUsers returns every stored record, for the reminder scan.
func (s *MongoStore) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	cursor, err := s.users.Find(ctx, bson.M{})
	if err != nil {
		slog.Error("MongoStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.UserRecord
	if err := cursor.All(ctx, &users); err != nil {
		slog.Error("MongoStore ListUsers decode failed", "error", err)
		return nil, fmt.Errorf("failed to decode user records: %w", err)
	}
	slog.Debug("MongoStore ListUsers succeeded", "count", len(users))
	return users, nil
}

// DeleteUser removes the record wholesale.
func (s *MongoStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.users.DeleteOne(ctx, bson.M{"_id": userID})
	if err != nil {
		slog.Error("MongoStore DeleteUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete user %s: %w", userID, err)
	}
	slog.Debug("MongoStore DeleteUser succeeded", "userID", userID)
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	slog.Debug("Closing MongoDB connection")
	ctx, cancel := context.WithTimeout(context.Background(), DefaultConnectTimeout)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		slog.Error("Failed to close MongoDB connection", "error", err)
		return err
	}
	return nil
}

func (s *MongoStore) push(ctx context.Context, userID, field string, value interface{}) error {
	update := bson.M{
		"$push": bson.M{field: value},
		"$set":  bson.M{"updated_at": time.Now()},
	}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		slog.Error("MongoStore push failed", "error", err, "userID", userID, "field", field)
		return fmt.Errorf("failed to append to %s for user %s: %w", field, userID, err)
	}
	if res.MatchedCount == 0 {
		return models.ErrUserNotFound
	}
	slog.Debug("MongoStore push succeeded", "userID", userID, "field", field)
	return nil
}
