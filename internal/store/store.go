// Package store provides storage backends for HabitCoach user records.
//
// A user record is a single document keyed by the canonicalized user id. The
// Store interface exposes document semantics: point reads, whole-document
// upserts, partial field sets, array appends, nested per-date sets, and
// deletion. Backends: MongoDB, SQLite, PostgreSQL, and in-memory (for tests).
package store

import (
	"context"
	"strings"

	"github.com/habitcoach/habitcoach/internal/models"
)

// Store defines the document operations required by the coaching modules.
type Store interface {
	// CreateUser inserts a fresh record. It fails if the user already exists.
	CreateUser(ctx context.Context, rec models.UserRecord) error

	// GetUser returns the record for a user id, or (nil, nil) if absent.
	GetUser(ctx context.Context, userID string) (*models.UserRecord, error)

	// SaveUser upserts the whole record.
	SaveUser(ctx context.Context, rec models.UserRecord) error

	// SetFields applies a partial update. Keys are the models.Field* constants,
	// which match the record's serialized field names on every backend.
	SetFields(ctx context.Context, userID string, fields map[string]interface{}) error

	// AppendMessage appends one entry to the conversation history.
	AppendMessage(ctx context.Context, userID string, msg models.ConversationMessage) error

	// SetProgressEntry sets the progress-log entry for a calendar date.
	// Later writes for the same date overwrite.
	SetProgressEntry(ctx context.Context, userID, date string, entry models.ProgressEntry) error

	// AppendExercisePerformance appends a dated performance record for an exercise.
	AppendExercisePerformance(ctx context.Context, userID, exercise string, perf models.ExercisePerformance) error

	// SetCurrentWorkout stores the active workout plan; nil clears it.
	SetCurrentWorkout(ctx context.Context, userID string, plan *models.WorkoutPlan) error

	// AppendWorkoutSession appends a finished session summary.
	AppendWorkoutSession(ctx context.Context, userID string, session models.WorkoutSession) error

	// ListUsers returns every stored record, for the reminder scan.
	ListUsers(ctx context.Context) ([]models.UserRecord, error)

	// DeleteUser removes the record wholesale.
	DeleteUser(ctx context.Context, userID string) error

	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // backend connection string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithDSN sets the backend connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a connection string and reports the backend it
// addresses: "mongodb", "postgres", or "sqlite" (the fallback for file paths).
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		return "mongodb"
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres"
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return "postgres"
	default:
		return "sqlite"
	}
}
