package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a PostgreSQL-backed Store with the same single-document
// row layout as the SQLite backend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects to PostgreSQL using the DSN from the provided
// options and applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres DB", "error", err)
		return nil, fmt.Errorf("failed to open postgres db: %w", err)
	}
	if err := db.Ping(); err != nil {
		slog.Error("Failed to ping Postgres DB", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres db: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to apply Postgres migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	slog.Debug("PostgresStore initialized successfully")
	return &PostgresStore{db: db}, nil
}

// CreateUser inserts a fresh record, failing if the user already exists.
func (s *PostgresStore) CreateUser(ctx context.Context, rec models.UserRecord) error {
	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_records (user_id, record) VALUES ($1, $2)`,
		rec.UserID, doc)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.ErrUserAlreadyExists
		}
		slog.Error("PostgresStore CreateUser failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to insert user %s: %w", rec.UserID, err)
	}
	return nil
}

// GetUser returns the record for a user id, or (nil, nil) if absent.
func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM user_records WHERE user_id = $1`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to read user %s: %w", userID, err)
	}
	return decodeRecord(doc)
}

// SaveUser upserts the whole record.
func (s *PostgresStore) SaveUser(ctx context.Context, rec models.UserRecord) error {
	rec.UpdatedAt = time.Now()
	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_records (user_id, record) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET record = EXCLUDED.record, updated_at = CURRENT_TIMESTAMP`,
		rec.UserID, doc)
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to save user %s: %w", rec.UserID, err)
	}
	return nil
}

// SetFields applies a partial field update by merging into the stored document.
func (s *PostgresStore) SetFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		return applyFields(rec, fields)
	})
}

// AppendMessage appends one entry to the conversation history.
func (s *PostgresStore) AppendMessage(ctx context.Context, userID string, msg models.ConversationMessage) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.ConversationHistory = append(rec.ConversationHistory, msg)
		return nil
	})
}

// SetProgressEntry sets the per-date progress entry.
func (s *PostgresStore) SetProgressEntry(ctx context.Context, userID, date string, entry models.ProgressEntry) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.ProgressLog[date] = entry
		return nil
	})
}

// AppendExercisePerformance appends a performance record for an exercise.
func (s *PostgresStore) AppendExercisePerformance(ctx context.Context, userID, exercise string, perf models.ExercisePerformance) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.ExerciseHistory[exercise] = append(rec.ExerciseHistory[exercise], perf)
		return nil
	})
}

// SetCurrentWorkout stores the active workout plan; nil clears it.
func (s *PostgresStore) SetCurrentWorkout(ctx context.Context, userID string, plan *models.WorkoutPlan) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.CurrentWorkout = plan
		return nil
	})
}

// AppendWorkoutSession appends a finished session summary.
func (s *PostgresStore) AppendWorkoutSession(ctx context.Context, userID string, session models.WorkoutSession) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.WorkoutSessions = append(rec.WorkoutSessions, session)
		return nil
	})
}

// ListUsers returns every stored record.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM user_records`)
	if err != nil {
		slog.Error("PostgresStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.UserRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan user record: %w", err)
		}
		rec, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		users = append(users, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user records: %w", err)
	}
	return users, nil
}

// DeleteUser removes the record wholesale.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_records WHERE user_id = $1`, userID)
	if err != nil {
		slog.Error("PostgresStore DeleteUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete user %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}

// mutate loads the document, applies fn, and writes it back inside one
// transaction with the row locked for update.
func (s *PostgresStore) mutate(ctx context.Context, userID string, fn func(*models.UserRecord) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx,
		`SELECT record FROM user_records WHERE user_id = $1 FOR UPDATE`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read user %s: %w", userID, err)
	}

	rec, err := decodeRecord(doc)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()

	updated, err := encodeRecord(*rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE user_records SET record = $1, updated_at = CURRENT_TIMESTAMP WHERE user_id = $2`,
		updated, userID)
	if err != nil {
		return fmt.Errorf("failed to write user %s: %w", userID, err)
	}
	return tx.Commit()
}
