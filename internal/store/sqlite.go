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
	sqlite3 "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a SQLite-backed Store. Each user record is one row holding
// the whole document as JSON; partial updates are read-modify-write inside a
// transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at the DSN path and
// applies migrations.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "dsn", cfg.DSN)

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite DB", "error", err, "dsn", cfg.DSN)
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		slog.Error("Failed to ping SQLite DB", "error", err, "dsn", cfg.DSN)
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to apply SQLite migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	slog.Debug("SQLiteStore initialized successfully", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// CreateUser inserts a fresh record, failing if the user already exists.
func (s *SQLiteStore) CreateUser(ctx context.Context, rec models.UserRecord) error {
	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_records (user_id, record) VALUES (?, ?)`,
		rec.UserID, doc)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrUserAlreadyExists
		}
		slog.Error("SQLiteStore CreateUser failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to insert user %s: %w", rec.UserID, err)
	}
	return nil
}

// GetUser returns the record for a user id, or (nil, nil) if absent.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM user_records WHERE user_id = ?`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to read user %s: %w", userID, err)
	}
	return decodeRecord(doc)
}

// SaveUser upserts the whole record.
func (s *SQLiteStore) SaveUser(ctx context.Context, rec models.UserRecord) error {
	rec.UpdatedAt = time.Now()
	doc, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_records (user_id, record) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET record = excluded.record, updated_at = CURRENT_TIMESTAMP`,
		rec.UserID, doc)
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "userID", rec.UserID)
		return fmt.Errorf("failed to save user %s: %w", rec.UserID, err)
	}
	return nil
}

// SetFields applies a partial field update by merging into the stored document.
func (s *SQLiteStore) SetFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		return applyFields(rec, fields)
	})
}

// AppendMessage appends one entry to the conversation history.
func (s *SQLiteStore) AppendMessage(ctx context.Context, userID string, msg models.ConversationMessage) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.ConversationHistory = append(rec.ConversationHistory, msg)
		return nil
	})
}

// SetProgressEntry sets the per-date progress entry.
func (s *SQLiteStore) SetProgressEntry(ctx context.Context, userID, date string, entry models.ProgressEntry) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.ProgressLog[date] = entry
		return nil
	})
}

// AppendExercisePerformance appends a performance record for an exercise.
func (s *SQLiteStore) AppendExercisePerformance(ctx context.Context, userID, exercise string, perf models.ExercisePerformance) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.ExerciseHistory[exercise] = append(rec.ExerciseHistory[exercise], perf)
		return nil
	})
}

// SetCurrentWorkout stores the active workout plan; nil clears it.
func (s *SQLiteStore) SetCurrentWorkout(ctx context.Context, userID string, plan *models.WorkoutPlan) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.CurrentWorkout = plan
		return nil
	})
}

// AppendWorkoutSession appends a finished session summary.
func (s *SQLiteStore) AppendWorkoutSession(ctx context.Context, userID string, session models.WorkoutSession) error {
	return s.mutate(ctx, userID, func(rec *models.UserRecord) error {
		rec.WorkoutSessions = append(rec.WorkoutSessions, session)
		return nil
	})
}

// ListUsers returns every stored record.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM user_records`)
	if err != nil {
		slog.Error("SQLiteStore ListUsers query failed", "error", err)
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
func (s *SQLiteStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM user_records WHERE user_id = ?`, userID)
	if err != nil {
		slog.Error("SQLiteStore DeleteUser failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete user %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// mutate loads the document, applies fn, and writes it back, all inside one
// transaction so concurrent writers serialize per row.
func (s *SQLiteStore) mutate(ctx context.Context, userID string, fn func(*models.UserRecord) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var doc string
	err = tx.QueryRowContext(ctx,
		`SELECT record FROM user_records WHERE user_id = ?`, userID).Scan(&doc)
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
		`UPDATE user_records SET record = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		updated, userID)
	if err != nil {
		return fmt.Errorf("failed to write user %s: %w", userID, err)
	}
	return tx.Commit()
}

// isUniqueViolation reports whether err is a primary-key conflict from sqlite3.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
