package store

import (
	"context"
	"sync"
	"time"

	"github.com/habitcoach/habitcoach/internal/models"
)

// InMemoryStore is a map-backed Store used in tests and local development.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.UserRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[string]models.UserRecord)}
}

// CreateUser inserts a fresh record, failing if the user already exists.
func (s *InMemoryStore) CreateUser(ctx context.Context, rec models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[rec.UserID]; exists {
		return models.ErrUserAlreadyExists
	}
	s.users[rec.UserID] = rec
	return nil
}

// GetUser returns a deep copy of the record, or (nil, nil) if absent.
// Callers may mutate the result freely without touching stored state.
func (s *InMemoryStore) GetUser(ctx context.Context, userID string) (*models.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

// SaveUser upserts the whole record.
func (s *InMemoryStore) SaveUser(ctx context.Context, rec models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now()
	s.users[rec.UserID] = rec
	return nil
}

// SetFields applies a partial update to an existing record.
func (s *InMemoryStore) SetFields(ctx context.Context, userID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	if err := applyFields(&rec, fields); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now()
	s.users[userID] = rec
	return nil
}

// AppendMessage appends one conversation history entry.
func (s *InMemoryStore) AppendMessage(ctx context.Context, userID string, msg models.ConversationMessage) error {
	return s.mutate(userID, func(rec *models.UserRecord) {
		rec.ConversationHistory = append(rec.ConversationHistory, msg)
	})
}

// SetProgressEntry sets the progress-log entry for a calendar date.
func (s *InMemoryStore) SetProgressEntry(ctx context.Context, userID, date string, entry models.ProgressEntry) error {
	return s.mutate(userID, func(rec *models.UserRecord) {
		if rec.ProgressLog == nil {
			rec.ProgressLog = make(map[string]models.ProgressEntry)
		}
		rec.ProgressLog[date] = entry
	})
}

// AppendExercisePerformance appends a dated performance record for an exercise.
func (s *InMemoryStore) AppendExercisePerformance(ctx context.Context, userID, exercise string, perf models.ExercisePerformance) error {
	return s.mutate(userID, func(rec *models.UserRecord) {
		if rec.ExerciseHistory == nil {
			rec.ExerciseHistory = make(map[string][]models.ExercisePerformance)
		}
		rec.ExerciseHistory[exercise] = append(rec.ExerciseHistory[exercise], perf)
	})
}

// SetCurrentWorkout stores the active workout plan; nil clears it.
func (s *InMemoryStore) SetCurrentWorkout(ctx context.Context, userID string, plan *models.WorkoutPlan) error {
	return s.mutate(userID, func(rec *models.UserRecord) {
		rec.CurrentWorkout = plan
	})
}

// AppendWorkoutSession appends a finished session summary.
func (s *InMemoryStore) AppendWorkoutSession(ctx context.Context, userID string, session models.WorkoutSession) error {
	return s.mutate(userID, func(rec *models.UserRecord) {
		rec.WorkoutSessions = append(rec.WorkoutSessions, session)
	})
}

// ListUsers returns copies of every stored record.
func (s *InMemoryStore) ListUsers(ctx context.Context) ([]models.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.UserRecord, 0, len(s.users))
	for _, rec := range s.users {
		users = append(users, rec)
	}
	return users, nil
}

// DeleteUser removes the record wholesale.
func (s *InMemoryStore) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, userID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) mutate(userID string, fn func(*models.UserRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return models.ErrUserNotFound
	}
	fn(&rec)
	rec.UpdatedAt = time.Now()
	s.users[userID] = rec
	return nil
}
