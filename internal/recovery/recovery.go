// Package recovery reconciles durable user state after an application restart.
//
// Workout sessions live in process memory while active; if the process dies
// mid-session the user record is left with a dangling current workout. On
// startup the recovery pass closes those sessions out as incomplete so users
// can start fresh.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/store"
)

// interruptedNote is recorded on sessions closed out by recovery.
const interruptedNote = "session interrupted by restart"

// Manager runs startup recovery against the user store.
type Manager struct {
	store store.Store
	now   func() time.Time
}

// NewManager creates a recovery manager for the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st, now: time.Now}
}

// Run scans all users and closes out dangling workout sessions. Per-user
// failures are logged and skipped so one bad record cannot block startup.
func (m *Manager) Run(ctx context.Context) error {
	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("recovery failed to list users: %w", err)
	}

	var recovered int
	for _, rec := range users {
		if rec.CurrentWorkout == nil {
			continue
		}
		if err := m.recoverUser(ctx, rec); err != nil {
			slog.Error("Recovery.Run: failed to recover user", "error", err, "userID", rec.UserID)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		slog.Info("Recovery.Run: closed out interrupted workout sessions", "count", recovered)
	}
	return nil
}

func (m *Manager) recoverUser(ctx context.Context, rec models.UserRecord) error {
	session := models.WorkoutSession{
		ID:     uuid.NewString(),
		Date:   m.now().Format(models.DateLayout),
		Status: models.SessionIncomplete,
		Note:   interruptedNote,
	}
	if err := m.store.AppendWorkoutSession(ctx, rec.UserID, session); err != nil {
		return fmt.Errorf("failed to record interrupted session: %w", err)
	}
	if err := m.store.SetCurrentWorkout(ctx, rec.UserID, nil); err != nil {
		return fmt.Errorf("failed to clear current workout: %w", err)
	}
	if rec.Onboarded && rec.Phase != models.PhaseTracking {
		if err := rec.TransitionPhase(models.PhaseTracking); err != nil {
			return fmt.Errorf("failed to reset phase: %w", err)
		}
		if err := m.store.SetFields(ctx, rec.UserID, map[string]interface{}{
			models.FieldPhase: rec.Phase,
		}); err != nil {
			return fmt.Errorf("failed to reset phase: %w", err)
		}
	}

	slog.Info("Recovery: closed out interrupted workout session", "userID", rec.UserID)
	return nil
}
