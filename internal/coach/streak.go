package coach

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/store"
)

// StreakTracker maintains the consecutive-day completion counters.
type StreakTracker struct {
	store store.Store
}

// NewStreakTracker creates a streak tracker backed by the given store.
func NewStreakTracker(st store.Store) *StreakTracker {
	return &StreakTracker{store: st}
}

// UpdateStreak applies a completion judgment to the user's counters, persists
// them synchronously, and returns the milestone message if the new streak
// exactly hit a threshold. The caller's record is updated in place.
func (t *StreakTracker) UpdateStreak(ctx context.Context, rec *models.UserRecord, completed bool) (string, error) {
	var milestone string
	if completed {
		rec.CurrentStreak++
		if rec.CurrentStreak > rec.LongestStreak {
			rec.LongestStreak = rec.CurrentStreak
		}
		milestone = MilestoneMessage(rec.CurrentStreak)
	} else {
		rec.CurrentStreak = 0
	}

	err := t.store.SetFields(ctx, rec.UserID, map[string]interface{}{
		models.FieldCurrentStreak: rec.CurrentStreak,
		models.FieldLongestStreak: rec.LongestStreak,
	})
	if err != nil {
		slog.Error("StreakTracker.UpdateStreak: failed to persist counters", "error", err, "userID", rec.UserID)
		return "", fmt.Errorf("failed to persist streak for user %s: %w", rec.UserID, err)
	}

	slog.Debug("StreakTracker.UpdateStreak: counters updated", "userID", rec.UserID,
		"completed", completed, "currentStreak", rec.CurrentStreak, "longestStreak", rec.LongestStreak)
	return milestone, nil
}
