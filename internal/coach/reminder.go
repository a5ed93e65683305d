package coach

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/scheduler"
	"github.com/habitcoach/habitcoach/internal/store"
	"github.com/robfig/cron/v3"
)

// MessageSender dispatches an outbound message to a canonical recipient.
// The messaging service satisfies this.
type MessageSender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// UserLocker serializes per-user work against conversation handling.
// Coach.LockUser satisfies this.
type UserLocker interface {
	LockUser(userID string) (unlock func())
}

// reminderCronExpr fires the reminder scan every five minutes.
const reminderCronExpr = "*/5 * * * *"

// ReminderScheduler periodically scans all users and sends a daily reminder
// to anyone past their check-in time who has not checked in or been reminded
// yet today, evaluated in the user's own timezone.
type ReminderScheduler struct {
	store  store.Store
	sender MessageSender
	sched  *scheduler.Scheduler
	locker UserLocker
	now    func() time.Time

	entryID cron.EntryID
}

// NewReminderScheduler creates a reminder scheduler. The locker is held for
// each user's scan work so a reminder cannot race that user's conversation
// turn.
func NewReminderScheduler(st store.Store, sender MessageSender, sched *scheduler.Scheduler, locker UserLocker) *ReminderScheduler {
	return &ReminderScheduler{
		store:  st,
		sender: sender,
		sched:  sched,
		locker: locker,
		now:    time.Now,
	}
}

// Start registers the five-minute scan with the cron scheduler.
func (r *ReminderScheduler) Start(ctx context.Context) error {
	id, err := r.sched.AddJob(reminderCronExpr, func() {
		r.Scan(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reminder scan: %w", err)
	}
	r.entryID = id
	slog.Info("ReminderScheduler.Start: reminder scan scheduled", "cron", reminderCronExpr)
	return nil
}

// Stop removes the scan job.
func (r *ReminderScheduler) Stop() {
	r.sched.Remove(r.entryID)
}

// Scan enumerates all users and sends reminders where due. Per-user failures
// are logged and do not abort the rest of the scan.
func (r *ReminderScheduler) Scan(ctx context.Context) {
	users, err := r.store.ListUsers(ctx)
	if err != nil {
		slog.Error("ReminderScheduler.Scan: failed to list users", "error", err)
		return
	}
	slog.Debug("ReminderScheduler.Scan: scanning users", "count", len(users))

	for i := range users {
		r.scanUser(ctx, users[i].UserID)
	}
}

// scanUser evaluates one user under the per-user lock. The record is
// re-fetched after the lock is taken so the check never works from a snapshot
// a concurrent conversation turn has already updated.
func (r *ReminderScheduler) scanUser(ctx context.Context, userID string) {
	unlock := r.locker.LockUser(userID)
	defer unlock()

	rec, err := r.store.GetUser(ctx, userID)
	if err != nil {
		slog.Error("ReminderScheduler.scanUser: failed to load user", "error", err, "userID", userID)
		return
	}
	if rec == nil {
		return
	}
	due, err := r.ShouldSendReminder(ctx, rec)
	if err != nil {
		slog.Error("ReminderScheduler.scanUser: reminder check failed", "error", err, "userID", userID)
		return
	}
	if !due {
		return
	}
	if err := r.sendReminder(ctx, rec); err != nil {
		slog.Error("ReminderScheduler.scanUser: reminder send failed", "error", err, "userID", userID)
	}
}

// ShouldSendReminder reports whether the user is due a reminder right now.
// It returns true iff the user is onboarded, their local time is past the
// stored reminder time, and neither a check-in nor a reminder has been
// recorded for today in their zone. On true it claims today's
// last_reminder_sent slot before the caller sends.
//
// An invalid or missing timezone self-heals: the default zone is substituted
// and persisted.
func (r *ReminderScheduler) ShouldSendReminder(ctx context.Context, rec *models.UserRecord) (bool, error) {
	if !rec.Onboarded {
		return false, nil
	}

	loc, err := time.LoadLocation(rec.Timezone)
	if rec.Timezone == "" || err != nil {
		slog.Warn("ReminderScheduler.ShouldSendReminder: invalid timezone, falling back to default",
			"userID", rec.UserID, "timezone", rec.Timezone)
		loc, _ = time.LoadLocation(models.DefaultTimezone)
		rec.Timezone = models.DefaultTimezone
		if err := r.store.SetFields(ctx, rec.UserID, map[string]interface{}{
			models.FieldTimezone: models.DefaultTimezone,
		}); err != nil {
			return false, fmt.Errorf("failed to persist timezone fallback for user %s: %w", rec.UserID, err)
		}
	}

	now := r.now().In(loc)
	today := now.Format(models.DateLayout)

	reminderAt, err := time.Parse(models.ClockLayout, rec.ReminderTime)
	if err != nil {
		// Stored value should always be valid; treat a corrupt one as the default.
		reminderAt, _ = time.Parse(models.ClockLayout, models.DefaultReminderTime)
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	reminderMinutes := reminderAt.Hour()*60 + reminderAt.Minute()
	if nowMinutes <= reminderMinutes {
		return false, nil
	}

	if rec.LastCheckIn >= today {
		return false, nil
	}
	if rec.LastReminderSent >= today {
		return false, nil
	}

	// Claim today's slot so concurrent scans cannot double-send.
	if err := r.store.SetFields(ctx, rec.UserID, map[string]interface{}{
		models.FieldLastReminderSent: today,
	}); err != nil {
		return false, fmt.Errorf("failed to claim reminder slot for user %s: %w", rec.UserID, err)
	}
	prev := rec.LastReminderSent
	rec.LastReminderSent = today
	slog.Debug("ReminderScheduler.ShouldSendReminder: reminder due", "userID", rec.UserID,
		"today", today, "previousReminder", prev)
	return true, nil
}

// sendReminder dispatches the reminder template. If the send fails, the
// claimed last_reminder_sent slot is rolled back so a later scan can retry.
func (r *ReminderScheduler) sendReminder(ctx context.Context, rec *models.UserRecord) error {
	body := fmt.Sprintf(ReminderTemplate, rec.Goal)
	if err := r.sender.SendMessage(ctx, rec.UserID, body); err != nil {
		if rbErr := r.store.SetFields(ctx, rec.UserID, map[string]interface{}{
			models.FieldLastReminderSent: "",
		}); rbErr != nil {
			slog.Error("ReminderScheduler.sendReminder: rollback of reminder claim failed",
				"error", rbErr, "userID", rec.UserID)
		}
		return fmt.Errorf("failed to send reminder to user %s: %w", rec.UserID, err)
	}
	slog.Info("ReminderScheduler.sendReminder: reminder sent", "userID", rec.UserID)
	return nil
}
