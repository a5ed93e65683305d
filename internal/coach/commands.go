package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/habitcoach/habitcoach/internal/models"
)

// Fixed command replies.
const (
	notOnboardedReply   = "You haven't set up your habit tracking yet! Send me a message to get started."
	badTimeFormatReply  = "❌ Please use the format HH:MM (e.g., 09:00 or 14:30)"
	badTimezoneReply    = "❌ I don't recognize that timezone. Please use an IANA name like America/New_York."
	noProgressDataReply = "No progress data available yet. Keep working on your habit!"

	helpReply = `Here's what I can do:
!streak — your current streak and goal summary
!progress [days] — progress log for the last N days (default 7)
!reminder HH:MM — change your daily check-in time
!timezone [zone] — show or change your timezone
!workout start — begin an interactive workout session
!workout end — end the current workout session early
!start_workout / !end_workout — same as the above
!reset — wipe your data and start over
!ping — check that I'm listening
!help — this message
Anything else you send me is just conversation — tell me how your habit went today!`
)

// handleCommand dispatches a "!"-prefixed message to the matching command.
// Unknown commands get the help text.
func (c *Coach) handleCommand(ctx context.Context, userID, text string) (string, error) {
	fields := strings.Fields(strings.TrimPrefix(text, CommandPrefix))
	if len(fields) == 0 {
		return helpReply, nil
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	slog.Debug("Coach.handleCommand: dispatching", "userID", userID, "command", cmd, "args", len(args))

	// Underscore aliases for the workout commands.
	switch cmd {
	case "start_workout":
		cmd, args = "workout", []string{"start"}
	case "end_workout":
		cmd, args = "workout", []string{"end"}
	}

	if cmd == "help" {
		return helpReply, nil
	}
	if cmd == "ping" {
		return cmdPing(args), nil
	}
	if cmd == "reset" {
		return c.cmdReset(ctx, userID)
	}

	rec, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if rec == nil || !rec.Onboarded {
		return notOnboardedReply, nil
	}

	switch cmd {
	case "streak":
		return c.cmdStreak(rec), nil
	case "progress":
		return c.cmdProgress(rec, args)
	case "reminder":
		return c.cmdReminder(ctx, rec, args)
	case "timezone":
		return c.cmdTimezone(ctx, rec, args)
	case "workout":
		return c.cmdWorkout(ctx, rec, args)
	default:
		return "I don't know that command.\n\n" + helpReply, nil
	}
}

func (c *Coach) cmdStreak(rec *models.UserRecord) string {
	return fmt.Sprintf(
		"🎯 Your Habit Goal: %s\n\n"+
			"📊 Current Streak: %d days\n"+
			"🏆 Longest Streak: %d days\n\n"+
			"🎯 Your Milestones:\n%s\n\n"+
			"⏰ Daily Check-in Time: %s",
		rec.Goal, rec.CurrentStreak, rec.LongestStreak, rec.Milestones, rec.ReminderTime)
}

func (c *Coach) cmdProgress(rec *models.UserRecord, args []string) (string, error) {
	days := 7
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "❌ Please give a positive number of days, e.g. !progress 14", nil
		}
		days = n
	}
	if len(rec.ProgressLog) == 0 {
		return noProgressDataReply, nil
	}

	dates := make([]string, 0, len(rec.ProgressLog))
	for d := range rec.ProgressLog {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > days {
		dates = dates[:days]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Progress Log (Last %d days)\n\n", len(dates))
	for _, d := range dates {
		entry := rec.ProgressLog[d]
		status := "✅"
		if !entry.Completed {
			status = "❌"
		}
		fmt.Fprintf(&b, "%s: %s - %s\n", d, status, truncate(entry.Message, 50))
	}
	return b.String(), nil
}

func (c *Coach) cmdReminder(ctx context.Context, rec *models.UserRecord, args []string) (string, error) {
	if len(args) == 0 {
		return fmt.Sprintf("Your daily reminder time is %s. Use !reminder HH:MM to change it.", rec.ReminderTime), nil
	}
	newTime := args[0]
	if _, err := time.Parse(models.ClockLayout, newTime); err != nil {
		return badTimeFormatReply, nil
	}
	if err := c.store.SetFields(ctx, rec.UserID, map[string]interface{}{
		models.FieldReminderTime: newTime,
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Your daily reminder time has been updated to %s!", newTime), nil
}

func (c *Coach) cmdTimezone(ctx context.Context, rec *models.UserRecord, args []string) (string, error) {
	if len(args) == 0 {
		zone := rec.Timezone
		if zone == "" {
			zone = models.DefaultTimezone
		}
		return fmt.Sprintf("Your timezone is %s. Use !timezone Zone/Name to change it.", zone), nil
	}
	newZone := args[0]
	if _, err := time.LoadLocation(newZone); err != nil {
		return badTimezoneReply, nil
	}
	if err := c.store.SetFields(ctx, rec.UserID, map[string]interface{}{
		models.FieldTimezone: newZone,
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Your timezone has been updated to %s!", newZone), nil
}

func (c *Coach) cmdWorkout(ctx context.Context, rec *models.UserRecord, args []string) (string, error) {
	if len(args) == 0 {
		return "Use !workout start to begin a session or !workout end to finish one.", nil
	}
	switch strings.ToLower(args[0]) {
	case "start":
		reply, err := c.workouts.StartSession(ctx, rec)
		if errors.Is(err, models.ErrSessionInProgress) {
			return "You're already mid-workout! Finish it or use !workout end.", nil
		}
		return reply, err
	case "end":
		reply, err := c.workouts.EndSession(ctx, rec.UserID, false)
		if errors.Is(err, models.ErrNoSessionInProgress) {
			return "No workout is in progress. Use !workout start to begin one.", nil
		}
		return reply, err
	default:
		return "Use !workout start to begin a session or !workout end to finish one.", nil
	}
}

// cmdReset wipes the user's record and re-triggers onboarding. Any active
// workout session is force-ended without being recorded.
func (c *Coach) cmdReset(ctx context.Context, userID string) (string, error) {
	if _, err := c.workouts.EndSession(ctx, userID, true); err != nil &&
		!errors.Is(err, models.ErrNoSessionInProgress) {
		return "", err
	}
	if err := c.store.DeleteUser(ctx, userID); err != nil {
		return "", err
	}
	today := c.now().Format(models.DateLayout)
	rec := models.NewUserRecord(userID, today)
	if err := c.store.CreateUser(ctx, rec); err != nil {
		return "", err
	}
	if err := c.store.AppendMessage(ctx, userID, models.ConversationMessage{
		Role: models.RoleAssistant, Content: OnboardingPrompt, Date: today,
	}); err != nil {
		return "", err
	}
	slog.Info("Coach.cmdReset: user data reset", "userID", userID)
	return "All your data has been wiped — let's start fresh!\n\n" + OnboardingPrompt, nil
}

// cmdPing is a liveness check; any arguments are echoed back.
func cmdPing(args []string) string {
	if len(args) == 0 {
		return "Pong!"
	}
	return "Pong! Your argument was " + strings.Join(args, " ")
}

// truncate shortens a display string to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
