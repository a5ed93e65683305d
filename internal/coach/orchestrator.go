package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/habitcoach/habitcoach/internal/genai"
	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/store"
	"github.com/openai/openai-go"
)

// historyWindow is how many recent history entries feed the prompt context.
const historyWindow = 10

// CommandPrefix marks a message as a command rather than conversation.
const CommandPrefix = "!"

// Coach is the conversation orchestrator. It routes each inbound message to
// exactly one of: command handling, an active workout session, or the
// onboarding/steady-state conversation flow.
//
// Per-user handling is serialized with an in-process mutex. The reminder
// scheduler takes the same lock through LockUser, so a reminder scan and a
// conversation turn for the same user cannot interleave their
// read-modify-write cycles.
type Coach struct {
	store    store.Store
	ai       genai.ClientInterface
	streaks  *StreakTracker
	workouts *WorkoutEngine
	now      func() time.Time

	mu     sync.Mutex
	userMu map[string]*sync.Mutex
}

// NewCoach creates the orchestrator.
func NewCoach(st store.Store, ai genai.ClientInterface, streaks *StreakTracker, workouts *WorkoutEngine) *Coach {
	return &Coach{
		store:    st,
		ai:       ai,
		streaks:  streaks,
		workouts: workouts,
		now:      time.Now,
		userMu:   make(map[string]*sync.Mutex),
	}
}

// userLock returns the per-user serialization mutex, creating it on first use.
func (c *Coach) userLock(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.userMu[userID]
	if !ok {
		mu = &sync.Mutex{}
		c.userMu[userID] = mu
	}
	return mu
}

// LockUser takes the per-user serialization lock and returns the release
// func. The reminder scheduler uses it so scan work for a user cannot run
// concurrently with that user's conversation handling.
func (c *Coach) LockUser(userID string) func() {
	mu := c.userLock(userID)
	mu.Lock()
	return mu.Unlock
}

// HandleMessage processes one inbound message and returns the reply text.
// Rate-limited model calls produce a friendly retry message rather than an
// error; any returned error should surface to the user as the generic apology.
func (c *Coach) HandleMessage(ctx context.Context, userID, text string) (string, error) {
	if userID == "" {
		return "", models.ErrEmptyUserID
	}
	if strings.TrimSpace(text) == "" {
		return "", models.ErrEmptyMessageBody
	}

	mu := c.userLock(userID)
	mu.Lock()
	defer mu.Unlock()

	slog.Debug("Coach.HandleMessage: processing message", "userID", userID, "length", len(text))

	var reply string
	var err error
	switch {
	case strings.HasPrefix(text, CommandPrefix):
		reply, err = c.handleCommand(ctx, userID, text)
	case c.workouts.Awaiting(userID):
		reply, err = c.workouts.HandleSessionInput(ctx, userID, text)
	default:
		reply, err = c.handleConversation(ctx, userID, text)
	}
	if errors.Is(err, genai.ErrRateLimited) {
		return RateLimitedReply, nil
	}
	return reply, err
}

// handleConversation runs the three-branch conversation state machine.
func (c *Coach) handleConversation(ctx context.Context, userID, text string) (string, error) {
	rec, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	today := c.now().Format(models.DateLayout)

	if rec == nil {
		return c.handleNewUser(ctx, userID, text, today)
	}
	if rec.Phase == models.PhaseOnboarding || !rec.Onboarded {
		return c.handleOnboarding(ctx, rec, text, today)
	}
	return c.handleSteadyState(ctx, rec, text)
}

// handleNewUser creates the default record and returns the fixed onboarding
// prompt. No model call happens on first contact.
func (c *Coach) handleNewUser(ctx context.Context, userID, text, today string) (string, error) {
	rec := models.NewUserRecord(userID, today)
	if err := c.store.CreateUser(ctx, rec); err != nil {
		return "", err
	}
	if err := c.store.AppendMessage(ctx, userID, models.ConversationMessage{
		Role: models.RoleUser, Content: text, Date: today,
	}); err != nil {
		return "", err
	}
	if err := c.store.AppendMessage(ctx, userID, models.ConversationMessage{
		Role: models.RoleAssistant, Content: OnboardingPrompt, Date: today,
	}); err != nil {
		return "", err
	}
	slog.Info("Coach.handleNewUser: new user registered", "userID", userID)
	return OnboardingPrompt, nil
}

// handleOnboarding captures the user's first substantive reply: goal text
// verbatim, extracted schedule and profile (silent defaults on any malformed
// extraction), and model-generated milestones.
func (c *Coach) handleOnboarding(ctx context.Context, rec *models.UserRecord, text, today string) (string, error) {
	reminderTime, timezone, err := c.extractSchedule(ctx, text)
	if err != nil {
		return "", err
	}
	experience, limitations, err := c.extractProfile(ctx, text)
	if err != nil {
		return "", err
	}
	milestones, err := c.ai.GeneratePrompt(ctx, SystemPersona, milestonesPrompt(text))
	if err != nil {
		return "", err
	}

	if err := rec.TransitionPhase(models.PhaseTracking); err != nil {
		return "", err
	}
	if err := c.store.SetFields(ctx, rec.UserID, map[string]interface{}{
		models.FieldGoal:            text,
		models.FieldMilestones:      milestones,
		models.FieldOnboarded:       true,
		models.FieldPhase:           rec.Phase,
		models.FieldReminderTime:    reminderTime,
		models.FieldTimezone:        timezone,
		models.FieldExperienceLevel: experience,
		models.FieldLimitations:     limitations,
		models.FieldLastCheckIn:     today,
	}); err != nil {
		return "", err
	}

	welcome := onboardingWelcome(text, milestones, reminderTime)
	if err := c.appendExchange(ctx, rec.UserID, text, welcome, today); err != nil {
		return "", err
	}
	slog.Info("Coach.handleOnboarding: user onboarded", "userID", rec.UserID,
		"reminderTime", reminderTime, "timezone", timezone)
	return welcome, nil
}

// handleSteadyState builds the prompt context, runs the once-per-day
// completion classification, and generates the conversational reply.
func (c *Coach) handleSteadyState(ctx context.Context, rec *models.UserRecord, text string) (string, error) {
	today := c.localDate(rec)

	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(SystemPersona),
		openai.SystemMessage(fmt.Sprintf("User's habit goal: %s", rec.Goal)),
		openai.SystemMessage(fmt.Sprintf("Milestones: %s", rec.Milestones)),
		openai.SystemMessage(fmt.Sprintf("Current streak: %d days", rec.CurrentStreak)),
		openai.SystemMessage(fmt.Sprintf("Longest streak: %d days", rec.LongestStreak)),
		openai.SystemMessage(fmt.Sprintf("Last check-in: %s", rec.LastCheckIn)),
	}

	var milestone string
	if _, logged := rec.ProgressLog[today]; !logged {
		completed, judged, err := c.classifyCompletion(ctx, text)
		if err != nil {
			return "", err
		}
		if judged {
			if err := c.store.SetProgressEntry(ctx, rec.UserID, today, models.ProgressEntry{
				Message: text, Completed: completed,
			}); err != nil {
				return "", err
			}
			if err := c.store.SetFields(ctx, rec.UserID, map[string]interface{}{
				models.FieldLastCheckIn: today,
			}); err != nil {
				return "", err
			}
			milestone, err = c.streaks.UpdateStreak(ctx, rec, completed)
			if err != nil {
				return "", err
			}
			if milestone != "" {
				msgs = append(msgs, openai.SystemMessage(
					fmt.Sprintf("The user just hit a streak milestone: %s. Celebrate it!", milestone)))
			}
		}
	} else {
		msgs = append(msgs, openai.SystemMessage(
			"Progress has already been logged for today; do not record new progress."))
	}

	start := len(rec.ConversationHistory) - historyWindow
	if start < 0 {
		start = 0
	}
	for _, entry := range rec.ConversationHistory[start:] {
		switch entry.Role {
		case models.RoleUser:
			msgs = append(msgs, openai.UserMessage(entry.Content))
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(entry.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(text))

	reply, err := c.ai.GenerateWithMessages(ctx, msgs)
	if err != nil {
		return "", err
	}
	if milestone != "" {
		reply = reply + "\n\n" + milestone
	}

	if err := c.appendExchange(ctx, rec.UserID, text, reply, today); err != nil {
		return "", err
	}
	return reply, nil
}

// extractSchedule pulls "HH:MM|Zone" out of the onboarding reply, silently
// substituting defaults on any malformed field.
func (c *Coach) extractSchedule(ctx context.Context, text string) (string, string, error) {
	raw, err := c.ai.GeneratePrompt(ctx, SystemPersona, scheduleExtractionPrompt(text))
	if err != nil {
		return "", "", err
	}
	reminderTime, timezone := models.DefaultReminderTime, models.DefaultTimezone
	parts := strings.SplitN(strings.TrimSpace(raw), "|", 2)
	if len(parts) == 2 {
		if _, perr := time.Parse(models.ClockLayout, strings.TrimSpace(parts[0])); perr == nil {
			reminderTime = strings.TrimSpace(parts[0])
		}
		if _, lerr := time.LoadLocation(strings.TrimSpace(parts[1])); lerr == nil {
			timezone = strings.TrimSpace(parts[1])
		}
	}
	return reminderTime, timezone, nil
}

// extractProfile pulls "experience|limitations", defaulting to
// beginner/none on malformed output.
func (c *Coach) extractProfile(ctx context.Context, text string) (string, string, error) {
	raw, err := c.ai.GeneratePrompt(ctx, SystemPersona, profileExtractionPrompt(text))
	if err != nil {
		return "", "", err
	}
	experience, limitations := "beginner", "none"
	parts := strings.SplitN(strings.TrimSpace(raw), "|", 2)
	if len(parts) == 2 {
		if strings.TrimSpace(parts[0]) != "" {
			experience = strings.TrimSpace(parts[0])
		}
		if strings.TrimSpace(parts[1]) != "" {
			limitations = strings.TrimSpace(parts[1])
		}
	}
	return experience, limitations, nil
}

// classifyCompletion asks the model for a closed completed/incomplete label.
// On a malformed label it falls back to keyword matching on the user's text;
// if that is also inconclusive no judgment is recorded for the day.
func (c *Coach) classifyCompletion(ctx context.Context, text string) (completed, judged bool, err error) {
	raw, err := c.ai.GeneratePrompt(ctx, SystemPersona, classifierPrompt(text))
	if err != nil {
		return false, false, err
	}
	label := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(label, "incomplete"):
		return false, true, nil
	case strings.Contains(label, "complete"):
		return true, true, nil
	}

	slog.Warn("Coach.classifyCompletion: malformed classifier label, falling back to keywords", "label", label)
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "yes"), strings.Contains(lower, "done"), strings.Contains(lower, "completed"):
		return true, true, nil
	case strings.Contains(lower, "no"), strings.Contains(lower, "didn't"), strings.Contains(lower, "failed"):
		return false, true, nil
	}
	return false, false, nil
}

// localDate returns today's date string in the user's timezone, falling back
// to server time when the zone is unset or invalid.
func (c *Coach) localDate(rec *models.UserRecord) string {
	now := c.now()
	if rec.Timezone != "" {
		if loc, err := time.LoadLocation(rec.Timezone); err == nil {
			now = now.In(loc)
		}
	}
	return now.Format(models.DateLayout)
}

// appendExchange stores a user turn and the coach's reply in history.
func (c *Coach) appendExchange(ctx context.Context, userID, userText, reply, date string) error {
	if err := c.store.AppendMessage(ctx, userID, models.ConversationMessage{
		Role: models.RoleUser, Content: userText, Date: date,
	}); err != nil {
		return err
	}
	return c.store.AppendMessage(ctx, userID, models.ConversationMessage{
		Role: models.RoleAssistant, Content: reply, Date: date,
	})
}
