package coach

import (
	"context"
	"strings"
	"testing"

	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/store"
)

func TestCommandReminderInvalidTime(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	onboardedUser(t, st, "user-1")

	reply, err := c.HandleMessage(context.Background(), "user-1", "!reminder 25:00")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != badTimeFormatReply {
		t.Errorf("reply = %q, want the format error", reply)
	}
	stored, _ := st.GetUser(context.Background(), "user-1")
	if stored.ReminderTime != models.DefaultReminderTime {
		t.Errorf("ReminderTime = %q, want unchanged %q", stored.ReminderTime, models.DefaultReminderTime)
	}
}

func TestCommandReminderUpdates(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	onboardedUser(t, st, "user-1")

	reply, err := c.HandleMessage(context.Background(), "user-1", "!reminder 07:30")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !strings.Contains(reply, "07:30") {
		t.Errorf("reply = %q, want confirmation with new time", reply)
	}
	stored, _ := st.GetUser(context.Background(), "user-1")
	if stored.ReminderTime != "07:30" {
		t.Errorf("ReminderTime = %q, want 07:30", stored.ReminderTime)
	}
}

func TestCommandStreakSummary(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	rec := onboardedUser(t, st, "user-1")
	rec.CurrentStreak = 4
	rec.LongestStreak = 9
	if err := st.SaveUser(context.Background(), *rec); err != nil {
		t.Fatal(err)
	}

	reply, err := c.HandleMessage(context.Background(), "user-1", "!streak")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	for _, want := range []string{"run every day", "4 days", "9 days", rec.Milestones} {
		if !strings.Contains(reply, want) {
			t.Errorf("streak summary missing %q:\n%s", want, reply)
		}
	}
}

func TestCommandProgress(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	rec := onboardedUser(t, st, "user-1")
	rec.ProgressLog["2025-05-30"] = models.ProgressEntry{Message: "ran 5k", Completed: true}
	rec.ProgressLog["2025-05-31"] = models.ProgressEntry{Message: "skipped, long day at work which ran very late into the evening", Completed: false}
	if err := st.SaveUser(context.Background(), *rec); err != nil {
		t.Fatal(err)
	}

	reply, err := c.HandleMessage(context.Background(), "user-1", "!progress")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !strings.Contains(reply, "2025-05-30: ✅") || !strings.Contains(reply, "2025-05-31: ❌") {
		t.Errorf("progress log missing entries:\n%s", reply)
	}
	if !strings.Contains(reply, "...") {
		t.Errorf("long progress message not truncated:\n%s", reply)
	}

	reply, err = c.HandleMessage(context.Background(), "user-1", "!progress 1")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(reply, "2025-05-30") {
		t.Errorf("!progress 1 shows more than one day:\n%s", reply)
	}

	reply, err = c.HandleMessage(context.Background(), "user-1", "!progress zero")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "positive number") {
		t.Errorf("bad days arg reply = %q", reply)
	}
}

func TestCommandProgressEmpty(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	onboardedUser(t, st, "user-1")

	reply, err := c.HandleMessage(context.Background(), "user-1", "!progress")
	if err != nil {
		t.Fatal(err)
	}
	if reply != noProgressDataReply {
		t.Errorf("reply = %q, want %q", reply, noProgressDataReply)
	}
}

func TestCommandTimezone(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	onboardedUser(t, st, "user-1")
	ctx := context.Background()

	reply, err := c.HandleMessage(ctx, "user-1", "!timezone")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, models.DefaultTimezone) {
		t.Errorf("show timezone reply = %q", reply)
	}

	if _, err := c.HandleMessage(ctx, "user-1", "!timezone Europe/Berlin"); err != nil {
		t.Fatal(err)
	}
	stored, _ := st.GetUser(ctx, "user-1")
	if stored.Timezone != "Europe/Berlin" {
		t.Errorf("Timezone = %q, want Europe/Berlin", stored.Timezone)
	}

	reply, err = c.HandleMessage(ctx, "user-1", "!timezone Mars/Olympus")
	if err != nil {
		t.Fatal(err)
	}
	if reply != badTimezoneReply {
		t.Errorf("invalid zone reply = %q", reply)
	}
	stored, _ = st.GetUser(ctx, "user-1")
	if stored.Timezone != "Europe/Berlin" {
		t.Errorf("Timezone = %q, want unchanged Europe/Berlin", stored.Timezone)
	}
}

func TestCommandResetRecreatesDefaults(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	rec := onboardedUser(t, st, "user-1")
	rec.CurrentStreak = 15
	if err := st.SaveUser(context.Background(), *rec); err != nil {
		t.Fatal(err)
	}

	reply, err := c.HandleMessage(context.Background(), "user-1", "!reset")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !strings.Contains(reply, OnboardingPrompt) {
		t.Errorf("reset reply %q does not re-trigger onboarding", reply)
	}

	stored, _ := st.GetUser(context.Background(), "user-1")
	if stored == nil {
		t.Fatal("record missing after reset")
	}
	if stored.Onboarded || stored.CurrentStreak != 0 || stored.Goal != "" {
		t.Errorf("record not reset to defaults: %+v", stored)
	}
}

func TestCommandRequiresOnboarding(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})

	for _, cmd := range []string{"!streak", "!progress", "!reminder 09:00", "!timezone", "!workout start"} {
		reply, err := c.HandleMessage(context.Background(), "user-1", cmd)
		if err != nil {
			t.Fatalf("HandleMessage(%q) error = %v", cmd, err)
		}
		if reply != notOnboardedReply {
			t.Errorf("%q reply = %q, want not-onboarded notice", cmd, reply)
		}
	}
}

func TestCommandUnknownShowsHelp(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	onboardedUser(t, st, "user-1")

	reply, err := c.HandleMessage(context.Background(), "user-1", "!frobnicate")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "!streak") {
		t.Errorf("unknown command reply missing help: %q", reply)
	}
}

func TestCommandWorkoutEndWithoutSession(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})
	onboardedUser(t, st, "user-1")

	reply, err := c.HandleMessage(context.Background(), "user-1", "!workout end")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "No workout is in progress") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCommandWorkoutStartRoutesSessionInput(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{testPlanJSON}}
	c, _, _ := newTestCoach(st, ai)
	onboardedUser(t, st, "user-1")
	ctx := context.Background()

	reply, err := c.HandleMessage(ctx, "user-1", "!workout start")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !strings.Contains(reply, "Reply yes to begin") {
		t.Errorf("start reply = %q", reply)
	}

	// A plain message now goes to the session, not the conversation.
	reply, err = c.HandleMessage(ctx, "user-1", "yes")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(reply, "Exercise 1 of") {
		t.Errorf("confirmation reply = %q, want the first exercise", reply)
	}
}

func TestCommandWorkoutUnderscoreAliases(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{testPlanJSON}}
	c, _, _ := newTestCoach(st, ai)
	onboardedUser(t, st, "user-1")
	ctx := context.Background()

	reply, err := c.HandleMessage(ctx, "user-1", "!start_workout")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !strings.Contains(reply, "Reply yes to begin") {
		t.Errorf("!start_workout reply = %q, want the plan proposal", reply)
	}

	reply, err = c.HandleMessage(ctx, "user-1", "!end_workout")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !strings.Contains(reply, "Workout ended") {
		t.Errorf("!end_workout reply = %q, want the session-ended message", reply)
	}
}

func TestCommandPing(t *testing.T) {
	st := store.NewInMemoryStore()
	c, _, _ := newTestCoach(st, &mockAI{})

	reply, err := c.HandleMessage(context.Background(), "user-1", "!ping")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Pong!" {
		t.Errorf("reply = %q, want Pong!", reply)
	}

	reply, err = c.HandleMessage(context.Background(), "user-1", "!ping still there?")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Pong! Your argument was still there?" {
		t.Errorf("reply = %q", reply)
	}
}

func TestTruncateKeepsRunesIntact(t *testing.T) {
	got := truncate("💪💪💪💪💪", 3)
	if got != "💪💪💪..." {
		t.Errorf("truncate() = %q, want three whole emoji", got)
	}
	if got := truncate("short", 50); got != "short" {
		t.Errorf("truncate() = %q, want unchanged", got)
	}
}
