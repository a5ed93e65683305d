package coach

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/store"
)

const testPlanJSON = `{"warmup":"arm circles","exercises":[` +
	`{"name":"squat","sets":3,"reps":10,"weight":"50lb","form_cues":"chest up"},` +
	`{"name":"push-up","sets":3,"reps":8,"weight":"bodyweight","form_cues":"straight back"}` +
	`],"cooldown":"light stretching"}`

func newTestEngine(st store.Store, ai *mockAI) (*WorkoutEngine, *mockTimer, *mockSender) {
	timer := newMockTimer()
	sender := &mockSender{}
	e := NewWorkoutEngine(st, ai, timer, sender)
	e.now = fixedClock(testNow)
	return e, timer, sender
}

func TestValidatePlanFillsDefaults(t *testing.T) {
	plan := &models.WorkoutPlan{Exercises: []models.Exercise{{}}}
	validatePlan(plan)

	if plan.Warmup == "" || plan.Cooldown == "" {
		t.Error("warmup/cooldown left empty after validation")
	}
	ex := plan.Exercises[0]
	if ex.Name == "" || ex.Sets <= 0 || ex.Reps <= 0 || ex.Weight == "" || ex.FormCues == "" {
		t.Errorf("exercise fields not defaulted: %+v", ex)
	}
}

func TestValidatePlanEmptyExercisesGetsFallback(t *testing.T) {
	plan := &models.WorkoutPlan{}
	validatePlan(plan)
	if len(plan.Exercises) == 0 {
		t.Error("empty exercise list not replaced with fallback exercises")
	}
}

func TestClassifyNumericThresholds(t *testing.T) {
	tests := []struct {
		name    string
		planned string
		actual  string
		want    models.Evaluation
	}{
		{"full volume", "3x10 @50lb", "3x10 @50lb", models.EvaluationIncrease},
		{"eighty percent", "3x10 @50lb", "3x8 @50lb", models.EvaluationMaintain},
		{"two thirds", "3x10 @50lb", "2x10 @50lb", models.EvaluationDecrease},
		{"unparseable actual", "3x10 @50lb", "felt pretty good", models.EvaluationMaintain},
		{"unparseable planned", "as many as possible", "3x10", models.EvaluationMaintain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyNumeric(tt.planned, tt.actual); got != tt.want {
				t.Errorf("classifyNumeric(%q, %q) = %q, want %q", tt.planned, tt.actual, got, tt.want)
			}
		})
	}
}

func TestWorkoutFullSession(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{
		testPlanJSON, // plan generation
		"increase",   // squat classification
		"maintain",   // push-up classification
		"Great session, strong squats!", // summary
	}}
	e, _, _ := newTestEngine(st, ai)
	ctx := context.Background()
	rec := onboardedUser(t, st, "user-1")

	proposal, err := e.StartSession(ctx, rec)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if !strings.Contains(proposal, "squat") || !strings.Contains(proposal, "push-up") {
		t.Errorf("proposal %q missing exercises", proposal)
	}
	if !e.Awaiting("user-1") {
		t.Fatal("engine not awaiting confirmation")
	}

	first, err := e.HandleSessionInput(ctx, "user-1", "yes")
	if err != nil {
		t.Fatalf("confirmation error = %v", err)
	}
	if !strings.Contains(first, "squat") {
		t.Errorf("first exercise prompt %q, want squat", first)
	}
	stored, _ := st.GetUser(ctx, "user-1")
	if stored.CurrentWorkout == nil {
		t.Fatal("current workout not persisted on confirmation")
	}
	if stored.Phase != models.PhaseWorkout {
		t.Errorf("Phase = %q, want %q", stored.Phase, models.PhaseWorkout)
	}

	second, err := e.HandleSessionInput(ctx, "user-1", "3x10 @50lb")
	if err != nil {
		t.Fatalf("first report error = %v", err)
	}
	if !strings.Contains(second, "push-up") {
		t.Errorf("second exercise prompt %q, want push-up", second)
	}

	final, err := e.HandleSessionInput(ctx, "user-1", "3x8")
	if err != nil {
		t.Fatalf("final report error = %v", err)
	}
	if !strings.Contains(final, "Great session") {
		t.Errorf("final reply %q missing the summary", final)
	}

	stored, _ = st.GetUser(ctx, "user-1")
	if stored.CurrentWorkout != nil {
		t.Error("current workout not cleared after completion")
	}
	if stored.Phase != models.PhaseTracking {
		t.Errorf("Phase = %q, want back to %q", stored.Phase, models.PhaseTracking)
	}
	if len(stored.WorkoutSessions) != 1 || stored.WorkoutSessions[0].Status != models.SessionCompleted {
		t.Fatalf("WorkoutSessions = %+v, want one completed session", stored.WorkoutSessions)
	}
	if len(stored.WorkoutSessions[0].Exercises) != 2 {
		t.Errorf("session results = %d, want 2", len(stored.WorkoutSessions[0].Exercises))
	}
	if got := stored.ExerciseHistory["squat"]; len(got) != 1 || got[0].Evaluation != models.EvaluationIncrease {
		t.Errorf("squat history = %+v, want one increase entry", got)
	}
	if e.Awaiting("user-1") {
		t.Error("engine still awaiting input after completion")
	}
}

func TestSetPhaseRejectsInvalidMove(t *testing.T) {
	st := store.NewInMemoryStore()
	e, _, _ := newTestEngine(st, &mockAI{})
	onboardedUser(t, st, "user-1")

	// The user is already tracking; re-entering tracking is not a legal move.
	err := e.setPhase(context.Background(), "user-1", models.PhaseTracking)
	if !errors.Is(err, models.ErrInvalidPhaseChange) {
		t.Fatalf("setPhase() error = %v, want ErrInvalidPhaseChange", err)
	}

	if err := e.setPhase(context.Background(), "user-1", models.PhaseWorkout); err != nil {
		t.Fatalf("setPhase(workout) error = %v", err)
	}
	stored, _ := st.GetUser(context.Background(), "user-1")
	if stored.Phase != models.PhaseWorkout {
		t.Errorf("Phase = %q, want %q", stored.Phase, models.PhaseWorkout)
	}
}

func TestSetPhaseMissingUser(t *testing.T) {
	st := store.NewInMemoryStore()
	e, _, _ := newTestEngine(st, &mockAI{})

	err := e.setPhase(context.Background(), "nobody", models.PhaseWorkout)
	if !errors.Is(err, models.ErrUserNotFound) {
		t.Fatalf("setPhase() error = %v, want ErrUserNotFound", err)
	}
}

func TestWorkoutStartRejectedMidSession(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{testPlanJSON}}
	e, _, _ := newTestEngine(st, ai)
	rec := onboardedUser(t, st, "user-1")

	if _, err := e.StartSession(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if _, err := e.StartSession(context.Background(), rec); !errors.Is(err, models.ErrSessionInProgress) {
		t.Errorf("second start error = %v, want ErrSessionInProgress", err)
	}
}

func TestWorkoutDeclineCancels(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{testPlanJSON}}
	e, _, _ := newTestEngine(st, ai)
	ctx := context.Background()
	rec := onboardedUser(t, st, "user-1")

	if _, err := e.StartSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	reply, err := e.HandleSessionInput(ctx, "user-1", "no thanks")
	if err != nil {
		t.Fatalf("decline error = %v", err)
	}
	if !strings.Contains(reply, "No problem") {
		t.Errorf("decline reply = %q", reply)
	}
	if e.Awaiting("user-1") {
		t.Error("session still active after decline")
	}
	stored, _ := st.GetUser(ctx, "user-1")
	if stored.CurrentWorkout != nil {
		t.Error("declined plan was persisted")
	}
}

func TestWorkoutConfirmationTimeout(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{testPlanJSON}}
	e, timer, sender := newTestEngine(st, ai)
	rec := onboardedUser(t, st, "user-1")

	if _, err := e.StartSession(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	timer.fire(t)

	if e.Awaiting("user-1") {
		t.Error("session still active after confirmation timeout")
	}
	if sender.count() != 1 {
		t.Errorf("timeout notifications = %d, want 1", sender.count())
	}
	stored, _ := st.GetUser(context.Background(), "user-1")
	if len(stored.WorkoutSessions) != 0 {
		t.Error("unconfirmed proposal recorded as a session")
	}
}

func TestWorkoutReportTimeoutAbandons(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{testPlanJSON, "maintain"}}
	e, timer, sender := newTestEngine(st, ai)
	ctx := context.Background()
	rec := onboardedUser(t, st, "user-1")

	if _, err := e.StartSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleSessionInput(ctx, "user-1", "yes"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleSessionInput(ctx, "user-1", "3x10 @50lb"); err != nil {
		t.Fatal(err)
	}
	// User never reports the second exercise.
	timer.fire(t)

	if e.Awaiting("user-1") {
		t.Error("session still active after report timeout")
	}
	stored, _ := st.GetUser(ctx, "user-1")
	if len(stored.WorkoutSessions) != 1 {
		t.Fatalf("WorkoutSessions = %d, want 1 abandoned record", len(stored.WorkoutSessions))
	}
	session := stored.WorkoutSessions[0]
	if session.Status != models.SessionIncomplete {
		t.Errorf("session status = %q, want incomplete", session.Status)
	}
	if len(session.Exercises) != 1 {
		t.Errorf("recorded exercises = %d, want the one completed before timeout", len(session.Exercises))
	}
	if stored.CurrentWorkout != nil {
		t.Error("current workout not cleared on abandonment")
	}
	if sender.count() != 1 {
		t.Errorf("timeout notifications = %d, want 1", sender.count())
	}
	// No summary call: plan + one classification only.
	if len(ai.prompts) != 2 {
		t.Errorf("model calls = %d, want 2 (no summary for abandoned session)", len(ai.prompts))
	}
}

func TestWorkoutEndEarly(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{testPlanJSON}}
	e, _, _ := newTestEngine(st, ai)
	ctx := context.Background()
	rec := onboardedUser(t, st, "user-1")

	if _, err := e.StartSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if _, err := e.HandleSessionInput(ctx, "user-1", "yes"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.EndSession(ctx, "user-1", false); err != nil {
		t.Fatalf("EndSession() error = %v", err)
	}

	stored, _ := st.GetUser(ctx, "user-1")
	if len(stored.WorkoutSessions) != 1 {
		t.Fatalf("WorkoutSessions = %d, want 1", len(stored.WorkoutSessions))
	}
	session := stored.WorkoutSessions[0]
	if session.Status != models.SessionIncomplete || session.Note != "ended early" {
		t.Errorf("session = %+v, want incomplete 'ended early'", session)
	}
	if stored.CurrentWorkout != nil {
		t.Error("current workout not cleared on early end")
	}
}

func TestWorkoutForcedEndRecordsNothing(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{testPlanJSON}}
	e, _, _ := newTestEngine(st, ai)
	ctx := context.Background()
	rec := onboardedUser(t, st, "user-1")

	if _, err := e.StartSession(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if _, err := e.EndSession(ctx, "user-1", true); err != nil {
		t.Fatalf("forced EndSession() error = %v", err)
	}
	stored, _ := st.GetUser(ctx, "user-1")
	if len(stored.WorkoutSessions) != 0 {
		t.Error("forced end recorded a session")
	}
}

func TestWorkoutPlanGenerationFallback(t *testing.T) {
	st := store.NewInMemoryStore()
	ai := &mockAI{replies: []string{"sorry, I can't produce JSON today"}}
	e, _, _ := newTestEngine(st, ai)
	rec := onboardedUser(t, st, "user-1")

	proposal, err := e.StartSession(context.Background(), rec)
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	for _, name := range []string{"squat", "push-up", "plank"} {
		if !strings.Contains(proposal, name) {
			t.Errorf("fallback proposal missing %q", name)
		}
	}
}
