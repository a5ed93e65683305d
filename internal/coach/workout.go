package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/habitcoach/habitcoach/internal/genai"
	"github.com/habitcoach/habitcoach/internal/models"
	"github.com/habitcoach/habitcoach/internal/store"
)

// Workout timeout defaults. Confirmation is a short wait; an exercise report
// can take as long as the exercise itself.
const (
	DefaultConfirmTimeout = 2 * time.Minute
	DefaultReportTimeout  = 30 * time.Minute
)

// workoutSession is the in-memory state of one user's interactive session.
type workoutSession struct {
	id      string
	state   models.SessionState
	plan    models.WorkoutPlan
	index   int
	results []models.ExerciseResult
	date    string
	timerID string
}

// WorkoutEngine drives the interactive workout session flow: plan proposal,
// yes/no confirmation, per-exercise performance reports with bounded waits,
// and session completion or abandonment.
type WorkoutEngine struct {
	store  store.Store
	ai     genai.ClientInterface
	timer  Timer
	sender MessageSender
	now    func() time.Time

	confirmTimeout time.Duration
	reportTimeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*workoutSession
}

// WorkoutOption configures the workout engine.
type WorkoutOption func(*WorkoutEngine)

// WithConfirmTimeout overrides the plan confirmation wait.
func WithConfirmTimeout(d time.Duration) WorkoutOption {
	return func(e *WorkoutEngine) { e.confirmTimeout = d }
}

// WithReportTimeout overrides the per-exercise report wait.
func WithReportTimeout(d time.Duration) WorkoutOption {
	return func(e *WorkoutEngine) { e.reportTimeout = d }
}

// NewWorkoutEngine creates a workout engine.
func NewWorkoutEngine(st store.Store, ai genai.ClientInterface, timer Timer, sender MessageSender, opts ...WorkoutOption) *WorkoutEngine {
	e := &WorkoutEngine{
		store:          st,
		ai:             ai,
		timer:          timer,
		sender:         sender,
		now:            time.Now,
		confirmTimeout: DefaultConfirmTimeout,
		reportTimeout:  DefaultReportTimeout,
		sessions:       make(map[string]*workoutSession),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Awaiting reports whether the user has an interactive session expecting
// their next message.
func (e *WorkoutEngine) Awaiting(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sessions[userID]
	return ok
}

// StartSession proposes a workout plan and waits for confirmation. It fails
// with models.ErrSessionInProgress if a session is already active.
func (e *WorkoutEngine) StartSession(ctx context.Context, rec *models.UserRecord) (string, error) {
	e.mu.Lock()
	if _, exists := e.sessions[rec.UserID]; exists {
		e.mu.Unlock()
		return "", models.ErrSessionInProgress
	}
	e.mu.Unlock()

	plan, err := e.generatePlan(ctx, rec)
	if err != nil {
		return "", err
	}

	sess := &workoutSession{
		id:    uuid.NewString(),
		state: models.SessionStatePlanProposed,
		plan:  *plan,
		date:  e.now().Format(models.DateLayout),
	}
	timerID, err := e.timer.ScheduleAfter(e.confirmTimeout, func() {
		e.confirmTimedOut(rec.UserID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to schedule confirmation timeout: %w", err)
	}
	sess.timerID = timerID

	e.mu.Lock()
	e.sessions[rec.UserID] = sess
	e.mu.Unlock()

	slog.Info("WorkoutEngine.StartSession: plan proposed", "userID", rec.UserID,
		"exercises", len(plan.Exercises), "sessionID", sess.id)
	return presentPlan(plan), nil
}

// HandleSessionInput routes a non-command message into the active session.
func (e *WorkoutEngine) HandleSessionInput(ctx context.Context, userID, text string) (string, error) {
	e.mu.Lock()
	sess, ok := e.sessions[userID]
	if !ok {
		e.mu.Unlock()
		return "", models.ErrNoSessionInProgress
	}
	state := sess.state
	e.mu.Unlock()

	switch state {
	case models.SessionStatePlanProposed:
		return e.handleConfirmation(ctx, userID, sess, text)
	case models.SessionStateInProgress:
		return e.handleReport(ctx, userID, sess, text)
	default:
		return "", models.ErrNoSessionInProgress
	}
}

// EndSession ends an active session early. Unless forced (used by reset), an
// incomplete session record with the note "ended early" is persisted.
func (e *WorkoutEngine) EndSession(ctx context.Context, userID string, forced bool) (string, error) {
	e.mu.Lock()
	sess, ok := e.sessions[userID]
	if !ok {
		e.mu.Unlock()
		return "", models.ErrNoSessionInProgress
	}
	delete(e.sessions, userID)
	e.mu.Unlock()
	_ = e.timer.Cancel(sess.timerID)

	if forced {
		slog.Debug("WorkoutEngine.EndSession: forced end", "userID", userID, "sessionID", sess.id)
		return "", nil
	}

	if sess.state == models.SessionStateInProgress {
		record := models.WorkoutSession{
			ID:        sess.id,
			Date:      sess.date,
			Status:    models.SessionIncomplete,
			Exercises: []models.ExerciseResult{},
			Note:      "ended early",
		}
		if err := e.store.AppendWorkoutSession(ctx, userID, record); err != nil {
			return "", fmt.Errorf("failed to record ended session for user %s: %w", userID, err)
		}
		if err := e.clearWorkoutState(ctx, userID); err != nil {
			return "", err
		}
	}
	slog.Info("WorkoutEngine.EndSession: session ended early", "userID", userID, "sessionID", sess.id)
	return "Workout ended. Rest up, and we'll pick it back up next time! 💪", nil
}

// Stop cancels all session timers.
func (e *WorkoutEngine) Stop() {
	e.timer.Stop()
}

func (e *WorkoutEngine) handleConfirmation(ctx context.Context, userID string, sess *workoutSession, text string) (string, error) {
	_ = e.timer.Cancel(sess.timerID)

	if !isAffirmative(text) {
		e.mu.Lock()
		delete(e.sessions, userID)
		e.mu.Unlock()
		slog.Debug("WorkoutEngine.handleConfirmation: plan declined", "userID", userID)
		return "No problem! Say !workout start whenever you're ready.", nil
	}

	if err := e.store.SetCurrentWorkout(ctx, userID, &sess.plan); err != nil {
		return "", fmt.Errorf("failed to persist workout plan for user %s: %w", userID, err)
	}
	if err := e.setPhase(ctx, userID, models.PhaseWorkout); err != nil {
		return "", fmt.Errorf("failed to enter workout phase for user %s: %w", userID, err)
	}

	e.mu.Lock()
	sess.state = models.SessionStateInProgress
	sess.index = 0
	e.mu.Unlock()

	timerID, err := e.timer.ScheduleAfter(e.reportTimeout, func() {
		e.reportTimedOut(userID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to schedule report timeout: %w", err)
	}
	e.mu.Lock()
	sess.timerID = timerID
	e.mu.Unlock()

	slog.Info("WorkoutEngine.handleConfirmation: session started", "userID", userID, "sessionID", sess.id)
	return "Let's go! 🏋️\n\n" + presentExercise(&sess.plan, 0), nil
}

func (e *WorkoutEngine) handleReport(ctx context.Context, userID string, sess *workoutSession, text string) (string, error) {
	_ = e.timer.Cancel(sess.timerID)

	ex := sess.plan.Exercises[sess.index]
	planned := plannedString(ex)
	evaluation := e.classifyPerformance(ctx, planned, text)

	perf := models.ExercisePerformance{
		Date:       sess.date,
		Planned:    planned,
		Actual:     text,
		Evaluation: evaluation,
	}
	if err := e.store.AppendExercisePerformance(ctx, userID, ex.Name, perf); err != nil {
		return "", fmt.Errorf("failed to record performance for user %s: %w", userID, err)
	}

	e.mu.Lock()
	sess.results = append(sess.results, models.ExerciseResult{
		Name:       ex.Name,
		Planned:    planned,
		Actual:     text,
		Evaluation: evaluation,
	})
	sess.index++
	done := sess.index >= len(sess.plan.Exercises)
	e.mu.Unlock()

	if done {
		return e.completeSession(ctx, userID, sess)
	}

	timerID, err := e.timer.ScheduleAfter(e.reportTimeout, func() {
		e.reportTimedOut(userID)
	})
	if err != nil {
		return "", fmt.Errorf("failed to schedule report timeout: %w", err)
	}
	e.mu.Lock()
	sess.timerID = timerID
	idx := sess.index
	e.mu.Unlock()

	return "Logged! ✅\n\n" + presentExercise(&sess.plan, idx), nil
}

func (e *WorkoutEngine) completeSession(ctx context.Context, userID string, sess *workoutSession) (string, error) {
	e.mu.Lock()
	delete(e.sessions, userID)
	results := sess.results
	e.mu.Unlock()

	record := models.WorkoutSession{
		ID:        sess.id,
		Date:      sess.date,
		Status:    models.SessionCompleted,
		Exercises: results,
	}
	if err := e.store.AppendWorkoutSession(ctx, userID, record); err != nil {
		return "", fmt.Errorf("failed to record session for user %s: %w", userID, err)
	}
	if err := e.clearWorkoutState(ctx, userID); err != nil {
		return "", err
	}

	summary := e.summarize(ctx, results)
	slog.Info("WorkoutEngine.completeSession: session completed", "userID", userID,
		"sessionID", sess.id, "exercises", len(results))
	return "Don't forget your cooldown: " + sess.plan.Cooldown + "\n\n" + summary, nil
}

// confirmTimedOut drops an unconfirmed plan proposal.
func (e *WorkoutEngine) confirmTimedOut(userID string) {
	e.mu.Lock()
	sess, ok := e.sessions[userID]
	if !ok || sess.state != models.SessionStatePlanProposed {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, userID)
	e.mu.Unlock()

	slog.Info("WorkoutEngine.confirmTimedOut: plan proposal expired", "userID", userID, "sessionID", sess.id)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.sender.SendMessage(ctx, userID, "No confirmation received, so I've cancelled the workout. Say !workout start when you're ready!"); err != nil {
		slog.Error("WorkoutEngine.confirmTimedOut: notification failed", "error", err, "userID", userID)
	}
}

// reportTimedOut abandons an in-progress session, persisting what was done
// so far as incomplete.
func (e *WorkoutEngine) reportTimedOut(userID string) {
	e.mu.Lock()
	sess, ok := e.sessions[userID]
	if !ok || sess.state != models.SessionStateInProgress {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, userID)
	results := sess.results
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record := models.WorkoutSession{
		ID:        sess.id,
		Date:      sess.date,
		Status:    models.SessionIncomplete,
		Exercises: results,
		Note:      "abandoned after timeout",
	}
	if err := e.store.AppendWorkoutSession(ctx, userID, record); err != nil {
		slog.Error("WorkoutEngine.reportTimedOut: failed to record abandoned session", "error", err, "userID", userID)
	}
	if err := e.clearWorkoutState(ctx, userID); err != nil {
		slog.Error("WorkoutEngine.reportTimedOut: failed to clear workout state", "error", err, "userID", userID)
	}

	slog.Info("WorkoutEngine.reportTimedOut: session abandoned", "userID", userID,
		"sessionID", sess.id, "completedExercises", len(results))
	if err := e.sender.SendMessage(ctx, userID, "Looks like the workout got interrupted, so I've saved what you finished. See you next session!"); err != nil {
		slog.Error("WorkoutEngine.reportTimedOut: notification failed", "error", err, "userID", userID)
	}
}

func (e *WorkoutEngine) clearWorkoutState(ctx context.Context, userID string) error {
	if err := e.store.SetCurrentWorkout(ctx, userID, nil); err != nil {
		return fmt.Errorf("failed to clear workout for user %s: %w", userID, err)
	}
	if err := e.setPhase(ctx, userID, models.PhaseTracking); err != nil {
		return fmt.Errorf("failed to leave workout phase for user %s: %w", userID, err)
	}
	return nil
}

// setPhase re-reads the user record and applies a validated phase transition.
func (e *WorkoutEngine) setPhase(ctx context.Context, userID string, to models.Phase) error {
	rec, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		return models.ErrUserNotFound
	}
	if err := rec.TransitionPhase(to); err != nil {
		return err
	}
	return e.store.SetFields(ctx, userID, map[string]interface{}{
		models.FieldPhase: rec.Phase,
	})
}

// generatePlan asks the model for a plan and falls back to a fixed one when
// the output cannot be parsed. Rate limits propagate so the user gets the
// retry-later message.
func (e *WorkoutEngine) generatePlan(ctx context.Context, rec *models.UserRecord) (*models.WorkoutPlan, error) {
	raw, err := e.ai.GeneratePrompt(ctx, SystemPersona,
		workoutPlanPrompt(rec.Goal, rec.ExperienceLevel, rec.Limitations))
	if err != nil {
		if errors.Is(err, genai.ErrRateLimited) {
			return nil, err
		}
		slog.Warn("WorkoutEngine.generatePlan: generation failed, using fallback plan", "error", err, "userID", rec.UserID)
		return fallbackPlan(), nil
	}
	plan, err := parsePlan(raw)
	if err != nil {
		slog.Warn("WorkoutEngine.generatePlan: unparseable plan, using fallback", "error", err, "userID", rec.UserID)
		return fallbackPlan(), nil
	}
	validatePlan(plan)
	return plan, nil
}

// classifyPerformance asks the model for a decrease/maintain/increase
// judgment, falling back to a deterministic numeric parse of the report.
func (e *WorkoutEngine) classifyPerformance(ctx context.Context, planned, actual string) models.Evaluation {
	raw, err := e.ai.GeneratePrompt(ctx, SystemPersona, performancePrompt(planned, actual))
	if err == nil {
		ev := models.Evaluation(strings.ToLower(strings.TrimSpace(raw)))
		if models.IsValidEvaluation(ev) {
			return ev
		}
	}
	return classifyNumeric(planned, actual)
}

func (e *WorkoutEngine) summarize(ctx context.Context, results []models.ExerciseResult) string {
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s: planned %s, did %s (%s)\n", r.Name, r.Planned, r.Actual, r.Evaluation)
	}
	summary, err := e.ai.GeneratePrompt(ctx, SystemPersona, sessionSummaryPrompt(b.String()))
	if err != nil {
		slog.Warn("WorkoutEngine.summarize: summary generation failed, using fallback", "error", err)
		return workoutSummaryFallback
	}
	return summary
}

// parsePlan decodes the model's JSON plan, tolerating surrounding prose by
// extracting the first top-level JSON object.
func parsePlan(raw string) (*models.WorkoutPlan, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in plan output")
	}
	var plan models.WorkoutPlan
	if err := json.Unmarshal([]byte(raw[start:end+1]), &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &plan, nil
}

// validatePlan fills any missing plan fields with defaults so stored plans
// are always complete.
func validatePlan(plan *models.WorkoutPlan) {
	if plan.Warmup == "" {
		plan.Warmup = "5 minutes of light cardio and dynamic stretching"
	}
	if plan.Cooldown == "" {
		plan.Cooldown = "5 minutes of walking and static stretching"
	}
	if len(plan.Exercises) == 0 {
		plan.Exercises = fallbackPlan().Exercises
	}
	for i := range plan.Exercises {
		ex := &plan.Exercises[i]
		if ex.Name == "" {
			ex.Name = fmt.Sprintf("exercise %d", i+1)
		}
		if ex.Sets <= 0 {
			ex.Sets = 3
		}
		if ex.Reps <= 0 {
			ex.Reps = 10
		}
		if ex.Weight == "" {
			ex.Weight = "bodyweight"
		}
		if ex.FormCues == "" {
			ex.FormCues = "controlled tempo, full range of motion"
		}
	}
}

// fallbackPlan is used when the model cannot produce a usable plan.
func fallbackPlan() *models.WorkoutPlan {
	return &models.WorkoutPlan{
		Warmup: "5 minutes of light cardio and dynamic stretching",
		Exercises: []models.Exercise{
			{Name: "squat", Sets: 3, Reps: 10, Weight: "bodyweight", FormCues: "chest up, knees tracking over toes"},
			{Name: "push-up", Sets: 3, Reps: 10, Weight: "bodyweight", FormCues: "straight line from head to heels"},
			{Name: "plank", Sets: 3, Reps: 1, Weight: "bodyweight", FormCues: "hold 30 seconds, brace your core"},
		},
		Cooldown: "5 minutes of walking and static stretching",
	}
}

var reportPattern = regexp.MustCompile(`(\d+)\s*[xX]\s*(\d+)`)

// classifyNumeric is the deterministic fallback: parse "<sets>x<reps>" out of
// both strings and threshold the completed volume percentage.
func classifyNumeric(planned, actual string) models.Evaluation {
	plannedVol, ok := reportVolume(planned)
	if !ok || plannedVol == 0 {
		return models.EvaluationMaintain
	}
	actualVol, ok := reportVolume(actual)
	if !ok {
		return models.EvaluationMaintain
	}
	pct := float64(actualVol) / float64(plannedVol) * 100
	switch {
	case pct < 70:
		return models.EvaluationDecrease
	case pct > 90:
		return models.EvaluationIncrease
	default:
		return models.EvaluationMaintain
	}
}

func reportVolume(s string) (int, bool) {
	m := reportPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	sets, err1 := strconv.Atoi(m[1])
	reps, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return sets * reps, true
}

func isAffirmative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y", "yeah", "yep", "sure", "ok", "okay", "let's go", "lets go":
		return true
	}
	return false
}

func plannedString(ex models.Exercise) string {
	return fmt.Sprintf("%dx%d @%s", ex.Sets, ex.Reps, ex.Weight)
}

func presentPlan(plan *models.WorkoutPlan) string {
	var b strings.Builder
	b.WriteString("Here's today's workout plan! 💪\n\n")
	fmt.Fprintf(&b, "Warmup: %s\n\n", plan.Warmup)
	for i, ex := range plan.Exercises {
		fmt.Fprintf(&b, "%d. %s — %s\n   Form: %s\n", i+1, ex.Name, plannedString(ex), ex.FormCues)
	}
	fmt.Fprintf(&b, "\nCooldown: %s\n\nReady to start? Reply yes to begin or no to cancel.", plan.Cooldown)
	return b.String()
}

func presentExercise(plan *models.WorkoutPlan, idx int) string {
	ex := plan.Exercises[idx]
	return fmt.Sprintf("Exercise %d of %d: %s — %s\nForm: %s\n\nWhen you're done, tell me how it went (e.g. '3x8 @50lb').",
		idx+1, len(plan.Exercises), ex.Name, plannedString(ex), ex.FormCues)
}
