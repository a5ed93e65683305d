// Package models defines the core data structures for HabitCoach.
//
// It includes the per-user coaching record, workout session types, and the
// validation errors shared across modules.
package models

import (
	"errors"
	"time"
)

// Layout constants for the date and wall-clock strings stored on user records.
const (
	// DateLayout is the calendar-date format used for check-in and progress keys.
	DateLayout = "2006-01-02"
	// ClockLayout is the 24h wall-clock format used for reminder times.
	ClockLayout = "15:04"
)

// Defaults applied when onboarding extraction fails or fields are missing.
const (
	// DefaultReminderTime is the reminder wall-clock time used when none is provided.
	DefaultReminderTime = "20:00"
	// DefaultTimezone is the IANA zone used when a user's timezone is absent or invalid.
	DefaultTimezone = "America/Los_Angeles"
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID         = errors.New("user id cannot be empty")
	ErrInvalidReminderTime = errors.New("reminder time must be in HH:MM 24-hour format")
	ErrUserNotFound        = errors.New("user record not found")
	ErrUserAlreadyExists   = errors.New("user record already exists")
	ErrSessionInProgress   = errors.New("a workout session is already in progress")
	ErrNoSessionInProgress = errors.New("no workout session is in progress")
	ErrInvalidPhaseChange  = errors.New("invalid coaching phase transition")
	ErrEmptyMessageBody    = errors.New("message body cannot be empty")
)

// Role identifies the author of a conversation history entry.
type Role string

const (
	// RoleUser marks an inbound user message.
	RoleUser Role = "user"
	// RoleAssistant marks a coach reply.
	RoleAssistant Role = "assistant"
)

// ConversationMessage is a single entry in a user's conversation history.
type ConversationMessage struct {
	Role    Role   `json:"role" bson:"role"`
	Content string `json:"content" bson:"content"`
	Date    string `json:"date" bson:"date"` // calendar date in DateLayout
}

// ProgressEntry records the completion judgment for one calendar day.
type ProgressEntry struct {
	Message   string `json:"message" bson:"message"`
	Completed bool   `json:"completed" bson:"completed"`
}

// Exercise is one planned exercise within a workout plan.
type Exercise struct {
	Name     string `json:"name" bson:"name"`
	Sets     int    `json:"sets" bson:"sets"`
	Reps     int    `json:"reps" bson:"reps"`
	Weight   string `json:"weight" bson:"weight"`
	FormCues string `json:"form_cues" bson:"form_cues"`
}

// WorkoutPlan is a generated session plan awaiting or undergoing execution.
type WorkoutPlan struct {
	Warmup    string     `json:"warmup" bson:"warmup"`
	Exercises []Exercise `json:"exercises" bson:"exercises"`
	Cooldown  string     `json:"cooldown" bson:"cooldown"`
}

// Evaluation classifies reported exercise performance against the plan.
type Evaluation string

const (
	EvaluationDecrease Evaluation = "decrease"
	EvaluationMaintain Evaluation = "maintain"
	EvaluationIncrease Evaluation = "increase"
)

// IsValidEvaluation checks if the given evaluation label is supported.
func IsValidEvaluation(e Evaluation) bool {
	switch e {
	case EvaluationDecrease, EvaluationMaintain, EvaluationIncrease:
		return true
	default:
		return false
	}
}

// ExercisePerformance is one dated performance record for a named exercise.
type ExercisePerformance struct {
	Date       string     `json:"date" bson:"date"`
	Planned    string     `json:"planned" bson:"planned"`
	Actual     string     `json:"actual" bson:"actual"`
	Evaluation Evaluation `json:"evaluation" bson:"evaluation"`
}

// SessionStatus marks how a workout session ended.
type SessionStatus string

const (
	// SessionCompleted indicates every exercise was reported.
	SessionCompleted SessionStatus = "completed"
	// SessionIncomplete indicates the session was abandoned or ended early.
	SessionIncomplete SessionStatus = "incomplete"
)

// ExerciseResult summarizes one exercise within a finished session.
type ExerciseResult struct {
	Name       string     `json:"name" bson:"name"`
	Planned    string     `json:"planned" bson:"planned"`
	Actual     string     `json:"actual" bson:"actual"`
	Evaluation Evaluation `json:"evaluation" bson:"evaluation"`
}

// WorkoutSession is a finished (completed or abandoned) workout session summary.
type WorkoutSession struct {
	ID        string           `json:"id" bson:"id"`
	Date      string           `json:"date" bson:"date"`
	Status    SessionStatus    `json:"status" bson:"status"`
	Exercises []ExerciseResult `json:"exercises" bson:"exercises"`
	Note      string           `json:"note,omitempty" bson:"note,omitempty"`
}

// UserRecord is the durable per-user coaching document, keyed by the
// canonicalized platform handle.
type UserRecord struct {
	UserID              string                           `json:"user_id" bson:"_id"`
	Phase               Phase                            `json:"phase" bson:"phase"`
	Onboarded           bool                             `json:"onboarded" bson:"onboarded"`
	Goal                string                           `json:"goal" bson:"goal"`
	Milestones          string                           `json:"milestones" bson:"milestones"`
	ExperienceLevel     string                           `json:"experience_level" bson:"experience_level"`
	Limitations         string                           `json:"limitations" bson:"limitations"`
	ReminderTime        string                           `json:"reminder_time" bson:"reminder_time"`
	Timezone            string                           `json:"timezone" bson:"timezone"`
	CurrentStreak       int                              `json:"current_streak" bson:"current_streak"`
	LongestStreak       int                              `json:"longest_streak" bson:"longest_streak"`
	LastCheckIn         string                           `json:"last_check_in" bson:"last_check_in"`
	LastReminderSent    string                           `json:"last_reminder_sent" bson:"last_reminder_sent"`
	ConversationHistory []ConversationMessage            `json:"conversation_history" bson:"conversation_history"`
	ProgressLog         map[string]ProgressEntry         `json:"progress_log" bson:"progress_log"`
	CurrentWorkout      *WorkoutPlan                     `json:"current_workout,omitempty" bson:"current_workout,omitempty"`
	WorkoutSessions     []WorkoutSession                 `json:"workout_sessions" bson:"workout_sessions"`
	ExerciseHistory     map[string][]ExercisePerformance `json:"exercise_history" bson:"exercise_history"`
	CreatedAt           time.Time                        `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time                        `json:"updated_at" bson:"updated_at"`
}

// NewUserRecord builds a fresh record with onboarding defaults for the given
// user id. The creation date seeds last_check_in and last_reminder_sent so a
// brand-new user is never reminded before finishing onboarding.
func NewUserRecord(userID, today string) UserRecord {
	now := time.Now()
	return UserRecord{
		UserID:           userID,
		Phase:            PhaseOnboarding,
		ReminderTime:     DefaultReminderTime,
		LastCheckIn:      today,
		LastReminderSent: today,
		ProgressLog:      make(map[string]ProgressEntry),
		ExerciseHistory:  make(map[string][]ExercisePerformance),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate performs basic integrity checks on a user record.
func (u *UserRecord) Validate() error {
	if u.UserID == "" {
		return ErrEmptyUserID
	}
	if u.ReminderTime != "" {
		if _, err := time.Parse(ClockLayout, u.ReminderTime); err != nil {
			return ErrInvalidReminderTime
		}
	}
	if u.LongestStreak < u.CurrentStreak {
		return errors.New("longest streak below current streak")
	}
	return nil
}

// Field name constants for partial document updates. These must match the
// json/bson tags on UserRecord so every store backend resolves them uniformly.
const (
	FieldPhase            = "phase"
	FieldOnboarded        = "onboarded"
	FieldGoal             = "goal"
	FieldMilestones       = "milestones"
	FieldExperienceLevel  = "experience_level"
	FieldLimitations      = "limitations"
	FieldReminderTime     = "reminder_time"
	FieldTimezone         = "timezone"
	FieldCurrentStreak    = "current_streak"
	FieldLongestStreak    = "longest_streak"
	FieldLastCheckIn      = "last_check_in"
	FieldLastReminderSent = "last_reminder_sent"
)
