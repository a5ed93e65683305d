// Package models defines the coaching phase variant for HabitCoach users.
package models

import "fmt"

// Phase is the explicit per-user coaching state. Exactly one phase holds at a
// time; transition validity is enforced by CanTransition rather than by flag
// combinations scattered across handlers.
type Phase string

const (
	// PhaseOnboarding covers first contact until the goal and schedule are captured.
	PhaseOnboarding Phase = "onboarding"
	// PhaseTracking is the steady state of daily check-ins and streak upkeep.
	PhaseTracking Phase = "tracking"
	// PhaseWorkout is active while an interactive workout session is running.
	PhaseWorkout Phase = "workout"
)

// IsValidPhase checks if the given phase is supported.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseOnboarding, PhaseTracking, PhaseWorkout:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one phase to another is legal.
// Onboarding completes into tracking, tracking and workout toggle as sessions
// start and finish, and any phase may restart onboarding on a full reset.
func CanTransition(from, to Phase) bool {
	switch from {
	case PhaseOnboarding:
		return to == PhaseTracking || to == PhaseOnboarding
	case PhaseTracking:
		return to == PhaseWorkout || to == PhaseOnboarding
	case PhaseWorkout:
		return to == PhaseTracking || to == PhaseOnboarding
	default:
		return false
	}
}

// TransitionPhase moves the record into a new phase. Moves CanTransition
// does not allow fail with ErrInvalidPhaseChange and leave the record
// untouched.
func (u *UserRecord) TransitionPhase(to Phase) error {
	if !CanTransition(u.Phase, to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidPhaseChange, u.Phase, to)
	}
	u.Phase = to
	return nil
}

// SessionState tracks the progress of an interactive workout session.
type SessionState string

const (
	// SessionStatePlanProposed means a plan was presented and awaits confirmation.
	SessionStatePlanProposed SessionState = "PLAN_PROPOSED"
	// SessionStateInProgress means the user is working through exercises.
	SessionStateInProgress SessionState = "IN_PROGRESS"
)
