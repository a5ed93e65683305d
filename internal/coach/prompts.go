package coach

import "fmt"

// SystemPersona is the fixed system prompt framing every model call.
const SystemPersona = `You are a compassionate fitness and habit coach. Help users build habits by:
1. Setting clear milestones based on their goals
2. Tracking daily progress and celebrating streaks
3. Providing encouragement with self-compassion when they face challenges
4. Celebrating their wins, no matter how small
5. Helping users overcome obstacles by understanding their challenges
Keep your responses concise and warm.`

// OnboardingPrompt is returned verbatim to a brand-new user.
const OnboardingPrompt = "Welcome! I'm your personal habit coach. What habit or fitness goal would you like to build? Please share your specific goals and what motivates you. " +
	"Also let me know what time you'd like me to check in with you daily (e.g. '9:00 PM') and your timezone, plus your experience level and any injuries or limitations I should know about."

// ReminderTemplate is the daily reminder message; the user's goal is interpolated.
const ReminderTemplate = "Hey! 👋 I noticed you haven't checked in about your habit today. How did it go with %s? Remember, I'm here to support you, not judge. Even small progress is worth celebrating! 🌟"

// RateLimitedReply is returned when the model provider rejects a call with a rate limit.
const RateLimitedReply = "I'm getting a lot of messages right now. Give me a minute and try again!"

// GenericApology is the single user-facing failure string for unexpected errors.
const GenericApology = "Sorry, something went wrong on my end. Please try again in a moment."

// streakMilestones maps streak lengths to fixed celebratory messages. A
// message is sent only when the new streak exactly equals a threshold.
var streakMilestones = map[int]string{
	3:  "🌱 3-day streak! You're building momentum!",
	7:  "🌟 One week streak! You're making this a part of your routine!",
	14: "🔥 Two week streak! Your commitment is inspiring!",
	21: "💫 21 days! You're well on your way to making this a lasting habit!",
	30: "🏆 30-day streak! What an amazing achievement!",
	60: "💎 60 days! This habit is truly part of who you are now!",
	90: "👑 90-day streak! Three months of dedication. Phenomenal!",
}

// MilestoneMessage returns the celebratory message for a streak length, or ""
// if the length is not a milestone.
func MilestoneMessage(streak int) string {
	return streakMilestones[streak]
}

// scheduleExtractionPrompt asks the model to pull reminder time and timezone
// out of the user's free-text onboarding reply. The output contract is a
// single pipe-delimited line.
func scheduleExtractionPrompt(text string) string {
	return fmt.Sprintf(`Extract the daily check-in time and timezone from the user's message.
Respond with EXACTLY one line in the format HH:MM|Timezone where HH:MM is 24-hour
time and Timezone is an IANA zone name (e.g. America/New_York).
If either is missing, use 20:00 for the time and America/Los_Angeles for the zone.
User message: %q`, text)
}

// profileExtractionPrompt pulls experience level and limitations out of the
// onboarding reply, pipe-delimited like the schedule extraction.
func profileExtractionPrompt(text string) string {
	return fmt.Sprintf(`Extract the user's fitness experience level and any physical limitations
from their message. Respond with EXACTLY one line in the format
experience|limitations, using "beginner" and "none" when unstated.
User message: %q`, text)
}

// milestonesPrompt asks the model for three milestones for the stated goal.
func milestonesPrompt(goal string) string {
	return fmt.Sprintf("Based on the user's habit goal: '%s', suggest 3 achievable milestones. Format as a list.", goal)
}

// classifierPrompt asks the model for a closed completed/incomplete judgment.
func classifierPrompt(text string) string {
	return fmt.Sprintf(`Did the user complete their habit today, based on this message?
Respond with exactly one word: "completed" or "incomplete".
User message: %q`, text)
}

// workoutPlanPrompt asks the model for a JSON workout plan.
func workoutPlanPrompt(goal, experience, limitations string) string {
	return fmt.Sprintf(`Create a workout plan for a user with goal: %q, experience level: %q,
limitations: %q. Respond with ONLY a JSON object in this exact shape:
{"warmup":"...","exercises":[{"name":"...","sets":3,"reps":10,"weight":"...","form_cues":"..."}],"cooldown":"..."}`,
		goal, experience, limitations)
}

// performancePrompt asks the model to judge a performance report against the plan.
func performancePrompt(planned, actual string) string {
	return fmt.Sprintf(`An exercise was planned as %q and the user reported %q.
Should the next session's difficulty change? Respond with exactly one word:
"decrease", "maintain" or "increase".`, planned, actual)
}

// sessionSummaryPrompt asks the model for an encouraging end-of-session summary.
func sessionSummaryPrompt(results string) string {
	return fmt.Sprintf(`The user just finished a workout session with these results:
%s
Write a short, encouraging summary of how the session went.`, results)
}

// workoutSummaryFallback is used when the summary generation fails.
const workoutSummaryFallback = "🎉 Workout complete! Great job showing up today. Every session counts!"

// onboardingWelcome composes the post-onboarding confirmation message.
func onboardingWelcome(goal, milestones, reminderTime string) string {
	return fmt.Sprintf("Thank you for sharing! I've noted your habit goal:\n\n'%s'\n\nHere are some milestones we can work toward:\n\n%s\n\nI'll check in with you daily at %s to track your progress. Remember, building habits takes time and self-compassion is key. How did you do with your habit today?",
		goal, milestones, reminderTime)
}
