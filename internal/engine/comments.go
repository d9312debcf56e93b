package engine

// Fallback comment texts. The planner normally rewrites these
// conversationally; these deterministic versions are what gets posted when
// drafting fails, so the engine never goes quiet on a blocking condition.

import (
	"fmt"
	"strings"

	"github.com/harrison/overseer/internal/models"
)

func questionsComment(questions []string) string {
	var sb strings.Builder
	sb.WriteString("Before I can start on this, I need a few answers:\n\n")
	for _, q := range questions {
		fmt.Fprintf(&sb, "- %s\n", q)
	}
	sb.WriteString("\nI'll pick this back up as soon as you reply.")
	return sb.String()
}

func startingWorkComment(plan []models.PlanStep) string {
	return fmt.Sprintf("Starting work on this task now: %d steps planned. I'll post updates here as I go.", len(plan))
}

func delegationComment(step models.PlanStep) string {
	return fmt.Sprintf(
		"One step of my plan needs a person: %s. I've added it to the checklist; once it's ticked off I'll continue with the rest.",
		step.Description)
}

func stepFailureComment(step *models.PlanStep, cause string) string {
	if step == nil {
		return fmt.Sprintf("I couldn't finish this task: %s. I've stopped here; please take a look.", cause)
	}
	return fmt.Sprintf(
		"I couldn't get past step %d (%s): %s. I've retried a few times without luck and stopped here; please take a look.",
		step.Order+1, step.Description, cause)
}

func completionComment(completed, skipped int, handedToReview bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Done: %d steps completed", completed)
	if skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", skipped)
	}
	sb.WriteString(".")
	if handedToReview {
		sb.WriteString(" I've moved the task to review for a final check.")
	}
	return sb.String()
}

func blockedReminderComment(questions []models.QAPair) string {
	var sb strings.Builder
	sb.WriteString("Just a nudge: I'm still waiting on answers before I can continue:\n\n")
	for _, qa := range questions {
		fmt.Fprintf(&sb, "- %s\n", qa.Question)
	}
	return sb.String()
}

func confirmationReminderComment() string {
	return "Still waiting on your sign-off for the high-risk steps above. Reply with \"approve\" or \"reject\" (optionally per step, e.g. \"approve step 2\") and I'll take it from there."
}

func apologyComment(cause string) string {
	return fmt.Sprintf("Sorry, I ran into a problem I couldn't recover from: %s. I've stopped working on this task; reassign it to me to try again.", cause)
}
