package planner

import (
	"fmt"
	"strings"

	"github.com/harrison/overseer/internal/models"
)

// buildContextSection renders the ExecutorContext into the prompt preamble
// shared by every planner call.
func buildContextSection(ec models.ExecutorContext) string {
	var sb strings.Builder

	sb.WriteString("## Task\n")
	fmt.Fprintf(&sb, "Title: %s\n", ec.Task.Title)
	fmt.Fprintf(&sb, "Status: %s\n", ec.Task.StatusName)
	if ec.Task.Priority != "" {
		fmt.Fprintf(&sb, "Priority: %s\n", ec.Task.Priority)
	}
	if ec.Task.DueDate != nil {
		fmt.Fprintf(&sb, "Due: %s\n", ec.Task.DueDate.Format("2006-01-02"))
	}
	if len(ec.Task.Labels) > 0 {
		fmt.Fprintf(&sb, "Labels: %s\n", strings.Join(ec.Task.Labels, ", "))
	}
	sb.WriteString("\nDescription:\n")
	sb.WriteString(ec.Task.Description)
	sb.WriteString("\n")

	if len(ec.Task.Checklist) > 0 {
		sb.WriteString("\n## Checklist\n")
		for _, item := range ec.Task.Checklist {
			mark := " "
			if item.Completed {
				mark = "x"
			}
			fmt.Fprintf(&sb, "- [%s] %s\n", mark, item.Description)
		}
	}

	if len(ec.RecentActivity) > 0 {
		sb.WriteString("\n## Recent activity (oldest first)\n")
		for _, act := range ec.RecentActivity {
			if act.Type != "comment" {
				continue
			}
			who := act.UserID
			if who == ec.Agent.ID {
				who = "you (agent)"
			}
			fmt.Fprintf(&sb, "[%s] %s: %s\n", act.CreatedAt.Format("2006-01-02 15:04"), who, act.Comment)
		}
	}

	if ec.Memory.TaskAnalysis != "" {
		sb.WriteString("\n## Your previous analysis\n")
		sb.WriteString(ec.Memory.TaskAnalysis)
		sb.WriteString("\n")
	}
	if len(ec.Memory.QAPairs) > 0 {
		sb.WriteString("\n## Questions you asked earlier\n")
		for _, qa := range ec.Memory.QAPairs {
			answer := qa.Answer
			if answer == "" {
				answer = "(no answer yet)"
			}
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n", qa.Question, answer)
		}
	}

	sb.WriteString("\n## Execution policy\n")
	fmt.Fprintf(&sb, "Allowed actions: %s\n", strings.Join(ec.Policy.AllowedActions, ", "))
	if len(ec.Policy.AlwaysConfirmActions) > 0 {
		fmt.Fprintf(&sb, "Actions always requiring confirmation: %s\n", strings.Join(ec.Policy.AlwaysConfirmActions, ", "))
	}
	if len(ec.Integrations) > 0 {
		fmt.Fprintf(&sb, "Enabled integrations: %s\n", strings.Join(ec.Integrations, ", "))
	}

	return sb.String()
}

// buildAnalyzeAndPlanPrompt asks for analysis and an ordered plan in one call.
func buildAnalyzeAndPlanPrompt(ec models.ExecutorContext) string {
	var sb strings.Builder
	sb.WriteString(buildContextSection(ec))
	sb.WriteString("\n## Instructions\n")
	sb.WriteString("Analyze this task. Decide whether you can proceed or need clarification first. ")
	sb.WriteString("If you can proceed, produce an ordered plan of concrete steps using only the allowed actions. ")
	sb.WriteString("Assess each step's risk: high risk means the step is destructive, irreversible, externally visible, or costly. ")
	sb.WriteString("If earlier questions were answered in the activity feed, treat them as resolved. ")
	sb.WriteString("Respond with JSON matching the provided schema.\n")
	return sb.String()
}

// buildStepPrompt asks for execution of one plan step.
func buildStepPrompt(ec models.ExecutorContext, step models.PlanStep, priorOutcomes []StepOutcome) string {
	var sb strings.Builder
	sb.WriteString(buildContextSection(ec))
	if len(priorOutcomes) > 0 {
		sb.WriteString("\n## Completed steps this run\n")
		for _, o := range priorOutcomes {
			fmt.Fprintf(&sb, "- %s: %s\n", o.StepID, o.Result)
		}
	}
	sb.WriteString("\n## Current step\n")
	fmt.Fprintf(&sb, "Action: %s\n", step.Action)
	fmt.Fprintf(&sb, "Description: %s\n", step.Description)
	sb.WriteString("\nExecute this step now. Report success or failure with a short result. ")
	sb.WriteString("If the step was already done by an earlier run, report success and say so. ")
	sb.WriteString("Respond with JSON matching the provided schema.\n")
	return sb.String()
}

// buildCommentPrompt asks for a conversational rewrite of a comment.
func buildCommentPrompt(ec models.ExecutorContext, purpose, draft string) string {
	var sb strings.Builder
	sb.WriteString(buildContextSection(ec))
	sb.WriteString("\n## Instructions\n")
	fmt.Fprintf(&sb, "Draft a short task comment. Purpose: %s\n", purpose)
	sb.WriteString("Content to convey:\n")
	sb.WriteString(draft)
	sb.WriteString("\nKeep it friendly and concise. Respond with JSON matching the provided schema.\n")
	return sb.String()
}
