// Package planner defines the pluggable reasoning capability the engine
// delegates to: analyzing a task, producing a plan, executing it step by
// step, and drafting conversational comments.
package planner

import (
	"context"
	"sort"

	"github.com/harrison/overseer/internal/models"
)

// Analysis is the planner's assessment of whether the task can be worked.
type Analysis struct {
	// CanProceed is false when clarification is needed before planning.
	CanProceed bool `json:"canProceed"`

	// Questions to post on the task when CanProceed is false.
	Questions []string `json:"questions,omitempty"`

	// Summary of the task as the planner understood it.
	Summary string `json:"summary"`

	// Requirements extracted from the task description.
	Requirements []string `json:"requirements,omitempty"`

	// NeedsHumanHelp lists aspects the agent cannot do itself.
	NeedsHumanHelp []string `json:"needsHumanHelp,omitempty"`
}

// PlanResult is the combined output of a single analyze+plan call.
type PlanResult struct {
	Analysis          Analysis          `json:"analysis"`
	Plan              []models.PlanStep `json:"plan"`
	EstimatedDuration string            `json:"estimatedDuration,omitempty"`
	Warnings          []string          `json:"warnings,omitempty"`
}

// StepOutcome reports one finished step during plan execution.
type StepOutcome struct {
	StepID string
	Result string
}

// StepCallback is invoked after each step completes so the caller can
// checkpoint progress. Execution continues even if persisting fails; the
// planner is idempotent against already-completed steps on restart.
type StepCallback func(outcome StepOutcome)

// ExecuteResult is the outcome of a unified plan run.
type ExecuteResult struct {
	Success          bool     `json:"success"`
	CompletedStepIDs []string `json:"completedStepIds,omitempty"`
	FailedStepID     string   `json:"failedStepId,omitempty"`
	Error            string   `json:"error,omitempty"`
	Summary          string   `json:"summary,omitempty"`
}

// Planner is the external reasoning capability. Implementations must be
// idempotent with respect to already-completed steps: ExecutePlan may be
// re-invoked from the top after a partial failure.
type Planner interface {
	// AnalyzeAndPlan analyzes the task and produces an ordered plan in one
	// call.
	AnalyzeAndPlan(ctx context.Context, ec models.ExecutorContext) (*PlanResult, error)

	// ExecutePlan runs all pending/confirmed steps in order, invoking
	// onStepComplete after each.
	ExecutePlan(ctx context.Context, ec models.ExecutorContext, plan []models.PlanStep, onStepComplete StepCallback) (*ExecuteResult, error)

	// GenerateConfirmationComment drafts the comment asking a human to sign
	// off on high-risk steps.
	GenerateConfirmationComment(ctx context.Context, ec models.ExecutorContext, plan []models.PlanStep) (string, error)

	// GenerateProgressComment rewrites a progress note conversationally.
	GenerateProgressComment(ctx context.Context, ec models.ExecutorContext, text string) (string, error)
}

// PlanRequiresConfirmation reports whether any step still needs human
// sign-off before the plan may run.
func PlanRequiresConfirmation(plan []models.PlanStep) bool {
	for _, step := range plan {
		if step.RiskLevel == models.RiskHigh && step.Status == models.StepPending {
			return true
		}
	}
	return false
}

// IsPlanReadyToExecute reports whether all high-risk steps have been
// resolved (confirmed or rejected).
func IsPlanReadyToExecute(plan []models.PlanStep) bool {
	return !PlanRequiresConfirmation(plan)
}

// ApplyPolicyRisk escalates steps whose action the policy always requires
// confirmation for, regardless of the planner's own risk assessment.
func ApplyPolicyRisk(plan []models.PlanStep, policy models.ExecutionPolicy) []models.PlanStep {
	for i := range plan {
		if plan[i].RiskLevel != models.RiskHigh && policy.RequiresConfirmation(plan[i].Action) {
			plan[i].RiskLevel = models.RiskHigh
			if plan[i].RiskReason == "" {
				plan[i].RiskReason = "action requires confirmation by team policy"
			}
		}
	}
	return plan
}

// RunnableSteps returns the steps ExecutePlan would attempt, in order:
// pending or confirmed, skipping completed, failed, rejected, skipped.
func RunnableSteps(plan []models.PlanStep) []models.PlanStep {
	var out []models.PlanStep
	for _, step := range SortByOrder(plan) {
		if step.Status == models.StepPending || step.Status == models.StepConfirmed {
			out = append(out, step)
		}
	}
	return out
}

// SortByOrder returns a copy of the plan sorted ascending by Order.
func SortByOrder(plan []models.PlanStep) []models.PlanStep {
	out := make([]models.PlanStep, len(plan))
	copy(out, plan)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
