package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/overseer/internal/models"
)

// ClaudePlanner implements Planner on top of the Claude CLI.
type ClaudePlanner struct {
	inv *Invoker
}

// NewClaudePlanner creates a planner with the given per-call timeout.
func NewClaudePlanner(timeout time.Duration) *ClaudePlanner {
	inv := NewInvoker()
	inv.Timeout = timeout
	return &ClaudePlanner{inv: inv}
}

// NewClaudePlannerWithInvoker creates a planner sharing an existing Invoker.
func NewClaudePlannerWithInvoker(inv *Invoker) *ClaudePlanner {
	return &ClaudePlanner{inv: inv}
}

// AnalyzeAndPlan runs the combined analysis+planning call and normalizes
// the returned plan: ids assigned, orders made contiguous, statuses pending.
func (p *ClaudePlanner) AnalyzeAndPlan(ctx context.Context, ec models.ExecutorContext) (*PlanResult, error) {
	var result PlanResult
	if err := p.inv.InvokeAndParse(ctx, buildAnalyzeAndPlanPrompt(ec), AnalyzeAndPlanSchema(), &result); err != nil {
		return nil, fmt.Errorf("analyze and plan: %w", err)
	}

	for i := range result.Plan {
		result.Plan[i].ID = uuid.NewString()
		result.Plan[i].Order = i
		result.Plan[i].Status = models.StepPending
		if result.Plan[i].RiskLevel == "" {
			result.Plan[i].RiskLevel = models.RiskLow
		}
	}
	result.Plan = ApplyPolicyRisk(result.Plan, ec.Policy)

	return &result, nil
}

// ExecutePlan runs each pending/confirmed step in order as its own CLI
// invocation, reporting completion through onStepComplete after each.
// Already-completed steps are skipped, which makes full restarts after a
// partial failure safe.
func (p *ClaudePlanner) ExecutePlan(ctx context.Context, ec models.ExecutorContext, plan []models.PlanStep, onStepComplete StepCallback) (*ExecuteResult, error) {
	result := &ExecuteResult{Success: true}
	var outcomes []StepOutcome

	for _, step := range RunnableSteps(plan) {
		var stepResp struct {
			Status string `json:"status"`
			Result string `json:"result"`
		}
		err := p.inv.InvokeAndParse(ctx, buildStepPrompt(ec, step, outcomes), StepExecutionSchema(), &stepResp)
		if err == nil && stepResp.Status != "success" {
			err = fmt.Errorf("step reported failure: %s", stepResp.Result)
		}
		if err != nil {
			result.Success = false
			result.FailedStepID = step.ID
			result.Error = err.Error()
			result.Summary = fmt.Sprintf("failed at step %d (%s)", step.Order+1, step.Action)
			return result, nil
		}

		outcome := StepOutcome{StepID: step.ID, Result: stepResp.Result}
		outcomes = append(outcomes, outcome)
		result.CompletedStepIDs = append(result.CompletedStepIDs, step.ID)
		if onStepComplete != nil {
			onStepComplete(outcome)
		}
	}

	result.Summary = fmt.Sprintf("completed %d steps", len(result.CompletedStepIDs))
	return result, nil
}

// GenerateConfirmationComment drafts the sign-off request for high-risk
// steps. Falls back to a deterministic template when the CLI call fails so
// the confirmation flow never stalls on comment drafting.
func (p *ClaudePlanner) GenerateConfirmationComment(ctx context.Context, ec models.ExecutorContext, plan []models.PlanStep) (string, error) {
	draft := ConfirmationCommentFallback(plan)
	text, err := p.draftComment(ctx, ec, "ask for confirmation of the high-risk steps before executing", draft)
	if err != nil {
		return draft, nil
	}
	return text, nil
}

// GenerateProgressComment rewrites a progress note conversationally,
// falling back to the raw text on CLI failure.
func (p *ClaudePlanner) GenerateProgressComment(ctx context.Context, ec models.ExecutorContext, text string) (string, error) {
	drafted, err := p.draftComment(ctx, ec, "post a progress update", text)
	if err != nil {
		return text, nil
	}
	return drafted, nil
}

func (p *ClaudePlanner) draftComment(ctx context.Context, ec models.ExecutorContext, purpose, draft string) (string, error) {
	var resp struct {
		Comment string `json:"comment"`
	}
	if err := p.inv.InvokeAndParse(ctx, buildCommentPrompt(ec, purpose, draft), CommentSchema(), &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Comment) == "" {
		return "", fmt.Errorf("empty drafted comment")
	}
	return resp.Comment, nil
}

// ConfirmationCommentFallback is the deterministic confirmation request
// used when conversational drafting is unavailable.
func ConfirmationCommentFallback(plan []models.PlanStep) string {
	var sb strings.Builder
	sb.WriteString("I have a plan for this task, but some steps need your sign-off before I run them:\n\n")
	for _, step := range SortByOrder(plan) {
		if step.RiskLevel != models.RiskHigh || step.Status != models.StepPending {
			continue
		}
		fmt.Fprintf(&sb, "- Step %d: %s", step.Order+1, step.Description)
		if step.RiskReason != "" {
			fmt.Fprintf(&sb, " (%s)", step.RiskReason)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nReply with \"approve\" or \"reject\", either for everything or per step (e.g. \"approve step 2\").")
	return sb.String()
}
