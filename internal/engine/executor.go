package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/planner"
	"github.com/harrison/overseer/internal/store"
)

// Markers that force human delegation regardless of policy: if a step's
// action or description names one of these, the agent never runs it.
var humanOnlyMarkers = []string{
	"manual_task",
	"physical_action",
	"approval_required",
	"external_system",
}

// HandleExecution runs an approved plan to completion. It checkpoints each
// finished step, delegates human-only steps to checklist items, retries
// transient failures with fixed backoff, and finalizes the task on success
// or failure. Unexpected errors become a terminal failed execution; an
// execution is never left in executing beyond its original trigger.
func (e *Engine) HandleExecution(ctx context.Context, req ExecutionRequest) (*Result, error) {
	exec, err := e.store.GetTaskExecutionByID(ctx, req.ExecutionID)
	if errors.Is(err, store.ErrNotFound) {
		return skipped(ReasonTaskNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	if exec.Status.IsTerminal() {
		return skipped(ReasonAlreadyTerminal), nil
	}

	agent, err := e.identity.GetSystemUser(ctx)
	if err != nil || agent == nil {
		return skipped(ReasonAgentUnavailable), nil
	}

	result, handlerErr := e.runPlan(ctx, req, *agent, exec)
	if handlerErr != nil {
		e.log.LogError(fmt.Sprintf("plan executor execution=%s: %v", exec.ID, handlerErr))
		e.failExecution(ctx, exec, *agent, handlerErr.Error())
		return &Result{Outcome: OutcomeFailed, Reason: "executor_error"}, nil
	}
	return result, nil
}

func (e *Engine) runPlan(ctx context.Context, req ExecutionRequest, agent models.AgentUser, exec *models.TaskExecution) (*Result, error) {
	now := e.clock()

	task, err := e.tasks.GetTaskByID(ctx, exec.TaskID)
	if errors.Is(err, ErrTaskNotFound) {
		return nil, errors.New("task was deleted while execution was pending")
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	if exec.Status == models.StatusAwaitingConfirmation && !planner.IsPlanReadyToExecute(exec.Plan) {
		return &Result{Outcome: OutcomeBlocked, Reason: ReasonWaitingForConfirmation}, nil
	}

	// Pre-flight re-check: a confirmation and execution trigger can race,
	// so a pending high-risk step found here reverts to waiting.
	if planner.PlanRequiresConfirmation(exec.Plan) {
		awaiting := models.StatusAwaitingConfirmation
		nextCheck := now.Add(ConfirmationCheckInterval)
		if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
			Status:      &awaiting,
			NextCheckAt: &nextCheck,
		}); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeAwaitingConfirmation, Reason: "unconfirmed_steps_found"}, nil
	}

	policy, err := e.policy.GetAgentExecutionPolicy(ctx, exec.TeamID)
	if err != nil {
		return nil, fmt.Errorf("load execution policy: %w", err)
	}

	if result, err := e.delegateHumanSteps(ctx, agent, exec, policy); err != nil || result != nil {
		return result, err
	}

	if req.ResumeFromStep != nil {
		e.log.LogInfo(fmt.Sprintf("resuming execution %s from step %d", exec.ID, *req.ResumeFromStep))
	}

	executing := models.StatusExecuting
	patch := store.ExecutionPatch{Status: &executing, ClearNextCheckAt: true}
	if exec.StartedAt == nil {
		patch.StartedAt = &now
	}
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, patch); err != nil {
		return nil, err
	}

	comments, err := e.taskComments(ctx, exec.TaskID, exec.TeamID)
	if err != nil {
		return nil, err
	}
	ec := e.buildContext(ctx, task, agent, exec, policy, comments)

	// Unified agentic run over all runnable steps. Each completion is
	// persisted immediately so a crash mid-plan resumes where it left off.
	runRes, runErr := e.planner.ExecutePlan(ctx, ec, exec.Plan, func(outcome planner.StepOutcome) {
		e.checkpointStep(ctx, exec, outcome)
	})
	if runErr != nil {
		runRes = &planner.ExecuteResult{Success: false, Error: runErr.Error()}
	}

	if !runRes.Success {
		return e.handleRunFailure(ctx, agent, exec, runRes)
	}
	return e.finalizeSuccess(ctx, agent, task, exec, policy, ec)
}

// delegateHumanSteps scans non-terminal steps in order and hands the first
// human-only step off as a checklist item, blocking the execution. Steps
// whose delegated subtask has since been completed are marked done here so
// a resume does not re-delegate them.
func (e *Engine) delegateHumanSteps(ctx context.Context, agent models.AgentUser, exec *models.TaskExecution, policy models.ExecutionPolicy) (*Result, error) {
	now := e.clock()
	for _, step := range planner.SortByOrder(exec.Plan) {
		if step.Status.IsTerminal() {
			continue
		}
		if !isHumanDelegated(step, policy) {
			continue
		}

		if subtask := findSubtask(exec.Memory.HumanSubtasks, step.Description); subtask != nil {
			if subtask.Completed {
				done := models.StepCompleted
				doneResult := "completed by a human via the task checklist"
				if err := e.store.UpdateTaskExecutionPlanStep(ctx, exec.ID, step.ID, store.StepPatch{
					Status:     &done,
					Result:     &doneResult,
					ExecutedAt: &now,
				}); err != nil {
					return nil, err
				}
				if local := exec.StepByOrder(step.Order); local != nil {
					local.Status = models.StepCompleted
				}
				continue
			}
			// Already delegated and still open; stay blocked quietly.
			return e.blockOnDelegation(ctx, exec, step, false)
		}

		item, err := e.checklist.CreateChecklistItem(ctx, exec.TaskID, exec.TeamID, step.Description)
		if err != nil {
			return nil, fmt.Errorf("create checklist item: %w", err)
		}
		if err := e.store.AddHumanSubtaskToMemory(ctx, exec.ID, models.HumanSubtask{
			ChecklistItemID: item.ID,
			Description:     step.Description,
		}); err != nil {
			return nil, err
		}

		pending := models.StepPending
		note := "delegated to a human; waiting on the checklist item"
		if err := e.store.UpdateTaskExecutionPlanStep(ctx, exec.ID, step.ID, store.StepPatch{
			Status: &pending,
			Result: &note,
		}); err != nil {
			return nil, err
		}

		if _, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, delegationComment(step)); err != nil {
			return nil, err
		}
		return e.blockOnDelegation(ctx, exec, step, true)
	}
	return nil, nil
}

func (e *Engine) blockOnDelegation(ctx context.Context, exec *models.TaskExecution, step models.PlanStep, fresh bool) (*Result, error) {
	now := e.clock()
	blocked := models.StatusBlocked
	nextCheck := now.Add(DelegationCheckInterval)
	stepOrder := step.Order
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
		Status:           &blocked,
		CurrentStepIndex: &stepOrder,
		NextCheckAt:      &nextCheck,
	}); err != nil {
		return nil, err
	}
	reason := "waiting_for_human_subtask"
	if fresh {
		reason = "step_delegated_to_human"
	}
	return &Result{Outcome: OutcomeBlocked, Reason: reason}, nil
}

// isHumanDelegated reports whether the step must be done by a person:
// its action is outside the allowed set, or it carries a human-only marker.
func isHumanDelegated(step models.PlanStep, policy models.ExecutionPolicy) bool {
	if !policy.AllowsAction(step.Action) {
		return true
	}
	action := strings.ToLower(step.Action)
	description := strings.ToLower(step.Description)
	for _, marker := range humanOnlyMarkers {
		if strings.Contains(action, marker) || strings.Contains(description, marker) {
			return true
		}
	}
	return false
}

func findSubtask(subtasks []models.HumanSubtask, description string) *models.HumanSubtask {
	for i := range subtasks {
		if subtasks[i].Description == description {
			return &subtasks[i]
		}
	}
	return nil
}

// checkpointStep persists one completed step and advances the cursor.
// Persistence failures are logged, not fatal: the planner is idempotent
// against completed steps, so a lost checkpoint costs a re-run, not
// correctness.
func (e *Engine) checkpointStep(ctx context.Context, exec *models.TaskExecution, outcome planner.StepOutcome) {
	now := e.clock()
	done := models.StepCompleted
	if err := e.store.UpdateTaskExecutionPlanStep(ctx, exec.ID, outcome.StepID, store.StepPatch{
		Status:     &done,
		Result:     &outcome.Result,
		ExecutedAt: &now,
	}); err != nil {
		e.log.LogWarn(fmt.Sprintf("checkpoint step %s: %v", outcome.StepID, err))
		return
	}
	for i := range exec.Plan {
		if exec.Plan[i].ID == outcome.StepID {
			exec.Plan[i].Status = models.StepCompleted
			order := exec.Plan[i].Order
			if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{CurrentStepIndex: &order}); err != nil {
				e.log.LogWarn(fmt.Sprintf("advance step cursor: %v", err))
			}
			return
		}
	}
}

// handleRunFailure applies the retry policy: re-dispatch a full restart
// with fixed backoff while retries remain, otherwise fail terminally and
// tell the task's humans which step broke.
func (e *Engine) handleRunFailure(ctx context.Context, agent models.AgentUser, exec *models.TaskExecution, runRes *planner.ExecuteResult) (*Result, error) {
	now := e.clock()
	retryCount := exec.RetryCount + 1

	if retryCount < MaxRetries {
		if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
			RetryCount: &retryCount,
			LastError:  &runRes.Error,
		}); err != nil {
			return nil, err
		}
		if err := e.dispatcher.Dispatch(ctx, Job{
			Execution: &ExecutionRequest{
				ExecutionID: exec.ID,
				TaskID:      exec.TaskID,
				TeamID:      exec.TeamID,
			},
			Delay: RetryBackoff,
		}); err != nil {
			return nil, fmt.Errorf("dispatch retry: %w", err)
		}
		e.log.LogWarn(fmt.Sprintf("execution %s failed (attempt %d/%d), retrying: %s", exec.ID, retryCount, MaxRetries, runRes.Error))
		return &Result{Outcome: OutcomeExecuting, Reason: "retry_scheduled"}, nil
	}

	var failedStep *models.PlanStep
	if runRes.FailedStepID != "" {
		stepFailed := models.StepFailed
		if err := e.store.UpdateTaskExecutionPlanStep(ctx, exec.ID, runRes.FailedStepID, store.StepPatch{
			Status: &stepFailed,
			Error:  &runRes.Error,
		}); err != nil {
			e.log.LogWarn(fmt.Sprintf("mark failed step: %v", err))
		}
		for i := range exec.Plan {
			if exec.Plan[i].ID == runRes.FailedStepID {
				failedStep = &exec.Plan[i]
				break
			}
		}
	}

	if _, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, stepFailureComment(failedStep, runRes.Error)); err != nil {
		e.log.LogError(fmt.Sprintf("post failure comment: %v", err))
	}

	failed := models.StatusFailed
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
		Status:      &failed,
		RetryCount:  &retryCount,
		LastError:   &runRes.Error,
		CompletedAt: &now,
	}); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeFailed, Reason: "retries_exhausted"}, nil
}

// finalizeSuccess moves the task to its terminal workflow status, posts a
// completion comment, and completes the execution.
func (e *Engine) finalizeSuccess(ctx context.Context, agent models.AgentUser, task *models.TaskSnapshot, exec *models.TaskExecution, policy models.ExecutionPolicy, ec models.ExecutorContext) (*Result, error) {
	now := e.clock()

	statuses, err := e.statuses.GetStatuses(ctx, exec.TeamID)
	if err != nil {
		return nil, fmt.Errorf("load statuses: %w", err)
	}
	target, handedToReview := terminalStatus(statuses, policy)
	if target != nil && task.StatusID != target.ID {
		if err := e.tasks.UpdateTaskStatus(ctx, exec.TaskID, target.ID); err != nil {
			return nil, fmt.Errorf("update task status: %w", err)
		}
	}

	completed, skippedSteps := 0, 0
	for _, step := range exec.Plan {
		switch step.Status {
		case models.StepCompleted:
			completed++
		case models.StepSkipped, models.StepRejected:
			skippedSteps++
		}
	}

	text, err := e.planner.GenerateProgressComment(ctx, ec, completionComment(completed, skippedSteps, handedToReview))
	if err != nil || strings.TrimSpace(text) == "" {
		text = completionComment(completed, skippedSteps, handedToReview)
	}
	if _, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, text); err != nil {
		e.log.LogError(fmt.Sprintf("post completion comment: %v", err))
	}

	done := models.StatusCompleted
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
		Status:           &done,
		CompletedAt:      &now,
		ClearNextCheckAt: true,
	}); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeCompleted, Reason: "plan_finished"}, nil
}

// terminalStatus picks review when the policy requires it and the team has
// a review-type status, else done.
func terminalStatus(statuses []models.Status, policy models.ExecutionPolicy) (*models.Status, bool) {
	var review, done *models.Status
	for i := range statuses {
		switch statuses[i].Type {
		case "review":
			if review == nil {
				review = &statuses[i]
			}
		case "done":
			if done == nil {
				done = &statuses[i]
			}
		}
	}
	if policy.RequireReviewForCompletion && review != nil {
		return review, true
	}
	return done, false
}
