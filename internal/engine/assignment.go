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

// HandleAssignment is the entry point for task events: assignment, update,
// comment, or checklist change. It decides whether re-analysis is
// warranted, runs the combined analyze+plan call, and either asks
// questions, requests confirmation, or launches execution.
//
// Any error past the eligibility gates is converted into a terminal failed
// execution with a comment on the task; retries belong to the plan
// executor, not this handler.
func (e *Engine) HandleAssignment(ctx context.Context, req AssignmentRequest) (*Result, error) {
	agent, task, result, err := e.checkEligibility(ctx, req)
	if err != nil || result != nil {
		return result, err
	}

	exec, result, err := e.resolveExecution(ctx, req)
	if err != nil || result != nil {
		return result, err
	}

	result, handlerErr := e.analyze(ctx, req, *agent, task, exec)
	if handlerErr != nil {
		e.log.LogError(fmt.Sprintf("assignment handler task=%s: %v", req.TaskID, handlerErr))
		e.failExecution(ctx, exec, *agent, handlerErr.Error())
		return &Result{Outcome: OutcomeFailed, Reason: "handler_error"}, nil
	}
	return result, nil
}

// checkEligibility implements the no-op gates: disabled policy, missing
// agent identity, deleted task, task no longer assigned to the agent.
func (e *Engine) checkEligibility(ctx context.Context, req AssignmentRequest) (*models.AgentUser, *models.TaskSnapshot, *Result, error) {
	enabled, err := e.policy.IsAgentExecutionEnabled(ctx, req.TeamID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("check execution policy: %w", err)
	}
	if !enabled {
		return nil, nil, skipped(ReasonExecutionDisabled), nil
	}

	agent, err := e.identity.GetSystemUser(ctx)
	if err != nil || agent == nil {
		e.log.LogWarn(fmt.Sprintf("system agent unavailable: %v", err))
		return nil, nil, skipped(ReasonAgentUnavailable), nil
	}

	task, err := e.tasks.GetTaskByID(ctx, req.TaskID)
	if errors.Is(err, ErrTaskNotFound) {
		return nil, nil, skipped(ReasonTaskNotFound), nil
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load task %s: %w", req.TaskID, err)
	}
	if task.AssigneeID != agent.ID {
		return nil, nil, skipped(ReasonNotAssignedToAgent), nil
	}
	return agent, task, nil, nil
}

// resolveExecution finds or creates the execution lineage for this event.
// An in-flight run is never interrupted; terminal lineages are only
// superseded by a fresh assignment event.
func (e *Engine) resolveExecution(ctx context.Context, req AssignmentRequest) (*models.TaskExecution, *Result, error) {
	exec, err := e.store.GetActiveTaskExecution(ctx, req.TaskID)
	if err == nil {
		if exec.Status == models.StatusExecuting {
			return nil, skipped(ReasonAlreadyExecuting), nil
		}
		return exec, nil, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("load active execution: %w", err)
	}

	// No active execution. Only a fresh assignment starts a new lineage;
	// updates and comments on a finished lineage are ignored.
	if req.TriggeredBy != TriggerAssignment {
		return nil, skipped(ReasonNoActiveExecution), nil
	}

	exec, err = e.store.CreateTaskExecution(ctx, req.TaskID, req.TeamID)
	if errors.Is(err, store.ErrActiveExecutionExists) {
		// Lost the race against a concurrent trigger; use the winner's row.
		exec, err = e.store.GetActiveTaskExecution(ctx, req.TaskID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create execution: %w", err)
	}
	return exec, nil, nil
}

// analyze runs change detection and the analyze+plan pipeline, then
// branches into questions, confirmation, or execution.
func (e *Engine) analyze(ctx context.Context, req AssignmentRequest, agent models.AgentUser, task *models.TaskSnapshot, exec *models.TaskExecution) (*Result, error) {
	now := e.clock()

	comments, err := e.taskComments(ctx, req.TaskID, req.TeamID)
	if err != nil {
		return nil, err
	}
	humanComments := countHumanComments(comments, agent.ID)
	hash := ContentHash(task.Title, task.Description)

	// Change-detection gate: skip redundant planner calls when nothing the
	// planner would see has changed.
	firstAnalysis := exec.Memory.AnalyzedAt == nil
	meaningful := firstAnalysis ||
		hash != exec.Memory.AnalyzedContentHash ||
		humanComments > exec.Memory.AnalyzedCommentCount
	if req.TriggeredBy == TriggerUpdate && !meaningful {
		return skipped(ReasonNoMeaningfulChanges), nil
	}

	// A confirmation request only gets re-analyzed once someone has
	// actually responded; otherwise the monitor owns the waiting.
	if exec.Status == models.StatusAwaitingConfirmation && exec.ConfirmationRequestedAt != nil {
		responses := humanCommentsAfter(comments, agent.ID, *exec.ConfirmationRequestedAt)
		if len(responses) == 0 {
			return skipped(ReasonWaitingForConfirmation), nil
		}
	}

	policy, err := e.policy.GetAgentExecutionPolicy(ctx, req.TeamID)
	if err != nil {
		return nil, fmt.Errorf("load execution policy: %w", err)
	}

	analyzing := models.StatusAnalyzing
	patch := store.ExecutionPatch{Status: &analyzing}
	if exec.StartedAt == nil {
		patch.StartedAt = &now
	}
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, patch); err != nil {
		return nil, fmt.Errorf("enter analyzing: %w", err)
	}

	ec := e.buildContext(ctx, task, agent, exec, policy, comments)
	planRes, err := e.planner.AnalyzeAndPlan(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("analyze and plan: %w", err)
	}

	// Memory is refreshed unconditionally so every future invocation sees
	// this as the latest analyzed state, whatever branch we take below.
	analyzedAt := now
	if err := e.store.UpdateTaskExecutionMemory(ctx, exec.ID, store.MemoryPatch{
		TaskAnalysis:         &planRes.Analysis.Summary,
		AnalyzedContentHash:  &hash,
		AnalyzedCommentCount: &humanComments,
		AnalyzedAt:           &analyzedAt,
	}); err != nil {
		return nil, fmt.Errorf("update analysis memory: %w", err)
	}

	planning := models.StatusPlanning
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{Status: &planning}); err != nil {
		return nil, fmt.Errorf("enter planning: %w", err)
	}

	if !planRes.Analysis.CanProceed && len(planRes.Analysis.Questions) > 0 {
		return e.askQuestions(ctx, agent, exec, ec, planRes.Analysis.Questions)
	}

	// A planner that claims it can proceed but produces no plan has
	// violated its contract; retrying the same response wastes budget.
	if len(planRes.Plan) == 0 {
		return nil, errors.New("planner returned an empty plan despite canProceed")
	}

	plan := planner.ApplyPolicyRisk(planRes.Plan, policy)
	if err := models.ValidatePlan(plan); err != nil {
		return nil, fmt.Errorf("planner returned an invalid plan: %w", err)
	}
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{Plan: &plan}); err != nil {
		return nil, fmt.Errorf("persist plan: %w", err)
	}

	if planner.PlanRequiresConfirmation(plan) {
		return e.requestConfirmation(ctx, agent, exec, ec, plan)
	}
	return e.launchExecution(ctx, agent, exec, ec, plan)
}

// askQuestions posts new clarifying questions and blocks the execution.
// Questions already asked (case-insensitive, trimmed) are not re-posted.
func (e *Engine) askQuestions(ctx context.Context, agent models.AgentUser, exec *models.TaskExecution, ec models.ExecutorContext, questions []string) (*Result, error) {
	now := e.clock()
	asked := make(map[string]bool, len(exec.Memory.QAPairs))
	for _, qa := range exec.Memory.QAPairs {
		asked[normalizeQuestion(qa.Question)] = true
	}

	var fresh []string
	for _, q := range questions {
		if !asked[normalizeQuestion(q)] {
			fresh = append(fresh, q)
		}
	}

	blocked := models.StatusBlocked
	nextCheck := now.Add(QuestionCheckInterval)

	if len(fresh) == 0 {
		if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
			Status:      &blocked,
			NextCheckAt: &nextCheck,
		}); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeBlocked, Reason: "waiting_for_previous_questions"}, nil
	}

	text, err := e.planner.GenerateProgressComment(ctx, ec, questionsComment(fresh))
	if err != nil || strings.TrimSpace(text) == "" {
		text = questionsComment(fresh)
	}
	if _, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, text); err != nil {
		return nil, err
	}

	pairs := make([]models.QAPair, 0, len(fresh))
	for _, q := range fresh {
		pairs = append(pairs, models.QAPair{Question: q, AskedAt: now})
	}
	if err := e.store.UpdateTaskExecutionMemory(ctx, exec.ID, store.MemoryPatch{AppendQAPairs: pairs}); err != nil {
		return nil, err
	}
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
		Status:      &blocked,
		NextCheckAt: &nextCheck,
	}); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeBlocked, Reason: "questions_posted"}, nil
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// requestConfirmation posts the sign-off request for high-risk steps,
// unless one is already outstanding for this lineage.
func (e *Engine) requestConfirmation(ctx context.Context, agent models.AgentUser, exec *models.TaskExecution, ec models.ExecutorContext, plan []models.PlanStep) (*Result, error) {
	now := e.clock()
	awaiting := models.StatusAwaitingConfirmation
	nextCheck := now.Add(ConfirmationCheckInterval)

	if exec.ConfirmationRequestedAt != nil {
		// Already asked on this lineage; never post a duplicate.
		if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
			Status:      &awaiting,
			NextCheckAt: &nextCheck,
		}); err != nil {
			return nil, err
		}
		return &Result{Outcome: OutcomeAwaitingConfirmation, Reason: "confirmation_already_requested"}, nil
	}

	text, err := e.planner.GenerateConfirmationComment(ctx, ec, plan)
	if err != nil || strings.TrimSpace(text) == "" {
		text = planner.ConfirmationCommentFallback(plan)
	}
	commentID, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, text)
	if err != nil {
		return nil, err
	}

	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
		Status:                  &awaiting,
		ConfirmationRequestedAt: &now,
		ConfirmationCommentID:   &commentID,
		NextCheckAt:             &nextCheck,
	}); err != nil {
		return nil, err
	}
	return &Result{Outcome: OutcomeAwaitingConfirmation, Reason: "confirmation_requested"}, nil
}

// launchExecution announces the start of work and hands off to the plan
// executor via the dispatcher.
func (e *Engine) launchExecution(ctx context.Context, agent models.AgentUser, exec *models.TaskExecution, ec models.ExecutorContext, plan []models.PlanStep) (*Result, error) {
	text, err := e.planner.GenerateProgressComment(ctx, ec, startingWorkComment(plan))
	if err != nil || strings.TrimSpace(text) == "" {
		text = startingWorkComment(plan)
	}
	if _, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, text); err != nil {
		return nil, err
	}

	executing := models.StatusExecuting
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
		Status:           &executing,
		ClearNextCheckAt: true,
	}); err != nil {
		return nil, err
	}

	if err := e.dispatcher.Dispatch(ctx, Job{Execution: &ExecutionRequest{
		ExecutionID: exec.ID,
		TaskID:      exec.TaskID,
		TeamID:      exec.TeamID,
	}}); err != nil {
		return nil, fmt.Errorf("dispatch plan executor: %w", err)
	}
	return &Result{Outcome: OutcomeExecuting, Reason: "execution_started"}, nil
}
