package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/planner"
	"github.com/harrison/overseer/internal/store"
)

// sweepConcurrency bounds how many executions one sweep reconciles at once.
const sweepConcurrency = 4

// SweepStats summarizes one monitor pass.
type SweepStats struct {
	Examined   int
	Dispatched int
	Reminded   int
	Finalized  int
}

// RunMonitor runs sweeps at the given interval until the context is
// cancelled. A zero interval uses SweepInterval. One sweep runs
// immediately on start.
func (e *Engine) RunMonitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		stats, err := e.RunSweep(ctx)
		if err != nil {
			e.log.LogError(fmt.Sprintf("monitor sweep: %v", err))
		} else {
			e.log.LogInfo(fmt.Sprintf("monitor sweep: examined=%d dispatched=%d reminded=%d finalized=%d",
				stats.Examined, stats.Dispatched, stats.Reminded, stats.Finalized))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunSweep reconciles every execution that is due a check: stuck records
// are re-triggered, waiting records get reminders, and executions whose
// task disappeared or moved on are finalized. Reconciliation failures are
// logged per execution and do not abort the sweep.
func (e *Engine) RunSweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats

	agent, err := e.identity.GetSystemUser(ctx)
	if err != nil || agent == nil {
		return stats, errors.New("agent identity unavailable")
	}

	execs, err := e.store.GetTaskExecutionsNeedingCheck(ctx, e.clock())
	if err != nil {
		return stats, fmt.Errorf("list executions needing check: %w", err)
	}
	stats.Examined = len(execs)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, exec := range execs {
		exec := exec
		g.Go(func() error {
			action, err := e.reconcile(gctx, *agent, exec)
			if err != nil {
				e.log.LogError(fmt.Sprintf("reconcile execution %s: %v", exec.ID, err))
				return nil
			}
			mu.Lock()
			switch action {
			case actionDispatched:
				stats.Dispatched++
			case actionReminded:
				stats.Reminded++
			case actionFinalized:
				stats.Finalized++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

type sweepAction int

const (
	actionNone sweepAction = iota
	actionDispatched
	actionReminded
	actionFinalized
)

// reconcile inspects one execution and decides the next move. It only
// nudges: real state transitions happen in the handlers it dispatches.
func (e *Engine) reconcile(ctx context.Context, agent models.AgentUser, exec *models.TaskExecution) (sweepAction, error) {
	now := e.clock()

	task, err := e.tasks.GetTaskByID(ctx, exec.TaskID)
	if errors.Is(err, ErrTaskNotFound) || (err == nil && task.Deleted) {
		e.failExecution(ctx, exec, agent, "task no longer exists")
		return actionFinalized, nil
	}
	if err != nil {
		return actionNone, fmt.Errorf("load task: %w", err)
	}

	// The agent was unassigned; a human took the task over. The execution
	// ends cleanly rather than failing.
	if task.AssigneeID != agent.ID {
		done := models.StatusCompleted
		if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
			Status:           &done,
			CompletedAt:      &now,
			ClearNextCheckAt: true,
		}); err != nil && !errors.Is(err, store.ErrExecutionTerminal) {
			return actionNone, err
		}
		return actionFinalized, nil
	}

	switch exec.Status {
	case models.StatusBlocked:
		return e.reconcileBlocked(ctx, agent, exec)
	case models.StatusAwaitingConfirmation:
		return e.reconcileAwaitingConfirmation(ctx, agent, exec)
	case models.StatusExecuting:
		if now.Sub(exec.UpdatedAt) < ExecutingStaleThreshold {
			return actionNone, nil
		}
		// The executor crashed or was killed mid-plan; resume it.
		resumeFrom := exec.CurrentStepIndex
		return e.dispatchExecution(ctx, exec, &resumeFrom)
	case models.StatusPending, models.StatusAnalyzing, models.StatusPlanning:
		if now.Sub(exec.UpdatedAt) < ExecutingStaleThreshold {
			return actionNone, nil
		}
		// Stuck before a plan existed; re-run the assignment handler.
		return e.dispatchAssignment(ctx, exec, TriggerUpdate)
	default:
		return actionNone, nil
	}
}

// reconcileBlocked unblocks on completed human subtasks or fresh human
// comments, and reminds when questions have gone unanswered too long.
func (e *Engine) reconcileBlocked(ctx context.Context, agent models.AgentUser, exec *models.TaskExecution) (sweepAction, error) {
	now := e.clock()

	if exec.Memory.PendingHumanSubtasks() {
		return e.reconcileDelegation(ctx, exec)
	}

	unanswered := exec.Memory.UnansweredQuestions()
	if len(unanswered) > 0 {
		lastAsked := unanswered[0].AskedAt
		for _, q := range unanswered {
			if q.AskedAt.After(lastAsked) {
				lastAsked = q.AskedAt
			}
		}

		comments, err := e.taskComments(ctx, exec.TaskID, exec.TeamID)
		if err != nil {
			return actionNone, err
		}
		if len(humanCommentsAfter(comments, agent.ID, lastAsked)) > 0 {
			// Someone replied; re-analysis will match answers to questions.
			return e.dispatchAssignment(ctx, exec, TriggerComment)
		}

		if now.Sub(lastAsked) >= BlockedReminderThreshold {
			if _, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, blockedReminderComment(unanswered)); err != nil {
				return actionNone, err
			}
			nextCheck := now.Add(BlockedReminderThreshold)
			if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil {
				return actionNone, err
			}
			return actionReminded, nil
		}
	}

	nextCheck := now.Add(QuestionCheckInterval)
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil {
		return actionNone, err
	}
	return actionNone, nil
}

// reconcileDelegation checks whether the checklist items backing delegated
// subtasks have been ticked off, records completions, and resumes the plan
// once nothing is outstanding.
func (e *Engine) reconcileDelegation(ctx context.Context, exec *models.TaskExecution) (sweepAction, error) {
	now := e.clock()

	items, err := e.checklist.GetChecklistItems(ctx, exec.TaskID, exec.TeamID)
	if err != nil {
		return actionNone, fmt.Errorf("load checklist: %w", err)
	}
	completedItems := make(map[string]bool, len(items))
	for _, item := range items {
		if item.Completed {
			completedItems[item.ID] = true
		}
	}

	var newlyDone []string
	remaining := 0
	for _, st := range exec.Memory.HumanSubtasks {
		if st.Completed {
			continue
		}
		if completedItems[st.ChecklistItemID] {
			newlyDone = append(newlyDone, st.ChecklistItemID)
		} else {
			remaining++
		}
	}

	if len(newlyDone) > 0 {
		if err := e.store.UpdateTaskExecutionMemory(ctx, exec.ID, store.MemoryPatch{CompleteSubtasks: newlyDone}); err != nil {
			return actionNone, err
		}
	}

	if remaining > 0 {
		nextCheck := now.Add(DelegationCheckInterval)
		if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil {
			return actionNone, err
		}
		return actionNone, nil
	}

	// Every delegated subtask is done; the executor will mark the
	// delegated steps completed and continue the plan.
	resumeFrom := exec.CurrentStepIndex
	return e.dispatchExecution(ctx, exec, &resumeFrom)
}

// reconcileAwaitingConfirmation applies any confirmation responses posted
// since the request, launches the plan when it is fully decided, and
// reminds after the response horizon passes.
func (e *Engine) reconcileAwaitingConfirmation(ctx context.Context, agent models.AgentUser, exec *models.TaskExecution) (sweepAction, error) {
	now := e.clock()
	if exec.ConfirmationRequestedAt == nil {
		// Inconsistent record; re-run analysis to rebuild the request.
		return e.dispatchAssignment(ctx, exec, TriggerUpdate)
	}

	comments, err := e.taskComments(ctx, exec.TaskID, exec.TeamID)
	if err != nil {
		return actionNone, err
	}
	responses := humanCommentsAfter(comments, agent.ID, *exec.ConfirmationRequestedAt)

	if len(responses) == 0 {
		if now.Sub(*exec.ConfirmationRequestedAt) >= ConfirmationReminderThreshold {
			if _, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, confirmationReminderComment()); err != nil {
				return actionNone, err
			}
			nextCheck := now.Add(ConfirmationReminderThreshold)
			if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil {
				return actionNone, err
			}
			return actionReminded, nil
		}
		nextCheck := now.Add(ConfirmationCheckInterval)
		if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil {
			return actionNone, err
		}
		return actionNone, nil
	}

	applied := false
	for _, response := range responses {
		decision := e.confirmations.Parse(response.Comment)
		if decision.Empty() {
			continue
		}
		if err := e.applyDecision(ctx, exec, decision); err != nil {
			return actionNone, err
		}
		applied = true
	}

	if !applied {
		// Humans commented but expressed no decision; check back later.
		nextCheck := now.Add(ConfirmationCheckInterval)
		if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil {
			return actionNone, err
		}
		return actionNone, nil
	}

	fresh, err := e.store.GetTaskExecutionByID(ctx, exec.ID)
	if err != nil {
		return actionNone, err
	}
	if planner.IsPlanReadyToExecute(fresh.Plan) {
		return e.dispatchExecution(ctx, fresh, nil)
	}
	nextCheck := now.Add(ConfirmationCheckInterval)
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil {
		return actionNone, err
	}
	return actionNone, nil
}

// applyDecision resolves step orders to the pending high-risk steps the
// confirmation request was about and confirms or rejects them.
func (e *Engine) applyDecision(ctx context.Context, exec *models.TaskExecution, decision Decision) error {
	pendingHighRisk := make(map[int]string)
	var allIDs []string
	for _, step := range exec.Plan {
		if step.RiskLevel == models.RiskHigh && step.Status == models.StepPending {
			pendingHighRisk[step.Order] = step.ID
			allIDs = append(allIDs, step.ID)
		}
	}
	if len(allIDs) == 0 {
		return nil
	}

	confirm := func(ids []string, approved bool) error {
		if len(ids) == 0 {
			return nil
		}
		return e.store.ConfirmPlanSteps(ctx, exec.ID, ids, approved)
	}

	switch {
	case decision.ApproveAll:
		return confirm(allIDs, true)
	case decision.RejectAll:
		return confirm(allIDs, false)
	}

	var approveIDs, rejectIDs []string
	for _, order := range decision.ApprovedOrders {
		if id, ok := pendingHighRisk[order]; ok {
			approveIDs = append(approveIDs, id)
		}
	}
	for _, order := range decision.RejectedOrders {
		if id, ok := pendingHighRisk[order]; ok {
			rejectIDs = append(rejectIDs, id)
		}
	}
	if err := confirm(approveIDs, true); err != nil {
		return err
	}
	return confirm(rejectIDs, false)
}

func (e *Engine) dispatchExecution(ctx context.Context, exec *models.TaskExecution, resumeFrom *int) (sweepAction, error) {
	job := Job{Execution: &ExecutionRequest{
		ExecutionID:    exec.ID,
		TaskID:         exec.TaskID,
		TeamID:         exec.TeamID,
		ResumeFromStep: resumeFrom,
	}}
	if err := e.dispatcher.Dispatch(ctx, job); err != nil {
		return actionNone, fmt.Errorf("dispatch execution: %w", err)
	}
	// Push the next check out so repeated sweeps do not pile up duplicate
	// jobs while this one waits in the queue.
	nextCheck := e.clock().Add(ExecutingStaleThreshold)
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil && !errors.Is(err, store.ErrExecutionTerminal) {
		e.log.LogWarn(fmt.Sprintf("bump next check for %s: %v", exec.ID, err))
	}
	return actionDispatched, nil
}

func (e *Engine) dispatchAssignment(ctx context.Context, exec *models.TaskExecution, trigger TriggerReason) (sweepAction, error) {
	job := Job{Assignment: &AssignmentRequest{
		TaskID:      exec.TaskID,
		TeamID:      exec.TeamID,
		TriggeredBy: trigger,
	}}
	if err := e.dispatcher.Dispatch(ctx, job); err != nil {
		return actionNone, fmt.Errorf("dispatch assignment: %w", err)
	}
	nextCheck := e.clock().Add(ExecutingStaleThreshold)
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{NextCheckAt: &nextCheck}); err != nil && !errors.Is(err, store.ErrExecutionTerminal) {
		e.log.LogWarn(fmt.Sprintf("bump next check for %s: %v", exec.ID, err))
	}
	return actionDispatched, nil
}
