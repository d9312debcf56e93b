// Package engine implements the autonomous task execution engine: a
// durable, resumable state machine over task executions, driven by
// asynchronously triggered jobs. The assignment handler reacts to task
// events, the plan executor runs approved plans, and the monitor scheduler
// reconciles anything that stalls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/harrison/overseer/internal/models"
	"github.com/harrison/overseer/internal/planner"
	"github.com/harrison/overseer/internal/store"
)

// MaxRetries bounds plan execution retries before an execution fails.
const MaxRetries = 3

// Timing constants for retries, reminders, and reconciliation horizons.
const (
	// RetryBackoff is the fixed delay before re-triggering a failed run.
	RetryBackoff = 30 * time.Second

	// QuestionCheckInterval is the re-check horizon after posting
	// clarifying questions.
	QuestionCheckInterval = 24 * time.Hour

	// ConfirmationCheckInterval is the re-check horizon after posting a
	// confirmation request.
	ConfirmationCheckInterval = 48 * time.Hour

	// ConfirmationReminderThreshold is how long to wait for a confirmation
	// response before posting a reminder.
	ConfirmationReminderThreshold = 72 * time.Hour

	// DelegationCheckInterval is the re-check horizon after delegating a
	// step to a human.
	DelegationCheckInterval = 12 * time.Hour

	// BlockedReminderThreshold is how long a blocked execution waits for
	// answers before a reminder is posted.
	BlockedReminderThreshold = 48 * time.Hour

	// ExecutingStaleThreshold is how stale an executing record may be
	// before the monitor treats it as crashed.
	ExecutingStaleThreshold = time.Hour

	// SweepInterval is the cadence of the monitor scheduler.
	SweepInterval = 2 * time.Hour

	// activityPageSize bounds how much of the activity feed is loaded.
	activityPageSize = 100
)

// Outcome categorizes how a job invocation ended.
type Outcome string

// Job outcomes.
const (
	OutcomeSkipped              Outcome = "skipped"
	OutcomeBlocked              Outcome = "blocked"
	OutcomeAwaitingConfirmation Outcome = "awaiting_confirmation"
	OutcomeExecuting            Outcome = "executing"
	OutcomeCompleted            Outcome = "completed"
	OutcomeFailed               Outcome = "failed"
)

// Result is the outcome of one handler invocation with a machine-readable
// reason. Skips are expected no-ops, not errors.
type Result struct {
	Outcome Outcome
	Reason  string
}

func skipped(reason string) *Result { return &Result{Outcome: OutcomeSkipped, Reason: reason} }

// Skip reason codes.
const (
	ReasonExecutionDisabled      = "execution_disabled"
	ReasonAgentUnavailable       = "agent_unavailable"
	ReasonTaskNotFound           = "task_not_found"
	ReasonNotAssignedToAgent     = "not_assigned_to_agent"
	ReasonAlreadyExecuting       = "already_executing"
	ReasonNoActiveExecution      = "no_active_execution"
	ReasonNoMeaningfulChanges    = "no_meaningful_changes"
	ReasonWaitingForConfirmation = "waiting_for_confirmation"
	ReasonAlreadyTerminal        = "already_terminal"
)

// Logger receives engine progress messages. Implementations must be safe
// for concurrent use.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

type noopLogger struct{}

func (noopLogger) LogDebug(string) {}
func (noopLogger) LogInfo(string)  {}
func (noopLogger) LogWarn(string)  {}
func (noopLogger) LogError(string) {}

// Deps wires the engine to its collaborators. Store, Planner, Policy,
// Identity, Tasks, Activities, Checklist, Statuses, and Dispatcher are
// required; Logger, Confirmations, and Clock have defaults.
type Deps struct {
	Store         *store.Store
	Planner       planner.Planner
	Policy        PolicyService
	Identity      IdentityService
	Tasks         TaskStore
	Activities    ActivityStore
	Checklist     ChecklistStore
	Statuses      StatusStore
	Dispatcher    Dispatcher
	Confirmations ConfirmationParser
	Logger        Logger
	Clock         func() time.Time
}

// Engine hosts the three job handlers. It is stateless between invocations:
// every handler loads what it needs from the store and writes results back.
type Engine struct {
	store         *store.Store
	planner       planner.Planner
	policy        PolicyService
	identity      IdentityService
	tasks         TaskStore
	activities    ActivityStore
	checklist     ChecklistStore
	statuses      StatusStore
	dispatcher    Dispatcher
	confirmations ConfirmationParser
	log           Logger
	clock         func() time.Time
}

// NewEngine validates dependencies and constructs an Engine.
func NewEngine(deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("engine requires a store")
	case deps.Planner == nil:
		return nil, errors.New("engine requires a planner")
	case deps.Policy == nil:
		return nil, errors.New("engine requires a policy service")
	case deps.Identity == nil:
		return nil, errors.New("engine requires an identity service")
	case deps.Tasks == nil:
		return nil, errors.New("engine requires a task store")
	case deps.Activities == nil:
		return nil, errors.New("engine requires an activity store")
	case deps.Checklist == nil:
		return nil, errors.New("engine requires a checklist store")
	case deps.Statuses == nil:
		return nil, errors.New("engine requires a status store")
	case deps.Dispatcher == nil:
		return nil, errors.New("engine requires a dispatcher")
	}

	if deps.Confirmations == nil {
		deps.Confirmations = NewKeywordConfirmationParser()
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Engine{
		store:         deps.Store,
		planner:       deps.Planner,
		policy:        deps.Policy,
		identity:      deps.Identity,
		tasks:         deps.Tasks,
		activities:    deps.Activities,
		checklist:     deps.Checklist,
		statuses:      deps.Statuses,
		dispatcher:    deps.Dispatcher,
		confirmations: deps.Confirmations,
		log:           deps.Logger,
		clock:         deps.Clock,
	}, nil
}

// taskComments loads the task's comment feed, oldest first.
func (e *Engine) taskComments(ctx context.Context, taskID, teamID string) ([]models.Activity, error) {
	acts, err := e.activities.GetActivities(ctx, ActivityQuery{
		GroupID:  taskID,
		TeamID:   teamID,
		Types:    []string{"comment"},
		PageSize: activityPageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("load task comments: %w", err)
	}
	sort.Slice(acts, func(i, j int) bool { return acts[i].CreatedAt.Before(acts[j].CreatedAt) })
	return acts, nil
}

// countHumanComments counts comments not authored by the agent.
func countHumanComments(comments []models.Activity, agentID string) int {
	n := 0
	for _, c := range comments {
		if c.UserID != agentID {
			n++
		}
	}
	return n
}

// humanCommentsAfter returns non-agent comments created after the cutoff.
func humanCommentsAfter(comments []models.Activity, agentID string, cutoff time.Time) []models.Activity {
	var out []models.Activity
	for _, c := range comments {
		if c.UserID != agentID && c.CreatedAt.After(cutoff) {
			out = append(out, c)
		}
	}
	return out
}

// buildContext assembles the ExecutorContext handed to the planner.
func (e *Engine) buildContext(ctx context.Context, task *models.TaskSnapshot, agent models.AgentUser, exec *models.TaskExecution, policy models.ExecutionPolicy, comments []models.Activity) models.ExecutorContext {
	items, err := e.checklist.GetChecklistItems(ctx, task.ID, task.TeamID)
	if err != nil {
		// Checklist is enrichment; planning proceeds without it.
		e.log.LogWarn(fmt.Sprintf("load checklist for task %s: %v", task.ID, err))
	}
	integrations, err := e.policy.GetEnabledIntegrations(ctx, task.TeamID)
	if err != nil {
		e.log.LogWarn(fmt.Sprintf("load integrations for team %s: %v", task.TeamID, err))
	}

	snapshot := *task
	snapshot.Checklist = items

	return models.ExecutorContext{
		Task:           snapshot,
		Agent:          agent,
		RecentActivity: comments,
		Memory:         exec.Memory,
		Plan:           exec.Plan,
		Policy:         policy,
		Integrations:   integrations,
	}
}

// postComment posts a task comment as the agent, returning the comment id.
func (e *Engine) postComment(ctx context.Context, taskID, teamID string, agent models.AgentUser, text string) (string, error) {
	id, err := e.tasks.CreateTaskComment(ctx, CommentRequest{
		TaskID:  taskID,
		TeamID:  teamID,
		UserID:  agent.ID,
		Comment: text,
	})
	if err != nil {
		return "", fmt.Errorf("post task comment: %w", err)
	}
	return id, nil
}

// failExecution marks the execution terminally failed and surfaces the
// cause as a task comment. The engine never fails silently.
func (e *Engine) failExecution(ctx context.Context, exec *models.TaskExecution, agent models.AgentUser, cause string) {
	now := e.clock()
	failed := models.StatusFailed
	if err := e.store.UpdateTaskExecution(ctx, exec.ID, store.ExecutionPatch{
		Status:      &failed,
		LastError:   &cause,
		CompletedAt: &now,
	}); err != nil && !errors.Is(err, store.ErrExecutionTerminal) {
		e.log.LogError(fmt.Sprintf("mark execution %s failed: %v", exec.ID, err))
	}

	if _, err := e.postComment(ctx, exec.TaskID, exec.TeamID, agent, apologyComment(cause)); err != nil {
		e.log.LogError(fmt.Sprintf("post failure comment on task %s: %v", exec.TaskID, err))
	}
}
