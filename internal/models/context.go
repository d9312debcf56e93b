package models

import "time"

// AgentUser identifies the system agent account that executions run as.
type AgentUser struct {
	ID   string
	Name string
}

// TaskSnapshot is a point-in-time view of the task under execution.
type TaskSnapshot struct {
	ID          string
	TeamID      string
	Title       string
	Description string
	StatusID    string
	StatusName  string
	Priority    string
	AssigneeID  string
	ProjectID   string
	MilestoneID string
	DueDate     *time.Time
	Labels      []string
	Checklist   []ChecklistItem
	Deleted     bool
}

// ChecklistItem is a single checklist entry on a task.
type ChecklistItem struct {
	ID          string
	TaskID      string
	Description string
	Completed   bool
	CompletedAt *time.Time
}

// Activity is one entry in a task's activity feed.
type Activity struct {
	ID        string
	Type      string // e.g. "comment", "status_change"
	UserID    string
	Comment   string
	CreatedAt time.Time
}

// Status is a workflow status available to a team's tasks.
type Status struct {
	ID   string
	Type string // e.g. "backlog", "started", "review", "done"
	Name string
}

// ExecutionPolicy controls what the agent may do for a team.
type ExecutionPolicy struct {
	// AllowedActions is the set of step actions the agent may execute itself.
	// Steps outside this set are delegated to a human.
	AllowedActions []string

	// AlwaysConfirmActions are actions that require human sign-off
	// regardless of the planner's risk assessment.
	AlwaysConfirmActions []string

	// RequireReviewForCompletion moves finished tasks to a review-type
	// status instead of done, when the team has one.
	RequireReviewForCompletion bool

	// MaxStepsPerDay caps agent-executed steps per day (0 = unlimited).
	MaxStepsPerDay int
}

// AllowsAction reports whether the policy permits the agent to run the action.
func (p *ExecutionPolicy) AllowsAction(action string) bool {
	for _, a := range p.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}

// RequiresConfirmation reports whether the action always needs sign-off.
func (p *ExecutionPolicy) RequiresConfirmation(action string) bool {
	for _, a := range p.AlwaysConfirmActions {
		if a == action {
			return true
		}
	}
	return false
}

// ExecutorContext is the sole input surface handed to the planner. It is
// assembled per invocation and never persisted.
type ExecutorContext struct {
	Task           TaskSnapshot
	Agent          AgentUser
	RecentActivity []Activity
	Memory         ExecutionMemory
	Plan           []PlanStep
	Policy         ExecutionPolicy
	Integrations   []string // enabled integration names
}
