package engine

import (
	"context"
	"errors"

	"github.com/harrison/overseer/internal/models"
)

// ErrTaskNotFound is returned by TaskStore implementations when the task
// has been deleted.
var ErrTaskNotFound = errors.New("task not found")

// PolicyService exposes per-team execution policy.
type PolicyService interface {
	// IsAgentExecutionEnabled reports whether the team allows agent
	// execution at all.
	IsAgentExecutionEnabled(ctx context.Context, teamID string) (bool, error)

	// GetAgentExecutionPolicy returns the team's policy knobs.
	GetAgentExecutionPolicy(ctx context.Context, teamID string) (models.ExecutionPolicy, error)

	// GetEnabledIntegrations lists integrations available to plans.
	GetEnabledIntegrations(ctx context.Context, teamID string) ([]string, error)
}

// IdentityService resolves the system agent account.
type IdentityService interface {
	GetSystemUser(ctx context.Context) (*models.AgentUser, error)
}

// CommentRequest is the payload for posting a task comment.
type CommentRequest struct {
	TaskID  string
	TeamID  string
	UserID  string
	Comment string
}

// TaskStore is the task CRUD surface the engine depends on.
type TaskStore interface {
	// GetTaskByID returns the task snapshot, or ErrTaskNotFound.
	GetTaskByID(ctx context.Context, id string) (*models.TaskSnapshot, error)

	// UpdateTaskStatus moves the task to the given workflow status.
	UpdateTaskStatus(ctx context.Context, taskID, statusID string) error

	// CreateTaskComment posts a comment and returns its id.
	CreateTaskComment(ctx context.Context, req CommentRequest) (string, error)
}

// ActivityQuery selects entries from a task's activity feed.
type ActivityQuery struct {
	GroupID  string // task id
	TeamID   string
	Types    []string
	PageSize int
}

// ActivityStore reads the activity feed.
type ActivityStore interface {
	GetActivities(ctx context.Context, q ActivityQuery) ([]models.Activity, error)
}

// ChecklistStore manages task checklist items.
type ChecklistStore interface {
	GetChecklistItems(ctx context.Context, taskID, teamID string) ([]models.ChecklistItem, error)
	CreateChecklistItem(ctx context.Context, taskID, teamID, description string) (*models.ChecklistItem, error)
}

// StatusStore lists a team's workflow statuses.
type StatusStore interface {
	GetStatuses(ctx context.Context, teamID string) ([]models.Status, error)
}
