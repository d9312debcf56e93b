// Package models defines the execution engine's persistent data model:
// task executions, plans, and execution memory.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle state of a TaskExecution.
type ExecutionStatus string

// Execution lifecycle states.
const (
	StatusPending              ExecutionStatus = "pending"
	StatusAnalyzing            ExecutionStatus = "analyzing"
	StatusPlanning             ExecutionStatus = "planning"
	StatusBlocked              ExecutionStatus = "blocked"
	StatusAwaitingConfirmation ExecutionStatus = "awaiting_confirmation"
	StatusExecuting            ExecutionStatus = "executing"
	StatusCompleted            ExecutionStatus = "completed"
	StatusFailed               ExecutionStatus = "failed"
)

// IsTerminal reports whether the status is final. Terminal executions are
// immutable; a new assignment creates a fresh execution instead.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is a known execution status.
func (s ExecutionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusAnalyzing, StatusPlanning, StatusBlocked,
		StatusAwaitingConfirmation, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// validTransitions maps each status to the statuses it may move to.
var validTransitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:   {StatusAnalyzing, StatusFailed},
	StatusAnalyzing: {StatusPlanning, StatusBlocked, StatusFailed},
	StatusPlanning:  {StatusBlocked, StatusAwaitingConfirmation, StatusExecuting, StatusFailed},
	StatusBlocked:   {StatusAnalyzing, StatusExecuting, StatusCompleted, StatusFailed},
	StatusAwaitingConfirmation: {StatusAnalyzing, StatusExecuting, StatusCompleted, StatusFailed},
	StatusExecuting:            {StatusBlocked, StatusAwaitingConfirmation, StatusCompleted, StatusFailed},
	StatusCompleted:            nil,
	StatusFailed:               nil,
}

// CanTransition reports whether moving from one status to another is allowed
// by the state machine. Terminal states have no outgoing transitions.
func CanTransition(from, to ExecutionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RiskLevel classifies how dangerous a plan step is.
type RiskLevel string

// Risk levels. High-risk steps require human confirmation before execution.
const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// StepStatus is the lifecycle state of a single plan step.
type StepStatus string

// Plan step states.
const (
	StepPending   StepStatus = "pending"
	StepConfirmed StepStatus = "confirmed"
	StepRejected  StepStatus = "rejected"
	StepSkipped   StepStatus = "skipped"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// IsTerminal reports whether the step will not be executed again.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped || s == StepRejected
}

// PlanStep is a single action in an execution plan.
type PlanStep struct {
	ID          string     `json:"id"`
	Order       int        `json:"order"`                // 0-based, unique and contiguous within a plan
	Action      string     `json:"action"`               // symbolic capability name
	Description string     `json:"description"`
	RiskLevel   RiskLevel  `json:"riskLevel"`
	RiskReason  string     `json:"riskReason,omitempty"`
	Status      StepStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	ExecutedAt  *time.Time `json:"executedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// QAPair records a clarifying question posted to the task and its answer,
// once one arrives.
type QAPair struct {
	Question   string     `json:"question"`
	AskedAt    time.Time  `json:"askedAt"`
	Answer     string     `json:"answer,omitempty"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
}

// HumanSubtask records a plan step delegated to a person as a checklist item.
type HumanSubtask struct {
	ChecklistItemID string `json:"checklistItemId"`
	Description     string `json:"description"`
	AssigneeID      string `json:"assigneeId,omitempty"`
	Completed       bool   `json:"completed"`
}

// Blocker records a condition preventing progress.
type Blocker struct {
	Description string `json:"description"`
	Resolved    bool   `json:"resolved"`
}

// ExecutionMemory is the durable scratchpad of an execution lineage: what
// the agent concluded during analysis, what it asked, what it handed off.
type ExecutionMemory struct {
	TaskAnalysis   string `json:"taskAnalysis,omitempty"`
	ContextSummary string `json:"contextSummary,omitempty"`

	// Change-detection bookkeeping: the content hash and human comment count
	// observed at the last analysis. Re-analysis is gated on these.
	AnalyzedContentHash  string     `json:"analyzedContentHash,omitempty"`
	AnalyzedCommentCount int        `json:"analyzedCommentCount"`
	AnalyzedAt           *time.Time `json:"analyzedAt,omitempty"`

	QAPairs       []QAPair       `json:"qaPairs,omitempty"`       // append-only; only Answer is filled in later
	HumanSubtasks []HumanSubtask `json:"humanSubtasks,omitempty"`
	Blockers      []Blocker      `json:"blockers,omitempty"`
}

// TaskExecution is one attempt lineage of the agent working a task.
// At most one non-terminal execution exists per task at a time.
type TaskExecution struct {
	ID     string
	TaskID string
	TeamID string

	Status ExecutionStatus

	Plan   []PlanStep      // nil until planning completes
	Memory ExecutionMemory

	CurrentStepIndex int
	RetryCount       int
	LastError        string

	ConfirmationRequestedAt *time.Time
	ConfirmationCommentID   string

	// NextCheckAt is the deadline after which the monitor scheduler
	// re-examines this execution.
	NextCheckAt *time.Time

	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks structural invariants of the execution record.
func (e *TaskExecution) Validate() error {
	if e.TaskID == "" {
		return errors.New("execution task id is required")
	}
	if e.TeamID == "" {
		return errors.New("execution team id is required")
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid execution status %q", e.Status)
	}
	if e.Plan != nil {
		if err := ValidatePlan(e.Plan); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePlan checks that step orders are unique, contiguous, and 0-based.
func ValidatePlan(plan []PlanStep) error {
	seen := make(map[int]bool, len(plan))
	for _, step := range plan {
		if step.Order < 0 || step.Order >= len(plan) {
			return fmt.Errorf("step order %d out of range for plan of %d steps", step.Order, len(plan))
		}
		if seen[step.Order] {
			return fmt.Errorf("duplicate step order %d", step.Order)
		}
		seen[step.Order] = true
	}
	return nil
}

// StepByOrder returns the plan step with the given order, or nil.
func (e *TaskExecution) StepByOrder(order int) *PlanStep {
	for i := range e.Plan {
		if e.Plan[i].Order == order {
			return &e.Plan[i]
		}
	}
	return nil
}

// PendingHumanSubtasks reports whether any delegated subtask is incomplete.
func (m *ExecutionMemory) PendingHumanSubtasks() bool {
	for _, st := range m.HumanSubtasks {
		if !st.Completed {
			return true
		}
	}
	return false
}

// UnansweredQuestions returns the qaPairs still waiting for an answer.
func (m *ExecutionMemory) UnansweredQuestions() []QAPair {
	var out []QAPair
	for _, qa := range m.QAPairs {
		if qa.Answer == "" {
			out = append(out, qa)
		}
	}
	return out
}
