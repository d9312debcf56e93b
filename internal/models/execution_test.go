package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   ExecutionStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusAnalyzing, false},
		{StatusPlanning, false},
		{StatusBlocked, false},
		{StatusAwaitingConfirmation, false},
		{StatusExecuting, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ExecutionStatus
		to      ExecutionStatus
		allowed bool
	}{
		{"pending to analyzing", StatusPending, StatusAnalyzing, true},
		{"analyzing to planning", StatusAnalyzing, StatusPlanning, true},
		{"planning to blocked", StatusPlanning, StatusBlocked, true},
		{"planning to awaiting_confirmation", StatusPlanning, StatusAwaitingConfirmation, true},
		{"planning to executing", StatusPlanning, StatusExecuting, true},
		{"executing to completed", StatusExecuting, StatusCompleted, true},
		{"executing to blocked", StatusExecuting, StatusBlocked, true},
		{"executing to awaiting_confirmation", StatusExecuting, StatusAwaitingConfirmation, true},
		{"executing to failed", StatusExecuting, StatusFailed, true},
		{"blocked back to analyzing", StatusBlocked, StatusAnalyzing, true},
		{"awaiting_confirmation to executing", StatusAwaitingConfirmation, StatusExecuting, true},
		{"completed is terminal", StatusCompleted, StatusAnalyzing, false},
		{"failed is terminal", StatusFailed, StatusPending, false},
		{"no skipping analysis", StatusPending, StatusExecuting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidatePlan(t *testing.T) {
	t.Run("contiguous orders pass", func(t *testing.T) {
		plan := []PlanStep{
			{ID: "a", Order: 0, Action: "web_search"},
			{ID: "b", Order: 1, Action: "create_document"},
			{ID: "c", Order: 2, Action: "update_task"},
		}
		require.NoError(t, ValidatePlan(plan))
	})

	t.Run("duplicate order fails", func(t *testing.T) {
		plan := []PlanStep{
			{ID: "a", Order: 0},
			{ID: "b", Order: 0},
		}
		require.Error(t, ValidatePlan(plan))
	})

	t.Run("gap in orders fails", func(t *testing.T) {
		plan := []PlanStep{
			{ID: "a", Order: 0},
			{ID: "b", Order: 2},
		}
		require.Error(t, ValidatePlan(plan))
	})
}

func TestTaskExecutionValidate(t *testing.T) {
	exec := &TaskExecution{TaskID: "task-1", TeamID: "team-1", Status: StatusPending}
	require.NoError(t, exec.Validate())

	exec.TaskID = ""
	require.Error(t, exec.Validate())

	exec.TaskID = "task-1"
	exec.Status = ExecutionStatus("bogus")
	require.Error(t, exec.Validate())
}

func TestMemoryUnansweredQuestions(t *testing.T) {
	now := time.Now()
	mem := ExecutionMemory{
		QAPairs: []QAPair{
			{Question: "Which environment?", AskedAt: now, Answer: "staging"},
			{Question: "Which branch?", AskedAt: now},
		},
	}

	open := mem.UnansweredQuestions()
	require.Len(t, open, 1)
	assert.Equal(t, "Which branch?", open[0].Question)
}

func TestMemoryPendingHumanSubtasks(t *testing.T) {
	mem := ExecutionMemory{}
	assert.False(t, mem.PendingHumanSubtasks())

	mem.HumanSubtasks = []HumanSubtask{{ChecklistItemID: "c1", Completed: true}}
	assert.False(t, mem.PendingHumanSubtasks())

	mem.HumanSubtasks = append(mem.HumanSubtasks, HumanSubtask{ChecklistItemID: "c2"})
	assert.True(t, mem.PendingHumanSubtasks())
}

func TestStepByOrder(t *testing.T) {
	exec := &TaskExecution{
		Plan: []PlanStep{
			{ID: "a", Order: 0},
			{ID: "b", Order: 1},
		},
	}

	step := exec.StepByOrder(1)
	require.NotNil(t, step)
	assert.Equal(t, "b", step.ID)
	assert.Nil(t, exec.StepByOrder(5))
}
