package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/overseer/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func statusPtr(s models.ExecutionStatus) *models.ExecutionStatus { return &s }
func strPtr(s string) *string                                    { return &s }
func intPtr(i int) *int                                          { return &i }
func timePtr(t time.Time) *time.Time                             { return &t }

func TestCreateTaskExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)
	assert.NotEmpty(t, exec.ID)
	assert.Equal(t, models.StatusPending, exec.Status)
	assert.Equal(t, "task-1", exec.TaskID)
	assert.Nil(t, exec.Plan)
}

func TestCreateTaskExecutionEnforcesSingleActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)

	_, err = s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.ErrorIs(t, err, ErrActiveExecutionExists)

	// A second task is unaffected.
	_, err = s.CreateTaskExecution(ctx, "task-2", "team-1")
	require.NoError(t, err)
}

func TestCreateAfterTerminalAllowed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)

	now := time.Now()
	err = s.UpdateTaskExecution(ctx, first.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusFailed),
		CompletedAt: timePtr(now),
	})
	require.NoError(t, err)

	second, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active, err := s.GetActiveTaskExecution(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestGetActiveTaskExecutionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetActiveTaskExecution(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTaskExecutionPatchSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)

	plan := []models.PlanStep{
		{ID: "s1", Order: 0, Action: "web_search", RiskLevel: models.RiskLow, Status: models.StepPending},
		{ID: "s2", Order: 1, Action: "delete_branch", RiskLevel: models.RiskHigh, Status: models.StepPending},
	}
	next := time.Now().Add(48 * time.Hour)
	err = s.UpdateTaskExecution(ctx, exec.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusAwaitingConfirmation),
		Plan:        &plan,
		NextCheckAt: timePtr(next),
		LastError:   strPtr(""),
	})
	require.NoError(t, err)

	got, err := s.GetTaskExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingConfirmation, got.Status)
	require.Len(t, got.Plan, 2)
	assert.Equal(t, "delete_branch", got.Plan[1].Action)
	require.NotNil(t, got.NextCheckAt)
	assert.WithinDuration(t, next, *got.NextCheckAt, time.Second)

	// Fields not in the patch survive.
	err = s.UpdateTaskExecution(ctx, exec.ID, ExecutionPatch{RetryCount: intPtr(2)})
	require.NoError(t, err)
	got, err = s.GetTaskExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingConfirmation, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	require.Len(t, got.Plan, 2)
}

func TestUpdateRejectsTerminalExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)

	err = s.UpdateTaskExecution(ctx, exec.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusCompleted),
		CompletedAt: timePtr(time.Now()),
	})
	require.NoError(t, err)

	err = s.UpdateTaskExecution(ctx, exec.ID, ExecutionPatch{Status: statusPtr(models.StatusExecuting)})
	require.ErrorIs(t, err, ErrExecutionTerminal)
}

func TestUpdateMemoryAndAnswers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)

	asked := time.Now()
	err = s.UpdateTaskExecutionMemory(ctx, exec.ID, MemoryPatch{
		TaskAnalysis:         strPtr("deploy the docs site"),
		AnalyzedContentHash:  strPtr("abc123"),
		AnalyzedCommentCount: intPtr(3),
		AnalyzedAt:           timePtr(asked),
		AppendQAPairs: []models.QAPair{
			{Question: "Which environment?", AskedAt: asked},
		},
	})
	require.NoError(t, err)

	err = s.UpdateTaskExecutionMemory(ctx, exec.ID, MemoryPatch{
		AnswerQuestion: &QuestionAnswer{
			Question:   "Which environment?",
			Answer:     "staging",
			AnsweredAt: time.Now(),
		},
	})
	require.NoError(t, err)

	got, err := s.GetTaskExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy the docs site", got.Memory.TaskAnalysis)
	assert.Equal(t, "abc123", got.Memory.AnalyzedContentHash)
	assert.Equal(t, 3, got.Memory.AnalyzedCommentCount)
	require.Len(t, got.Memory.QAPairs, 1)
	assert.Equal(t, "staging", got.Memory.QAPairs[0].Answer)
	assert.Empty(t, got.Memory.UnansweredQuestions())
}

func TestHumanSubtaskLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)

	err = s.AddHumanSubtaskToMemory(ctx, exec.ID, models.HumanSubtask{
		ChecklistItemID: "chk-1",
		Description:     "Approve the vendor contract",
	})
	require.NoError(t, err)

	got, err := s.GetTaskExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.True(t, got.Memory.PendingHumanSubtasks())

	err = s.UpdateTaskExecutionMemory(ctx, exec.ID, MemoryPatch{CompleteSubtasks: []string{"chk-1"}})
	require.NoError(t, err)

	got, err = s.GetTaskExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.False(t, got.Memory.PendingHumanSubtasks())
}

func TestUpdatePlanStepCheckpointing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)

	plan := []models.PlanStep{
		{ID: "s1", Order: 0, Action: "web_search", Status: models.StepPending},
		{ID: "s2", Order: 1, Action: "create_document", Status: models.StepPending},
	}
	require.NoError(t, s.UpdateTaskExecution(ctx, exec.ID, ExecutionPatch{Plan: &plan}))

	done := time.Now()
	err = s.UpdateTaskExecutionPlanStep(ctx, exec.ID, "s1", StepPatch{
		Status:     stepStatusPtr(models.StepCompleted),
		Result:     strPtr("found three candidate sources"),
		ExecutedAt: timePtr(done),
	})
	require.NoError(t, err)

	got, err := s.GetTaskExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, got.Plan[0].Status)
	assert.Equal(t, "found three candidate sources", got.Plan[0].Result)
	require.NotNil(t, got.Plan[0].ExecutedAt)
	assert.Equal(t, models.StepPending, got.Plan[1].Status)

	err = s.UpdateTaskExecutionPlanStep(ctx, exec.ID, "missing", StepPatch{})
	require.Error(t, err)
}

func stepStatusPtr(s models.StepStatus) *models.StepStatus { return &s }

func TestConfirmPlanSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec, err := s.CreateTaskExecution(ctx, "task-1", "team-1")
	require.NoError(t, err)

	plan := []models.PlanStep{
		{ID: "s1", Order: 0, RiskLevel: models.RiskHigh, Status: models.StepPending},
		{ID: "s2", Order: 1, RiskLevel: models.RiskHigh, Status: models.StepPending},
		{ID: "s3", Order: 2, RiskLevel: models.RiskLow, Status: models.StepCompleted},
	}
	require.NoError(t, s.UpdateTaskExecution(ctx, exec.ID, ExecutionPatch{Plan: &plan}))

	require.NoError(t, s.ConfirmPlanSteps(ctx, exec.ID, []string{"s1"}, true))
	require.NoError(t, s.ConfirmPlanSteps(ctx, exec.ID, []string{"s2", "s3"}, false))

	got, err := s.GetTaskExecutionByID(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirmed, got.Plan[0].Status)
	assert.Equal(t, models.StepRejected, got.Plan[1].Status)
	// Completed steps are never flipped by a confirmation.
	assert.Equal(t, models.StepCompleted, got.Plan[2].Status)
}

func TestGetTaskExecutionsNeedingCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// Due: blocked with elapsed next_check_at.
	due, err := s.CreateTaskExecution(ctx, "task-due", "team-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskExecution(ctx, due.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusBlocked),
		NextCheckAt: timePtr(now.Add(-time.Hour)),
	}))

	// Not due: blocked with a future deadline.
	later, err := s.CreateTaskExecution(ctx, "task-later", "team-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskExecution(ctx, later.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusBlocked),
		NextCheckAt: timePtr(now.Add(24 * time.Hour)),
	}))

	// Always due: executing should be looked at every sweep.
	running, err := s.CreateTaskExecution(ctx, "task-running", "team-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskExecution(ctx, running.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusExecuting),
		NextCheckAt: timePtr(now.Add(24 * time.Hour)),
	}))

	// Never: terminal.
	doneExec, err := s.CreateTaskExecution(ctx, "task-done", "team-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskExecution(ctx, doneExec.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusCompleted),
		CompletedAt: timePtr(now),
	}))

	got, err := s.GetTaskExecutionsNeedingCheck(ctx, now)
	require.NoError(t, err)

	ids := make(map[string]bool, len(got))
	for _, e := range got {
		ids[e.TaskID] = true
	}
	assert.True(t, ids["task-due"])
	assert.True(t, ids["task-running"])
	assert.False(t, ids["task-later"])
	assert.False(t, ids["task-done"])
}

func TestPruneTerminalExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old, err := s.CreateTaskExecution(ctx, "task-old", "team-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskExecution(ctx, old.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusFailed),
		CompletedAt: timePtr(time.Now().Add(-100 * 24 * time.Hour)),
	}))

	fresh, err := s.CreateTaskExecution(ctx, "task-fresh", "team-1")
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskExecution(ctx, fresh.ID, ExecutionPatch{
		Status:      statusPtr(models.StatusCompleted),
		CompletedAt: timePtr(time.Now()),
	}))

	n, err := s.PruneTerminalExecutions(ctx, time.Now().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetTaskExecutionByID(ctx, old.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetTaskExecutionByID(ctx, fresh.ID)
	require.NoError(t, err)
}
