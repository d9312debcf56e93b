package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/overseer/internal/models"
)

func TestJobValidate(t *testing.T) {
	assert.Error(t, Job{}.Validate())
	assert.Error(t, Job{
		Assignment: &AssignmentRequest{TaskID: "task-1"},
		Execution:  &ExecutionRequest{ExecutionID: "exec-1"},
	}.Validate())
	assert.NoError(t, Job{Assignment: &AssignmentRequest{TaskID: "task-1"}}.Validate())
	assert.NoError(t, Job{Execution: &ExecutionRequest{ExecutionID: "exec-1"}}.Validate())
}

func TestQueueDispatcherRunsJobs(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	qd := NewQueueDispatcher(8, nil)
	qd.Start(ctx, f.engine, 1)
	defer qd.Stop()

	err := qd.Dispatch(ctx, Job{Assignment: &AssignmentRequest{
		TaskID:      "task-1",
		TeamID:      "team-1",
		TriggeredBy: TriggerAssignment,
	}})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exec, err := f.store.GetActiveTaskExecution(context.Background(), "task-1")
		return err == nil && exec != nil && exec.Status == models.StatusExecuting
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueueDispatcherHonorsDelay(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	qd := NewQueueDispatcher(8, nil)
	qd.Start(ctx, f.engine, 1)
	defer qd.Stop()

	err := qd.Dispatch(ctx, Job{
		Assignment: &AssignmentRequest{TaskID: "task-1", TeamID: "team-1", TriggeredBy: TriggerAssignment},
		Delay:      20 * time.Millisecond,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		exec, err := f.store.GetActiveTaskExecution(context.Background(), "task-1")
		return err == nil && exec != nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueueDispatcherRejectsInvalidJob(t *testing.T) {
	qd := NewQueueDispatcher(8, nil)
	assert.Error(t, qd.Dispatch(context.Background(), Job{}))
}

func TestQueueDispatcherStopRefusesNewJobs(t *testing.T) {
	f := newFixture(t)

	ctx := context.Background()
	qd := NewQueueDispatcher(8, nil)
	qd.Start(ctx, f.engine, 1)
	qd.Stop()

	err := qd.Dispatch(ctx, Job{Assignment: &AssignmentRequest{TaskID: "task-1"}})
	assert.EqualError(t, err, "dispatcher stopped")
}

func TestSyncDispatcherRequiresBinding(t *testing.T) {
	sd := NewSyncDispatcher(nil)
	err := sd.Dispatch(context.Background(), Job{Assignment: &AssignmentRequest{TaskID: "task-1"}})
	assert.EqualError(t, err, "dispatcher not bound to an engine")
}

func TestSyncDispatcherRunsInline(t *testing.T) {
	f := newFixture(t)
	sd := NewSyncDispatcher(nil)
	sd.Bind(f.engine)

	err := sd.Dispatch(context.Background(), Job{Assignment: &AssignmentRequest{
		TaskID:      "task-1",
		TeamID:      "team-1",
		TriggeredBy: TriggerAssignment,
	}})
	require.NoError(t, err)

	// Inline execution means the record exists before Dispatch returns.
	exec, err := f.store.GetActiveTaskExecution(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuting, exec.Status)
}
