// Package store persists task executions in SQLite. It is the only shared
// mutable resource in the engine: every job loads state from here at the
// start and writes results back, so all mutations are single-record updates
// keyed by execution id.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/overseer/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Common store errors.
var (
	// ErrNotFound indicates the requested execution does not exist.
	ErrNotFound = errors.New("task execution not found")

	// ErrExecutionTerminal indicates an attempted mutation of a completed or
	// failed execution. Terminal records are immutable.
	ErrExecutionTerminal = errors.New("task execution is terminal")

	// ErrActiveExecutionExists indicates a non-terminal execution already
	// exists for the task (unique-index race between two triggers).
	ErrActiveExecutionExists = errors.New("active execution already exists for task")
)

// Store manages the SQLite database holding task executions.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore creates a Store and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pool connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	// busy_timeout must come first so the remaining pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry executes a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateTaskExecution inserts a fresh pending execution for the task.
// Returns ErrActiveExecutionExists if a non-terminal execution is already
// present (enforced by a partial unique index, not by timing).
func (s *Store) CreateTaskExecution(ctx context.Context, taskID, teamID string) (*models.TaskExecution, error) {
	if taskID == "" || teamID == "" {
		return nil, errors.New("task id and team id are required")
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	query := `INSERT INTO task_executions (id, task_id, team_id, status, memory, created_at, updated_at)
		VALUES (?, ?, ?, ?, '{}', ?, ?)`
	_, err := s.db.ExecContext(ctx, query, id, taskID, teamID, string(models.StatusPending), now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrActiveExecutionExists
		}
		return nil, fmt.Errorf("insert task execution: %w", err)
	}

	return s.GetTaskExecutionByID(ctx, id)
}

// GetTaskExecutionByID loads one execution by id.
func (s *Store) GetTaskExecutionByID(ctx context.Context, id string) (*models.TaskExecution, error) {
	row := s.db.QueryRowContext(ctx, selectExecution+` WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exec, err
}

// GetActiveTaskExecution returns the non-terminal execution for the task,
// or ErrNotFound when none exists.
func (s *Store) GetActiveTaskExecution(ctx context.Context, taskID string) (*models.TaskExecution, error) {
	row := s.db.QueryRowContext(ctx,
		selectExecution+` WHERE task_id = ? AND status NOT IN ('completed', 'failed')`, taskID)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exec, err
}

// GetLatestTaskExecution returns the most recent execution for the task
// regardless of status, or ErrNotFound.
func (s *Store) GetLatestTaskExecution(ctx context.Context, taskID string) (*models.TaskExecution, error) {
	row := s.db.QueryRowContext(ctx,
		selectExecution+` WHERE task_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, taskID)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return exec, err
}

// ExecutionPatch updates scalar fields of an execution. Nil pointers leave
// the column untouched. updated_at is always bumped.
type ExecutionPatch struct {
	Status                  *models.ExecutionStatus
	Plan                    *[]models.PlanStep
	CurrentStepIndex        *int
	RetryCount              *int
	LastError               *string
	ConfirmationRequestedAt *time.Time
	ConfirmationCommentID   *string
	NextCheckAt             *time.Time
	ClearNextCheckAt        bool
	StartedAt               *time.Time
	CompletedAt             *time.Time
}

// UpdateTaskExecution applies a patch to a non-terminal execution.
// Returns ErrExecutionTerminal when the record has already completed or
// failed, and ErrNotFound when it does not exist.
func (s *Store) UpdateTaskExecution(ctx context.Context, id string, patch ExecutionPatch) error {
	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UTC()}

	if patch.Status != nil {
		if !patch.Status.IsValid() {
			return fmt.Errorf("invalid execution status %q", *patch.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Plan != nil {
		if err := models.ValidatePlan(*patch.Plan); err != nil {
			return err
		}
		data, err := json.Marshal(*patch.Plan)
		if err != nil {
			return fmt.Errorf("marshal plan: %w", err)
		}
		sets = append(sets, "plan = ?")
		args = append(args, string(data))
	}
	if patch.CurrentStepIndex != nil {
		sets = append(sets, "current_step_index = ?")
		args = append(args, *patch.CurrentStepIndex)
	}
	if patch.RetryCount != nil {
		sets = append(sets, "retry_count = ?")
		args = append(args, *patch.RetryCount)
	}
	if patch.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, *patch.LastError)
	}
	if patch.ConfirmationRequestedAt != nil {
		sets = append(sets, "confirmation_requested_at = ?")
		args = append(args, patch.ConfirmationRequestedAt.UTC())
	}
	if patch.ConfirmationCommentID != nil {
		sets = append(sets, "confirmation_comment_id = ?")
		args = append(args, *patch.ConfirmationCommentID)
	}
	if patch.ClearNextCheckAt {
		sets = append(sets, "next_check_at = NULL")
	} else if patch.NextCheckAt != nil {
		sets = append(sets, "next_check_at = ?")
		args = append(args, patch.NextCheckAt.UTC())
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, patch.StartedAt.UTC())
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, patch.CompletedAt.UTC())
	}

	query := `UPDATE task_executions SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND status NOT IN ('completed', 'failed')`
	args = append(args, id)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}
	return nil
}

// Touch bumps updated_at so the monitor can distinguish a live executing
// job from a crashed one.
func (s *Store) Touch(ctx context.Context, id string) error {
	return s.UpdateTaskExecution(ctx, id, ExecutionPatch{})
}

// classifyMissedUpdate distinguishes a missing row from a terminal one.
func (s *Store) classifyMissedUpdate(ctx context.Context, id string) error {
	exec, err := s.GetTaskExecutionByID(ctx, id)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return ErrExecutionTerminal
	}
	return fmt.Errorf("update task execution %s: no rows affected", id)
}

// MemoryPatch updates the execution memory JSON. Nil pointers leave fields
// untouched; append slices only grow (qaPairs is append-only by contract).
type MemoryPatch struct {
	TaskAnalysis         *string
	ContextSummary       *string
	AnalyzedContentHash  *string
	AnalyzedCommentCount *int
	AnalyzedAt           *time.Time
	AppendQAPairs        []models.QAPair
	AnswerQuestion       *QuestionAnswer
	AppendBlockers       []models.Blocker
	CompleteSubtasks     []string // checklist item ids to mark completed
}

// QuestionAnswer fills in the answer for an open question.
type QuestionAnswer struct {
	Question   string
	Answer     string
	AnsweredAt time.Time
}

// UpdateTaskExecutionMemory applies a memory patch inside a transaction.
func (s *Store) UpdateTaskExecutionMemory(ctx context.Context, id string, patch MemoryPatch) error {
	return s.withExecution(ctx, id, func(exec *models.TaskExecution) (bool, error) {
		mem := &exec.Memory
		if patch.TaskAnalysis != nil {
			mem.TaskAnalysis = *patch.TaskAnalysis
		}
		if patch.ContextSummary != nil {
			mem.ContextSummary = *patch.ContextSummary
		}
		if patch.AnalyzedContentHash != nil {
			mem.AnalyzedContentHash = *patch.AnalyzedContentHash
		}
		if patch.AnalyzedCommentCount != nil {
			mem.AnalyzedCommentCount = *patch.AnalyzedCommentCount
		}
		if patch.AnalyzedAt != nil {
			t := patch.AnalyzedAt.UTC()
			mem.AnalyzedAt = &t
		}
		mem.QAPairs = append(mem.QAPairs, patch.AppendQAPairs...)
		if patch.AnswerQuestion != nil {
			for i := range mem.QAPairs {
				if mem.QAPairs[i].Question == patch.AnswerQuestion.Question && mem.QAPairs[i].Answer == "" {
					at := patch.AnswerQuestion.AnsweredAt.UTC()
					mem.QAPairs[i].Answer = patch.AnswerQuestion.Answer
					mem.QAPairs[i].AnsweredAt = &at
					break
				}
			}
		}
		mem.Blockers = append(mem.Blockers, patch.AppendBlockers...)
		for _, itemID := range patch.CompleteSubtasks {
			for i := range mem.HumanSubtasks {
				if mem.HumanSubtasks[i].ChecklistItemID == itemID {
					mem.HumanSubtasks[i].Completed = true
				}
			}
		}
		return true, nil
	})
}

// AddHumanSubtaskToMemory appends a delegated subtask record.
func (s *Store) AddHumanSubtaskToMemory(ctx context.Context, id string, subtask models.HumanSubtask) error {
	return s.withExecution(ctx, id, func(exec *models.TaskExecution) (bool, error) {
		exec.Memory.HumanSubtasks = append(exec.Memory.HumanSubtasks, subtask)
		return true, nil
	})
}

// StepPatch updates one plan step. Nil pointers leave fields untouched.
type StepPatch struct {
	Status     *models.StepStatus
	Result     *string
	Error      *string
	ExecutedAt *time.Time
	RiskLevel  *models.RiskLevel
	RiskReason *string
}

// UpdateTaskExecutionPlanStep patches one step of the plan, identified by
// step id. Persisted immediately so a crash mid-plan resumes without
// repeating completed steps.
func (s *Store) UpdateTaskExecutionPlanStep(ctx context.Context, id, stepID string, patch StepPatch) error {
	return s.withExecution(ctx, id, func(exec *models.TaskExecution) (bool, error) {
		for i := range exec.Plan {
			if exec.Plan[i].ID != stepID {
				continue
			}
			step := &exec.Plan[i]
			if patch.Status != nil {
				step.Status = *patch.Status
			}
			if patch.Result != nil {
				step.Result = *patch.Result
			}
			if patch.Error != nil {
				step.Error = *patch.Error
			}
			if patch.ExecutedAt != nil {
				t := patch.ExecutedAt.UTC()
				step.ExecutedAt = &t
			}
			if patch.RiskLevel != nil {
				step.RiskLevel = *patch.RiskLevel
			}
			if patch.RiskReason != nil {
				step.RiskReason = *patch.RiskReason
			}
			return true, nil
		}
		return false, fmt.Errorf("plan step %s not found in execution %s", stepID, id)
	})
}

// ConfirmPlanSteps marks the given pending steps confirmed (approved=true)
// or rejected (approved=false). Steps already past pending are untouched.
func (s *Store) ConfirmPlanSteps(ctx context.Context, id string, stepIDs []string, approved bool) error {
	want := make(map[string]bool, len(stepIDs))
	for _, sid := range stepIDs {
		want[sid] = true
	}
	return s.withExecution(ctx, id, func(exec *models.TaskExecution) (bool, error) {
		changed := false
		for i := range exec.Plan {
			step := &exec.Plan[i]
			if !want[step.ID] || step.Status != models.StepPending {
				continue
			}
			if approved {
				step.Status = models.StepConfirmed
			} else {
				step.Status = models.StepRejected
			}
			changed = true
		}
		return changed, nil
	})
}

// GetTaskExecutionsNeedingCheck returns non-terminal executions whose
// next_check_at has elapsed, plus any sitting in a state that should never
// persist between sweeps (pending/analyzing/planning/executing).
func (s *Store) GetTaskExecutionsNeedingCheck(ctx context.Context, now time.Time) ([]*models.TaskExecution, error) {
	query := selectExecution + `
		WHERE status NOT IN ('completed', 'failed')
		  AND (next_check_at IS NULL
		       OR next_check_at <= ?
		       OR status IN ('pending', 'analyzing', 'planning', 'executing'))
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("query executions needing check: %w", err)
	}
	defer rows.Close()

	var executions []*models.TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return executions, nil
}

// ListTaskExecutions returns the most recently updated executions, newest
// first. When activeOnly is set, terminal executions are excluded. A limit
// of 0 means no limit.
func (s *Store) ListTaskExecutions(ctx context.Context, activeOnly bool, limit int) ([]*models.TaskExecution, error) {
	query := selectExecution
	if activeOnly {
		query += ` WHERE status NOT IN ('completed', 'failed')`
	}
	query += ` ORDER BY updated_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution rows: %w", err)
	}
	return executions, nil
}

// PruneTerminalExecutions deletes completed/failed executions older than the
// retention window. Returns the number of rows removed.
func (s *Store) PruneTerminalExecutions(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM task_executions
		 WHERE status IN ('completed', 'failed') AND completed_at IS NOT NULL AND completed_at < ?`,
		olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune terminal executions: %w", err)
	}
	return result.RowsAffected()
}

// withExecution runs a read-modify-write cycle on plan+memory inside a
// transaction. The fn returns whether anything changed.
func (s *Store) withExecution(ctx context.Context, id string, fn func(*models.TaskExecution) (bool, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectExecution+` WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return ErrExecutionTerminal
	}

	changed, err := fn(exec)
	if err != nil {
		return err
	}
	if !changed {
		return tx.Commit()
	}

	planJSON := sql.NullString{}
	if exec.Plan != nil {
		data, err := json.Marshal(exec.Plan)
		if err != nil {
			return fmt.Errorf("marshal plan: %w", err)
		}
		planJSON = sql.NullString{String: string(data), Valid: true}
	}
	memJSON, err := json.Marshal(exec.Memory)
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE task_executions SET plan = ?, memory = ?, updated_at = ? WHERE id = ?`,
		planJSON, string(memJSON), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("write execution state: %w", err)
	}
	return tx.Commit()
}

const selectExecution = `SELECT id, task_id, team_id, status, plan, memory,
	current_step_index, retry_count, last_error,
	confirmation_requested_at, confirmation_comment_id, next_check_at,
	started_at, completed_at, created_at, updated_at
	FROM task_executions`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*models.TaskExecution, error) {
	exec := &models.TaskExecution{}
	var status string
	var plan, memory, lastError, confirmationCommentID sql.NullString
	var confirmationRequestedAt, nextCheckAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&exec.ID,
		&exec.TaskID,
		&exec.TeamID,
		&status,
		&plan,
		&memory,
		&exec.CurrentStepIndex,
		&exec.RetryCount,
		&lastError,
		&confirmationRequestedAt,
		&confirmationCommentID,
		&nextCheckAt,
		&startedAt,
		&completedAt,
		&exec.CreatedAt,
		&exec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution row: %w", err)
	}

	exec.Status = models.ExecutionStatus(status)
	if plan.Valid && plan.String != "" {
		if err := json.Unmarshal([]byte(plan.String), &exec.Plan); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
	}
	if memory.Valid && memory.String != "" {
		if err := json.Unmarshal([]byte(memory.String), &exec.Memory); err != nil {
			return nil, fmt.Errorf("unmarshal memory: %w", err)
		}
	}
	if lastError.Valid {
		exec.LastError = lastError.String
	}
	if confirmationCommentID.Valid {
		exec.ConfirmationCommentID = confirmationCommentID.String
	}
	if confirmationRequestedAt.Valid {
		t := confirmationRequestedAt.Time
		exec.ConfirmationRequestedAt = &t
	}
	if nextCheckAt.Valid {
		t := nextCheckAt.Time
		exec.NextCheckAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		exec.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		exec.CompletedAt = &t
	}
	return exec, nil
}
