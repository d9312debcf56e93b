// Package platform is the HTTP client for the task platform API. It
// implements every collaborator interface the engine depends on: identity,
// policy, tasks, activities, checklists, and workflow statuses.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harrison/overseer/internal/engine"
	"github.com/harrison/overseer/internal/models"
)

const defaultRequestTimeout = 30 * time.Second

// Client talks to the platform's JSON API with bearer authentication.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a Client for the given base URL and API token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultRequestTimeout},
	}
}

// apiError carries the status code so callers can map 404s to sentinels.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &apiError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	apiErr, ok := err.(*apiError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

type agentPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetSystemUser resolves the agent account the token belongs to.
func (c *Client) GetSystemUser(ctx context.Context) (*models.AgentUser, error) {
	var payload agentPayload
	if err := c.do(ctx, http.MethodGet, "/api/v1/agent", nil, &payload); err != nil {
		return nil, fmt.Errorf("get agent identity: %w", err)
	}
	return &models.AgentUser{ID: payload.ID, Name: payload.Name}, nil
}

type agentSettingsPayload struct {
	ExecutionEnabled bool `json:"execution_enabled"`
	Policy           struct {
		AllowedActions             []string `json:"allowed_actions"`
		AlwaysConfirmActions       []string `json:"always_confirm_actions"`
		RequireReviewForCompletion bool     `json:"require_review_for_completion"`
		MaxStepsPerDay             int      `json:"max_steps_per_day"`
	} `json:"policy"`
	Integrations []string `json:"integrations"`
}

func (c *Client) agentSettings(ctx context.Context, teamID string) (*agentSettingsPayload, error) {
	var payload agentSettingsPayload
	path := "/api/v1/teams/" + url.PathEscape(teamID) + "/agent-settings"
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("get agent settings for team %s: %w", teamID, err)
	}
	return &payload, nil
}

// IsAgentExecutionEnabled reports whether the team allows agent execution.
func (c *Client) IsAgentExecutionEnabled(ctx context.Context, teamID string) (bool, error) {
	settings, err := c.agentSettings(ctx, teamID)
	if err != nil {
		return false, err
	}
	return settings.ExecutionEnabled, nil
}

// GetAgentExecutionPolicy returns the team's policy knobs.
func (c *Client) GetAgentExecutionPolicy(ctx context.Context, teamID string) (models.ExecutionPolicy, error) {
	settings, err := c.agentSettings(ctx, teamID)
	if err != nil {
		return models.ExecutionPolicy{}, err
	}
	return models.ExecutionPolicy{
		AllowedActions:             settings.Policy.AllowedActions,
		AlwaysConfirmActions:       settings.Policy.AlwaysConfirmActions,
		RequireReviewForCompletion: settings.Policy.RequireReviewForCompletion,
		MaxStepsPerDay:             settings.Policy.MaxStepsPerDay,
	}, nil
}

// GetEnabledIntegrations lists integrations available to plans.
func (c *Client) GetEnabledIntegrations(ctx context.Context, teamID string) ([]string, error) {
	settings, err := c.agentSettings(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return settings.Integrations, nil
}

type taskPayload struct {
	ID          string             `json:"id"`
	TeamID      string             `json:"team_id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	StatusID    string             `json:"status_id"`
	StatusName  string             `json:"status_name"`
	Priority    string             `json:"priority"`
	AssigneeID  string             `json:"assignee_id"`
	ProjectID   string             `json:"project_id"`
	MilestoneID string             `json:"milestone_id"`
	DueDate     *time.Time         `json:"due_date"`
	Labels      []string           `json:"labels"`
	Checklist   []checklistPayload `json:"checklist"`
	Deleted     bool               `json:"deleted"`
}

type checklistPayload struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
}

func (p checklistPayload) toModel() models.ChecklistItem {
	return models.ChecklistItem{
		ID:          p.ID,
		TaskID:      p.TaskID,
		Description: p.Description,
		Completed:   p.Completed,
		CompletedAt: p.CompletedAt,
	}
}

// GetTaskByID returns the task snapshot, or engine.ErrTaskNotFound.
func (c *Client) GetTaskByID(ctx context.Context, id string) (*models.TaskSnapshot, error) {
	var payload taskPayload
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &payload); err != nil {
		if isNotFound(err) {
			return nil, engine.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	checklist := make([]models.ChecklistItem, 0, len(payload.Checklist))
	for _, item := range payload.Checklist {
		checklist = append(checklist, item.toModel())
	}
	return &models.TaskSnapshot{
		ID:          payload.ID,
		TeamID:      payload.TeamID,
		Title:       payload.Title,
		Description: payload.Description,
		StatusID:    payload.StatusID,
		StatusName:  payload.StatusName,
		Priority:    payload.Priority,
		AssigneeID:  payload.AssigneeID,
		ProjectID:   payload.ProjectID,
		MilestoneID: payload.MilestoneID,
		DueDate:     payload.DueDate,
		Labels:      payload.Labels,
		Checklist:   checklist,
		Deleted:     payload.Deleted,
	}, nil
}

// UpdateTaskStatus moves the task to the given workflow status.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, statusID string) error {
	body := map[string]string{"status_id": statusID}
	path := "/api/v1/tasks/" + url.PathEscape(taskID) + "/status"
	if err := c.do(ctx, http.MethodPatch, path, body, nil); err != nil {
		if isNotFound(err) {
			return engine.ErrTaskNotFound
		}
		return fmt.Errorf("update status of task %s: %w", taskID, err)
	}
	return nil
}

// CreateTaskComment posts a comment and returns its id.
func (c *Client) CreateTaskComment(ctx context.Context, req engine.CommentRequest) (string, error) {
	body := map[string]string{
		"team_id": req.TeamID,
		"user_id": req.UserID,
		"comment": req.Comment,
	}
	var out struct {
		ID string `json:"id"`
	}
	path := "/api/v1/tasks/" + url.PathEscape(req.TaskID) + "/comments"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", fmt.Errorf("create comment on task %s: %w", req.TaskID, err)
	}
	return out.ID, nil
}

type activityPayload struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// GetActivities reads the activity feed for a task.
func (c *Client) GetActivities(ctx context.Context, q engine.ActivityQuery) ([]models.Activity, error) {
	params := url.Values{}
	params.Set("group_id", q.GroupID)
	params.Set("team_id", q.TeamID)
	if len(q.Types) > 0 {
		params.Set("types", strings.Join(q.Types, ","))
	}
	if q.PageSize > 0 {
		params.Set("page_size", strconv.Itoa(q.PageSize))
	}

	var payload struct {
		Activities []activityPayload `json:"activities"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/activities?"+params.Encode(), nil, &payload); err != nil {
		return nil, fmt.Errorf("get activities for %s: %w", q.GroupID, err)
	}

	out := make([]models.Activity, 0, len(payload.Activities))
	for _, a := range payload.Activities {
		out = append(out, models.Activity{
			ID:        a.ID,
			Type:      a.Type,
			UserID:    a.UserID,
			Comment:   a.Comment,
			CreatedAt: a.CreatedAt,
		})
	}
	return out, nil
}

// GetChecklistItems lists the task's checklist.
func (c *Client) GetChecklistItems(ctx context.Context, taskID, teamID string) ([]models.ChecklistItem, error) {
	params := url.Values{}
	params.Set("team_id", teamID)

	var payload struct {
		Items []checklistPayload `json:"items"`
	}
	path := "/api/v1/tasks/" + url.PathEscape(taskID) + "/checklist?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("get checklist for task %s: %w", taskID, err)
	}

	out := make([]models.ChecklistItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		out = append(out, item.toModel())
	}
	return out, nil
}

// CreateChecklistItem adds a checklist item to the task.
func (c *Client) CreateChecklistItem(ctx context.Context, taskID, teamID, description string) (*models.ChecklistItem, error) {
	body := map[string]string{
		"team_id":     teamID,
		"description": description,
	}
	var out checklistPayload
	path := "/api/v1/tasks/" + url.PathEscape(taskID) + "/checklist"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("create checklist item on task %s: %w", taskID, err)
	}
	item := out.toModel()
	return &item, nil
}

type statusPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

// GetStatuses lists a team's workflow statuses.
func (c *Client) GetStatuses(ctx context.Context, teamID string) ([]models.Status, error) {
	var payload struct {
		Statuses []statusPayload `json:"statuses"`
	}
	path := "/api/v1/teams/" + url.PathEscape(teamID) + "/statuses"
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("get statuses for team %s: %w", teamID, err)
	}

	out := make([]models.Status, 0, len(payload.Statuses))
	for _, s := range payload.Statuses {
		out = append(out, models.Status{ID: s.ID, Type: s.Type, Name: s.Name})
	}
	return out, nil
}
