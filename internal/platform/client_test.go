package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/overseer/internal/engine"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token")
}

func TestGetSystemUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/agent", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"id": "agent-1", "name": "Overseer"})
	})

	user, err := client.GetSystemUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "agent-1", user.ID)
	assert.Equal(t, "Overseer", user.Name)
}

func TestGetTaskByIDNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})

	_, err := client.GetTaskByID(context.Background(), "task-x")
	require.ErrorIs(t, err, engine.ErrTaskNotFound)
}

func TestGetTaskByID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/tasks/task-1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "task-1",
			"team_id":     "team-1",
			"title":       "Fix login",
			"description": "Users cannot log in",
			"status_id":   "st-1",
			"assignee_id": "agent-1",
			"checklist": []map[string]interface{}{
				{"id": "cl-1", "task_id": "task-1", "description": "verify fix", "completed": false},
			},
		})
	})

	task, err := client.GetTaskByID(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, "Fix login", task.Title)
	assert.Equal(t, "agent-1", task.AssigneeID)
	require.Len(t, task.Checklist, 1)
	assert.Equal(t, "verify fix", task.Checklist[0].Description)
}

func TestAgentSettings(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/teams/team-1/agent-settings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"execution_enabled": true,
			"policy": map[string]interface{}{
				"allowed_actions":               []string{"code_change"},
				"always_confirm_actions":        []string{"deploy"},
				"require_review_for_completion": true,
			},
			"integrations": []string{"github"},
		})
	})

	enabled, err := client.IsAgentExecutionEnabled(context.Background(), "team-1")
	require.NoError(t, err)
	assert.True(t, enabled)

	policy, err := client.GetAgentExecutionPolicy(context.Background(), "team-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"code_change"}, policy.AllowedActions)
	assert.Equal(t, []string{"deploy"}, policy.AlwaysConfirmActions)
	assert.True(t, policy.RequireReviewForCompletion)

	integrations, err := client.GetEnabledIntegrations(context.Background(), "team-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"github"}, integrations)
}

func TestCreateTaskComment(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/tasks/task-1/comments", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "agent-1", body["user_id"])
		assert.Equal(t, "hello", body["comment"])

		json.NewEncoder(w).Encode(map[string]string{"id": "comment-9"})
	})

	id, err := client.CreateTaskComment(context.Background(), engine.CommentRequest{
		TaskID:  "task-1",
		TeamID:  "team-1",
		UserID:  "agent-1",
		Comment: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "comment-9", id)
}

func TestGetActivitiesQueryParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "task-1", q.Get("group_id"))
		assert.Equal(t, "comment", q.Get("types"))
		assert.Equal(t, "100", q.Get("page_size"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"activities": []map[string]interface{}{
				{"id": "a1", "type": "comment", "user_id": "u1", "comment": "looks good", "created_at": "2026-08-30T10:00:00Z"},
			},
		})
	})

	acts, err := client.GetActivities(context.Background(), engine.ActivityQuery{
		GroupID:  "task-1",
		TeamID:   "team-1",
		Types:    []string{"comment"},
		PageSize: 100,
	})
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "looks good", acts[0].Comment)
}

func TestCreateChecklistItem(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "cl-2",
			"task_id":     "task-1",
			"description": "rotate credentials",
			"completed":   false,
		})
	})

	item, err := client.CreateChecklistItem(context.Background(), "task-1", "team-1", "rotate credentials")
	require.NoError(t, err)
	assert.Equal(t, "cl-2", item.ID)
	assert.Equal(t, "rotate credentials", item.Description)
}

func TestServerErrorSurfacesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.GetStatuses(context.Background(), "team-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
