package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultSystemPrompt enforces JSON-only output so responses parse cleanly.
const DefaultSystemPrompt = "You are an autonomous task agent. Your ONLY output must be valid JSON matching the provided schema. No markdown, no code fences, no prose. Output raw JSON only."

// Invoker is a reusable client for invoking the Claude CLI.
// Create once, use many times; safe for concurrent use.
type Invoker struct {
	// ClaudePath is the path to the claude CLI binary.
	// Defaults to "claude" (found in PATH).
	ClaudePath string

	// Timeout is the default timeout for invocations.
	Timeout time.Duration

	// SystemPrompt is sent with every invocation.
	// Defaults to DefaultSystemPrompt if empty.
	SystemPrompt string
}

// Request holds per-invocation configuration.
type Request struct {
	// Prompt is the user prompt (required).
	Prompt string

	// Schema is the JSON schema for structured output (optional).
	Schema string

	// ResumeID resumes a previous CLI session (optional).
	ResumeID string
}

// Response holds the raw output from one invocation.
type Response struct {
	// RawOutput is the JSON content extracted from the CLI output envelope.
	RawOutput []byte

	// SessionID identifies the CLI session, for resuming.
	SessionID string
}

// NewInvoker creates an Invoker with default settings.
func NewInvoker() *Invoker {
	return &Invoker{
		ClaudePath:   "claude",
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Invoke executes one Claude CLI call and parses the output envelope.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	ctxToUse := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctxToUse, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	args := []string{}
	if req.ResumeID != "" {
		args = append(args, "--resume", req.ResumeID)
	}

	systemPrompt := inv.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	args = append(args, "--system-prompt", systemPrompt)
	args = append(args, "-p", req.Prompt)
	if req.Schema != "" {
		args = append(args, "--json-schema", req.Schema)
	}
	args = append(args, "--output-format", "json")
	args = append(args, "--settings", `{"disableAllHooks": true}`)

	claudePath := inv.ClaudePath
	if claudePath == "" {
		claudePath = "claude"
	}

	cmd := exec.CommandContext(ctxToUse, claudePath, args...)
	cmd.Env = cleanEnv()

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("claude invocation failed: %w (output: %s)", err, truncate(string(output), 500))
	}

	content, sessionID, err := parseEnvelope(output)
	if err != nil {
		return nil, err
	}
	return &Response{RawOutput: []byte(content), SessionID: sessionID}, nil
}

// InvokeAndParse invokes the CLI and unmarshals the JSON content into result.
func (inv *Invoker) InvokeAndParse(ctx context.Context, prompt, schema string, result interface{}) error {
	resp, err := inv.Invoke(ctx, Request{Prompt: prompt, Schema: schema})
	if err != nil {
		return err
	}

	content := strings.TrimSpace(string(resp.RawOutput))
	if content == "" {
		return fmt.Errorf("empty response from claude")
	}

	if err := json.Unmarshal([]byte(content), result); err != nil {
		// Fallback: the model occasionally wraps JSON in prose.
		if extracted := ExtractJSON(content); extracted != "" {
			if err := json.Unmarshal([]byte(extracted), result); err == nil {
				return nil
			}
		}
		return fmt.Errorf("failed to unmarshal response: %w (content: %s)", err, truncate(content, 200))
	}
	return nil
}

// parseEnvelope extracts the result content and session id from the CLI's
// --output-format json envelope. Falls back to the raw output when the
// envelope shape is not recognized.
func parseEnvelope(raw []byte) (content, sessionID string, err error) {
	var envelope struct {
		Result    string `json:"result"`
		SessionID string `json:"session_id"`
		IsError   bool   `json:"is_error"`
	}
	if jsonErr := json.Unmarshal(raw, &envelope); jsonErr != nil {
		return string(raw), "", nil
	}
	if envelope.IsError {
		return "", envelope.SessionID, fmt.Errorf("claude reported an error: %s", truncate(envelope.Result, 500))
	}
	if envelope.Result == "" {
		return string(raw), envelope.SessionID, nil
	}
	return envelope.Result, envelope.SessionID, nil
}

// ExtractJSON extracts a JSON object from mixed content by locating the
// first '{' and last '}'. Returns empty string if no boundaries are found.
func ExtractJSON(content string) string {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return ""
}

// cleanEnv strips nested-session variables so CLI invocations behave the
// same whether launched from a terminal or from another agent run.
func cleanEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "CLAUDECODE=") || strings.HasPrefix(kv, "CLAUDE_CODE_") {
			continue
		}
		env = append(env, kv)
	}
	return env
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
