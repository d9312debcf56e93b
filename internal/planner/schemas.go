package planner

// AnalyzeAndPlanSchema is the JSON Schema enforced on the combined
// analyze+plan response. Step order is assigned by the engine after
// parsing, so the schema only requires action, description, and risk.
func AnalyzeAndPlanSchema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Analyze And Plan Response",
  "type": "object",
  "required": ["analysis", "plan"],
  "properties": {
    "analysis": {
      "type": "object",
      "required": ["canProceed", "summary"],
      "properties": {
        "canProceed": {
          "type": "boolean",
          "description": "False when clarification is needed before planning"
        },
        "questions": {
          "type": "array",
          "items": {"type": "string"},
          "description": "Clarifying questions to ask the task author"
        },
        "summary": {
          "type": "string",
          "description": "What the task asks for, in one or two sentences"
        },
        "requirements": {
          "type": "array",
          "items": {"type": "string"}
        },
        "needsHumanHelp": {
          "type": "array",
          "items": {"type": "string"},
          "description": "Aspects the agent cannot do itself"
        }
      },
      "additionalProperties": false
    },
    "plan": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action", "description", "riskLevel"],
        "properties": {
          "action": {
            "type": "string",
            "description": "Symbolic capability name, e.g. web_search"
          },
          "description": {"type": "string"},
          "riskLevel": {
            "type": "string",
            "enum": ["low", "medium", "high"]
          },
          "riskReason": {"type": "string"}
        },
        "additionalProperties": false
      }
    },
    "estimatedDuration": {"type": "string"},
    "warnings": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "additionalProperties": false
}`
}

// StepExecutionSchema is the JSON Schema enforced on a single step's
// execution response.
func StepExecutionSchema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Step Execution Response",
  "type": "object",
  "required": ["status", "result"],
  "properties": {
    "status": {
      "type": "string",
      "enum": ["success", "failed"],
      "description": "Step execution status"
    },
    "result": {
      "type": "string",
      "description": "What was done, or why it failed"
    }
  },
  "additionalProperties": false
}`
}

// CommentSchema is the JSON Schema for drafted task comments.
func CommentSchema() string {
	return `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Drafted Comment",
  "type": "object",
  "required": ["comment"],
  "properties": {
    "comment": {
      "type": "string",
      "description": "The comment text, in plain conversational language"
    }
  },
  "additionalProperties": false
}`
}
