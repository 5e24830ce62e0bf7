package httpapi

import "github.com/kdlbs/agentorc/internal/agentmodel"

// ExecuteRequest is the JSON body of POST /api/v1/agents/:agentId/execute
// and POST /api/v1/agents/:agentId/execute/stream (spec.md §6's Request
// envelope, minus the identifiers the Execute Agent Service assigns itself).
type ExecuteRequest struct {
	TaskID         string                   `json:"task_id,omitempty"`
	ContextID      string                   `json:"context_id,omitempty"`
	UserID         string                   `json:"user_id,omitempty"`
	Messages       []agentmodel.ChatMessage `json:"messages" binding:"required"`
	Temperature    *float64                 `json:"temperature,omitempty"`
	MaxTokens      *int                     `json:"max_tokens,omitempty"`
	TimeoutSeconds int                      `json:"timeout_seconds,omitempty"`
	Priority       agentmodel.Priority      `json:"priority,omitempty"`
	CorrelationID  string                   `json:"correlation_id,omitempty"`
	Metadata       map[string]any           `json:"metadata,omitempty"`
}

// ExecuteResponse mirrors spec.md §6's Result envelope.
type ExecuteResponse struct {
	MessageID        string         `json:"message_id"`
	TaskID           string         `json:"task_id,omitempty"`
	AgentID          string         `json:"agent_id"`
	ContextID        string         `json:"context_id,omitempty"`
	Success          bool           `json:"success"`
	Content          string         `json:"content,omitempty"`
	Error            string         `json:"error,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Timestamp        float64        `json:"timestamp"`
}

func newExecuteResponse(result *agentmodel.ExecutionResult) ExecuteResponse {
	return ExecuteResponse{
		MessageID:        result.MessageID,
		TaskID:           result.TaskID,
		AgentID:          result.AgentID,
		ContextID:        result.ContextID,
		Success:          result.Success,
		Content:          result.Message,
		Error:            result.Error,
		ProcessingTimeMs: result.ProcessingTimeMs,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		Metadata:         result.Metadata,
		Timestamp:        result.TimestampEpochSec,
	}
}
