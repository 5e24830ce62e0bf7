package agentmodel

import "encoding/json"

// Priority orders messages on the Message Queue (spec.md §3, §4.1). Wire
// encoding is the integer 1-4 per spec.md §6.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// MessageType distinguishes a one-shot Execute dispatch from a streaming one
// on the primary queue (spec.md §4.4 step 5).
type MessageType string

const (
	MessageTypeExecute       MessageType = "execute"
	MessageTypeStreamExecute MessageType = "stream_execute"
)

// FinishReason is the terminal state of an execution or stream.
type FinishReason string

const (
	FinishStop   FinishReason = "stop"
	FinishLength FinishReason = "length"
	FinishError  FinishReason = "error"
)

// ExecutionRequest is the payload placed on the primary message queue
// (spec.md §3, wire shape in §6).
type ExecutionRequest struct {
	MessageID     string         `json:"message_id"`
	MessageType   MessageType    `json:"message_type"`
	AgentID       string         `json:"agent_id"`
	TaskID        string         `json:"task_id,omitempty"`
	ContextID     string         `json:"context_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Messages      []ChatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	Temperature   *float64       `json:"temperature,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	Priority      Priority       `json:"priority"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	ReplyTo       string         `json:"reply_to,omitempty"`
}

// ExecutionResult is the reply-queue envelope (spec.md §3, §6).
type ExecutionResult struct {
	Success           bool           `json:"success"`
	Message           string         `json:"content,omitempty"`
	Error             string         `json:"error,omitempty"`
	FinishReason      FinishReason   `json:"-"`
	PromptTokens      int            `json:"prompt_tokens"`
	CompletionTokens  int            `json:"completion_tokens"`
	ProcessingTimeMs  int64          `json:"processing_time_ms"`
	MessageID         string         `json:"message_id"`
	TaskID            string         `json:"task_id,omitempty"`
	AgentID           string         `json:"agent_id"`
	ContextID         string         `json:"context_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	TimestampEpochSec float64        `json:"timestamp"`
}

// StreamingChunk is one item on a `agent.stream.<messageID>` queue (spec.md §3, §6).
type StreamingChunk struct {
	MessageID         string         `json:"message_id"`
	TaskID            string         `json:"task_id,omitempty"`
	AgentID           string         `json:"agent_id"`
	ContextID         string         `json:"context_id,omitempty"`
	Content           string         `json:"content"`
	ChunkIndex        int            `json:"chunk_index"`
	FinishReason      *FinishReason  `json:"finish_reason,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	TimestampEpochSec float64        `json:"timestamp"`
}

// IsStreamEnd reports whether this chunk carries the stream_end metadata
// flag the spec.md §4.4 worker algorithm and §6 wire format define.
func (c *StreamingChunk) IsStreamEnd() bool {
	if c.Metadata == nil {
		return false
	}
	end, _ := c.Metadata["stream_end"].(bool)
	return end
}

// Marshal/Unmarshal helpers centralize the envelope's JSON encoding so every
// producer/consumer (mqueue payload, httpapi, tests) agrees on the wire shape.

func MarshalExecutionRequest(r *ExecutionRequest) ([]byte, error) { return json.Marshal(r) }

func UnmarshalExecutionRequest(b []byte) (*ExecutionRequest, error) {
	var r ExecutionRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func MarshalExecutionResult(r *ExecutionResult) ([]byte, error) { return json.Marshal(r) }

func UnmarshalExecutionResult(b []byte) (*ExecutionResult, error) {
	var r ExecutionResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func MarshalStreamingChunk(c *StreamingChunk) ([]byte, error) { return json.Marshal(c) }

func UnmarshalStreamingChunk(b []byte) (*StreamingChunk, error) {
	var c StreamingChunk
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
