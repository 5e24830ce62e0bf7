// Package executeagent implements the Execute Agent Service of spec.md
// §4.5: the transactional seam between an external command surface (HTTP,
// CLI, SDK — all out of core scope) and the Orchestrator. Grounded on the
// teacher's internal/orchestrator/service.go StartTask-style orchestration
// methods, generalized to the spec's Execute/ExecuteStreaming use case.
package executeagent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"github.com/kdlbs/agentorc/internal/orchestrator"
	"go.uber.org/zap"
)

// defaultAwaitTimeout is the fallback used when neither the command nor the
// request specify one (spec.md §4.5 step 5).
const defaultAwaitTimeout = 300 * time.Second

// ExecuteCommand is the external caller's request shape, validated and
// turned into an agentmodel.ExecutionRequest before being handed to the
// Orchestrator (spec.md §4.5 step 1-3).
type ExecuteCommand struct {
	AgentID       string
	TaskID         string
	ContextID      string
	UserID         string
	Messages       []agentmodel.ChatMessage
	Temperature    *float64
	MaxTokens      *int
	TimeoutSeconds int
	Priority       agentmodel.Priority
	CorrelationID  string
	ReplyTo        string
	Metadata       map[string]any
}

// ErrInvalidCommand wraps every ExecuteCommand validation failure (spec.md
// §4.5 step 1, §7's ConfigInvalid-shaped error taxonomy).
type ErrInvalidCommand struct {
	Reason string
}

func (e *ErrInvalidCommand) Error() string {
	return fmt.Sprintf("executeagent: invalid command: %s", e.Reason)
}

func (cmd *ExecuteCommand) validate() error {
	if cmd.AgentID == "" {
		return &ErrInvalidCommand{Reason: "agentID must be non-empty"}
	}
	if len(cmd.Messages) == 0 {
		return &ErrInvalidCommand{Reason: "messages must be non-empty"}
	}
	if cmd.Temperature != nil && (*cmd.Temperature < 0.0 || *cmd.Temperature > 2.0) {
		return &ErrInvalidCommand{Reason: "temperature must be in [0.0, 2.0]"}
	}
	if cmd.MaxTokens != nil && *cmd.MaxTokens <= 0 {
		return &ErrInvalidCommand{Reason: "maxTokens must be positive"}
	}
	return nil
}

// Service is the Execute Agent Service (spec.md §4.5).
type Service struct {
	orch *orchestrator.Orchestrator
	log  *logging.Logger
}

// New builds a Service wrapping the given Orchestrator.
func New(orch *orchestrator.Orchestrator, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Default()
	}
	return &Service{orch: orch, log: log.WithFields(zap.String("component", "executeagent"))}
}

func (s *Service) buildRequest(cmd *ExecuteCommand) *agentmodel.ExecutionRequest {
	taskID := cmd.TaskID
	if taskID == "" {
		taskID = uuid.New().String()
	}
	correlationID := cmd.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	priority := cmd.Priority
	if priority == 0 {
		priority = agentmodel.PriorityNormal
	}

	return &agentmodel.ExecutionRequest{
		MessageType:    agentmodel.MessageTypeExecute,
		AgentID:        cmd.AgentID,
		TaskID:         taskID,
		ContextID:      cmd.ContextID,
		UserID:         cmd.UserID,
		Messages:       cmd.Messages,
		Temperature:    cmd.Temperature,
		MaxTokens:      cmd.MaxTokens,
		Metadata:       cmd.Metadata,
		TimeoutSeconds: cmd.TimeoutSeconds,
		Priority:       priority,
		CorrelationID:  correlationID,
		ReplyTo:        cmd.ReplyTo,
	}
}

// Execute runs spec.md §4.5's numbered steps 1-6 for a one-shot execution.
func (s *Service) Execute(ctx context.Context, cmd ExecuteCommand) (*agentmodel.ExecutionResult, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	request := s.buildRequest(&cmd)
	log := s.log.WithFields(zap.String("agent_id", request.AgentID), zap.String("task_id", request.TaskID))
	log.Debug("execute starting")

	messageID, err := s.orch.Submit(request)
	if err != nil {
		log.Error("submit failed", zap.Error(err))
		return nil, fmt.Errorf("executeagent: submit: %w", err)
	}
	log.Debug("task assigned message id", zap.String("message_id", messageID))

	timeout := time.Duration(cmd.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultAwaitTimeout
	}

	result, err := s.orch.AwaitResult(ctx, messageID, timeout)
	if err != nil {
		log.Error("await result failed", zap.Error(err))
		return nil, fmt.Errorf("executeagent: await result: %w", err)
	}
	if result == nil {
		log.Error("execute timed out", zap.Duration("timeout", timeout))
		result = &agentmodel.ExecutionResult{
			Success:           false,
			Error:             "execution timed out waiting for a result",
			FinishReason:      agentmodel.FinishError,
			MessageID:         messageID,
			TaskID:            request.TaskID,
			AgentID:           request.AgentID,
			ContextID:         request.ContextID,
			TimestampEpochSec: float64(time.Now().UnixNano()) / 1e9,
		}
	}

	log.Info("execute completed", zap.Bool("success", result.Success))
	return result, nil
}

// ExecuteStreaming runs spec.md §4.5's ExecuteStreaming operation: same
// validation and identifier generation, with stream=true, forwarding
// Orchestrator.StreamResults lazily.
func (s *Service) ExecuteStreaming(ctx context.Context, cmd ExecuteCommand) (<-chan *agentmodel.StreamingChunk, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	request := s.buildRequest(&cmd)
	request.MessageType = agentmodel.MessageTypeStreamExecute
	request.Stream = true

	log := s.log.WithFields(zap.String("agent_id", request.AgentID), zap.String("task_id", request.TaskID))
	log.Debug("execute streaming starting")

	messageID, err := s.orch.Submit(request)
	if err != nil {
		log.Error("submit failed", zap.Error(err))
		return nil, fmt.Errorf("executeagent: submit: %w", err)
	}
	log.Debug("task assigned message id", zap.String("message_id", messageID))

	return s.orch.StreamResults(ctx, messageID), nil
}
