package executor

import (
	"context"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
)

// Executor is the narrow, stateless contract the orchestrator calls to run
// one message against a template (spec.md §4.2). A single Executor value
// serves all concurrent requests: neither method may mutate executor state,
// and concurrent calls with different arguments must not interfere.
type Executor interface {
	// Execute runs one request to completion or until ctx's deadline/timeout
	// elapses. It must never return an error from the Go call itself for an
	// executor-side failure — that is surfaced as ExecutionResult.Success=false
	// plus ExecutionResult.Error, per contract rule 2 and 4. A non-nil error
	// return is reserved for truly unrecoverable programmer errors (e.g. a nil
	// request) and should not occur in normal operation.
	Execute(ctx context.Context, req ExecuteParams) (*agentmodel.ExecutionResult, error)

	// StreamExecute yields chunks in strict chunkIndex order starting at 0.
	// Exactly one chunk — the last — carries a non-nil FinishReason. The
	// returned channel is always closed by the executor, even on error or
	// ctx cancellation (contract rule 3).
	StreamExecute(ctx context.Context, req ExecuteParams) <-chan *agentmodel.StreamingChunk

	// ValidateConfiguration checks schema compatibility only; it never runs
	// the template (contract rule 5).
	ValidateConfiguration(templateID, templateVersion string, configuration map[string]any) (bool, []string)

	// GetSupportedTemplates lists every template this executor can run.
	GetSupportedTemplates() []TemplateInfo
}

// ExecuteParams bundles one Execute/StreamExecute call's arguments (spec.md §4.2).
type ExecuteParams struct {
	TemplateID      string
	TemplateVersion string
	Configuration   map[string]any
	Messages        []agentmodel.ChatMessage
	Temperature     *float64
	MaxTokens       *int
	Metadata        map[string]any

	// Identifiers threaded through purely so Execute/StreamExecute can stamp
	// them onto the ExecutionResult/StreamingChunk envelopes they build;
	// the executor itself attaches no meaning to them.
	MessageID string
	TaskID    string
	AgentID   string
	ContextID string

	// Timeout is the caller-supplied budget for Execute (contract rule 2).
	// Zero means no explicit budget beyond ctx's own deadline.
	Timeout time.Duration
}
