package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"go.uber.org/zap"
)

// templateNotFoundFmt formats the text surfaced through ExecutionResult.Error
// (not as a Go error) whenever Execute/StreamExecute is asked for an
// unregistered templateID, per contract rule 4.
const templateNotFoundFmt = "template not found: %s"

// Reference is the in-process reference Executor (spec.md §4.2, ~20% of the
// implementation budget). It never calls an external LLM provider — wiring
// any specific provider SDK is explicitly out of scope (spec.md §1
// Non-goals) — and instead deterministically echoes the conversation back as
// its completion, which is sufficient to exercise every contract rule the
// orchestrator depends on.
type Reference struct {
	templates map[string]registeredTemplate
	log       *logging.Logger
}

type registeredTemplate struct {
	info   TemplateInfo
	fields []*ConfigField
}

// NewReference builds a Reference executor pre-loaded with the given
// templates. The slice is copied; Reference itself never mutates it again,
// satisfying the statelessness contract.
func NewReference(log *logging.Logger, templates []TemplateInfo) *Reference {
	if log == nil {
		log = logging.Default()
	}
	r := &Reference{
		templates: make(map[string]registeredTemplate, len(templates)),
		log:       log.WithFields(zap.String("component", "executor.reference")),
	}
	for _, t := range templates {
		r.templates[t.ID] = registeredTemplate{info: t, fields: t.Config}
	}
	return r
}

func (r *Reference) Execute(ctx context.Context, req ExecuteParams) (*agentmodel.ExecutionResult, error) {
	start := time.Now()

	tmpl, ok := r.templates[req.TemplateID]
	if !ok {
		return &agentmodel.ExecutionResult{
			Success:           false,
			Error:             fmt.Sprintf(templateNotFoundFmt, req.TemplateID),
			FinishReason:      agentmodel.FinishError,
			MessageID:         req.MessageID,
			TaskID:            req.TaskID,
			AgentID:           req.AgentID,
			ContextID:         req.ContextID,
			TimestampEpochSec: nowEpoch(),
		}, nil
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	content := reply(tmpl.info, req.Messages)

	select {
	case <-runCtx.Done():
		return &agentmodel.ExecutionResult{
			Success:           false,
			Error:             "execution timed out",
			FinishReason:      agentmodel.FinishError,
			MessageID:         req.MessageID,
			TaskID:            req.TaskID,
			AgentID:           req.AgentID,
			ContextID:         req.ContextID,
			ProcessingTimeMs:  time.Since(start).Milliseconds(),
			TimestampEpochSec: nowEpoch(),
		}, nil
	default:
	}

	promptTokens, completionTokens := estimateTokens(req.Messages), estimateTokens([]agentmodel.ChatMessage{{Content: content}})
	if req.MaxTokens != nil && completionTokens > *req.MaxTokens {
		content = truncateToTokens(content, *req.MaxTokens)
		completionTokens = *req.MaxTokens
	}

	return &agentmodel.ExecutionResult{
		Success:           true,
		Message:           content,
		FinishReason:      agentmodel.FinishStop,
		PromptTokens:      promptTokens,
		CompletionTokens:  completionTokens,
		ProcessingTimeMs:  time.Since(start).Milliseconds(),
		MessageID:         req.MessageID,
		TaskID:            req.TaskID,
		AgentID:           req.AgentID,
		ContextID:         req.ContextID,
		TimestampEpochSec: nowEpoch(),
	}, nil
}

// StreamExecute splits the would-be Execute response into word-sized chunks
// so callers exercise the full streaming path. Contract rule 3: chunkIndex
// starts at 0 and only the final chunk carries a FinishReason.
func (r *Reference) StreamExecute(ctx context.Context, req ExecuteParams) <-chan *agentmodel.StreamingChunk {
	out := make(chan *agentmodel.StreamingChunk)

	go func() {
		defer close(out)

		tmpl, ok := r.templates[req.TemplateID]
		if !ok {
			r.emit(ctx, out, &agentmodel.StreamingChunk{
				MessageID:         req.MessageID,
				TaskID:            req.TaskID,
				AgentID:           req.AgentID,
				ContextID:         req.ContextID,
				Content:           "",
				ChunkIndex:        0,
				FinishReason:      finishPtr(agentmodel.FinishError),
				Metadata:          map[string]any{"stream_end": true, "error": fmt.Sprintf(templateNotFoundFmt, req.TemplateID)},
				TimestampEpochSec: nowEpoch(),
			})
			return
		}

		content := reply(tmpl.info, req.Messages)
		words := strings.Fields(content)
		if len(words) == 0 {
			r.emit(ctx, out, &agentmodel.StreamingChunk{
				MessageID:         req.MessageID,
				TaskID:            req.TaskID,
				AgentID:           req.AgentID,
				ContextID:         req.ContextID,
				Content:           "",
				ChunkIndex:        0,
				FinishReason:      finishPtr(agentmodel.FinishStop),
				Metadata:          map[string]any{"stream_end": true},
				TimestampEpochSec: nowEpoch(),
			})
			return
		}

		for i, w := range words {
			chunk := &agentmodel.StreamingChunk{
				MessageID:         req.MessageID,
				TaskID:            req.TaskID,
				AgentID:           req.AgentID,
				ContextID:         req.ContextID,
				Content:           w + " ",
				ChunkIndex:        i,
				TimestampEpochSec: nowEpoch(),
			}
			if i == len(words)-1 {
				chunk.FinishReason = finishPtr(agentmodel.FinishStop)
				chunk.Metadata = map[string]any{"stream_end": true}
			}
			if !r.emit(ctx, out, chunk) {
				return
			}
		}
	}()

	return out
}

// emit sends a chunk unless ctx is already done; returns false if the send
// was aborted by cancellation.
func (r *Reference) emit(ctx context.Context, out chan<- *agentmodel.StreamingChunk, c *agentmodel.StreamingChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Reference) ValidateConfiguration(templateID, templateVersion string, configuration map[string]any) (bool, []string) {
	tmpl, ok := r.templates[templateID]
	if !ok {
		return false, []string{fmt.Sprintf(templateNotFoundFmt, templateID)}
	}
	errs := validateAgainstSchema(tmpl.fields, configuration)
	return len(errs) == 0, errs
}

func (r *Reference) GetSupportedTemplates() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t.info)
	}
	return out
}

func reply(tmpl TemplateInfo, messages []agentmodel.ChatMessage) string {
	if len(messages) == 0 {
		return fmt.Sprintf("[%s] ready", tmpl.Name)
	}
	last := messages[len(messages)-1]
	return fmt.Sprintf("[%s] received: %s", tmpl.Name, last.Content)
}

func estimateTokens(messages []agentmodel.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(strings.Fields(m.Content))
	}
	return total
}

func truncateToTokens(content string, maxTokens int) string {
	words := strings.Fields(content)
	if len(words) <= maxTokens {
		return content
	}
	return strings.Join(words[:maxTokens], " ")
}

func finishPtr(f agentmodel.FinishReason) *agentmodel.FinishReason { return &f }

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

var _ Executor = (*Reference)(nil)
