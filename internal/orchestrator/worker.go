package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"github.com/kdlbs/agentorc/internal/executor"
	"github.com/kdlbs/agentorc/internal/instancecache"
	"github.com/kdlbs/agentorc/internal/mqueue"
	"go.uber.org/zap"
)

// workerLoop implements spec.md §4.4's six-step worker algorithm. Each of
// maxWorkers workers runs this loop until Shutdown, sharing the primary
// queue, the instance cache, and the single Executor value — all of which
// are safe for this concurrent use per their own contracts (spec.md §5).
func (o *Orchestrator) workerLoop(ctx context.Context, id int) {
	defer o.wg.Done()
	log := o.log.WithFields(zap.Int("worker_id", id))
	timeout := o.cfg.WorkerReceiveTimeout

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		// Step 1.
		msg, err := o.queue.ReceiveMessage(PrimaryQueue, &timeout)
		if err != nil {
			log.Warn("primary queue receive failed", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}

		o.process(ctx, log, msg)
	}
}

func (o *Orchestrator) process(ctx context.Context, log *logging.Logger, msg *mqueue.QueueMessage) {
	// Step 2.
	req, err := agentmodel.UnmarshalExecutionRequest(msg.Payload)
	if err != nil {
		log.Error("failed to deserialize execution request", zap.Error(err))
		o.queue.RejectMessage(msg, false, fmt.Sprintf("malformed request: %v", err))
		return
	}
	replyTo := req.ReplyTo
	if replyTo == "" {
		replyTo = ResultsQueue
	}

	// Step 3.
	instance, err := o.cache.GetOrCreate(ctx, req.AgentID, req.TaskID)
	if errors.Is(err, instancecache.ErrAgentNotFound) {
		result := failureResult(req, "agent not found: "+req.AgentID)
		o.sendResult(replyTo, result)
		o.queue.AcknowledgeMessage(msg)
		return
	}
	if err != nil {
		result := failureResult(req, err.Error())
		o.sendResult(replyTo, result)
		o.queue.RejectMessage(msg, false, err.Error())
		return
	}

	// Step 4.
	temperature, maxTokens := resolveEffectiveParams(req, instance)

	params := executor.ExecuteParams{
		TemplateID:      instance.Agent.TemplateID,
		TemplateVersion: instance.Agent.TemplateVersion,
		Configuration:   instance.Agent.Configuration.ResolveTemplateConfiguration(),
		Messages:        req.Messages,
		Temperature:     temperature,
		MaxTokens:       maxTokens,
		Metadata:        buildMetadata(req, instance),
		MessageID:       req.MessageID,
		TaskID:          req.TaskID,
		AgentID:         req.AgentID,
		ContextID:       req.ContextID,
		Timeout:         time.Duration(req.TimeoutSeconds) * time.Second,
	}

	// Step 5.
	switch req.MessageType {
	case agentmodel.MessageTypeStreamExecute:
		o.processStream(ctx, log, msg, req, replyTo, params)
	default:
		o.processExecute(ctx, log, msg, req, replyTo, params)
	}
}

func (o *Orchestrator) processExecute(ctx context.Context, log *logging.Logger, msg *mqueue.QueueMessage, req *agentmodel.ExecutionRequest, replyTo string, params executor.ExecuteParams) {
	result, err := o.exec.Execute(ctx, params)
	if err != nil {
		// Step 6: unrecoverable executor-call error (not an executor-side
		// failure, which Execute reports via result.Success=false instead).
		failure := failureResult(req, err.Error())
		o.sendResult(replyTo, failure)
		o.queue.RejectMessage(msg, false, err.Error())
		log.Error("execute call failed", zap.Error(err))
		return
	}

	result.MessageID = req.MessageID
	result.TaskID = req.TaskID
	result.AgentID = req.AgentID
	result.ContextID = req.ContextID

	o.sendResult(replyTo, result)
	o.queue.AcknowledgeMessage(msg)
}

func (o *Orchestrator) processStream(ctx context.Context, log *logging.Logger, msg *mqueue.QueueMessage, req *agentmodel.ExecutionRequest, replyTo string, params executor.ExecuteParams) {
	streamQueue := StreamQueueName(req.MessageID)
	o.queue.CreateQueue(streamQueue, 0)

	// Step 6: the Executor contract guarantees StreamExecute never panics,
	// but a worker's stream queue lives until this goroutine tears it down,
	// so one recover here keeps a single bad template from wedging a worker.
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while streaming execution", zap.Any("recovered", r))
			errChunk := &agentmodel.StreamingChunk{
				MessageID:    req.MessageID,
				TaskID:       req.TaskID,
				AgentID:      req.AgentID,
				ContextID:    req.ContextID,
				FinishReason: finishErrorPtr(),
				Metadata:     map[string]any{"stream_end": true, "error": fmt.Sprintf("%v", r)},
			}
			if payload, err := agentmodel.MarshalStreamingChunk(errChunk); err == nil {
				o.queue.SendMessage(streamQueue, payload, agentmodel.PriorityHigh, mqueue.SendOptions{CorrelationID: req.MessageID})
			}
			o.sendResult(replyTo, failureResult(req, fmt.Sprintf("%v", r)))
			o.queue.RejectMessage(msg, false, fmt.Sprintf("%v", r))
		}
	}()

	chunks := o.exec.StreamExecute(ctx, params)

	chunkCount := 0
	for chunk := range chunks {
		chunk.MessageID = req.MessageID
		chunk.TaskID = req.TaskID
		chunk.AgentID = req.AgentID
		chunk.ContextID = req.ContextID

		payload, err := agentmodel.MarshalStreamingChunk(chunk)
		if err != nil {
			log.Error("failed to marshal stream chunk", zap.Error(err))
			continue
		}
		if _, err := o.queue.SendMessage(streamQueue, payload, agentmodel.PriorityHigh, mqueue.SendOptions{CorrelationID: req.MessageID}); err != nil {
			log.Error("failed to enqueue stream chunk", zap.Error(err))
		}
		chunkCount++
	}

	endMarker := &agentmodel.StreamingChunk{
		MessageID:         req.MessageID,
		TaskID:            req.TaskID,
		AgentID:           req.AgentID,
		ContextID:         req.ContextID,
		Content:           "",
		ChunkIndex:        chunkCount,
		FinishReason:      finishStopPtr(),
		Metadata:          map[string]any{"stream_end": true, "total_chunks": chunkCount},
		TimestampEpochSec: float64(time.Now().UnixNano()) / 1e9,
	}
	if payload, err := agentmodel.MarshalStreamingChunk(endMarker); err == nil {
		o.queue.SendMessage(streamQueue, payload, agentmodel.PriorityHigh, mqueue.SendOptions{CorrelationID: req.MessageID})
	}

	summary := &agentmodel.ExecutionResult{
		Success:           true,
		Message:           fmt.Sprintf("Streaming completed with %d chunks", chunkCount),
		FinishReason:      agentmodel.FinishStop,
		MessageID:         req.MessageID,
		TaskID:            req.TaskID,
		AgentID:           req.AgentID,
		ContextID:         req.ContextID,
		TimestampEpochSec: float64(time.Now().UnixNano()) / 1e9,
	}
	o.sendResult(replyTo, summary)
	o.queue.AcknowledgeMessage(msg)
}

func failureResult(req *agentmodel.ExecutionRequest, errMsg string) *agentmodel.ExecutionResult {
	return &agentmodel.ExecutionResult{
		Success:           false,
		Error:             errMsg,
		FinishReason:      agentmodel.FinishError,
		MessageID:         req.MessageID,
		TaskID:            req.TaskID,
		AgentID:           req.AgentID,
		ContextID:         req.ContextID,
		TimestampEpochSec: float64(time.Now().UnixNano()) / 1e9,
	}
}

func finishStopPtr() *agentmodel.FinishReason {
	f := agentmodel.FinishStop
	return &f
}

func finishErrorPtr() *agentmodel.FinishReason {
	f := agentmodel.FinishError
	return &f
}

// buildMetadata augments the request's own metadata with the identifiers
// spec.md §4.4 step 5 requires the executor to receive.
func buildMetadata(req *agentmodel.ExecutionRequest, instance *instancecache.AgentInstance) map[string]any {
	meta := make(map[string]any, len(req.Metadata)+8)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["agentID"] = instance.AgentID
	meta["agentName"] = instance.Agent.Name
	meta["templateID"] = instance.Agent.TemplateID
	meta["templateVersion"] = instance.Agent.TemplateVersion
	meta["taskID"] = req.TaskID
	meta["messageID"] = req.MessageID
	meta["contextID"] = req.ContextID
	meta["userID"] = req.UserID
	return meta
}

// resolveEffectiveParams applies spec.md §4.4 step 4: request values win
// over the agent's conversationConfig defaults. Numbers round-trip through
// the agent repository as JSON, so they may arrive as float64 even where the
// semantic type is int (maxTokens); both are handled.
func resolveEffectiveParams(req *agentmodel.ExecutionRequest, instance *instancecache.AgentInstance) (*float64, *int) {
	temperature := req.Temperature
	if temperature == nil {
		if v, ok := instance.Agent.Configuration.ConversationConfig["temperature"]; ok {
			if f, ok := toFloat64(v); ok {
				temperature = &f
			}
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == nil {
		if v, ok := instance.Agent.Configuration.ConversationConfig["maxTokens"]; ok {
			if f, ok := toFloat64(v); ok {
				n := int(f)
				maxTokens = &n
			}
		}
	}

	return temperature, maxTokens
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
