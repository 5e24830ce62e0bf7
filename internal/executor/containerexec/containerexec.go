// Package containerexec implements the Executor contract (spec.md §4.2) by
// running one container per Execute/StreamExecute call, passing it the
// request as JSON in the CONTAINEREXEC_REQUEST environment variable and
// reading an ExecutionResult (or a stream of StreamingChunk lines) back from
// stdout. It is an alternate to
// executor.Reference for templates whose framework needs real process
// isolation. Grounded on internal/agent/docker.Client's lifecycle calls
// (ContainerCreate/Start/Wait/Logs/Remove) from the teacher repo.
package containerexec

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"github.com/kdlbs/agentorc/internal/executor"
	"go.uber.org/zap"
)

// TemplateImage maps a templateID to the Docker image that implements it.
type TemplateImage struct {
	Template executor.TemplateInfo
	Image    string
}

// Executor runs each request in a fresh, auto-removed container.
type Executor struct {
	cli       *client.Client
	templates map[string]TemplateImage
	log       *logging.Logger
}

// New builds a container-backed Executor. dockerHost may be empty to use the
// environment default (DOCKER_HOST or the local socket).
func New(dockerHost string, log *logging.Logger, templates []TemplateImage) (*Executor, error) {
	if log == nil {
		log = logging.Default()
	}
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if dockerHost != "" {
		opts = append(opts, client.WithHost(dockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("containerexec: failed to create docker client: %w", err)
	}

	byID := make(map[string]TemplateImage, len(templates))
	for _, t := range templates {
		byID[t.Template.ID] = t
	}

	return &Executor{
		cli:       cli,
		templates: byID,
		log:       log.WithFields(zap.String("component", "executor.containerexec")),
	}, nil
}

// requestEnvelope is what gets written to the container's stdin.
type requestEnvelope struct {
	TemplateID      string                   `json:"template_id"`
	TemplateVersion string                   `json:"template_version"`
	Configuration   map[string]any           `json:"configuration"`
	Messages        []agentmodel.ChatMessage `json:"messages"`
	Temperature     *float64                 `json:"temperature,omitempty"`
	MaxTokens       *int                     `json:"max_tokens,omitempty"`
	Stream          bool                     `json:"stream"`
}

func (e *Executor) Execute(ctx context.Context, req executor.ExecuteParams) (*agentmodel.ExecutionResult, error) {
	start := time.Now()
	tmpl, ok := e.templates[req.TemplateID]
	if !ok {
		return &agentmodel.ExecutionResult{
			Success:           false,
			Error:             fmt.Sprintf("template not found: %s", req.TemplateID),
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

	output, runErr := e.runOnce(runCtx, tmpl.Image, requestEnvelope{
		TemplateID:      req.TemplateID,
		TemplateVersion: req.TemplateVersion,
		Configuration:   req.Configuration,
		Messages:        req.Messages,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
		Stream:          false,
	})
	if runErr != nil {
		return &agentmodel.ExecutionResult{
			Success:           false,
			Error:             runErr.Error(),
			FinishReason:      agentmodel.FinishError,
			MessageID:         req.MessageID,
			TaskID:            req.TaskID,
			AgentID:           req.AgentID,
			ContextID:         req.ContextID,
			ProcessingTimeMs:  time.Since(start).Milliseconds(),
			TimestampEpochSec: nowEpoch(),
		}, nil
	}

	result, err := agentmodel.UnmarshalExecutionResult(output)
	if err != nil {
		return &agentmodel.ExecutionResult{
			Success:           false,
			Error:             fmt.Sprintf("malformed container output: %v", err),
			FinishReason:      agentmodel.FinishError,
			MessageID:         req.MessageID,
			TaskID:            req.TaskID,
			AgentID:           req.AgentID,
			ContextID:         req.ContextID,
			ProcessingTimeMs:  time.Since(start).Milliseconds(),
			TimestampEpochSec: nowEpoch(),
		}, nil
	}
	result.MessageID = req.MessageID
	result.TaskID = req.TaskID
	result.AgentID = req.AgentID
	result.ContextID = req.ContextID
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// StreamExecute runs the container once, parsing newline-delimited
// StreamingChunk JSON from stdout as it arrives.
func (e *Executor) StreamExecute(ctx context.Context, req executor.ExecuteParams) <-chan *agentmodel.StreamingChunk {
	out := make(chan *agentmodel.StreamingChunk)

	go func() {
		defer close(out)

		tmpl, ok := e.templates[req.TemplateID]
		if !ok {
			emit(ctx, out, errorChunk(req, fmt.Sprintf("template not found: %s", req.TemplateID)))
			return
		}

		lines, errc := e.runStreaming(ctx, tmpl.Image, requestEnvelope{
			TemplateID:      req.TemplateID,
			TemplateVersion: req.TemplateVersion,
			Configuration:   req.Configuration,
			Messages:        req.Messages,
			Temperature:     req.Temperature,
			MaxTokens:       req.MaxTokens,
			Stream:          true,
		})

		index := 0
		for line := range lines {
			chunk, err := agentmodel.UnmarshalStreamingChunk(line)
			if err != nil {
				continue
			}
			chunk.ChunkIndex = index
			index++
			if !emit(ctx, out, chunk) {
				return
			}
		}
		if err := <-errc; err != nil {
			c := errorChunk(req, err.Error())
			c.ChunkIndex = index
			emit(ctx, out, c)
		}
	}()

	return out
}

func (e *Executor) ValidateConfiguration(templateID, templateVersion string, configuration map[string]any) (bool, []string) {
	if _, ok := e.templates[templateID]; !ok {
		return false, []string{fmt.Sprintf("template not found: %s", templateID)}
	}
	// Schema compatibility for container-backed templates is delegated to
	// the image itself at run time; the orchestrator has no static schema
	// to interpret here.
	return true, nil
}

func (e *Executor) GetSupportedTemplates() []executor.TemplateInfo {
	out := make([]executor.TemplateInfo, 0, len(e.templates))
	for _, t := range e.templates {
		out = append(out, t.Template)
	}
	return out
}

// runOnce creates, starts, waits for, and removes a container, returning its
// full stdout.
func (e *Executor) runOnce(ctx context.Context, image string, req requestEnvelope) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("containerexec: failed to encode request: %w", err)
	}

	id, err := e.createAndStart(ctx, image, payload)
	if err != nil {
		return nil, err
	}
	defer e.remove(id)

	statusCh, errCh := e.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("containerexec: container wait failed: %w", err)
		}
	case <-statusCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	logs, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: false})
	if err != nil {
		return nil, fmt.Errorf("containerexec: failed to read container logs: %w", err)
	}
	defer logs.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, io.Discard, logs); err != nil {
		return nil, fmt.Errorf("containerexec: failed to drain container logs: %w", err)
	}
	return buf.Bytes(), nil
}

// runStreaming behaves like runOnce but relays stdout line-by-line while the
// container is still running, via Docker's follow-logs attach.
func (e *Executor) runStreaming(ctx context.Context, image string, req requestEnvelope) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		defer close(errc)

		payload, err := json.Marshal(req)
		if err != nil {
			errc <- fmt.Errorf("containerexec: failed to encode request: %w", err)
			return
		}

		id, err := e.createAndStart(ctx, image, payload)
		if err != nil {
			errc <- err
			return
		}
		defer e.remove(id)

		logs, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, Follow: true})
		if err != nil {
			errc <- fmt.Errorf("containerexec: failed to attach to container logs: %w", err)
			return
		}
		defer logs.Close()

		stdout, pw := io.Pipe()
		defer stdout.Close()
		go func() {
			_, err := stdcopy.StdCopy(pw, io.Discard, logs)
			pw.CloseWithError(err)
		}()

		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines, errc
}

// createAndStart creates a container for image with the encoded request
// passed in an environment variable (CONTAINEREXEC_REQUEST), and starts it.
//
// TODO: switch to attaching stdin directly once the reference template
// images support it; env-var framing caps request size well below what a
// long conversation history would need.
func (e *Executor) createAndStart(ctx context.Context, image string, payload []byte) (string, error) {
	cfg := &cntconfig{
		Image: image,
		Env:   []string{"CONTAINEREXEC_REQUEST=" + string(payload)},
	}
	resp, err := e.cli.ContainerCreate(ctx, cfg.toContainerConfig(), nil, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("containerexec: failed to create container: %w", err)
	}
	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("containerexec: failed to start container: %w", err)
	}
	return resp.ID, nil
}

func (e *Executor) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		e.log.Warn("failed to remove executor container", zap.String("container_id", id), zap.Error(err))
	}
}

// cntconfig is a thin indirection so this file only needs the container
// package's Config type, not the whole client surface, at the call site.
type cntconfig struct {
	Image string
	Env   []string
}

func (c *cntconfig) toContainerConfig() *container.Config {
	return &container.Config{Image: c.Image, Env: c.Env}
}

func emit(ctx context.Context, out chan<- *agentmodel.StreamingChunk, c *agentmodel.StreamingChunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorChunk(req executor.ExecuteParams, msg string) *agentmodel.StreamingChunk {
	reason := agentmodel.FinishError
	return &agentmodel.StreamingChunk{
		MessageID:         req.MessageID,
		TaskID:            req.TaskID,
		AgentID:           req.AgentID,
		ContextID:         req.ContextID,
		ChunkIndex:        0,
		FinishReason:      &reason,
		Metadata:          map[string]any{"stream_end": true, "error": msg},
		TimestampEpochSec: nowEpoch(),
	}
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

var _ executor.Executor = (*Executor)(nil)
