package httpapi

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kdlbs/agentorc/internal/common/errors"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"github.com/kdlbs/agentorc/internal/executeagent"
	"github.com/kdlbs/agentorc/internal/orchestrator"
	"go.uber.org/zap"
)

// Handler holds the HTTP handlers for the agent execution API.
type Handler struct {
	svc  *executeagent.Service
	orch *orchestrator.Orchestrator
	log  *logging.Logger
}

// NewHandler builds a Handler wrapping the Execute Agent Service.
func NewHandler(svc *executeagent.Service, orch *orchestrator.Orchestrator, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Default()
	}
	return &Handler{svc: svc, orch: orch, log: log.WithFields(zap.String("component", "httpapi"))}
}

func (h *Handler) commandFrom(c *gin.Context, req ExecuteRequest) executeagent.ExecuteCommand {
	return executeagent.ExecuteCommand{
		AgentID:        c.Param("agentId"),
		TaskID:         req.TaskID,
		ContextID:      req.ContextID,
		UserID:         req.UserID,
		Messages:       req.Messages,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
		TimeoutSeconds: req.TimeoutSeconds,
		Priority:       req.Priority,
		CorrelationID:  req.CorrelationID,
		Metadata:       req.Metadata,
	}
}

// Execute handles POST /api/v1/agents/:agentId/execute.
func (h *Handler) Execute(c *gin.Context) {
	var body ExecuteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errors.ValidationError("body", err.Error()))
		return
	}

	cmd := h.commandFrom(c, body)
	result, err := h.svc.Execute(c.Request.Context(), cmd)
	if err != nil {
		h.handleExecuteError(c, err)
		return
	}

	c.JSON(http.StatusOK, newExecuteResponse(result))
}

// ExecuteStream handles POST /api/v1/agents/:agentId/execute/stream,
// relaying StreamingChunks as server-sent events.
func (h *Handler) ExecuteStream(c *gin.Context) {
	var body ExecuteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errors.ValidationError("body", err.Error()))
		return
	}

	cmd := h.commandFrom(c, body)
	chunks, err := h.svc.ExecuteStreaming(c.Request.Context(), cmd)
	if err != nil {
		h.handleExecuteError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w gin.ResponseWriter) bool {
		chunk, ok := <-chunks
		if !ok {
			return false
		}
		c.SSEvent("chunk", chunk)
		return true
	})
}

func (h *Handler) handleExecuteError(c *gin.Context, err error) {
	var invalid *executeagent.ErrInvalidCommand
	if stderrors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, errors.ValidationError("command", invalid.Reason))
		return
	}
	h.log.Error("execute failed", zap.Error(err))
	writeAppError(c, err)
}

// Status reports the orchestrator's liveness for GET /api/v1/orchestrator/status.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.orch.Running()})
}
