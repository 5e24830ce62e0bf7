// Package stream relays Orchestrator.StreamResults over a WebSocket
// connection, one connection per messageID.
//
// Grounded on the teacher's internal/orchestrator/streaming/{hub,handlers}.go,
// but deliberately simplified: the teacher's Hub is a multi-client
// broadcast-per-task registry (many WebSocket clients can subscribe to the
// same task's events). spec.md's StreamResults model is strictly
// one-producer/one-consumer per messageID (a per-message stream queue that a
// single goroutine drains), so there is nothing to broadcast or
// register/unregister — each connection owns exactly one StreamResults
// channel for exactly as long as the connection is open. A hub with its
// registry, mutex-guarded client maps, and broadcast channel would model a
// fan-out this system never performs, so this package relays directly
// instead. The teacher's Client.WritePump/ReadPump bodies are not present in
// the retrieval pack (grep over the full example tree found no matches), so
// the ping/pong keep-alive and write-deadline handling below follows the
// standard gorilla/websocket idiom rather than copied teacher code.
package stream

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"github.com/kdlbs/agentorc/internal/orchestrator"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP connections into WebSocket relays of a single
// messageID's streaming chunks.
type Handler struct {
	orch *orchestrator.Orchestrator
	log  *logging.Logger
}

// NewHandler builds a stream Handler wrapping the Orchestrator that owns the
// per-message stream queues.
func NewHandler(orch *orchestrator.Orchestrator, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Default()
	}
	return &Handler{orch: orch, log: log.WithFields(zap.String("component", "httpapi.stream"))}
}

// StreamMessage handles WS /api/v1/orchestrator/messages/:messageId/stream,
// relaying agent.stream.<messageId> chunks to the caller until the stream
// ends (stream_end chunk, receive timeout, or the connection closing).
func (h *Handler) StreamMessage(c *gin.Context) {
	messageID := c.Param("messageId")
	if messageID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.log.WithFields(zap.String("message_id", messageID))
	log.Info("stream connection established")

	ctx := c.Request.Context()
	chunks := h.orch.StreamResults(ctx, messageID)

	go h.readPump(conn, log)
	h.writePump(conn, chunks, log)
}

// readPump drains and discards inbound frames so pong control messages are
// processed, and detects client-initiated closes. The relay is one-way
// (server -> client); it carries no subscription protocol of its own.
func (h *Handler) readPump(conn *websocket.Conn, log *logging.Logger) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, chunks <-chan *agentmodel.StreamingChunk, log *logging.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			payload, err := json.Marshal(chunk)
			if err != nil {
				log.Error("marshal chunk failed", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug("write failed, closing", zap.Error(err))
				return
			}
			if chunk.IsStreamEnd() || chunk.FinishReason != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SetupRoutes adds the WebSocket streaming route to router.
func SetupRoutes(router *gin.RouterGroup, handler *Handler) {
	router.GET("/messages/:messageId/stream", handler.StreamMessage)
}
