package natsqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/mqueue"
	"github.com/nats-io/nats.go"
)

// wireEnvelope is the JSON body published to a priority subject. The
// message's ID travels in the Nats-Msg-Id header, its retry count is derived
// from JetStream's delivery count, and its in-flight status is tracked
// locally in natsQueueState; none of these is part of the body, since
// JetStream has no notion of mutable message metadata once published.
type wireEnvelope struct {
	Payload       []byte              `json:"payload"`
	Priority      agentmodel.Priority `json:"priority"`
	MaxRetries    int                 `json:"max_retries"`
	DelaySeconds  int                 `json:"delay_seconds"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	ReplyTo       string              `json:"reply_to,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func encodeEnvelope(e wireEnvelope) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(data []byte) (wireEnvelope, error) {
	var e wireEnvelope
	err := json.Unmarshal(data, &e)
	return e, err
}

func newMessageID() string {
	return uuid.New().String()
}

// toQueueMessage builds the mqueue.QueueMessage view handed back to callers.
// RetryCount is derived from NATS's own delivery count when available, since
// that is the authoritative count of prior NAKs for this message.
func (e wireEnvelope) toQueueMessage(queueName string, p agentmodel.Priority, raw *nats.Msg) *mqueue.QueueMessage {
	retryCount := 0
	if meta, err := raw.Metadata(); err == nil && meta.NumDelivered > 1 {
		retryCount = int(meta.NumDelivered) - 1
	}

	msgID := raw.Header.Get(nats.MsgIdHdr)
	if msgID == "" {
		msgID = newMessageID()
	}

	now := time.Now()
	return &mqueue.QueueMessage{
		ID:            msgID,
		QueueName:     queueName,
		Payload:       e.Payload,
		Priority:      p,
		Status:        mqueue.StatusProcessing,
		RetryCount:    retryCount,
		MaxRetries:    e.MaxRetries,
		DelaySeconds:  e.DelaySeconds,
		CorrelationID: e.CorrelationID,
		ReplyTo:       e.ReplyTo,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     now,
	}
}
