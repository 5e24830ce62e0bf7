// Package mqueue implements the named, priority-ordered Message Queue
// abstraction of spec.md §4.1: per-named-queue FIFO-by-priority buffers with
// in-flight tracking and reject/requeue/dead-letter semantics.
package mqueue

import (
	"errors"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
)

// Status is a QueueMessage's position in the state machine of spec.md §4.1.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetry      Status = "retry"
)

var (
	// ErrQueueNotFound names a queue that does not exist. No backend in this
	// module returns it: operations on a missing queue report false, 0 or an
	// empty result, and sends and receives auto-create the queue.
	ErrQueueNotFound = errors.New("mqueue: queue not found")
	// ErrQueueFull is returned by SendMessage when the target queue is at
	// its configured maxSize.
	ErrQueueFull = errors.New("mqueue: queue is full")
	// ErrShutdown denotes a backend that has been shut down. No backend in
	// this module returns it; the in-memory backend keeps accepting
	// operations after Shutdown, on fresh empty state.
	ErrShutdown = errors.New("mqueue: backend is shut down")
)

// QueueMessage is the envelope spec.md §3 describes: at any moment it is in
// exactly one of a queue's pending list, its in-flight list, or removed.
type QueueMessage struct {
	ID            string
	QueueName     string
	Payload       []byte
	Priority      agentmodel.Priority
	Status        Status
	RetryCount    int
	MaxRetries    int
	DelaySeconds  int
	CorrelationID string
	ReplyTo       string
	Metadata      map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time

	queuedAt time.Time // enqueue time used for FIFO-within-priority ordering
	index    int        // heap.Interface bookkeeping
}

// Clone returns a deep-enough copy safe to hand to a caller outside the
// queue's mutex (the byte payload is shared, since it is treated as opaque
// and never mutated in place).
func (m *QueueMessage) Clone() *QueueMessage {
	if m == nil {
		return nil
	}
	cp := *m
	if m.Metadata != nil {
		cp.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Stats reports a named queue's counters (spec.md §4.1 GetQueueStats).
type Stats struct {
	Name       string
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Total      int
}

// SendOptions configures SendMessage beyond the required (queue, payload, priority).
type SendOptions struct {
	DelaySeconds  int
	CorrelationID string
	ReplyTo       string
	Metadata      map[string]any
	MaxRetries    int // 0 means use the backend default
}

// MessageQueue is the public contract of spec.md §4.1.
type MessageQueue interface {
	Initialize() error
	Shutdown() error

	CreateQueue(name string, maxSize int) bool
	DeleteQueue(name string) bool
	PurgeQueue(name string) int
	ListQueues() []string

	SendMessage(queueName string, payload []byte, priority agentmodel.Priority, opts SendOptions) (string, error)

	// ReceiveMessage blocks cooperatively for up to timeout (nil or <=0
	// means return immediately) until a message is available.
	ReceiveMessage(queueName string, timeout *time.Duration) (*QueueMessage, error)
	ReceiveMessages(queueName string, max int, timeout *time.Duration) ([]*QueueMessage, error)

	AcknowledgeMessage(msg *QueueMessage) bool
	RejectMessage(msg *QueueMessage, requeue bool, reason string) bool

	GetQueueStats(queueName string) (Stats, bool)
	GetDeadLettered(queueName string) []QueueMessage
}
