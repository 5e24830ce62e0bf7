package mqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kdlbs/agentorc/internal/agentmodel"
)

const (
	defaultMaxRetries    = 3
	defaultDeadLetterCap = 100
	pollInterval         = 10 * time.Millisecond
)

// namedQueue holds one queue's pending/in-flight/dead-letter state behind a
// single mutex, per spec.md §4.1's concurrency rule.
type namedQueue struct {
	mu sync.Mutex

	name       string
	maxSize    int
	pending    messageHeap
	inFlight   map[string]*QueueMessage
	deadLetter []QueueMessage // bounded ring, newest last

	completed int
	failed    int
}

func newNamedQueue(name string, maxSize int) *namedQueue {
	q := &namedQueue{
		name:     name,
		maxSize:  maxSize,
		inFlight: make(map[string]*QueueMessage),
	}
	heap.Init(&q.pending)
	return q
}

func (q *namedQueue) send(payload []byte, priority agentmodel.Priority, opts SendOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.pending)+len(q.inFlight) >= q.maxSize {
		return "", ErrQueueFull
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	now := time.Now()
	msg := &QueueMessage{
		ID:            uuid.New().String(),
		QueueName:     q.name,
		Payload:       payload,
		Priority:      priority,
		Status:        StatusPending,
		MaxRetries:    maxRetries,
		DelaySeconds:  opts.DelaySeconds,
		CorrelationID: opts.CorrelationID,
		ReplyTo:       opts.ReplyTo,
		Metadata:      opts.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
		queuedAt:      now,
	}
	heap.Push(&q.pending, msg)
	return msg.ID, nil
}

// receiveOne pops the highest-priority pending message, if any, and marks it
// in-flight. Returns nil when the queue is empty.
func (q *namedQueue) receiveOne() *QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	msg := heap.Pop(&q.pending).(*QueueMessage)
	msg.Status = StatusProcessing
	msg.UpdatedAt = time.Now()
	q.inFlight[msg.ID] = msg
	return msg.Clone()
}

func (q *namedQueue) receiveMany(max int) []*QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*QueueMessage
	for len(out) < max && len(q.pending) > 0 {
		msg := heap.Pop(&q.pending).(*QueueMessage)
		msg.Status = StatusProcessing
		msg.UpdatedAt = time.Now()
		q.inFlight[msg.ID] = msg
		out = append(out, msg.Clone())
	}
	return out
}

func (q *namedQueue) acknowledge(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.inFlight[id]
	if !ok {
		return false
	}
	msg.Status = StatusCompleted
	msg.UpdatedAt = time.Now()
	delete(q.inFlight, id)
	q.completed++
	return true
}

func (q *namedQueue) reject(id string, requeue bool, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.inFlight[id]
	if !ok {
		return false
	}
	delete(q.inFlight, id)

	if requeue && msg.RetryCount < msg.MaxRetries {
		msg.RetryCount++
		msg.Status = StatusRetry
		msg.UpdatedAt = time.Now()
		msg.queuedAt = time.Now() // tail of its priority class; no priority boost
		if msg.Metadata == nil {
			msg.Metadata = map[string]any{}
		}
		if reason != "" {
			msg.Metadata["last_reject_reason"] = reason
		}
		heap.Push(&q.pending, msg)
		return true
	}

	msg.Status = StatusFailed
	msg.UpdatedAt = time.Now()
	if reason != "" {
		if msg.Metadata == nil {
			msg.Metadata = map[string]any{}
		}
		msg.Metadata["dead_letter_reason"] = reason
	}
	q.failed++
	q.pushDeadLetter(msg)
	return true
}

func (q *namedQueue) pushDeadLetter(msg *QueueMessage) {
	q.deadLetter = append(q.deadLetter, *msg.Clone())
	if len(q.deadLetter) > defaultDeadLetterCap {
		q.deadLetter = q.deadLetter[len(q.deadLetter)-defaultDeadLetterCap:]
	}
}

func (q *namedQueue) stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Name:       q.name,
		Pending:    len(q.pending),
		Processing: len(q.inFlight),
		Completed:  q.completed,
		Failed:     q.failed,
		Total:      len(q.pending) + len(q.inFlight) + q.completed + q.failed,
	}
}

func (q *namedQueue) purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := len(q.pending)
	q.pending = nil
	heap.Init(&q.pending)
	return count
}

func (q *namedQueue) deadLettered() []QueueMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]QueueMessage, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}
