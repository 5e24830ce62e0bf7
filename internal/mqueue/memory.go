package mqueue

import (
	"sync"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"go.uber.org/zap"
)

// Memory is the in-process reference implementation of MessageQueue
// (spec.md §4.1). Each named queue is an independently-locked namedQueue;
// Memory itself only guards the registry of queue names.
type Memory struct {
	mu      sync.RWMutex
	queues  map[string]*namedQueue
	running bool
	log     *logging.Logger
}

// NewMemory constructs an uninitialized in-memory queue backend. Call
// Initialize before use.
func NewMemory(log *logging.Logger) *Memory {
	if log == nil {
		log = logging.Default()
	}
	return &Memory{
		queues: make(map[string]*namedQueue),
		log:    log.WithFields(zap.String("component", "mqueue.memory")),
	}
}

func (m *Memory) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.log.Info("message queue initialized")
	return nil
}

// Shutdown drops all in-memory state. Idempotent (spec.md §4.1).
func (m *Memory) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues = make(map[string]*namedQueue)
	m.running = false
	m.log.Info("message queue shut down")
	return nil
}

// CreateQueue returns true if newly created, false if already present.
// Queues are also auto-created on first SendMessage.
func (m *Memory) CreateQueue(name string, maxSize int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(name, maxSize) == nil
}

// getOrCreateLocked returns the existing queue (non-nil) or creates one and
// returns nil to signal "was newly created". Caller holds m.mu.
func (m *Memory) getOrCreateLocked(name string, maxSize int) *namedQueue {
	if existing, ok := m.queues[name]; ok {
		return existing
	}
	m.queues[name] = newNamedQueue(name, maxSize)
	return nil
}

func (m *Memory) DeleteQueue(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[name]; !ok {
		return false
	}
	delete(m.queues, name)
	return true
}

func (m *Memory) PurgeQueue(name string) int {
	m.mu.RLock()
	q, ok := m.queues[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return q.purge()
}

func (m *Memory) ListQueues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}

func (m *Memory) queueFor(name string) *namedQueue {
	m.mu.RLock()
	q, ok := m.queues[name]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		return q
	}
	q = newNamedQueue(name, 0)
	m.queues[name] = q
	return q
}

func (m *Memory) SendMessage(queueName string, payload []byte, priority agentmodel.Priority, opts SendOptions) (string, error) {
	q := m.queueFor(queueName)
	id, err := q.send(payload, priority, opts)
	if err != nil {
		m.log.Warn("send failed", zap.String("queue", queueName), zap.Error(err))
		return "", err
	}
	return id, nil
}

// ReceiveMessage blocks cooperatively until a message is available or the
// timeout elapses. A nil or non-positive timeout returns immediately.
func (m *Memory) ReceiveMessage(queueName string, timeout *time.Duration) (*QueueMessage, error) {
	q := m.queueFor(queueName)

	if timeout == nil || *timeout <= 0 {
		return q.receiveOne(), nil
	}

	deadline := time.Now().Add(*timeout)
	for {
		if msg := q.receiveOne(); msg != nil {
			return msg, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		time.Sleep(pollInterval)
	}
}

func (m *Memory) ReceiveMessages(queueName string, max int, timeout *time.Duration) ([]*QueueMessage, error) {
	q := m.queueFor(queueName)
	if max <= 0 {
		return nil, nil
	}

	if timeout == nil || *timeout <= 0 {
		return q.receiveMany(max), nil
	}

	deadline := time.Now().Add(*timeout)
	var out []*QueueMessage
	for len(out) < max {
		batch := q.receiveMany(max - len(out))
		out = append(out, batch...)
		if len(out) >= max || time.Now().After(deadline) {
			break
		}
		if len(batch) == 0 {
			time.Sleep(pollInterval)
		}
	}
	return out, nil
}

func (m *Memory) AcknowledgeMessage(msg *QueueMessage) bool {
	if msg == nil {
		return false
	}
	q := m.queueFor(msg.QueueName)
	return q.acknowledge(msg.ID)
}

func (m *Memory) RejectMessage(msg *QueueMessage, requeue bool, reason string) bool {
	if msg == nil {
		return false
	}
	q := m.queueFor(msg.QueueName)
	return q.reject(msg.ID, requeue, reason)
}

func (m *Memory) GetQueueStats(queueName string) (Stats, bool) {
	m.mu.RLock()
	q, ok := m.queues[queueName]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return q.stats(), true
}

func (m *Memory) GetDeadLettered(queueName string) []QueueMessage {
	m.mu.RLock()
	q, ok := m.queues[queueName]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return q.deadLettered()
}

var _ MessageQueue = (*Memory)(nil)
