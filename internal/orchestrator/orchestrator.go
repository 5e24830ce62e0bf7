// Package orchestrator implements the Orchestrator of spec.md §4.4: the
// single-process scheduling surface tying the Message Queue, Instance Cache,
// and Executor contract together. Grounded on the teacher's
// internal/orchestrator/service.go (Start/Stop lifecycle, component wiring,
// status reporting) and internal/orchestrator/scheduler/scheduler.go (worker
// pool/processLoop shape), generalized from task-session dispatch to the
// spec's execute/stream_execute message protocol.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/agentrepo"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"github.com/kdlbs/agentorc/internal/executor"
	"github.com/kdlbs/agentorc/internal/instancecache"
	"github.com/kdlbs/agentorc/internal/mqueue"
	"go.uber.org/zap"
)

// Queue naming conventions (spec.md §4.4 — not configurable).
const (
	PrimaryQueue = "agent.messages"
	ResultsQueue = "agent.results"
)

// StreamQueueName returns the ephemeral per-message stream queue name.
func StreamQueueName(messageID string) string {
	return "agent.stream." + messageID
}

var (
	// ErrAlreadyRunning is returned by Initialize when called on a running
	// Orchestrator.
	ErrAlreadyRunning = errors.New("orchestrator: already running")
	// ErrNotRunning is returned by Submit and AwaitResult when the
	// Orchestrator is not running (before Initialize or after Shutdown), and
	// by an AwaitResult call that is still waiting when Shutdown runs.
	ErrNotRunning = errors.New("orchestrator: not running")
)

// Config bundles the construction-time parameters spec.md §4.4 names,
// plus the suspension-point timeouts spec.md §5 fixes as typical values.
type Config struct {
	MaxWorkers            int
	CleanupInterval       time.Duration
	InstanceTimeout       time.Duration
	WorkerReceiveTimeout  time.Duration // default 5s (§5)
	StreamReceiveTimeout  time.Duration // default 30s (§5)
	PrimaryQueueMaxSize   int
	DispatcherReceiveWait time.Duration // poll granularity for the results dispatcher
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.WorkerReceiveTimeout <= 0 {
		c.WorkerReceiveTimeout = 5 * time.Second
	}
	if c.StreamReceiveTimeout <= 0 {
		c.StreamReceiveTimeout = 30 * time.Second
	}
	if c.DispatcherReceiveWait <= 0 {
		c.DispatcherReceiveWait = 5 * time.Second
	}
	return c
}

// Orchestrator is the entire single-process scheduling surface (spec.md §4.4).
type Orchestrator struct {
	queue mqueue.MessageQueue
	repo  agentrepo.Repository
	exec  executor.Executor
	cache *instancecache.Cache
	log   *logging.Logger
	cfg   Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	waitersMu sync.Mutex
	waiters   map[string]chan *agentmodel.ExecutionResult
}

// New builds an uninitialized Orchestrator. Call Initialize to start it.
//
// The Executor contract (spec.md §4.2) is stateless and fully usable the
// moment its constructor returns, so unlike the teacher's service.go — which
// calls explicit Start/Stop on its Docker-backed executor — this Orchestrator
// has nothing to call on exec beyond Execute/StreamExecute; only the queue
// carries its own Initialize/Shutdown lifecycle, which this type still
// drives exactly as spec.md §4.4 describes.
func New(queue mqueue.MessageQueue, repo agentrepo.Repository, exec executor.Executor, cache *instancecache.Cache, cfg Config, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Default()
	}
	return &Orchestrator{
		queue:   queue,
		repo:    repo,
		exec:    exec,
		cache:   cache,
		cfg:     cfg.withDefaults(),
		log:     log.WithFields(zap.String("component", "orchestrator")),
		waiters: make(map[string]chan *agentmodel.ExecutionResult),
	}
}

// Initialize starts the Orchestrator: the message queue backend, the
// primary/results queues, maxWorkers workers, the results dispatcher, and
// the instance cache's cleanup loop (spec.md §4.4).
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	if err := o.queue.Initialize(); err != nil {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: queue initialize: %w", err)
	}

	o.queue.CreateQueue(PrimaryQueue, o.cfg.PrimaryQueueMaxSize)
	o.queue.CreateQueue(ResultsQueue, 0)

	o.cache.Start(ctx)

	o.wg.Add(1)
	go o.dispatchResults(ctx)

	for i := 0; i < o.cfg.MaxWorkers; i++ {
		o.wg.Add(1)
		go o.workerLoop(ctx, i)
	}

	o.log.Info("orchestrator initialized", zap.Int("workers", o.cfg.MaxWorkers))
	return nil
}

// Shutdown stops workers and the cleanup loop, destroys all cached
// instances, and shuts down the queue. Safe to call more than once: a
// repeated call is a silent no-op that returns nil (see DESIGN.md's
// open-question resolution on Shutdown idempotency).
func (o *Orchestrator) Shutdown() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.wg.Wait()

	o.cache.Stop()
	o.cache.DestroyAll()

	if err := o.queue.Shutdown(); err != nil {
		o.log.Warn("queue shutdown returned an error", zap.Error(err))
		return err
	}
	o.log.Info("orchestrator shut down")
	return nil
}

// Submit serializes request and enqueues it on the primary queue, defaulting
// replyTo to ResultsQueue and recording message-type/timestamp metadata.
// Never blocks on execution (spec.md §4.4, §5).
func (o *Orchestrator) Submit(request *agentmodel.ExecutionRequest) (string, error) {
	if !o.isRunning() {
		return "", ErrNotRunning
	}

	if request.MessageID == "" {
		request.MessageID = uuid.New().String()
	}
	if request.ReplyTo == "" {
		request.ReplyTo = ResultsQueue
	}
	if request.Priority == 0 {
		request.Priority = agentmodel.PriorityNormal
	}

	payload, err := agentmodel.MarshalExecutionRequest(request)
	if err != nil {
		return "", fmt.Errorf("orchestrator: marshal request: %w", err)
	}

	opts := mqueue.SendOptions{
		DelaySeconds:  0,
		CorrelationID: request.MessageID,
		ReplyTo:       request.ReplyTo,
		Metadata: map[string]any{
			"message_type": string(request.MessageType),
			"submitted_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}

	if _, err := o.queue.SendMessage(PrimaryQueue, payload, request.Priority, opts); err != nil {
		return "", fmt.Errorf("orchestrator: submit: %w", err)
	}
	return request.MessageID, nil
}

// AwaitResult blocks until a result for messageID arrives on the results
// queue, the timeout elapses, or ctx is cancelled. Returns (nil, nil) on
// timeout, matching spec.md §4.5 step 5's "None" case for the caller to
// synthesize a timeout ExecutionResult.
func (o *Orchestrator) AwaitResult(ctx context.Context, messageID string, timeout time.Duration) (*agentmodel.ExecutionResult, error) {
	if !o.isRunning() {
		return nil, ErrNotRunning
	}

	ch := make(chan *agentmodel.ExecutionResult, 1)
	o.waitersMu.Lock()
	o.waiters[messageID] = ch
	o.waitersMu.Unlock()
	defer func() {
		o.waitersMu.Lock()
		delete(o.waiters, messageID)
		o.waitersMu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-ch:
		return result, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.stopCh:
		return nil, ErrNotRunning
	}
}

// StreamResults consumes agent.stream.<messageID> and forwards each chunk on
// the returned channel, closing it when the stream_end marker is observed or
// a per-receive timeout elapses with no chunk (EOF, per spec.md §5). The
// stream queue is deleted on termination.
func (o *Orchestrator) StreamResults(ctx context.Context, messageID string) <-chan *agentmodel.StreamingChunk {
	out := make(chan *agentmodel.StreamingChunk)
	queueName := StreamQueueName(messageID)

	go func() {
		defer close(out)
		defer o.queue.DeleteQueue(queueName)

		timeout := o.cfg.StreamReceiveTimeout
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			msg, err := o.queue.ReceiveMessage(queueName, &timeout)
			if err != nil {
				o.log.Warn("stream receive failed", zap.String("message_id", messageID), zap.Error(err))
				return
			}
			if msg == nil {
				return // no chunk within the window: treat as end of stream
			}

			chunk, err := agentmodel.UnmarshalStreamingChunk(msg.Payload)
			if err != nil {
				o.queue.RejectMessage(msg, false, err.Error())
				return
			}
			o.queue.AcknowledgeMessage(msg)

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
			if chunk.IsStreamEnd() {
				return
			}
		}
	}()

	return out
}

func (o *Orchestrator) isRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Running reports whether the Orchestrator is between an Initialize and a
// Shutdown call, for status-reporting callers such as internal/httpapi.
func (o *Orchestrator) Running() bool {
	return o.isRunning()
}

// dispatchResults is the sole consumer of the results queue, routing each
// ExecutionResult to the AwaitResult caller waiting on its messageID via the
// correlation-indexed waiter map (SPEC_FULL.md's resolution of spec.md §9's
// open question 1). Results with no matching waiter are discarded, not
// re-enqueued, exactly as spec.md §4.4 describes for the naive case.
func (o *Orchestrator) dispatchResults(ctx context.Context) {
	defer o.wg.Done()
	timeout := o.cfg.DispatcherReceiveWait

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, err := o.queue.ReceiveMessage(ResultsQueue, &timeout)
		if err != nil {
			o.log.Warn("results dispatcher receive failed", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}

		result, err := agentmodel.UnmarshalExecutionResult(msg.Payload)
		if err != nil {
			o.queue.RejectMessage(msg, false, err.Error())
			continue
		}
		o.queue.AcknowledgeMessage(msg)

		o.waitersMu.Lock()
		ch, ok := o.waiters[result.MessageID]
		o.waitersMu.Unlock()
		if ok {
			select {
			case ch <- result:
			default:
			}
		}
	}
}

func (o *Orchestrator) sendResult(replyTo string, result *agentmodel.ExecutionResult) {
	payload, err := agentmodel.MarshalExecutionResult(result)
	if err != nil {
		o.log.Error("failed to marshal execution result", zap.Error(err))
		return
	}
	opts := mqueue.SendOptions{CorrelationID: result.MessageID}
	if _, err := o.queue.SendMessage(replyTo, payload, agentmodel.PriorityNormal, opts); err != nil {
		o.log.Error("failed to send execution result", zap.String("reply_to", replyTo), zap.Error(err))
	}
}
