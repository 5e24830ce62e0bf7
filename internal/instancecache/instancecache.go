// Package instancecache implements the Instance Cache of spec.md §4.3: an
// in-process map enforcing at-most-one live AgentInstance per (agentID,
// taskID) key, with idle eviction. Grounded on the teacher's
// internal/orchestrator/scheduler.Scheduler for its Start/Stop/ticker-loop
// shape, generalized from a single processing loop to a pure cleanup sweep.
package instancecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/agentrepo"
	"github.com/kdlbs/agentorc/internal/common/logging"
	"github.com/kdlbs/agentorc/internal/executor"
	"go.uber.org/zap"
)

// ErrAgentNotFound is returned by GetOrCreate when the backing repository has
// no record for the requested agentID (spec.md §4.3 rule 2). It wraps
// agentrepo.ErrAgentNotFound so callers can check either sentinel.
var ErrAgentNotFound = fmt.Errorf("instancecache: %w", agentrepo.ErrAgentNotFound)

// AgentInstance is the in-memory, never-serialized cache entry of spec.md
// §3: an immutable agent snapshot plus the mutable bookkeeping the cache
// maintains while it is alive.
type AgentInstance struct {
	Key      string
	AgentID  string
	TaskID   string
	Agent    agentmodel.Agent // immutable snapshot, copied by value on creation
	Executor executor.Executor

	CreatedAt    time.Time
	LastActivity time.Time
	MessageCount int
}

// Summary is the read-only view List() returns.
type Summary struct {
	Key          string
	AgentID      string
	TaskID       string
	TemplateID   string
	CreatedAt    time.Time
	LastActivity time.Time
	MessageCount int
}

// Cache is the Instance Cache. A single mutex guards the map; lookups,
// creations, and destroys are atomic with respect to each other (rule 1).
type Cache struct {
	mu        sync.Mutex
	instances map[string]*AgentInstance

	repo     agentrepo.Repository
	exec     executor.Executor
	timeout  time.Duration
	interval time.Duration
	log      *logging.Logger

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New builds an uninitialized Cache. Call Start to begin the cleanup loop.
func New(repo agentrepo.Repository, exec executor.Executor, cleanupInterval, instanceTimeout time.Duration, log *logging.Logger) *Cache {
	if log == nil {
		log = logging.Default()
	}
	return &Cache{
		instances: make(map[string]*AgentInstance),
		repo:      repo,
		exec:      exec,
		interval:  cleanupInterval,
		timeout:   instanceTimeout,
		log:       log.WithFields(zap.String("component", "instancecache")),
	}
}

func instanceKey(agentID, taskID string) string {
	if taskID == "" {
		return agentID
	}
	return agentID + "#" + taskID
}

// GetOrCreate returns the live instance for (agentID, taskID), creating one
// on first request for the key (spec.md §4.3). Every successful call touches
// lastActivity and increments messageCount (rule 3).
func (c *Cache) GetOrCreate(ctx context.Context, agentID, taskID string) (*AgentInstance, error) {
	key := instanceKey(agentID, taskID)

	c.mu.Lock()
	if inst, ok := c.instances[key]; ok {
		inst.LastActivity = time.Now()
		inst.MessageCount++
		c.mu.Unlock()
		return inst, nil
	}
	c.mu.Unlock()

	// Fetch outside the lock: the repository call may block on I/O, and
	// rule 1 only requires the map mutation itself to be atomic.
	agent, err := c.repo.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, agentrepo.ErrAgentNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("instancecache: failed to fetch agent %s: %w", agentID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have created it while we were fetching.
	if inst, ok := c.instances[key]; ok {
		inst.LastActivity = time.Now()
		inst.MessageCount++
		return inst, nil
	}

	now := time.Now()
	inst := &AgentInstance{
		Key:          key,
		AgentID:      agentID,
		TaskID:       taskID,
		Agent:        *agent,
		Executor:     c.exec,
		CreatedAt:    now,
		LastActivity: now,
		MessageCount: 1,
	}
	c.instances[key] = inst
	c.log.Debug("agent instance created", zap.String("key", key))
	return inst, nil
}

// Destroy removes the instance for (agentID, taskID), if any.
func (c *Cache) Destroy(agentID, taskID string) bool {
	key := instanceKey(agentID, taskID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.instances[key]; !ok {
		return false
	}
	delete(c.instances, key)
	c.log.Debug("agent instance destroyed", zap.String("key", key))
	return true
}

// List returns a snapshot of every live instance.
func (c *Cache) List() []Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Summary, 0, len(c.instances))
	for _, inst := range c.instances {
		out = append(out, Summary{
			Key:          inst.Key,
			AgentID:      inst.AgentID,
			TaskID:       inst.TaskID,
			TemplateID:   inst.Agent.TemplateID,
			CreatedAt:    inst.CreatedAt,
			LastActivity: inst.LastActivity,
			MessageCount: inst.MessageCount,
		})
	}
	return out
}

// DestroyAll removes every live instance. Used on orchestrator shutdown
// (spec.md §4.3 rule 5).
func (c *Cache) DestroyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := len(c.instances)
	c.instances = make(map[string]*AgentInstance)
	if count > 0 {
		c.log.Info("destroyed all agent instances", zap.Int("count", count))
	}
}

// Start begins the idle-eviction cleanup loop (rule 4). Idempotent: calling
// Start twice while already running is a no-op.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(1)
	go c.cleanupLoop(ctx)
}

// Stop halts the cleanup loop. It does not destroy instances; callers that
// want rule 5's full teardown should also call DestroyAll.
func (c *Cache) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
}

func (c *Cache) cleanupLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictIdle()
		}
	}
}

// evictIdle destroys every instance idle longer than timeout. Best-effort:
// eviction here can never itself fail, but the loop structure matches the
// teacher's "swallow and log" pattern for cleanup sweeps that must not halt
// on a single bad entry (rule 4).
func (c *Cache) evictIdle() {
	now := time.Now()
	var evicted []string

	c.mu.Lock()
	for key, inst := range c.instances {
		if now.Sub(inst.LastActivity) > c.timeout {
			delete(c.instances, key)
			evicted = append(evicted, key)
		}
	}
	c.mu.Unlock()

	for _, key := range evicted {
		c.log.Info("evicted idle agent instance", zap.String("key", key))
	}
}
