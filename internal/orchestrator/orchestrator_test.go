package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/agentrepo"
	"github.com/kdlbs/agentorc/internal/executor"
	"github.com/kdlbs/agentorc/internal/instancecache"
	"github.com/kdlbs/agentorc/internal/mqueue"
)

type fakeRepo struct {
	agents map[string]*agentmodel.Agent
}

func (f *fakeRepo) GetAgent(ctx context.Context, id string) (*agentmodel.Agent, error) {
	agent, ok := f.agents[id]
	if !ok {
		return nil, agentrepo.ErrAgentNotFound
	}
	cp := *agent
	return &cp, nil
}
func (f *fakeRepo) Save(ctx context.Context, agent *agentmodel.Agent) error { return nil }
func (f *fakeRepo) List(ctx context.Context) ([]*agentmodel.Agent, error)   { return nil, nil }
func (f *fakeRepo) Close() error                                           { return nil }

func echoAgent(id string) *agentmodel.Agent {
	return &agentmodel.Agent{
		ID:              id,
		Name:            "Echo Agent",
		TemplateID:      "echo",
		TemplateVersion: "v1",
		Status:          agentmodel.StatusActive,
		Configuration:   agentmodel.AgentConfiguration{TemplateConfig: map[string]any{}},
	}
}

func testOrchestrator(t *testing.T, agents ...*agentmodel.Agent) *Orchestrator {
	t.Helper()
	repo := &fakeRepo{agents: make(map[string]*agentmodel.Agent)}
	for _, a := range agents {
		repo.agents[a.ID] = a
	}

	ref := executor.NewReference(nil, []executor.TemplateInfo{{ID: "echo", Name: "Echo"}})
	queue := mqueue.NewMemory(nil)
	cache := instancecache.New(repo, ref, time.Hour, time.Hour, nil)

	cfg := Config{
		MaxWorkers:            2,
		WorkerReceiveTimeout:  50 * time.Millisecond,
		StreamReceiveTimeout:  200 * time.Millisecond,
		DispatcherReceiveWait: 50 * time.Millisecond,
	}
	o := New(queue, repo, ref, cache, cfg, nil)

	ctx := context.Background()
	if err := o.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = o.Shutdown() })
	return o
}

func TestExecuteRoundTrip(t *testing.T) {
	o := testOrchestrator(t, echoAgent("a1"))

	req := &agentmodel.ExecutionRequest{
		MessageType: agentmodel.MessageTypeExecute,
		AgentID:     "a1",
		Messages:    []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "hello"}},
	}
	messageID, err := o.Submit(req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if messageID == "" {
		t.Fatal("expected a non-empty messageID")
	}

	result, err := o.AwaitResult(context.Background(), messageID, 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitResult failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a result, got nil (timeout)")
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.MessageID != messageID {
		t.Errorf("expected messageID %q, got %q", messageID, result.MessageID)
	}
}

func TestAwaitResultTimesOutForUnknownMessage(t *testing.T) {
	o := testOrchestrator(t, echoAgent("a1"))

	result, err := o.AwaitResult(context.Background(), "never-submitted", 80*time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result on timeout, got %+v", result)
	}
}

func TestExecuteUnknownAgentProducesFailureResult(t *testing.T) {
	o := testOrchestrator(t)

	req := &agentmodel.ExecutionRequest{
		MessageType: agentmodel.MessageTypeExecute,
		AgentID:     "missing",
		Messages:    []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "hi"}},
	}
	messageID, err := o.Submit(req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	result, err := o.AwaitResult(context.Background(), messageID, 2*time.Second)
	if err != nil {
		t.Fatalf("AwaitResult failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a failure result, got nil")
	}
	if result.Success {
		t.Error("expected Success=false for an unknown agent")
	}
}

func TestStreamExecuteDeliversChunksInOrderThenEnds(t *testing.T) {
	o := testOrchestrator(t, echoAgent("a1"))

	req := &agentmodel.ExecutionRequest{
		MessageType: agentmodel.MessageTypeStreamExecute,
		AgentID:     "a1",
		Stream:      true,
		Messages:    []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "one two three"}},
	}
	messageID, err := o.Submit(req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Wait for the summary concurrently: the results dispatcher discards a
	// result that arrives while no AwaitResult call is registered for it, and
	// the worker sends the summary right after the last chunk.
	type awaited struct {
		result *agentmodel.ExecutionResult
		err    error
	}
	summary := make(chan awaited, 1)
	go func() {
		result, err := o.AwaitResult(context.Background(), messageID, 2*time.Second)
		summary <- awaited{result, err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunks := o.StreamResults(ctx, messageID)
	var received []*agentmodel.StreamingChunk
	for chunk := range chunks {
		received = append(received, chunk)
	}

	if len(received) == 0 {
		t.Fatal("expected at least one streamed chunk")
	}
	for i, c := range received {
		if c.ChunkIndex != i {
			t.Errorf("expected chunkIndex %d, got %d", i, c.ChunkIndex)
		}
	}

	got := <-summary
	if got.err != nil {
		t.Fatalf("AwaitResult failed: %v", got.err)
	}
	if got.result == nil || !got.result.Success {
		t.Fatalf("expected a successful streaming summary result, got %+v", got.result)
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	o := testOrchestrator(t, echoAgent("a1"))
	if err := o.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	_, err := o.Submit(&agentmodel.ExecutionRequest{AgentID: "a1", MessageType: agentmodel.MessageTypeExecute})
	if err != ErrNotRunning {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	o := testOrchestrator(t)
	if err := o.Shutdown(); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	if err := o.Shutdown(); err != nil {
		t.Errorf("second Shutdown should be a no-op, got error: %v", err)
	}
}
