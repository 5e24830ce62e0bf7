package executeagent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/agentrepo"
	"github.com/kdlbs/agentorc/internal/executor"
	"github.com/kdlbs/agentorc/internal/instancecache"
	"github.com/kdlbs/agentorc/internal/mqueue"
	"github.com/kdlbs/agentorc/internal/orchestrator"
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

func testService(t *testing.T) *Service {
	t.Helper()
	repo := &fakeRepo{agents: map[string]*agentmodel.Agent{
		"a1": {ID: "a1", Name: "Echo Agent", TemplateID: "echo", TemplateVersion: "v1", Status: agentmodel.StatusActive},
	}}
	ref := executor.NewReference(nil, []executor.TemplateInfo{{ID: "echo", Name: "Echo"}})
	queue := mqueue.NewMemory(nil)
	cache := instancecache.New(repo, ref, time.Hour, time.Hour, nil)

	cfg := orchestrator.Config{
		MaxWorkers:            2,
		WorkerReceiveTimeout:  50 * time.Millisecond,
		DispatcherReceiveWait: 50 * time.Millisecond,
	}
	orch := orchestrator.New(queue, repo, ref, cache, cfg, nil)
	if err := orch.Initialize(context.Background()); err != nil {
		t.Fatalf("orchestrator Initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = orch.Shutdown() })

	return New(orch, nil)
}

func TestExecuteValidatesEmptyAgentID(t *testing.T) {
	svc := testService(t)
	_, err := svc.Execute(context.Background(), ExecuteCommand{
		Messages: []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "hi"}},
	})
	var invalid *ErrInvalidCommand
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestExecuteValidatesEmptyMessages(t *testing.T) {
	svc := testService(t)
	_, err := svc.Execute(context.Background(), ExecuteCommand{AgentID: "a1"})
	var invalid *ErrInvalidCommand
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestExecuteValidatesTemperatureRange(t *testing.T) {
	svc := testService(t)
	badTemp := 5.0
	_, err := svc.Execute(context.Background(), ExecuteCommand{
		AgentID:     "a1",
		Messages:    []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "hi"}},
		Temperature: &badTemp,
	})
	var invalid *ErrInvalidCommand
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestExecuteValidatesMaxTokensPositive(t *testing.T) {
	svc := testService(t)
	zero := 0
	_, err := svc.Execute(context.Background(), ExecuteCommand{
		AgentID:   "a1",
		Messages:  []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "hi"}},
		MaxTokens: &zero,
	})
	var invalid *ErrInvalidCommand
	if !errors.As(err, &invalid) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
}

func TestExecuteAssignsTaskIDWhenAbsent(t *testing.T) {
	svc := testService(t)
	result, err := svc.Execute(context.Background(), ExecuteCommand{
		AgentID:  "a1",
		Messages: []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.TaskID == "" {
		t.Error("expected a generated taskID")
	}
	if !result.Success {
		t.Errorf("expected success, got error %q", result.Error)
	}
}

func TestExecuteHonorsSuppliedTaskID(t *testing.T) {
	svc := testService(t)
	result, err := svc.Execute(context.Background(), ExecuteCommand{
		AgentID:  "a1",
		TaskID:   "explicit-task",
		Messages: []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.TaskID != "explicit-task" {
		t.Errorf("expected taskID 'explicit-task', got %q", result.TaskID)
	}
}

func TestExecuteStreamingYieldsChunks(t *testing.T) {
	svc := testService(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	chunks, err := svc.ExecuteStreaming(ctx, ExecuteCommand{
		AgentID:  "a1",
		Messages: []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "one two"}},
	})
	if err != nil {
		t.Fatalf("ExecuteStreaming failed: %v", err)
	}

	var count int
	for range chunks {
		count++
	}
	if count == 0 {
		t.Error("expected at least one streamed chunk")
	}
}
