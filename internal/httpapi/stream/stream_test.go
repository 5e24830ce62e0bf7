package stream

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

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

func testServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := &fakeRepo{agents: map[string]*agentmodel.Agent{
		"a1": {
			ID:              "a1",
			Name:            "Echo Agent",
			TemplateID:      "echo",
			TemplateVersion: "v1",
			Status:          agentmodel.StatusActive,
			Configuration:   agentmodel.AgentConfiguration{TemplateConfig: map[string]any{}},
		},
	}}
	ref := executor.NewReference(nil, []executor.TemplateInfo{{ID: "echo", Name: "Echo"}})
	queue := mqueue.NewMemory(nil)
	cache := instancecache.New(repo, ref, time.Hour, time.Hour, nil)

	cfg := orchestrator.Config{
		MaxWorkers:            2,
		WorkerReceiveTimeout:  50 * time.Millisecond,
		StreamReceiveTimeout:  200 * time.Millisecond,
		DispatcherReceiveWait: 50 * time.Millisecond,
	}
	orch := orchestrator.New(queue, repo, ref, cache, cfg, nil)
	if err := orch.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { _ = orch.Shutdown() })

	handler := NewHandler(orch, nil)
	engine := gin.New()
	SetupRoutes(engine.Group("/api/v1/orchestrator"), handler)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv, orch
}

func TestStreamMessageRelaysChunksThenCloses(t *testing.T) {
	srv, orch := testServer(t)

	req := &agentmodel.ExecutionRequest{
		MessageType: agentmodel.MessageTypeStreamExecute,
		AgentID:     "a1",
		Stream:      true,
		Messages:    []agentmodel.ChatMessage{{Role: agentmodel.RoleUser, Content: "one two three"}},
	}
	messageID, err := orch.Submit(req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/orchestrator/messages/" + messageID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var frames int
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
		frames++
	}
	if frames == 0 {
		t.Fatal("expected at least one streamed frame before close")
	}
}
