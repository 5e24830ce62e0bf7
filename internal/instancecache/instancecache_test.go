package instancecache

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/agentrepo"
	"github.com/kdlbs/agentorc/internal/executor"
)

type fakeRepo struct {
	agents map[string]*agentmodel.Agent
	calls  int
}

func (f *fakeRepo) GetAgent(ctx context.Context, id string) (*agentmodel.Agent, error) {
	f.calls++
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

func newFakeRepo(agents ...*agentmodel.Agent) *fakeRepo {
	m := make(map[string]*agentmodel.Agent, len(agents))
	for _, a := range agents {
		m[a.ID] = a
	}
	return &fakeRepo{agents: m}
}

func TestGetOrCreateCreatesOnMiss(t *testing.T) {
	repo := newFakeRepo(&agentmodel.Agent{ID: "a1", TemplateID: "echo", Status: agentmodel.StatusActive})
	ref := executor.NewReference(nil, nil)
	c := New(repo, ref, time.Hour, time.Hour, nil)

	inst, err := c.GetOrCreate(context.Background(), "a1", "")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if inst.Key != "a1" {
		t.Errorf("expected key 'a1', got %q", inst.Key)
	}
	if inst.MessageCount != 1 {
		t.Errorf("expected messageCount=1, got %d", inst.MessageCount)
	}
}

func TestGetOrCreateReturnsCachedInstance(t *testing.T) {
	repo := newFakeRepo(&agentmodel.Agent{ID: "a1", TemplateID: "echo", Status: agentmodel.StatusActive})
	ref := executor.NewReference(nil, nil)
	c := New(repo, ref, time.Hour, time.Hour, nil)
	ctx := context.Background()

	first, err := c.GetOrCreate(ctx, "a1", "")
	if err != nil {
		t.Fatalf("first GetOrCreate failed: %v", err)
	}
	second, err := c.GetOrCreate(ctx, "a1", "")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}

	if first != second {
		t.Error("expected the same instance pointer on cache hit")
	}
	if second.MessageCount != 2 {
		t.Errorf("expected messageCount=2 after two calls, got %d", second.MessageCount)
	}
	if repo.calls != 1 {
		t.Errorf("expected exactly one repository fetch, got %d", repo.calls)
	}
}

func TestGetOrCreateDistinguishesTaskID(t *testing.T) {
	repo := newFakeRepo(&agentmodel.Agent{ID: "a1", TemplateID: "echo", Status: agentmodel.StatusActive})
	ref := executor.NewReference(nil, nil)
	c := New(repo, ref, time.Hour, time.Hour, nil)
	ctx := context.Background()

	withTask, err := c.GetOrCreate(ctx, "a1", "t1")
	if err != nil {
		t.Fatalf("GetOrCreate with task failed: %v", err)
	}
	if withTask.Key != "a1#t1" {
		t.Errorf("expected key 'a1#t1', got %q", withTask.Key)
	}

	withoutTask, err := c.GetOrCreate(ctx, "a1", "")
	if err != nil {
		t.Fatalf("GetOrCreate without task failed: %v", err)
	}
	if withTask == withoutTask {
		t.Error("expected distinct instances for distinct keys")
	}
}

func TestGetOrCreateAgentNotFound(t *testing.T) {
	repo := newFakeRepo()
	ref := executor.NewReference(nil, nil)
	c := New(repo, ref, time.Hour, time.Hour, nil)

	_, err := c.GetOrCreate(context.Background(), "missing", "")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
	if len(c.List()) != 0 {
		t.Error("expected nothing to be cached on a not-found miss")
	}
}

func TestDestroy(t *testing.T) {
	repo := newFakeRepo(&agentmodel.Agent{ID: "a1", TemplateID: "echo", Status: agentmodel.StatusActive})
	ref := executor.NewReference(nil, nil)
	c := New(repo, ref, time.Hour, time.Hour, nil)
	ctx := context.Background()

	if _, err := c.GetOrCreate(ctx, "a1", ""); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !c.Destroy("a1", "") {
		t.Error("expected Destroy to return true for a live instance")
	}
	if c.Destroy("a1", "") {
		t.Error("expected Destroy to return false for an already-gone instance")
	}
}

func TestListReturnsSnapshot(t *testing.T) {
	repo := newFakeRepo(
		&agentmodel.Agent{ID: "a1", TemplateID: "echo", Status: agentmodel.StatusActive},
		&agentmodel.Agent{ID: "a2", TemplateID: "echo", Status: agentmodel.StatusActive},
	)
	ref := executor.NewReference(nil, nil)
	c := New(repo, ref, time.Hour, time.Hour, nil)
	ctx := context.Background()

	if _, err := c.GetOrCreate(ctx, "a1", ""); err != nil {
		t.Fatalf("GetOrCreate a1 failed: %v", err)
	}
	if _, err := c.GetOrCreate(ctx, "a2", ""); err != nil {
		t.Fatalf("GetOrCreate a2 failed: %v", err)
	}

	summaries := c.List()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
}

func TestDestroyAll(t *testing.T) {
	repo := newFakeRepo(&agentmodel.Agent{ID: "a1", TemplateID: "echo", Status: agentmodel.StatusActive})
	ref := executor.NewReference(nil, nil)
	c := New(repo, ref, time.Hour, time.Hour, nil)
	ctx := context.Background()

	if _, err := c.GetOrCreate(ctx, "a1", ""); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	c.DestroyAll()
	if len(c.List()) != 0 {
		t.Error("expected DestroyAll to clear every instance")
	}
}

func TestCleanupLoopEvictsIdleInstances(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		repo := newFakeRepo(&agentmodel.Agent{ID: "a1", TemplateID: "echo", Status: agentmodel.StatusActive})
		ref := executor.NewReference(nil, nil)
		c := New(repo, ref, 10*time.Millisecond, 20*time.Millisecond, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if _, err := c.GetOrCreate(ctx, "a1", ""); err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}

		c.Start(ctx)
		defer c.Stop()

		time.Sleep(100 * time.Millisecond)
		synctest.Wait()

		if len(c.List()) != 0 {
			t.Error("expected the idle instance to have been evicted")
		}
	})
}

func TestStartIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	ref := executor.NewReference(nil, nil)
	c := New(repo, ref, time.Hour, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	c.Start(ctx) // must not spawn a second loop or deadlock Stop
	c.Stop()
}
