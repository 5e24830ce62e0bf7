package agentrepo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kdlbs/agentorc/internal/agentmodel"
)

func createTestSQLiteRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	repo, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create sqlite repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testAgent(id string) *agentmodel.Agent {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &agentmodel.Agent{
		ID:              id,
		Name:            "test agent",
		TemplateID:      "echo",
		TemplateVersion: "1.0.0",
		Configuration:   agentmodel.AgentConfiguration{Toolsets: []string{}, TemplateConfig: map[string]any{}},
		Status:          agentmodel.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        map[string]any{"owner": "test"},
	}
}

func TestNewSQLiteRepository(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	if repo.writer == nil || repo.reader == nil {
		t.Error("expected writer and reader to be initialized")
	}
}

func TestSQLiteRepositoryGetAgentNotFound(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()

	_, err := repo.GetAgent(ctx, "missing")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestSQLiteRepositorySaveAndGetAgent(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()
	agent := testAgent("a1")

	if err := repo.Save(ctx, agent); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := repo.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.ID != agent.ID || got.Name != agent.Name || got.TemplateID != agent.TemplateID {
		t.Errorf("got %+v, want %+v", got, agent)
	}
	if got.Status != agentmodel.StatusActive {
		t.Errorf("expected status active, got %s", got.Status)
	}
	if got.Metadata["owner"] != "test" {
		t.Errorf("expected metadata to round-trip, got %+v", got.Metadata)
	}
	if !got.CreatedAt.Equal(agent.CreatedAt) {
		t.Errorf("expected created_at to round-trip, got %v want %v", got.CreatedAt, agent.CreatedAt)
	}
}

func TestSQLiteRepositorySaveUpsertsExistingAgent(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()
	agent := testAgent("a1")

	if err := repo.Save(ctx, agent); err != nil {
		t.Fatalf("initial Save failed: %v", err)
	}

	agent.Status = agentmodel.StatusInactive
	agent.Name = "renamed"
	if err := repo.Save(ctx, agent); err != nil {
		t.Fatalf("upsert Save failed: %v", err)
	}

	got, err := repo.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if got.Status != agentmodel.StatusInactive || got.Name != "renamed" {
		t.Errorf("expected upsert to apply, got %+v", got)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected upsert to not duplicate rows, got %d rows", len(all))
	}
}

func TestSQLiteRepositoryList(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, testAgent("a1")); err != nil {
		t.Fatalf("Save a1 failed: %v", err)
	}
	if err := repo.Save(ctx, testAgent("a2")); err != nil {
		t.Fatalf("Save a2 failed: %v", err)
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 agents, got %d", len(all))
	}
}

func TestSQLiteRepositoryClose(t *testing.T) {
	repo := createTestSQLiteRepo(t)
	if err := repo.Close(); err != nil {
		t.Errorf("expected no error on close, got %v", err)
	}
}
