package agentrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/db"
)

// SQLiteRepository stores agent records in SQLite, with a dedicated
// single-connection writer and a multi-connection read-only pool, grounded on
// internal/db.OpenSQLite / OpenSQLiteReader and the idempotent
// CREATE-TABLE-IF-NOT-EXISTS schema-init pattern used throughout the teacher
// repo's sqlite repositories.
type SQLiteRepository struct {
	writer *sqlx.DB
	reader *sqlx.DB
}

// NewSQLiteRepository opens (or creates) the SQLite database at dbPath and
// initializes its schema.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	writerConn, err := db.OpenSQLite(dbPath)
	if err != nil {
		return nil, fmt.Errorf("agentrepo: failed to open sqlite writer: %w", err)
	}
	readerConn, err := db.OpenSQLiteReader(dbPath)
	if err != nil {
		_ = writerConn.Close()
		return nil, fmt.Errorf("agentrepo: failed to open sqlite reader: %w", err)
	}

	repo := &SQLiteRepository{
		writer: sqlx.NewDb(writerConn, "sqlite3"),
		reader: sqlx.NewDb(readerConn, "sqlite3"),
	}
	if err := repo.initSchema(); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func (r *SQLiteRepository) initSchema() error {
	_, err := r.writer.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			template_id      TEXT NOT NULL,
			template_version TEXT NOT NULL,
			configuration    TEXT NOT NULL,
			status           TEXT NOT NULL,
			metadata         TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("agentrepo: failed to init schema: %w", err)
	}
	_, err = r.writer.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_template_id ON agents(template_id)`)
	if err != nil {
		return fmt.Errorf("agentrepo: failed to create index: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAgent(ctx context.Context, id string) (*agentmodel.Agent, error) {
	var row agentRow
	err := r.reader.GetContext(ctx, &row, `SELECT * FROM agents WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agentrepo: GetAgent(%s): %w", id, err)
	}
	return row.toAgent()
}

func (r *SQLiteRepository) Save(ctx context.Context, agent *agentmodel.Agent) error {
	row, err := rowFromAgent(agent)
	if err != nil {
		return err
	}
	_, err = r.writer.NamedExecContext(ctx, `
		INSERT INTO agents (id, name, template_id, template_version, configuration, status, metadata, created_at, updated_at)
		VALUES (:id, :name, :template_id, :template_version, :configuration, :status, :metadata, :created_at, :updated_at)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			template_id = excluded.template_id,
			template_version = excluded.template_version,
			configuration = excluded.configuration,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, row)
	if err != nil {
		return fmt.Errorf("agentrepo: Save(%s): %w", agent.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*agentmodel.Agent, error) {
	var rows []agentRow
	if err := r.reader.SelectContext(ctx, &rows, `SELECT * FROM agents ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("agentrepo: List: %w", err)
	}
	return agentsFromRows(rows)
}

func (r *SQLiteRepository) Close() error {
	writerErr := r.writer.Close()
	readerErr := r.reader.Close()
	if writerErr != nil {
		return writerErr
	}
	return readerErr
}

// agentRow is the sqlx scan target shared by the SQLite and Postgres
// implementations; both store configuration/metadata as JSON text.
type agentRow struct {
	ID              string `db:"id"`
	Name            string `db:"name"`
	TemplateID      string `db:"template_id"`
	TemplateVersion string `db:"template_version"`
	Configuration   string `db:"configuration"`
	Status          string `db:"status"`
	Metadata        string `db:"metadata"`
	CreatedAt       string `db:"created_at"`
	UpdatedAt       string `db:"updated_at"`
}

func rowFromAgent(agent *agentmodel.Agent) (agentRow, error) {
	cfg, err := json.Marshal(agent.Configuration)
	if err != nil {
		return agentRow{}, fmt.Errorf("agentrepo: failed to encode configuration: %w", err)
	}
	meta, err := json.Marshal(agent.Metadata)
	if err != nil {
		return agentRow{}, fmt.Errorf("agentrepo: failed to encode metadata: %w", err)
	}
	return agentRow{
		ID:              agent.ID,
		Name:            agent.Name,
		TemplateID:      agent.TemplateID,
		TemplateVersion: agent.TemplateVersion,
		Configuration:   string(cfg),
		Status:          string(agent.Status),
		Metadata:        string(meta),
		CreatedAt:       agent.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       agent.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (row agentRow) toAgent() (*agentmodel.Agent, error) {
	var cfg agentmodel.AgentConfiguration
	if err := json.Unmarshal([]byte(row.Configuration), &cfg); err != nil {
		return nil, fmt.Errorf("agentrepo: failed to decode configuration for %s: %w", row.ID, err)
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
		return nil, fmt.Errorf("agentrepo: failed to decode metadata for %s: %w", row.ID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("agentrepo: failed to parse created_at for %s: %w", row.ID, err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, row.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("agentrepo: failed to parse updated_at for %s: %w", row.ID, err)
	}
	return &agentmodel.Agent{
		ID:              row.ID,
		Name:            row.Name,
		TemplateID:      row.TemplateID,
		TemplateVersion: row.TemplateVersion,
		Configuration:   cfg,
		Status:          agentmodel.Status(row.Status),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		Metadata:        meta,
	}, nil
}

func agentsFromRows(rows []agentRow) ([]*agentmodel.Agent, error) {
	out := make([]*agentmodel.Agent, 0, len(rows))
	for _, row := range rows {
		agent, err := row.toAgent()
		if err != nil {
			return nil, err
		}
		out = append(out, agent)
	}
	return out, nil
}

var _ Repository = (*SQLiteRepository)(nil)
