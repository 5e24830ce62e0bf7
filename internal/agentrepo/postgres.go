package agentrepo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/kdlbs/agentorc/internal/agentmodel"
	"github.com/kdlbs/agentorc/internal/db"
)

// PostgresRepository stores agent records in Postgres via pgx's database/sql
// driver, grounded on internal/db.OpenPostgres.
type PostgresRepository struct {
	conn *sqlx.DB
}

// NewPostgresRepository connects to dsn and initializes the agents table.
func NewPostgresRepository(dsn string, maxConns, minConns int) (*PostgresRepository, error) {
	conn, err := db.OpenPostgres(dsn, maxConns, minConns)
	if err != nil {
		return nil, fmt.Errorf("agentrepo: failed to open postgres: %w", err)
	}
	repo := &PostgresRepository{conn: sqlx.NewDb(conn, "pgx")}
	if err := repo.initSchema(); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRepository) initSchema() error {
	_, err := r.conn.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			template_id      TEXT NOT NULL,
			template_version TEXT NOT NULL,
			configuration    JSONB NOT NULL,
			status           TEXT NOT NULL,
			metadata         JSONB NOT NULL,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("agentrepo: failed to init schema: %w", err)
	}
	_, err = r.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_template_id ON agents(template_id)`)
	if err != nil {
		return fmt.Errorf("agentrepo: failed to create index: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetAgent(ctx context.Context, id string) (*agentmodel.Agent, error) {
	var row agentRow
	err := r.conn.GetContext(ctx, &row, `SELECT * FROM agents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("agentrepo: GetAgent(%s): %w", id, err)
	}
	return row.toAgent()
}

func (r *PostgresRepository) Save(ctx context.Context, agent *agentmodel.Agent) error {
	row, err := rowFromAgent(agent)
	if err != nil {
		return err
	}
	_, err = r.conn.NamedExecContext(ctx, `
		INSERT INTO agents (id, name, template_id, template_version, configuration, status, metadata, created_at, updated_at)
		VALUES (:id, :name, :template_id, :template_version, :configuration::jsonb, :status, :metadata::jsonb, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
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

func (r *PostgresRepository) List(ctx context.Context) ([]*agentmodel.Agent, error) {
	var rows []agentRow
	if err := r.conn.SelectContext(ctx, &rows, `SELECT * FROM agents ORDER BY created_at`); err != nil {
		return nil, fmt.Errorf("agentrepo: List: %w", err)
	}
	return agentsFromRows(rows)
}

func (r *PostgresRepository) Close() error {
	return r.conn.Close()
}

var _ Repository = (*PostgresRepository)(nil)
