// Package runstore persists pipeline run records and red flags to Postgres.
// It is out-of-band observability: the pipeline result never depends on it.
package runstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Config holds database connection settings.
type Config struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxConnections  int    `mapstructure:"max_connections"`
	IdleConnections int    `mapstructure:"idle_connections"`
}

// Client manages the run store connection pool.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewClient opens a connection pool against Postgres.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 2
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect run store: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Client{db: db, logger: logger}, nil
}

// NewClientWithDB wraps an existing connection, used by tests.
func NewClientWithDB(db *sqlx.DB, logger *zap.Logger) *Client {
	return &Client{db: db, logger: logger}
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies the pool can reach the database.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// SaveRun inserts or updates a run record, idempotent by workflow id.
func (c *Client) SaveRun(ctx context.Context, run *RunRecord) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO runs (
			id, workflow_id, question, backend_id, status,
			final_answer, warnings, metrics, started_at, completed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (workflow_id) DO UPDATE SET
			status = EXCLUDED.status,
			final_answer = EXCLUDED.final_answer,
			warnings = EXCLUDED.warnings,
			metrics = EXCLUDED.metrics,
			completed_at = EXCLUDED.completed_at
		RETURNING id`

	err := c.db.QueryRowContext(ctx, query,
		run.ID, run.WorkflowID, run.Question, run.BackendID, run.Status,
		run.FinalAnswer, run.Warnings, run.Metrics,
		run.StartedAt, run.CompletedAt, run.CreatedAt,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// SaveRedFlags replaces the persisted flags for a workflow with the final
// state of one review pass.
func (c *Client) SaveRedFlags(ctx context.Context, workflowID string, flags []RedFlagRecord) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin red flag tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM red_flags WHERE workflow_id = $1`, workflowID); err != nil {
		return fmt.Errorf("clear red flags: %w", err)
	}
	for i := range flags {
		f := &flags[i]
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO red_flags (
				id, workflow_id, flag_id, severity, category,
				issue, location, required_fix, resolved, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			f.ID, workflowID, f.FlagID, f.Severity, f.Category,
			f.Issue, f.Location, f.RequiredFix, f.Resolved, f.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert red flag %s: %w", f.FlagID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit red flags: %w", err)
	}
	return nil
}

// GetRun fetches one run by workflow id.
func (c *Client) GetRun(ctx context.Context, workflowID string) (*RunRecord, error) {
	var run RunRecord
	err := c.db.GetContext(ctx, &run,
		`SELECT id, workflow_id, question, backend_id, status, final_answer,
		        warnings, metrics, started_at, completed_at, created_at
		 FROM runs WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}
