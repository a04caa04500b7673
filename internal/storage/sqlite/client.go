package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/missbott/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sqlx.DB
}

// connParams are applied by the driver to every pooled connection.
const connParams = "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + connParams
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sqlx.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to ":memory:" is a separate database.
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// NewFromDB wraps an existing handle, e.g. one backed by sqlmock.
func NewFromDB(db *sqlx.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS site_audits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		job_id TEXT UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		performance_score INTEGER,
		accessibility_score INTEGER,
		audit_data TEXT NOT NULL DEFAULT '{}',
		email_draft TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_site_audits_created ON site_audits(created_at);

	CREATE TABLE IF NOT EXISTS services (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		slug TEXT UNIQUE NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT 1,
		sort_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS service_inquiries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		website_url TEXT NOT NULL DEFAULT '',
		budget_range TEXT NOT NULL,
		timeline TEXT NOT NULL,
		project_details TEXT NOT NULL,
		service_id INTEGER,
		lead_score INTEGER NOT NULL DEFAULT 0,
		ai_summary TEXT NOT NULL DEFAULT '',
		ai_analysis_raw TEXT NOT NULL DEFAULT '',
		ai_email_draft TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'new',
		is_analyzed BOOLEAN NOT NULL DEFAULT 0,
		responded BOOLEAN NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (service_id) REFERENCES services(id) ON DELETE SET NULL
	);
	CREATE INDEX IF NOT EXISTS idx_inquiries_status ON service_inquiries(status);
	CREATE INDEX IF NOT EXISTS idx_inquiries_created ON service_inquiries(created_at);

	CREATE TABLE IF NOT EXISTS contact_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		message TEXT NOT NULL,
		sent_at TIMESTAMP NOT NULL
	);
	`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

// affected reports whether a conditional write touched a row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
