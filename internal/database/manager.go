package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"gatekeeper/internal/config"
)

// Manager is the thin wrapper around the relational pool. Admission control
// keeps no relational state of its own; the pool exists for collaborators
// and is surfaced through the health endpoint.
type Manager struct {
	db *sql.DB
}

// NewManager opens the SQLite database with pool settings applied and
// verifies the connection.
func NewManager(cfg *config.DatabaseConfig) (*Manager, error) {
	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	return &Manager{db: db}, nil
}

// HealthCheck verifies the pool can serve a query within the context's
// deadline.
func (m *Manager) HealthCheck(ctx context.Context) error {
	var one int
	if err := m.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Println("Database connection pool closed")
	return nil
}
