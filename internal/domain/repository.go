// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository persists mirrored audit events.
type Repository interface {
	// SaveEvent stores an audit entry. Entries are never updated.
	SaveEvent(ctx context.Context, event *AuditEvent) error

	// GetEvent retrieves one entry by ID.
	GetEvent(ctx context.Context, id string) (*AuditEvent, error)

	// ListEvents returns entries newest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]*AuditEvent, error)

	// CountEvents returns the number of stored entries per event type.
	CountEvents(ctx context.Context) (map[EventType]int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgres_port" json:"postgresPort"`
	PostgresUser     string `yaml:"postgres_user" json:"postgresUser"`
	PostgresPassword string `yaml:"postgres_password" json:"-"`
	PostgresDB       string `yaml:"postgres_db" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgres_sslmode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"connMaxLifetime"`
}
