// Package repository provides the SQL audit mirror.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit caps ListEvents when the filter sets no limit.
const DefaultListLimit = 100

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    time.Now,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		for _, stmt := range strings.Split(schema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := r.db.Exec(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveEvent stores an audit entry. Entries are append-only.
func (r *SQLRepository) SaveEvent(ctx context.Context, event *domain.AuditEvent) error {
	if event.ID == "" {
		return fmt.Errorf("%w: event ID is required", ErrInvalidInput)
	}
	if !event.EventType.Known() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, event.EventType)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("%w: encoding event data: %v", ErrInvalidInput, err)
	}

	query := `
		INSERT INTO audit_events (id, timestamp, event_type, data, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		event.ID, event.Timestamp, string(event.EventType), string(data), r.now().UnixNano(),
	)
	return err
}

// GetEvent retrieves an audit entry by ID.
func (r *SQLRepository) GetEvent(ctx context.Context, id string) (*domain.AuditEvent, error) {
	query := `
		SELECT id, timestamp, event_type, data
		FROM audit_events
		WHERE id = ?
	`

	event, err := scanEvent(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ListEvents returns entries newest first, optionally filtered by type.
func (r *SQLRepository) ListEvents(ctx context.Context, filter domain.EventFilter) ([]*domain.AuditEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, timestamp, event_type, data FROM audit_events`
	var args []any
	if filter.EventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(filter.EventType))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	return events, rows.Err()
}

// CountEvents returns the number of stored entries per event type.
func (r *SQLRepository) CountEvents(ctx context.Context) (map[domain.EventType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM audit_events GROUP BY event_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.EventType]int64)
	for rows.Next() {
		var eventType string
		var n int64
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, err
		}
		counts[domain.EventType(eventType)] = n
	}
	return counts, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.AuditEvent, error) {
	var event domain.AuditEvent
	var eventType, data string

	if err := row.Scan(&event.ID, &event.Timestamp, &eventType, &data); err != nil {
		return nil, err
	}
	event.EventType = domain.EventType(eventType)
	if err := json.Unmarshal([]byte(data), &event.Data); err != nil {
		return nil, fmt.Errorf("failed to parse event data for %s: %w", event.ID, err)
	}
	return &event, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
