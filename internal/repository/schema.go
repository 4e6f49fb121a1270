package repository

// Schema definitions for the Heron audit mirror.
// Compatible with both SQLite and PostgreSQL.

// schemaAuditEvents mirrors the JSON-lines audit log. data holds the
// normalized payload as JSON text; created_at is Unix nanoseconds so
// ordering does not depend on timestamp string formatting.
const schemaAuditEvents = `
CREATE TABLE IF NOT EXISTS audit_events (
    id TEXT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    event_type TEXT NOT NULL,
    data TEXT NOT NULL,
    created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAuditEvents,
	}
}
