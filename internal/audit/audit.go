// Package audit provides an optional, best-effort audit trail for upload
// completions. Every completed (or failed) upload can be recorded through a
// Sink; writes never block or fail the caller's request — a Sink error is
// logged, not propagated.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// Entry describes one completed (or failed) upload.
type Entry struct {
	Route   string
	Key     string
	Outcome string // "ok" or "error"
	Detail  map[string]any
}

// Sink records Entry values somewhere durable. Implementations must not
// block the caller for longer than their own context deadline allows, and
// must treat write failures as non-fatal to the caller.
type Sink interface {
	Record(ctx context.Context, e Entry)
}

// NoopSink discards every entry. It is the default when no Sink is
// configured, so audit logging is always opt-in.
type NoopSink struct{}

func (NoopSink) Record(context.Context, Entry) {}

// PostgresSink writes entries to an upload_audit_log table via database/sql
// and lib/pq. Construct with NewPostgresSink, which assumes the table
// already exists (see Schema for its DDL).
type PostgresSink struct {
	db  *sql.DB
	log *slog.Logger
}

// NewPostgresSink wraps an existing *sql.DB (registered with the postgres
// driver from github.com/lib/pq).
func NewPostgresSink(db *sql.DB, log *slog.Logger) *PostgresSink {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresSink{db: db, log: log}
}

// Record inserts one row. Errors are logged, never returned — audit writes
// must never cause a user-visible upload failure.
func (s *PostgresSink) Record(ctx context.Context, e Entry) {
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		detailJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO upload_audit_log (id, route, key, outcome, detail)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), e.Route, e.Key, e.Outcome, string(detailJSON),
	)
	if err != nil {
		s.log.Error("audit: failed to record upload", "route", e.Route, "key", e.Key, "err", err)
	}
}

// Schema is the DDL for the table PostgresSink writes to. Callers are
// responsible for running it (or an equivalent migration) before first use.
const Schema = `
CREATE TABLE IF NOT EXISTS upload_audit_log (
	id         UUID PRIMARY KEY,
	route      TEXT NOT NULL,
	key        TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS upload_audit_log_route_idx ON upload_audit_log (route, created_at DESC);
`
