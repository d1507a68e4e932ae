package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema is the Postgres DDL for the call-insights store. It is idempotent and
// applied at startup by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS calls (
    id                   UUID PRIMARY KEY,
    provider_call_id     TEXT NOT NULL UNIQUE,
    direction            TEXT NOT NULL CHECK (direction IN ('inbound','outbound')),
    caller_number        TEXT NOT NULL DEFAULT '',
    caller_name          TEXT NOT NULL DEFAULT '',
    called_number        TEXT NOT NULL DEFAULT '',
    called_name          TEXT NOT NULL DEFAULT '',
    start_time           TIMESTAMPTZ NOT NULL,
    end_time             TIMESTAMPTZ NULL,
    duration_seconds     INTEGER NOT NULL DEFAULT 0 CHECK (duration_seconds >= 0),
    recording_url        TEXT NOT NULL DEFAULT '',
    recording_downloaded BOOLEAN NOT NULL DEFAULT FALSE,
    recording_path       TEXT NOT NULL DEFAULT '',
    state                TEXT NOT NULL DEFAULT 'received',
    failed_stage         TEXT NOT NULL DEFAULT '',
    failure_reason       TEXT NOT NULL DEFAULT '',
    no_recording         BOOLEAN NOT NULL DEFAULT FALSE,
    webhook_received_at  TIMESTAMPTZ NOT NULL,
    created_at           TIMESTAMPTZ NOT NULL,
    updated_at           TIMESTAMPTZ NOT NULL,
    CHECK (end_time IS NULL OR end_time >= start_time)
);
CREATE INDEX IF NOT EXISTS calls_start_time_idx ON calls (start_time);

CREATE TABLE IF NOT EXISTS call_summaries (
    call_id                    UUID PRIMARY KEY REFERENCES calls(id),
    transcript                 TEXT NOT NULL DEFAULT '',
    summary                    TEXT NOT NULL DEFAULT '',
    sentiment                  TEXT NOT NULL DEFAULT '',
    urgency_score              INTEGER NULL CHECK (urgency_score BETWEEN 1 AND 5),
    key_topics                 JSONB NOT NULL DEFAULT '[]',
    next_steps                 JSONB NOT NULL DEFAULT '[]',
    customer_satisfaction      TEXT NOT NULL DEFAULT '',
    transcription_started_at   TIMESTAMPTZ NULL,
    transcription_completed_at TIMESTAMPTZ NULL,
    analysis_started_at        TIMESTAMPTZ NULL,
    analysis_completed_at      TIMESTAMPTZ NULL,
    created_at                 TIMESTAMPTZ NOT NULL,
    updated_at                 TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS action_items (
    id            UUID PRIMARY KEY,
    call_id       UUID NOT NULL REFERENCES calls(id),
    description   TEXT NOT NULL CHECK (description <> ''),
    assigned_to   TEXT NOT NULL DEFAULT '',
    due_date      TIMESTAMPTZ NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    priority      INTEGER NOT NULL DEFAULT 3 CHECK (priority BETWEEN 1 AND 5),
    completed_at  TIMESTAMPTZ NULL,
    superseded_at TIMESTAMPTZ NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS action_items_call_idx ON action_items (call_id) WHERE superseded_at IS NULL;

CREATE TABLE IF NOT EXISTS kpis (
    period_type            TEXT NOT NULL,
    period_start           TIMESTAMPTZ NOT NULL,
    period_end             TIMESTAMPTZ NOT NULL,
    total_calls            INTEGER NOT NULL,
    inbound_calls          INTEGER NOT NULL,
    outbound_calls         INTEGER NOT NULL,
    calls_with_recording   INTEGER NOT NULL,
    calls_transcribed      INTEGER NOT NULL,
    total_duration_seconds BIGINT NOT NULL,
    avg_duration_seconds   DOUBLE PRECISION NOT NULL,
    positive_sentiment     INTEGER NOT NULL,
    neutral_sentiment      INTEGER NOT NULL,
    negative_sentiment     INTEGER NOT NULL,
    avg_urgency_score      DOUBLE PRECISION NULL,
    total_action_items     INTEGER NOT NULL,
    completed_action_items INTEGER NOT NULL,
    updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (period_type, period_start)
);

CREATE TABLE IF NOT EXISTS processing_tasks (
    id         UUID PRIMARY KEY,
    call_id    UUID NOT NULL REFERENCES calls(id),
    reason     TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'queued',
    claimed_at TIMESTAMPTZ NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS processing_tasks_open_idx ON processing_tasks (created_at) WHERE status <> 'done';

CREATE TABLE IF NOT EXISTS audit_events (
    id            UUID PRIMARY KEY,
    actor_user_id TEXT NOT NULL DEFAULT '',
    actor_role    TEXT NOT NULL DEFAULT '',
    event_type    TEXT NOT NULL,
    call_id       TEXT NOT NULL DEFAULT '',
    entity_id     TEXT NOT NULL DEFAULT '',
    message       TEXT NOT NULL DEFAULT '',
    metadata      TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL
);
`

// Migrate applies Schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("store: db is nil")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
