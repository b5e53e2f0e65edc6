package store

import (
	"context"
	"fmt"
	"strings"
)

// schema is shared by both dialects; {{TS}} is the timestamp column type.
const schema = `
CREATE TABLE IF NOT EXISTS students (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	email                  TEXT NOT NULL DEFAULT '',
	parent_email           TEXT NOT NULL DEFAULT '',
	is_present_in_campus   BOOLEAN NOT NULL DEFAULT TRUE,
	is_application_pending BOOLEAN NOT NULL DEFAULT FALSE,
	created_at             {{TS}} NOT NULL,
	updated_at             {{TS}} NOT NULL
);

CREATE TABLE IF NOT EXISTS leave_requests (
	id            TEXT PRIMARY KEY,
	student_id    TEXT NOT NULL REFERENCES students(id),
	kind          TEXT NOT NULL,
	reason        TEXT NOT NULL,
	window_start  {{TS}} NOT NULL,
	window_end    {{TS}} NOT NULL,
	expires_at    {{TS}} NOT NULL,
	current_level TEXT NOT NULL,
	decision      TEXT NOT NULL,
	is_expired    BOOLEAN NOT NULL DEFAULT FALSE,
	approval_log  TEXT NOT NULL DEFAULT '[]',
	issued_by     TEXT NOT NULL DEFAULT '',
	issued_time   {{TS}},
	rejected_by   TEXT NOT NULL DEFAULT '',
	rejected_time {{TS}},
	message       TEXT NOT NULL DEFAULT '',
	in_time       {{TS}},
	created_at    {{TS}} NOT NULL,
	updated_at    {{TS}} NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_leave_requests_one_pending
	ON leave_requests(student_id) WHERE decision = 'pending';
CREATE INDEX IF NOT EXISTS idx_leave_requests_sweep
	ON leave_requests(decision, expires_at);
CREATE INDEX IF NOT EXISTS idx_leave_requests_queue
	ON leave_requests(decision, current_level, created_at);
CREATE INDEX IF NOT EXISTS idx_leave_requests_student
	ON leave_requests(student_id, created_at);
`

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *DB) error {
	ts := "TIMESTAMPTZ"
	if db.Driver == DriverSQLite {
		ts = "TIMESTAMP"
	}
	ddl := strings.ReplaceAll(schema, "{{TS}}", ts)
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Client.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
