package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Flowbridge store (SQLite).
var Migrations = migrate.NewGroup("flowbridge")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_flowbridge_records",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS flowbridge_records (
    id          INTEGER PRIMARY KEY,
    type        TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT '',
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS flowbridge_record_meta (
    record_id   INTEGER NOT NULL REFERENCES flowbridge_records (id) ON DELETE CASCADE,
    meta_key    TEXT NOT NULL,
    meta_value  TEXT,
    updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (record_id, meta_key)
);

CREATE INDEX IF NOT EXISTS idx_flowbridge_record_meta_key ON flowbridge_record_meta (meta_key);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS flowbridge_record_meta;
DROP TABLE IF EXISTS flowbridge_records;
`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_flowbridge_options",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS flowbridge_options (
    name        TEXT PRIMARY KEY,
    value       TEXT,
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS flowbridge_options`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_flowbridge_rechecks",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS flowbridge_rechecks (
    id              TEXT PRIMARY KEY,
    record_id       INTEGER NOT NULL UNIQUE,
    first_publish   INTEGER NOT NULL DEFAULT 0,
    attempt         INTEGER NOT NULL DEFAULT 1,
    run_at          TEXT NOT NULL,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_flowbridge_rechecks_run_at ON flowbridge_rechecks (run_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS flowbridge_rechecks`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_flowbridge_dlq",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS flowbridge_dlq (
    id                TEXT PRIMARY KEY,
    record_id         INTEGER NOT NULL,
    reason            TEXT NOT NULL DEFAULT '',
    url               TEXT NOT NULL DEFAULT '',
    payload           TEXT,
    error             TEXT NOT NULL DEFAULT '',
    attempt_count     INTEGER NOT NULL DEFAULT 0,
    last_status_code  INTEGER NOT NULL DEFAULT 0,
    failed_at         TEXT NOT NULL DEFAULT (datetime('now')),
    replayed_at       TEXT,
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_flowbridge_dlq_record ON flowbridge_dlq (record_id);
CREATE INDEX IF NOT EXISTS idx_flowbridge_dlq_failed_at ON flowbridge_dlq (failed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS flowbridge_dlq`)
				return err
			},
		},
	)
}
