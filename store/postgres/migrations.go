package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Flowbridge store.
// It can be registered with a grove orchestrator for locking, version
// tracking and rollback support.
var Migrations = migrate.NewGroup("flowbridge")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_flowbridge_records",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS flowbridge_records (
    id          BIGINT PRIMARY KEY,
    type        TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL DEFAULT '',
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS flowbridge_record_meta (
    record_id   BIGINT NOT NULL REFERENCES flowbridge_records (id) ON DELETE CASCADE,
    meta_key    TEXT NOT NULL,
    meta_value  JSONB,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
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
    value       JSONB,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    record_id       BIGINT NOT NULL UNIQUE,
    first_publish   BOOLEAN NOT NULL DEFAULT FALSE,
    attempt         INT NOT NULL DEFAULT 1,
    run_at          TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
    record_id         BIGINT NOT NULL,
    reason            TEXT NOT NULL DEFAULT '',
    url               TEXT NOT NULL DEFAULT '',
    payload           JSONB,
    error             TEXT NOT NULL DEFAULT '',
    attempt_count     INT NOT NULL DEFAULT 0,
    last_status_code  INT NOT NULL DEFAULT 0,
    failed_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    replayed_at       TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
