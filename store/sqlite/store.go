// Package sqlite implements the Flowbridge store on SQLite using the grove
// ORM. It suits single-node deployments that want durable state without a
// database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/flowbridge/dlq"
	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/record"
	"github.com/xraph/flowbridge/schedule"
	bridgestore "github.com/xraph/flowbridge/store"
)

// compile-time interface check
var _ bridgestore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("flowbridge/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("flowbridge/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Record Store ====================

func (s *Store) GetRecord(ctx context.Context, recordID int64) (*record.Record, error) {
	m := new(recordModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", recordID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, record.ErrNotFound
		}
		return nil, err
	}
	return s.withMeta(ctx, m)
}

func (s *Store) GetMeta(ctx context.Context, recordID int64, key string) (any, bool, error) {
	m := new(metaModel)
	err := s.sdb.NewSelect(m).
		Where("record_id = ?", recordID).
		Where("meta_key = ?", key).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return decodeValue(m.Value), true, nil
}

func (s *Store) SetMeta(ctx context.Context, recordID int64, key string, value any) error {
	at := now()
	if err := s.ensureRecord(ctx, recordID, at); err != nil {
		return err
	}
	m, err := toMetaModel(recordID, key, value, at)
	if err != nil {
		return err
	}
	return s.upsertMeta(ctx, m)
}

func (s *Store) PutRecord(ctx context.Context, r *record.Record) error {
	at := now()
	_, err := s.sdb.NewInsert(&recordModel{
		ID:        r.ID,
		Type:      r.Type,
		Status:    r.Status,
		UpdatedAt: at,
	}).
		OnConflict("(id) DO UPDATE").
		Set("type = EXCLUDED.type").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return err
	}

	for k, v := range r.Meta {
		m, err := toMetaModel(r.ID, k, v, at)
		if err != nil {
			return err
		}
		if err := s.upsertMeta(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, opts record.ListOpts) ([]*record.Record, error) {
	var models []recordModel
	q := s.sdb.NewSelect(&models)

	if opts.HasMeta != "" {
		q = q.Where(`EXISTS (
			SELECT 1 FROM flowbridge_record_meta m
			WHERE m.record_id = flowbridge_records.id AND m.meta_key = ?
		)`, opts.HasMeta)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*record.Record, len(models))
	for i := range models {
		r, err := s.withMeta(ctx, &models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) withMeta(ctx context.Context, m *recordModel) (*record.Record, error) {
	var metas []metaModel
	if err := s.sdb.NewSelect(&metas).
		Where("record_id = ?", m.ID).
		Scan(ctx); err != nil {
		return nil, err
	}
	return fromRecordModels(m, metas), nil
}

func (s *Store) ensureRecord(ctx context.Context, recordID int64, now time.Time) error {
	_, err := s.sdb.NewInsert(&recordModel{ID: recordID, UpdatedAt: now}).
		OnConflict("(id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) upsertMeta(ctx context.Context, m *metaModel) error {
	_, err := s.sdb.NewInsert(m).
		OnConflict("(record_id, meta_key) DO UPDATE").
		Set("meta_value = EXCLUDED.meta_value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// ==================== Settings Store ====================

func (s *Store) GetOption(ctx context.Context, name string) (any, bool, error) {
	m := new(optionModel)
	err := s.sdb.NewSelect(m).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return decodeValue(m.Value), true, nil
}

func (s *Store) SetOption(ctx context.Context, name string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode option %q: %w", name, err)
	}
	_, err = s.sdb.NewInsert(&optionModel{
		Name:      name,
		Value:     raw,
		UpdatedAt: now(),
	}).
		OnConflict("(name) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) ListOptions(ctx context.Context) (map[string]any, error) {
	var models []optionModel
	if err := s.sdb.NewSelect(&models).Scan(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(models))
	for i := range models {
		out[models[i].Name] = decodeValue(models[i].Value)
	}
	return out, nil
}

// ==================== Schedule Store ====================

func (s *Store) ScheduleRecheck(ctx context.Context, t *schedule.Task) (bool, error) {
	res, err := s.sdb.NewInsert(toRecheckModel(t)).
		OnConflict("(record_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (s *Store) DueRechecks(ctx context.Context, now time.Time, limit int) ([]*schedule.Task, error) {
	// SQLite serializes writes, so no FOR UPDATE SKIP LOCKED is needed.
	var models []recheckModel
	err := s.sdb.NewRaw(`
		DELETE FROM flowbridge_rechecks
		WHERE id IN (
			SELECT id FROM flowbridge_rechecks
			WHERE run_at <= ?
			ORDER BY run_at ASC
			LIMIT ?
		)
		RETURNING *
	`, now, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*schedule.Task, len(models))
	for i := range models {
		t, err := fromRecheckModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RunAt.Before(result[j].RunAt) })
	return result, nil
}

func (s *Store) PendingRecheck(ctx context.Context, recordID int64) (*schedule.Task, error) {
	m := new(recheckModel)
	err := s.sdb.NewSelect(m).
		Where("record_id = ?", recordID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, schedule.ErrTaskNotFound
		}
		return nil, err
	}
	return fromRecheckModel(m)
}

func (s *Store) CountRechecks(ctx context.Context) (int64, error) {
	count, err := s.sdb.NewSelect((*recheckModel)(nil)).
		Count(ctx)
	return count, err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.sdb.NewSelect(&models)

	if opts.RecordID != 0 {
		q = q.Where("record_id = ?", opts.RecordID)
	}
	if opts.Reason != "" {
		q = q.Where("reason = ?", string(opts.Reason))
	}
	if opts.From != nil {
		q = q.Where("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("failed_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("failed_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		e, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", dlqID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, dlq.ErrNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*dlqEntryModel)(nil)).
		Set("replayed_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", dlqID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return dlq.ErrNotFound
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.sdb.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.sdb.NewSelect((*dlqEntryModel)(nil)).
		Count(ctx)
	return count, err
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func now() time.Time {
	return time.Now().UTC()
}
