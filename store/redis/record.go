package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/flowbridge/record"
)

func (s *Store) GetRecord(ctx context.Context, recordID int64) (*record.Record, error) {
	fields, err := s.rdb.HGetAll(ctx, recordKey(prefixRecord, recordID)).Result()
	if err != nil {
		return nil, fmt.Errorf("flowbridge/redis: get record: %w", err)
	}
	if len(fields) == 0 {
		return nil, record.ErrNotFound
	}

	meta, err := s.rdb.HGetAll(ctx, recordKey(prefixMeta, recordID)).Result()
	if err != nil {
		return nil, fmt.Errorf("flowbridge/redis: get record meta: %w", err)
	}

	r := &record.Record{
		ID:     recordID,
		Type:   fields["type"],
		Status: fields["status"],
		Meta:   make(record.Meta, len(meta)),
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		r.UpdatedAt = ts
	}
	for k, v := range meta {
		r.Meta[k] = decodeValue(v)
	}
	return r, nil
}

func (s *Store) GetMeta(ctx context.Context, recordID int64, key string) (any, bool, error) {
	raw, err := s.rdb.HGet(ctx, recordKey(prefixMeta, recordID), key).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flowbridge/redis: get meta: %w", err)
	}
	return decodeValue(raw), true, nil
}

func (s *Store) SetMeta(ctx context.Context, recordID int64, key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("flowbridge/redis: encode meta %q: %w", key, err)
	}

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, recordKey(prefixRecord, recordID), "updated_at", now().Format(time.RFC3339Nano))
	pipe.HSet(ctx, recordKey(prefixMeta, recordID), key, raw)
	pipe.ZAdd(ctx, zRecordAll, goredis.Z{Score: float64(recordID), Member: recordID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flowbridge/redis: set meta: %w", err)
	}
	return nil
}

func (s *Store) PutRecord(ctx context.Context, r *record.Record) error {
	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, recordKey(prefixRecord, r.ID),
		"type", r.Type,
		"status", r.Status,
		"updated_at", now().Format(time.RFC3339Nano),
	)
	if len(r.Meta) > 0 {
		values := make([]any, 0, len(r.Meta)*2)
		for k, v := range r.Meta {
			raw, err := encodeValue(v)
			if err != nil {
				return fmt.Errorf("flowbridge/redis: encode meta %q: %w", k, err)
			}
			values = append(values, k, raw)
		}
		pipe.HSet(ctx, recordKey(prefixMeta, r.ID), values...)
	}
	pipe.ZAdd(ctx, zRecordAll, goredis.Z{Score: float64(r.ID), Member: r.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("flowbridge/redis: put record: %w", err)
	}
	return nil
}

// ListRecords walks the record index from the highest id down. HasMeta is
// checked per record.
func (s *Store) ListRecords(ctx context.Context, opts record.ListOpts) ([]*record.Record, error) {
	ids, err := s.rdb.ZRevRange(ctx, zRecordAll, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("flowbridge/redis: list records: %w", err)
	}

	result := make([]*record.Record, 0, len(ids))
	for _, raw := range ids {
		recordID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if opts.HasMeta != "" {
			ok, err := s.rdb.HExists(ctx, recordKey(prefixMeta, recordID), opts.HasMeta).Result()
			if err != nil {
				return nil, fmt.Errorf("flowbridge/redis: list records: %w", err)
			}
			if !ok {
				continue
			}
		}
		r, err := s.GetRecord(ctx, recordID)
		if err != nil {
			if errors.Is(err, record.ErrNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, r)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}
