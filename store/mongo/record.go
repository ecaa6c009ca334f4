package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/flowbridge/record"
)

// GetRecord returns a record and all of its metadata.
func (s *Store) GetRecord(ctx context.Context, recordID int64) (*record.Record, error) {
	var m recordModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": recordID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, record.ErrNotFound
		}
		return nil, fmt.Errorf("flowbridge/mongo: get record: %w", err)
	}

	return fromRecordModel(&m), nil
}

// GetMeta returns one metadata value.
func (s *Store) GetMeta(ctx context.Context, recordID int64, key string) (any, bool, error) {
	r, err := s.GetRecord(ctx, recordID)
	if err != nil {
		if errors.Is(err, record.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	v, ok := r.Meta[key]
	return v, ok, nil
}

// SetMeta stores one metadata value, creating the record if needed.
func (s *Store) SetMeta(ctx context.Context, recordID int64, key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("flowbridge/mongo: encode meta %q: %w", key, err)
	}

	_, err = s.mdb.NewUpdate((*recordModel)(nil)).
		Filter(bson.M{"_id": recordID}).
		SetUpdate(bson.M{"$set": bson.M{
			"meta." + key: raw,
			"updated_at":  now(),
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flowbridge/mongo: set meta: %w", err)
	}

	return nil
}

// PutRecord merges a snapshot into the stored record.
func (s *Store) PutRecord(ctx context.Context, r *record.Record) error {
	set := bson.M{
		"type":       r.Type,
		"status":     r.Status,
		"updated_at": now(),
	}
	for k, v := range r.Meta {
		raw, err := encodeValue(v)
		if err != nil {
			return fmt.Errorf("flowbridge/mongo: encode meta %q: %w", k, err)
		}
		set["meta."+k] = raw
	}

	_, err := s.mdb.NewUpdate((*recordModel)(nil)).
		Filter(bson.M{"_id": r.ID}).
		SetUpdate(bson.M{"$set": set}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flowbridge/mongo: put record: %w", err)
	}

	return nil
}

// ListRecords returns records ordered by id descending.
func (s *Store) ListRecords(ctx context.Context, opts record.ListOpts) ([]*record.Record, error) {
	var models []recordModel

	filter := bson.M{}
	if opts.HasMeta != "" {
		filter["meta."+opts.HasMeta] = bson.M{"$exists": true}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("flowbridge/mongo: list records: %w", err)
	}

	result := make([]*record.Record, len(models))
	for i := range models {
		result[i] = fromRecordModel(&models[i])
	}
	return result, nil
}
