package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/flowbridge/schedule"
)

// ScheduleRecheck inserts t. The unique record_id index rejects a second
// pending task for the same record.
func (s *Store) ScheduleRecheck(ctx context.Context, t *schedule.Task) (bool, error) {
	_, err := s.mdb.NewInsert(toRecheckModel(t)).Exec(ctx)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("flowbridge/mongo: schedule re-check: %w", err)
	}
	return true, nil
}

// DueRechecks claims due tasks one by one with FindOneAndDelete so two
// pollers never receive the same task.
func (s *Store) DueRechecks(ctx context.Context, at time.Time, limit int) ([]*schedule.Task, error) {
	result := make([]*schedule.Task, 0, limit)
	col := s.mdb.Collection(colRechecks)

	opts := options.FindOneAndDelete().
		SetSort(bson.D{{Key: "run_at", Value: 1}})

	for range limit {
		var m recheckModel

		err := col.FindOneAndDelete(ctx, bson.M{"run_at": bson.M{"$lte": at}}, opts).Decode(&m)
		if err != nil {
			if errors.Is(err, mongod.ErrNoDocuments) {
				break
			}
			return nil, fmt.Errorf("flowbridge/mongo: claim re-check: %w", err)
		}

		t, err := fromRecheckModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	return result, nil
}

// PendingRecheck returns the pending task for recordID.
func (s *Store) PendingRecheck(ctx context.Context, recordID int64) (*schedule.Task, error) {
	var m recheckModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"record_id": recordID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, schedule.ErrTaskNotFound
		}
		return nil, fmt.Errorf("flowbridge/mongo: pending re-check: %w", err)
	}

	return fromRecheckModel(&m)
}

// CountRechecks returns the number of pending tasks.
func (s *Store) CountRechecks(ctx context.Context) (int64, error) {
	count, err := s.mdb.NewFind((*recheckModel)(nil)).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("flowbridge/mongo: count re-checks: %w", err)
	}
	return count, nil
}
