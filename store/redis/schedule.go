package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/flowbridge/id"
	"github.com/xraph/flowbridge/internal/entity"
	"github.com/xraph/flowbridge/schedule"
)

// recheckModel is the JSON representation stored in Redis.
type recheckModel struct {
	ID           string    `json:"id"`
	RecordID     int64     `json:"record_id"`
	FirstPublish bool      `json:"first_publish"`
	Attempt      int       `json:"attempt"`
	RunAt        time.Time `json:"run_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toRecheckModel(t *schedule.Task) *recheckModel {
	return &recheckModel{
		ID:           t.ID.String(),
		RecordID:     t.RecordID,
		FirstPublish: t.FirstPublish,
		Attempt:      t.Attempt,
		RunAt:        t.RunAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func fromRecheckModel(m *recheckModel) (*schedule.Task, error) {
	taskID, err := id.ParseRecheckID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse re-check ID %q: %w", m.ID, err)
	}
	return &schedule.Task{
		Entity:       entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           taskID,
		RecordID:     m.RecordID,
		FirstPublish: m.FirstPublish,
		Attempt:      m.Attempt,
		RunAt:        m.RunAt,
	}, nil
}

// scheduleScript stores a task unless one is pending for the record.
// KEYS[1] = task key, KEYS[2] = due sorted set
// ARGV[1] = task JSON, ARGV[2] = run_at score, ARGV[3] = record id
var scheduleScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// claimScript atomically pops due tasks and returns their JSON bodies.
// KEYS[1] = due sorted set
// ARGV[1] = score threshold, ARGV[2] = limit, ARGV[3] = task key prefix
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, rid in ipairs(ids) do
    redis.call('ZREM', KEYS[1], rid)
    local key = ARGV[3] .. rid
    local body = redis.call('GET', key)
    if body then
        redis.call('DEL', key)
        table.insert(out, body)
    end
end
return out
`)

func (s *Store) ScheduleRecheck(ctx context.Context, t *schedule.Task) (bool, error) {
	m := toRecheckModel(t)
	raw, err := json.Marshal(m)
	if err != nil {
		return false, fmt.Errorf("flowbridge/redis: marshal re-check: %w", err)
	}

	added, err := scheduleScript.Run(ctx, s.rdb,
		[]string{recordKey(prefixRecheck, t.RecordID), zRecheckDue},
		string(raw), formatScore(scoreFromTime(t.RunAt)), strconv.FormatInt(t.RecordID, 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("flowbridge/redis: schedule re-check: %w", err)
	}
	return added == 1, nil
}

func (s *Store) DueRechecks(ctx context.Context, at time.Time, limit int) ([]*schedule.Task, error) {
	bodies, err := claimScript.Run(ctx, s.rdb,
		[]string{zRecheckDue},
		formatScore(scoreFromTime(at)), limit, prefixRecheck,
	).StringSlice()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("flowbridge/redis: claim re-checks: %w", err)
	}

	result := make([]*schedule.Task, 0, len(bodies))
	for _, body := range bodies {
		var m recheckModel
		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return nil, fmt.Errorf("flowbridge/redis: decode re-check: %w", err)
		}
		t, err := fromRecheckModel(&m)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RunAt.Before(result[j].RunAt) })
	return result, nil
}

func (s *Store) PendingRecheck(ctx context.Context, recordID int64) (*schedule.Task, error) {
	var m recheckModel
	if err := s.getEntity(ctx, recordKey(prefixRecheck, recordID), &m); err != nil {
		if isRedisNil(err) {
			return nil, schedule.ErrTaskNotFound
		}
		return nil, fmt.Errorf("flowbridge/redis: pending re-check: %w", err)
	}
	return fromRecheckModel(&m)
}

func (s *Store) CountRechecks(ctx context.Context) (int64, error) {
	count, err := s.rdb.ZCard(ctx, zRecheckDue).Result()
	if err != nil {
		return 0, fmt.Errorf("flowbridge/redis: count re-checks: %w", err)
	}
	return count, nil
}
