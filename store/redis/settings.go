package redis

import (
	"context"
	"fmt"
)

func (s *Store) GetOption(ctx context.Context, name string) (any, bool, error) {
	raw, err := s.rdb.HGet(ctx, hOptions, name).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flowbridge/redis: get option: %w", err)
	}
	return decodeValue(raw), true, nil
}

func (s *Store) SetOption(ctx context.Context, name string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("flowbridge/redis: encode option %q: %w", name, err)
	}
	if err := s.rdb.HSet(ctx, hOptions, name, raw).Err(); err != nil {
		return fmt.Errorf("flowbridge/redis: set option: %w", err)
	}
	return nil
}

func (s *Store) ListOptions(ctx context.Context) (map[string]any, error) {
	all, err := s.rdb.HGetAll(ctx, hOptions).Result()
	if err != nil {
		return nil, fmt.Errorf("flowbridge/redis: list options: %w", err)
	}
	out := make(map[string]any, len(all))
	for k, v := range all {
		out[k] = decodeValue(v)
	}
	return out, nil
}

