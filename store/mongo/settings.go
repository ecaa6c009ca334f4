package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// GetOption returns a stored option.
func (s *Store) GetOption(ctx context.Context, name string) (any, bool, error) {
	var m optionModel

	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": name}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("flowbridge/mongo: get option: %w", err)
	}

	return decodeValue(m.Value), true, nil
}

// SetOption stores an option.
func (s *Store) SetOption(ctx context.Context, name string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("flowbridge/mongo: encode option %q: %w", name, err)
	}

	_, err = s.mdb.NewUpdate((*optionModel)(nil)).
		Filter(bson.M{"_id": name}).
		SetUpdate(bson.M{"$set": bson.M{"value": raw, "updated_at": now()}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flowbridge/mongo: set option: %w", err)
	}

	return nil
}

// ListOptions returns all stored options.
func (s *Store) ListOptions(ctx context.Context) (map[string]any, error) {
	var models []optionModel

	if err := s.mdb.NewFind(&models).Filter(bson.M{}).Scan(ctx); err != nil {
		return nil, fmt.Errorf("flowbridge/mongo: list options: %w", err)
	}

	out := make(map[string]any, len(models))
	for i := range models {
		out[models[i].Name] = decodeValue(models[i].Value)
	}
	return out, nil
}
