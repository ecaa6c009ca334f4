// Package store defines the composite Store interface for all bridge
// persistence.
//
// Each subsystem defines its own store interface and the aggregate Store
// composes them.
package store

import (
	"context"

	"github.com/xraph/flowbridge/dlq"
	"github.com/xraph/flowbridge/record"
	"github.com/xraph/flowbridge/schedule"
	"github.com/xraph/flowbridge/settings"
)

// Store is the aggregate persistence interface.
type Store interface {
	record.Store
	settings.Store
	schedule.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
