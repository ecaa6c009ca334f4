package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/flowbridge/store"
	"github.com/xraph/flowbridge/store/memory"
	"github.com/xraph/flowbridge/store/mongo"
	"github.com/xraph/flowbridge/store/postgres"
	bridgeredis "github.com/xraph/flowbridge/store/redis"
	"github.com/xraph/flowbridge/store/sqlite"
)

// openStore connects the configured backend and runs its migrations.
func openStore(ctx context.Context, cfg StoreConfig) (store.Store, error) {
	var (
		s   store.Store
		err error
	)

	switch cfg.Driver {
	case "", "memory":
		s = memory.New()
	case "redis":
		opts, perr := goredis.ParseURL(cfg.DSN)
		if perr != nil {
			return nil, fmt.Errorf("parse redis dsn: %w", perr)
		}
		s = bridgeredis.NewFromClient(goredis.NewClient(opts))
	case "postgres":
		drv := pgdriver.New()
		if err = drv.Open(ctx, cfg.DSN); err == nil {
			var db *grove.DB
			if db, err = grove.Open(drv); err == nil {
				s = postgres.New(db)
			}
		}
	case "sqlite":
		drv := sqlitedriver.New()
		if err = drv.Open(ctx, cfg.DSN); err == nil {
			var db *grove.DB
			if db, err = grove.Open(drv); err == nil {
				s = sqlite.New(db)
			}
		}
	case "mongo":
		drv := mongodriver.New()
		if err = drv.Open(ctx, cfg.DSN); err == nil {
			var db *grove.DB
			if db, err = grove.Open(drv); err == nil {
				s = mongo.New(db)
			}
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", cfg.Driver, err)
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%s: ping: %w", cfg.Driver, err)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%s: %w", cfg.Driver, err)
	}
	return s, nil
}
