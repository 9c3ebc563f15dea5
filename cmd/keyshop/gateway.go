package main

import (
	"context"
	"fmt"

	"github.com/Zhima-Mochi/keyshop/internal/config"
	"github.com/Zhima-Mochi/keyshop/internal/domain/snapshot"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/snapshot/filestore"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/snapshot/pgstore"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/snapshot/redisstore"
	"github.com/Zhima-Mochi/keyshop/internal/infrastructure/snapshot/sqlstore"
	"github.com/redis/go-redis/v9"
)

// openGateway connects the snapshot backend named by cfg.StoreDriver.
// The returned close func is never nil.
func openGateway(ctx context.Context, cfg config.Config) (snapshot.Gateway, func(), error) {
	noop := func() {}

	switch cfg.StoreDriver {
	case config.DriverFile:
		return filestore.New(cfg.StorePath), noop, nil

	case config.DriverSQLite, config.DriverMySQL:
		driver := sqlstore.DriverSQLite
		if cfg.StoreDriver == config.DriverMySQL {
			driver = sqlstore.DriverMySQL
		}
		store, err := sqlstore.Open(ctx, driver, cfg.StoreDSN)
		if err != nil {
			return nil, noop, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil

	case config.DriverPostgres:
		store, err := pgstore.Open(ctx, cfg.StoreDSN)
		if err != nil {
			return nil, noop, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, noop, err
		}
		return store, store.Close, nil

	case config.DriverRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{cfg.RedisAddr},
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("redis: ping %s: %w", cfg.RedisAddr, err)
		}
		return redisstore.New(client, cfg.RedisPrefix), func() { _ = client.Close() }, nil
	}
	return nil, noop, fmt.Errorf("%w: unknown store_driver %q", config.ErrInvalid, cfg.StoreDriver)
}
