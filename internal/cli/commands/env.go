package commands

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/conduit-lang/docmapper/internal/adapter/docstore"
	"github.com/conduit-lang/docmapper/internal/adapter/sqlstore"
	"github.com/conduit-lang/docmapper/internal/cli/config"
	"github.com/conduit-lang/docmapper/internal/logging"
	"github.com/conduit-lang/docmapper/internal/orm"
	"github.com/conduit-lang/docmapper/internal/orm/cache"
	"github.com/conduit-lang/docmapper/internal/orm/events"
	"github.com/conduit-lang/docmapper/internal/orm/idstrategy"
	"github.com/conduit-lang/docmapper/internal/orm/mapper"
	"github.com/conduit-lang/docmapper/internal/orm/repository"
	"github.com/conduit-lang/docmapper/internal/orm/unitofwork"
)

// environment is everything a command needs, built from the resolved config
type environment struct {
	cfg     *config.Config
	logger  *zap.Logger
	schema  *orm.Schema
	client  *sqlstore.Client
	redis   *cache.RedisCache
	manager *repository.Manager
}

// loadConfig resolves the config file and applies flag overrides
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if len(opts.schemaPaths) > 0 {
		cfg.Schema.Paths = opts.schemaPaths
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
}

// loadSchema loads the configured schema files
func loadSchema(cfg *config.Config, logger *zap.Logger) (*orm.Schema, error) {
	if len(cfg.Schema.Paths) == 0 {
		return nil, fmt.Errorf("no schema files configured (set schema.paths or pass --schema)")
	}
	return config.LoadSchema(cfg.Schema.Paths, events.WithLogger(logging.Component(logger, "events")))
}

// openStore opens the configured database and ensures the records table
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sqlstore.Client, error) {
	client, err := sqlstore.Open(cfg.Store.Driver, cfg.Store.DSN,
		sqlstore.WithTable(cfg.Store.Table),
		sqlstore.WithLogger(logging.Component(logger, "sqlstore")))
	if err != nil {
		return nil, err
	}
	if err := client.EnsureSchema(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// openRedis connects the record cache when an address is configured
func openRedis(ctx context.Context, cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Cache.Enabled() {
		return nil, nil
	}
	return cache.NewRedisCacheWithConfig(ctx, cache.RedisConfig{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
		BackendConfig: cache.BackendConfig{
			DefaultTTL: cfg.Cache.TTL,
			Prefix:     cfg.Cache.Prefix,
		},
	})
}

// openEnvironment builds a manager over the configured store and schema
func openEnvironment(ctx context.Context, opts *rootOptions) (env *environment, err error) {
	env = &environment{}
	defer func() {
		if err != nil {
			env.Close()
			env = nil
		}
	}()

	if env.cfg, err = loadConfig(opts); err != nil {
		return env, err
	}
	if env.logger, err = newLogger(env.cfg); err != nil {
		return env, err
	}
	if env.schema, err = loadSchema(env.cfg, env.logger); err != nil {
		return env, err
	}
	if env.client, err = openStore(ctx, env.cfg, env.logger); err != nil {
		return env, err
	}
	if env.redis, err = openRedis(ctx, env.cfg); err != nil {
		return env, fmt.Errorf("failed to connect to redis: %w", err)
	}

	uowOpts := []unitofwork.Option{
		unitofwork.WithLogger(logging.Component(env.logger, "unitofwork")),
		unitofwork.WithTransactions(env.cfg.Store.Transactions),
	}
	if env.cfg.IDs.Generate {
		ids, err := idstrategy.Parse(env.cfg.IDs.Format)
		if err != nil {
			return env, err
		}
		uowOpts = append(uowOpts, unitofwork.WithIDStrategy(ids))
	}

	repoOpts := []repository.Option{
		repository.WithLogger(logging.Component(env.logger, "repository")),
		repository.WithMapperOptions(mapper.WithLogger(logging.Component(env.logger, "mapper"))),
		repository.WithUnitOfWorkOptions(uowOpts...),
	}
	if env.redis != nil {
		records := cache.NewRecordCache(env.redis, env.cfg.Cache.TTL, logging.Component(env.logger, "cache"))
		repoOpts = append(repoOpts, repository.WithRecordCache(records))
	}

	adapter := docstore.New(env.client, env.schema.Registry, docstore.WithIDGeneration(env.cfg.IDs.Generate))
	env.manager = repository.New(env.schema, env.client, adapter, repoOpts...)
	return env, nil
}

// Close releases the manager, store, cache and dispatcher
func (e *environment) Close() error {
	if e == nil {
		return nil
	}
	var err error
	if e.manager != nil {
		e.manager.Close()
	}
	if e.redis != nil {
		err = multierr.Append(err, e.redis.Close())
	}
	if e.client != nil {
		err = multierr.Append(err, e.client.Close())
	}
	if e.schema != nil {
		e.schema.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
	return err
}

// redactDSN masks the password of URL-style data source names
func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	return u.Redacted()
}
