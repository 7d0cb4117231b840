package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ferret/config"
	"github.com/justapithecus/ferret/sessionpool"
	"github.com/justapithecus/ferret/store"
)

// loadConfig reads the config file named by --config. The file is
// optional; defaults cover a local setup apart from the database URL.
func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.LoadOrDefault(c.String("config"))
}

// openStore connects to Postgres and applies the schema.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is not configured (set it in ferret.yaml or DATABASE_URL)")
	}
	st, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// redisClient builds a client from redis_url, nil when unconfigured.
func redisClient(cfg *config.Config) (goredis.UniversalClient, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis_url: %w", err)
	}
	return goredis.NewClient(opts), nil
}

// sessionPool loads the browser session pool from the configured vault.
func sessionPool(cfg *config.Config) (*sessionpool.Pool, error) {
	vault, err := sessionpool.NewVault(cfg.Sessions.VaultPath)
	if err != nil {
		return nil, err
	}
	opts := sessionpool.Options{MaxAge: cfg.Sessions.MaxAge.Duration}
	if cfg.Sessions.TrustFloor != nil {
		opts.TrustFloor = *cfg.Sessions.TrustFloor
	}
	if cfg.Sessions.MaxUses != nil {
		opts.MaxUses = *cfg.Sessions.MaxUses
	}
	return sessionpool.New(vault, opts)
}

// parseID parses a positional UUID argument.
func parseID(c *cli.Context, usage string) (uuid.UUID, error) {
	if c.NArg() < 1 {
		return uuid.Nil, cli.Exit(usage, 1)
	}
	id, err := uuid.Parse(c.Args().First())
	if err != nil {
		return uuid.Nil, cli.Exit(fmt.Sprintf("invalid id %q", c.Args().First()), 1)
	}
	return id, nil
}
