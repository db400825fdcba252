package database

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is a type alias for pgxpool.Pool for use in other packages.
type Pool = pgxpool.Pool

// DefaultApplicationName tags xtmate sessions in pg_stat_activity.
const DefaultApplicationName = "xtmate"

// PoolConfig describes the shared pool. Every request reads memberships and
// estimate ownership through it, so StatementTimeout bounds how long an
// authorization lookup can stall before the caller sees a dependency error.
type PoolConfig struct {
	URL              string
	MaxConns         int // <= 0 keeps the pgxpool default
	MinConns         int
	ApplicationName  string
	StatementTimeout time.Duration // 0 disables
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, pc PoolConfig) (*pgxpool.Pool, error) {
	config, err := parsePoolConfig(pc)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

func parsePoolConfig(pc PoolConfig) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(pc.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	if pc.MaxConns > 0 && pc.MaxConns <= math.MaxInt32 {
		config.MaxConns = int32(pc.MaxConns) // #nosec G115 -- bounds checked above
	}
	if pc.MinConns > 0 && pc.MinConns <= int(config.MaxConns) {
		config.MinConns = int32(pc.MinConns) // #nosec G115 -- bounded by MaxConns
	}

	name := pc.ApplicationName
	if name == "" {
		name = DefaultApplicationName
	}
	params := config.ConnConfig.RuntimeParams
	if _, set := params["application_name"]; !set {
		params["application_name"] = name
	}
	if pc.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(pc.StatementTimeout.Milliseconds(), 10)
	}

	return config, nil
}
