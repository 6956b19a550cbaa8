package dbx

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// Conn is a connection borrowed from a Pool.
type Conn interface {
	Queryer
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Release()
}

// Pool is a bounded set of connections to one target.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Close()
}

// PoolFactory builds a Pool for cfg.
type PoolFactory func(ctx context.Context, cfg ConnConfig) (Pool, error)

// ConnConfig represents the configuration required for database connection.
type ConnConfig struct {
	Host           string
	Port           int32
	DBName         string
	User           string
	Password       string
	MaxConn        int32
	ConnectTimeout time.Duration
}
