package pgxdb

import (
	"context"
	"fmt"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/errorx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool is the pgxpool backed dbx.PoolFactory.
// The pool is lazy: connections are opened, within cfg.ConnectTimeout, on first Acquire.
func NewPool(ctx context.Context, cfg dbx.ConnConfig) (dbx.Pool, error) {
	poolConfig, err := createConnectionConfiguration(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error creating New Connection Pool")
	}

	logx.GetLogger().LogInfo(ctx, fmt.Sprintf("Created new Connection Pool: DB=%s, HOST=%s, PORT=%d, SIZE=%d",
		poolConfig.ConnConfig.Database,
		poolConfig.ConnConfig.Host,
		poolConfig.ConnConfig.Port,
		poolConfig.MaxConns))

	return &pgxPool{pool: pool}, nil
}

func createConnectionConfiguration(cfg dbx.ConnConfig) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error creating Connection Pool ConnConfig")
	}

	if cfg.DBName == "" {
		return nil, errorx.NewDatabaseError("Error creating Connection Pool ConnConfig: DB_Name is EMPTY")
	}

	if cfg.User == "" {
		return nil, errorx.NewDatabaseError("Error creating Connection Pool ConnConfig: DB_User is EMPTY")
	}

	if cfg.Password == "" {
		return nil, errorx.NewDatabaseError("Error creating Connection Pool ConnConfig: DB_Password is EMPTY")
	}

	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.DBName
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	// the tunnel only forwards plain TCP to the database host
	poolConfig.ConnConfig.TLSConfig = nil
	poolConfig.ConnConfig.Fallbacks = nil

	if cfg.MaxConn > 0 {
		poolConfig.MaxConns = cfg.MaxConn
	}

	poolConfig.MinConns = 0

	return poolConfig, nil
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p *pgxPool) Acquire(ctx context.Context) (dbx.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (p *pgxPool) Close() {
	p.pool.Close()
}
