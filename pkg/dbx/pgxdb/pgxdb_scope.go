package pgxdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/errorx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

//###################################
//#          Query Scope            #
//###################################

// Acquirer hands out probed connections; *PoolManager implements it.
type Acquirer interface {
	Acquire(ctx context.Context) (dbx.Conn, error)
}

// Scope is one borrowed connection running one transaction.
// Statements issued through it run in order and share the transaction until Commit, Rollback or Close.
type Scope struct {
	id   int64
	conn dbx.Conn
	tx   pgx.Tx

	mu       sync.Mutex
	finished bool
	release  sync.Once
}

// Begin acquires a connection and opens a transaction on it.
func Begin(ctx context.Context, acq Acquirer) (*Scope, error) {
	conn, err := acq.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, errorx.NewDatabaseErrorWrapper(err, "error starting transaction")
	}

	return &Scope{id: dbx.GenerateRandomInt64Id(), conn: conn, tx: tx}, nil
}

// ID identifies the scope in logs.
func (s *Scope) ID() int64 {
	return s.id
}

// Query runs query with :name or ? parameters inside the transaction.
func (s *Scope) Query(ctx context.Context, query string, params any) (*dbx.Result, error) {
	return dbx.Execute(ctx, s.tx, query, params)
}

// Exec runs a command inside the transaction and returns the affected row count.
func (s *Scope) Exec(ctx context.Context, query string, params any) (int64, error) {
	return dbx.ExecCommand(ctx, s.tx, query, params)
}

// Queryer exposes the transaction to the pgxdb query helpers.
func (s *Scope) Queryer() dbx.Queryer {
	return s.tx
}

// Commit commits the transaction. The connection stays borrowed until Close.
func (s *Scope) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return errors.Errorf("scope %d already finished", s.id)
	}

	s.finished = true

	if err := s.tx.Commit(ctx); err != nil {
		logx.GetLogger().LogError(ctx, fmt.Sprintf("error during commit of scope %d", s.id), err)
		return errorx.NewDatabaseErrorWrapper(err, "error during transaction commit")
	}

	return nil
}

// Rollback discards the transaction. Rolling back a finished scope is a no-op.
func (s *Scope) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rollbackLocked(ctx)
}

func (s *Scope) rollbackLocked(ctx context.Context) error {
	if s.finished {
		return nil
	}

	s.finished = true

	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errorx.NewDatabaseErrorWrapper(err, "error rolling back scope %d", s.id)
	}

	logx.GetLogger().LogDebug(ctx, fmt.Sprintf("Rollback scope: %d", s.id))

	return nil
}

// Close rolls back unfinished work and returns the connection to the pool, once.
func (s *Scope) Close(ctx context.Context) error {
	var err error

	s.release.Do(func() {
		s.mu.Lock()
		err = s.rollbackLocked(ctx)
		s.mu.Unlock()

		s.conn.Release()
	})

	return err
}

// RunInScope runs fn in a new scope, committing when fn returns nil and rolling back on error or panic.
// The connection is always released; a panic is re-raised after cleanup.
func RunInScope(ctx context.Context, acq Acquirer, fn func(ctx context.Context, s *Scope) error) (err error) {
	scope, err := Begin(ctx, acq)
	if err != nil {
		return err
	}

	cleanupCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			_ = scope.Close(cleanupCtx)
			panic(r)
		}

		if closeErr := scope.Close(cleanupCtx); closeErr != nil {
			logx.GetLogger().LogWarning(ctx, fmt.Sprintf("closing scope %d", scope.id), closeErr)
		}
	}()

	if err = fn(ctx, scope); err != nil {
		return err
	}

	return scope.Commit(ctx)
}
