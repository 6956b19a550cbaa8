// Package pgxfake provides in-memory stand-ins for the pgx types behind dbx.Conn and dbx.Pool.
package pgxfake

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Rows is a fixed result set.
type Rows struct {
	Cols []string
	Data [][]any
	Tag  string

	pos    int
	closed bool
}

func NewRows(cols []string, data ...[]any) *Rows {
	return &Rows{Cols: cols, Data: data, Tag: "SELECT"}
}

func (r *Rows) Close()                        { r.closed = true }
func (r *Rows) Err() error                    { return nil }
func (r *Rows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag(r.Tag) }
func (r *Rows) RawValues() [][]byte           { return nil }
func (r *Rows) Conn() *pgx.Conn               { return nil }

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription {
	fields := make([]pgconn.FieldDescription, len(r.Cols))
	for i, c := range r.Cols {
		fields[i] = pgconn.FieldDescription{Name: c}
	}

	return fields
}

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.Data) {
		return false
	}

	r.pos++

	return true
}

func (r *Rows) Values() ([]any, error) {
	return r.Data[r.pos-1], nil
}

// Scan assigns the current row to pointer destinations; nil values leave the zero value.
func (r *Rows) Scan(dest ...any) error {
	if len(dest) == 1 {
		if rs, ok := dest[0].(pgx.RowScanner); ok {
			return rs.ScanRow(r)
		}
	}

	row := r.Data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("pgxfake: %d scan destinations for %d values", len(dest), len(row))
	}

	for i, d := range dest {
		if err := assign(d, row[i]); err != nil {
			return err
		}
	}

	return nil
}

func assign(dest, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("pgxfake: scan destination %T is not a pointer", dest)
	}

	target := dv.Elem()
	if value == nil {
		target.SetZero()
		return nil
	}

	v := reflect.ValueOf(value)

	switch {
	case v.Type().AssignableTo(target.Type()):
		target.Set(v)
	case target.Kind() == reflect.Pointer && v.Type().AssignableTo(target.Type().Elem()):
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(v)
		target.Set(p)
	default:
		return fmt.Errorf("pgxfake: cannot scan %T into %T", value, dest)
	}

	return nil
}

// Statement is one Query or Exec call.
type Statement struct {
	SQL  string
	Args []any
}

// Handler answers a statement; rows is nil for Exec.
type Handler func(sql string, args []any) (rows *Rows, err error)

// DB is a shared fake database: every Conn it hands out answers through Handler and logs to Statements.
type DB struct {
	Handler Handler

	mu         sync.Mutex
	statements []Statement

	PingErr error
	// MaxConns makes Acquire fail, instead of waiting, while that many connections are out. 0 is unbounded.
	MaxConns int32
	out      atomic.Int32

	Releases  atomic.Int32
	Commits   atomic.Int32
	Rollbacks atomic.Int32
}

func (db *DB) record(sql string, args []any) {
	db.mu.Lock()
	db.statements = append(db.statements, Statement{SQL: sql, Args: args})
	db.mu.Unlock()
}

// Statements returns a copy of the statements run so far.
func (db *DB) Statements() []Statement {
	db.mu.Lock()
	defer db.mu.Unlock()

	return append([]Statement(nil), db.statements...)
}

func (db *DB) answer(sql string, args []any) (*Rows, error) {
	db.record(sql, args)

	if db.Handler == nil {
		return NewRows(nil), nil
	}

	rows, err := db.Handler(sql, args)
	if err == nil && rows == nil {
		rows = NewRows(nil)
	}

	return rows, err
}

func (db *DB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := db.answer(sql, args)
	if err != nil {
		return nil, err
	}

	return rows, nil
}

func (db *DB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	rows, err := db.answer(sql, args)
	if err != nil {
		return pgconn.CommandTag{}, err
	}

	return pgconn.NewCommandTag(rows.Tag), nil
}

// Acquire hands out a new connection on db; DB satisfies pgxdb.Acquirer.
func (db *DB) Acquire(ctx context.Context) (dbx.Conn, error) {
	if db.MaxConns > 0 {
		if db.out.Add(1) > db.MaxConns {
			db.out.Add(-1)
			return nil, errors.New("pgxfake: all connections in use")
		}

		return &conn{db: db, counted: true}, nil
	}

	return &conn{db: db}, nil
}

// Factory returns a PoolFactory whose pools hand out connections on db and records the targets.
func (db *DB) Factory(targets *[]dbx.ConnConfig) dbx.PoolFactory {
	var mu sync.Mutex

	return func(ctx context.Context, cfg dbx.ConnConfig) (dbx.Pool, error) {
		if targets != nil {
			mu.Lock()
			*targets = append(*targets, cfg)
			mu.Unlock()
		}

		return &pool{db: db}, nil
	}
}

type pool struct {
	db *DB
}

func (p *pool) Acquire(ctx context.Context) (dbx.Conn, error) { return &conn{db: p.db}, nil }
func (p *pool) Close()                                        {}

type conn struct {
	db      *DB
	counted bool
}

func (c *conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return c.db.Query(ctx, sql, args...)
}

func (c *conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.db.Exec(ctx, sql, args...)
}

func (c *conn) Ping(ctx context.Context) error            { return c.db.PingErr }
func (c *conn) Begin(ctx context.Context) (pgx.Tx, error) { return &tx{db: c.db}, nil }

func (c *conn) Release() {
	c.db.Releases.Add(1)

	if c.counted {
		c.db.out.Add(-1)
	}
}

type tx struct {
	pgx.Tx
	db *DB
}

func (t *tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.db.Query(ctx, sql, args...)
}

func (t *tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *tx) Commit(ctx context.Context) error {
	t.db.Commits.Add(1)
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.db.Rollbacks.Add(1)
	return nil
}
