package dbx

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Queryer is satisfied by pgx.Tx, *pgxpool.Conn and *pgx.Conn.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Execute rewrites query for params and runs it on q. Driver errors are returned unchanged.
func Execute(ctx context.Context, q Queryer, query string, params any) (*Result, error) {
	sql, args, err := Rewrite(query, params)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}

	return &Result{rows: rows}, nil
}

// ExecCommand rewrites query for params and runs it as a command, returning the affected row count.
func ExecCommand(ctx context.Context, q Queryer, query string, params any) (int64, error) {
	sql, args, err := Rewrite(query, params)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}

	return tag.RowsAffected(), nil
}

// Result is a lazily read statement result. Every accessor that reads to the end closes it.
type Result struct {
	rows   pgx.Rows
	values []any
	err    error
}

// Columns returns the result column names.
func (r *Result) Columns() []string {
	fields := r.rows.FieldDescriptions()
	cols := make([]string, len(fields))

	for i, f := range fields {
		cols[i] = f.Name
	}

	return cols
}

// Next advances to the next row; Values returns it.
func (r *Result) Next() bool {
	if !r.rows.Next() {
		r.values = nil
		return false
	}

	vals, err := r.rows.Values()
	if err != nil {
		r.values, r.err = nil, err
		r.rows.Close()

		return false
	}

	r.values = vals

	return true
}

// Values returns the row Next moved to.
func (r *Result) Values() []any {
	return r.values
}

// Err reports the error that ended iteration, if any.
func (r *Result) Err() error {
	if r.err != nil {
		return r.err
	}

	return r.rows.Err()
}

// Close releases the result; it is safe to call more than once.
func (r *Result) Close() {
	r.rows.Close()
}

// All reads the remaining rows.
func (r *Result) All() ([][]any, error) {
	return pgx.CollectRows(r.rows, func(row pgx.CollectableRow) ([]any, error) {
		return row.Values()
	})
}

// One returns the next row, nil when there is none, and closes the result.
func (r *Result) One() ([]any, error) {
	defer r.rows.Close()

	if !r.rows.Next() {
		return nil, r.rows.Err()
	}

	vals, err := r.rows.Values()
	if err != nil {
		return nil, err
	}

	r.rows.Close()

	return vals, r.rows.Err()
}

// Scalar returns the first column of the next row, nil when there is no row.
func (r *Result) Scalar() (any, error) {
	row, err := r.One()
	if err != nil || len(row) == 0 {
		return nil, err
	}

	return row[0], nil
}

// Mappings reads the remaining rows as column name to value maps.
func (r *Result) Mappings() (Mappings, error) {
	rows, err := pgx.CollectRows(r.rows, pgx.RowToMap)
	if err != nil {
		return nil, err
	}

	return Mappings(rows), nil
}

// RowsAffected drains the result and returns the command tag row count.
func (r *Result) RowsAffected() (int64, error) {
	for r.rows.Next() {
	}

	r.rows.Close()

	if err := r.rows.Err(); err != nil {
		return 0, err
	}

	return r.rows.CommandTag().RowsAffected(), nil
}

// Mappings is a fully read result keyed by column name.
type Mappings []map[string]any

// All returns every mapped row.
func (m Mappings) All() []map[string]any {
	return m
}

// First returns the first mapped row, nil when empty.
func (m Mappings) First() map[string]any {
	if len(m) == 0 {
		return nil
	}

	return m[0]
}
