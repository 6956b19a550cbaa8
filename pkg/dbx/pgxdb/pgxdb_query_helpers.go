package pgxdb

import (
	"context"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// QueryAndScan executes a query written with :name or ? placeholders and maps every row with scanFunc.
//
// Arguments:
//   - ctx: The context for the query execution.
//   - q: A scope transaction or a borrowed connection.
//   - scanFunc: A function that maps each row (pgx.Rows) to the desired type (T).
//   - query: The SQL query to be executed.
//   - params: dbx.Named, a positional slice, or nil.
//
// Returns:
//   - []T: The mapped rows, empty when the query returned none.
//   - error: Any error encountered during query execution or row scanning.
func QueryAndScan[T any](ctx context.Context, q dbx.Queryer, scanFunc func(rows pgx.Rows) (T, error), query string, params any) ([]T, error) {
	results := make([]T, 0)

	err := QueryScanAndProcess(ctx, q, query, scanFunc, func(item T) error {
		results = append(results, item)
		return nil
	}, params)
	if err != nil {
		return nil, err
	}

	return results, nil
}

// QueryScanAndProcess executes a query and hands every row, mapped with scanFunc, to processCallbackFunc.
// Processing stops at the first callback error.
func QueryScanAndProcess[T any](ctx context.Context, q dbx.Queryer, query string, scanFunc func(rows pgx.Rows) (T, error), processCallbackFunc func(item T) error, params any) error {
	sql, args, err := dbx.Rewrite(query, params)
	if err != nil {
		return err
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return errors.WithStack(err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanFunc(rows)
		if err != nil {
			return errors.WithStack(err)
		}

		if err := processCallbackFunc(item); err != nil {
			return errors.WithStack(err)
		}
	}

	return rows.Err()
}

// QueryAndMap maps rows to structs by column name (db tags, case-insensitive).
func QueryAndMap[T any](ctx context.Context, q dbx.Queryer, query string, params any) ([]T, error) {
	sql, args, err := dbx.Rewrite(query, params)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return results, nil
}
