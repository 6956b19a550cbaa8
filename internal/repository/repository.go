// Package repository holds the SQL of the production tracking schema.
// Every method runs on the dbx.Queryer it is given, normally the request scope, and returns rows
// keyed by upper-case column name as the desktop client expects.
package repository

import (
	"context"
	"strings"

	"github.com/gdp-tracker/gdp-backend/internal/orders"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/pgxdb"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	TableOrders      = "tableau_production_2"
	TableClients     = "clients"
	TableDonnees     = "donnees"
	TableIdentifiant = "identifiant"
)

// Row is a result row keyed by upper-case column name.
type Row map[string]any

// Repository runs the queries of the service.
type Repository struct {
	columns *ColumnCache
}

func New(columns *ColumnCache) *Repository {
	if columns == nil {
		columns = NewColumnCache(DefaultColumnTTL)
	}

	return &Repository{columns: columns}
}

// OrderColumns returns the columns of the orders table, refreshed when keys names an unknown one.
func (r *Repository) OrderColumns(ctx context.Context, q dbx.Queryer, keys ...string) (Columns, error) {
	return r.columns.Columns(ctx, q, TableOrders, keys...)
}

// upperRow maps the current row by upper-case column name.
// Postgres folds unquoted identifiers to lower case; the client reads upper-case keys.
func upperRow(rows pgx.Rows) (Row, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}

	fields := rows.FieldDescriptions()
	row := make(Row, len(fields))

	for i, fd := range fields {
		if i < len(values) {
			row[strings.ToUpper(fd.Name)] = values[i]
		}
	}

	return row, nil
}

// firstValue returns the first column of the current row.
func firstValue(rows pgx.Rows) (any, error) {
	values, err := rows.Values()
	if err != nil || len(values) == 0 {
		return nil, err
	}

	return values[0], nil
}

func queryRows(ctx context.Context, q dbx.Queryer, query string, params any) ([]Row, error) {
	return pgxdb.QueryAndScan(ctx, q, upperRow, query, params)
}

func queryRecords(ctx context.Context, q dbx.Queryer, query string, params any) ([]orders.Record, error) {
	rows, err := queryRows(ctx, q, query, params)
	if err != nil {
		return nil, err
	}

	records := make([]orders.Record, len(rows))
	for i, r := range rows {
		records[i] = orders.Record(r)
	}

	return records, nil
}

// queryStrings returns the first column of every row as text, NULLs skipped.
func queryStrings(ctx context.Context, q dbx.Queryer, query string, params any) ([]string, error) {
	out := []string{}

	err := pgxdb.QueryScanAndProcess(ctx, q, query, firstValue, func(v any) error {
		if v != nil {
			out = append(out, orders.Text(v))
		}

		return nil
	}, params)
	if err != nil {
		return nil, err
	}

	return out, nil
}

func queryCount(ctx context.Context, q dbx.Queryer, query string, params any) (int64, error) {
	res, err := dbx.Execute(ctx, q, query, params)
	if err != nil {
		return 0, err
	}

	v, err := res.Scalar()
	if err != nil {
		return 0, err
	}

	return toInt64(v), nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}

	return 0
}

// Page bounds a listing.
type Page struct {
	Limit  int
	Offset int
}

const (
	DefaultLimit = 500
	MaxLimit     = 5000
)

// Clamp applies the listing bounds: limit in [1, MaxLimit], offset >= 0.
func (p Page) Clamp() Page {
	if p.Limit < 1 {
		p.Limit = 1
	}

	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if p.Offset < 0 {
		p.Offset = 0
	}

	return p
}

func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	return errors.WithMessage(err, msg)
}
