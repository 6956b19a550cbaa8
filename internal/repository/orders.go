package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/gdp-tracker/gdp-backend/internal/orders"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx/textx"
)

const orderListColumns = `N, STATUT, N_CLIENT, NOM_CLIENT, NOM_COMMERCIAL, CONTACT_CLIENT, MONTANT_HT, REMARQUES, MARKETING`

// OrderFilter selects the orders of a listing; empty fields do not filter.
type OrderFilter struct {
	N         *int64
	Status    string
	Marketing string
	Q         string
	Page      Page
}

// ListOrders returns the summary columns of the matching orders, newest first.
func (r *Repository) ListOrders(ctx context.Context, q dbx.Queryer, f OrderFilter) ([]Row, error) {
	var where []string

	params := dbx.Named{}

	if f.N != nil {
		where = append(where, "N = :n")
		params["n"] = *f.N
	}

	if statuts, exact := orders.StatusFilter(f.Status); exact {
		where = append(where, "STATUT = :status")
		params["status"] = statuts[0]
	} else if len(statuts) > 0 {
		where = append(where, "UPPER(TRIM(STATUT)) = ANY(:statuts)")
		params["statuts"] = statuts
	}

	if m := strings.TrimSpace(f.Marketing); m != "" {
		where = append(where, "UPPER(MARKETING) = :marketing")
		params["marketing"] = strings.ToUpper(m)
	}

	if s := strings.TrimSpace(f.Q); s != "" {
		where = append(where, "(NOM_CLIENT ILIKE :q OR N_CLIENT ILIKE :q)")
		params["q"] = "%" + s + "%"
	}

	page := f.Page.Clamp()
	params["limit"], params["offset"] = page.Limit, page.Offset

	query := "SELECT " + orderListColumns + " FROM " + TableOrders
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	query += " ORDER BY N DESC LIMIT :limit OFFSET :offset"

	rows, err := queryRows(ctx, q, query, params)

	return rows, wrap(err, "list orders")
}

// GetOrder returns every column of order n, nil when it does not exist.
func (r *Repository) GetOrder(ctx context.Context, q dbx.Queryer, n int64) (Row, error) {
	rows, err := queryRows(ctx, q, "SELECT * FROM "+TableOrders+" WHERE N = :n LIMIT 1", dbx.Named{"n": n})
	if err != nil || len(rows) == 0 {
		return nil, wrap(err, "get order")
	}

	return rows[0], nil
}

// OrderSnapshot returns cols of order n before an update, nil when the order does not exist.
func (r *Repository) OrderSnapshot(ctx context.Context, q dbx.Queryer, cols Columns, n int64, names []string) (orders.Record, error) {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = cols.Quote(name)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE N = :n", strings.Join(quoted, ", "), TableOrders)

	records, err := queryRecords(ctx, q, query, dbx.Named{"n": n})
	if err != nil || len(records) == 0 {
		return nil, wrap(err, "read order before update")
	}

	return records[0], nil
}

// InsertOrder inserts rec and returns the new order number.
func (r *Repository) InsertOrder(ctx context.Context, q dbx.Queryer, cols Columns, rec orders.Record) (int64, error) {
	names := rec.Columns()
	quoted := make([]string, len(names))
	values := make([]string, len(names))
	params := make(dbx.Named, len(names))

	for i, name := range names {
		p := fmt.Sprintf("c%d", i)
		quoted[i] = cols.Quote(name)
		values[i] = ":" + p
		params[p] = rec[name]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING N",
		TableOrders, strings.Join(quoted, ", "), strings.Join(values, ", "))

	n, err := queryCount(ctx, q, query, params)

	return n, wrap(err, "insert order")
}

// UpdateOrder writes rec on order n and returns the number of rows touched.
func (r *Repository) UpdateOrder(ctx context.Context, q dbx.Queryer, cols Columns, n int64, rec orders.Record) (int64, error) {
	names := rec.Columns()
	set := make([]string, len(names))
	params := dbx.Named{"n": n}

	for i, name := range names {
		p := fmt.Sprintf("c%d", i)
		set[i] = cols.Quote(name) + " = :" + p
		params[p] = rec[name]
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE N = :n", TableOrders, strings.Join(set, ", "))

	affected, err := dbx.ExecCommand(ctx, q, query, params)

	return affected, wrap(err, "update order")
}

// NameCount is where a client name already appears.
type NameCount struct {
	InClients int64 `json:"in_clients"`
	InOrders  int64 `json:"in_orders"`
}

func (c NameCount) Total() int64 {
	return c.InClients + c.InOrders
}

// fallbackScanLimit caps the accent insensitive fallback. It is a heuristic: a name
// present beyond the first rows of the ILIKE scan is not seen.
const fallbackScanLimit = 20

// CountClientName counts nom in the clients and orders tables: an exact case-insensitive
// match first, then for a table without one a bounded ILIKE scan compared accent-insensitively.
func (r *Repository) CountClientName(ctx context.Context, q dbx.Queryer, nom string) (NameCount, error) {
	nom = strings.TrimSpace(nom)

	var (
		c   NameCount
		err error
	)

	if c.InClients, err = countName(ctx, q, TableClients, nom); err != nil {
		return c, wrap(err, "count client name")
	}

	if c.InOrders, err = countName(ctx, q, TableOrders, nom); err != nil {
		return c, wrap(err, "count client name")
	}

	return c, nil
}

func countName(ctx context.Context, q dbx.Queryer, table, nom string) (int64, error) {
	exact := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE LOWER(TRIM(NOM_CLIENT)) = :n", table)

	n, err := queryCount(ctx, q, exact, dbx.Named{"n": strings.ToLower(nom)})
	if err != nil || n > 0 {
		return n, err
	}

	scan := fmt.Sprintf("SELECT NOM_CLIENT FROM %s WHERE NOM_CLIENT ILIKE :like LIMIT %d", table, fallbackScanLimit)

	names, err := queryStrings(ctx, q, scan, dbx.Named{"like": "%" + nom + "%"})
	if err != nil {
		return 0, err
	}

	target := textx.Norm(nom)
	for _, name := range names {
		if textx.Norm(name) == target {
			n++
		}
	}

	return n, nil
}

const statsQuery = `
	SELECT
	  COUNT(*) FILTER (WHERE UPPER(TRIM(STATUT)) = ANY(:en_cours)) AS commandes_en_cours,
	  COUNT(*) FILTER (WHERE UPPER(TRIM(STATUT)) = ANY(:stock)) AS commandes_en_stock,
	  COUNT(*) FILTER (WHERE UPPER(TRIM(STATUT)) = ANY(:livrees)) AS commandes_livrees
	FROM ` + TableOrders

// StatusCounts counts the orders in progress, in stock and delivered.
func (r *Repository) StatusCounts(ctx context.Context, q dbx.Queryer) (orders.Stats, error) {
	res, err := dbx.Execute(ctx, q, statsQuery, dbx.Named{
		"en_cours": orders.InProgressStatuts,
		"stock":    orders.StockStatuts,
		"livrees":  orders.DeliveredStatuts,
	})
	if err != nil {
		return orders.Stats{}, wrap(err, "order stats")
	}

	row, err := res.One()
	if err != nil || len(row) < 3 {
		return orders.Stats{}, wrap(err, "order stats")
	}

	return orders.Stats{EnCours: toInt64(row[0]), EnStock: toInt64(row[1]), Livrees: toInt64(row[2])}, nil
}

// PlannedOrders returns DATE_PLANNING with extra columns for every order that has a planning date.
// Dates are stored as free text, they are parsed by the caller.
func (r *Repository) PlannedOrders(ctx context.Context, q dbx.Queryer, extra ...string) ([]orders.Record, error) {
	cols := append([]string{orders.ColDatePlanning}, extra...)

	query := fmt.Sprintf("SELECT %s FROM %s WHERE COALESCE(TRIM(DATE_PLANNING), '') <> ''",
		strings.Join(cols, ", "), TableOrders)

	records, err := queryRecords(ctx, q, query, nil)

	return records, wrap(err, "planned orders")
}
