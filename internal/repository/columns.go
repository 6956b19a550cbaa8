package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// DefaultColumnTTL is how long a table's column list is trusted.
const DefaultColumnTTL = 300 * time.Second

const columnsQuery = `
	SELECT column_name
	FROM information_schema.columns
	WHERE table_schema = current_schema()
	  AND table_name = :table
	ORDER BY ordinal_position`

// Columns maps the upper-case column names of a table to their stored names.
type Columns map[string]string

// Known reports whether col (upper case) is a column of the table.
func (c Columns) Known(col string) bool {
	_, ok := c[col]
	return ok
}

// Quote returns the quoted stored name of col.
func (c Columns) Quote(col string) string {
	return pgx.Identifier{c[col]}.Sanitize()
}

type columnEntry struct {
	cols     Columns
	loadedAt time.Time
}

// ColumnCache keeps the column list of the tables written with client supplied keys.
// Columns added to the table while the service runs are picked up as soon as a request names them.
type ColumnCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]columnEntry
	group   singleflight.Group
}

func NewColumnCache(ttl time.Duration) *ColumnCache {
	if ttl <= 0 {
		ttl = DefaultColumnTTL
	}

	return &ColumnCache{ttl: ttl, now: time.Now, entries: map[string]columnEntry{}}
}

// Columns returns the columns of table, reloading them when stale or when one of keys is unknown.
func (c *ColumnCache) Columns(ctx context.Context, q dbx.Queryer, table string, keys ...string) (Columns, error) {
	c.mu.RLock()
	entry, ok := c.entries[table]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.loadedAt) <= c.ttl && allKnown(entry.cols, keys) {
		return entry.cols, nil
	}

	res, err, _ := c.group.Do(table, func() (any, error) {
		return c.load(ctx, q, table)
	})
	if err != nil {
		return nil, err
	}

	return res.(Columns), nil
}

// Invalidate drops the cached list of table.
func (c *ColumnCache) Invalidate(table string) {
	c.mu.Lock()
	delete(c.entries, table)
	c.mu.Unlock()
}

func (c *ColumnCache) load(ctx context.Context, q dbx.Queryer, table string) (Columns, error) {
	res, err := dbx.Execute(ctx, q, columnsQuery, dbx.Named{"table": table})
	if err != nil {
		return nil, errors.Wrapf(err, "list columns of %s", table)
	}

	rows, err := res.All()
	if err != nil {
		return nil, errors.Wrapf(err, "list columns of %s", table)
	}

	cols := make(Columns, len(rows))
	for _, row := range rows {
		name, _ := row[0].(string)
		if name != "" {
			cols[strings.ToUpper(name)] = name
		}
	}

	c.mu.Lock()
	c.entries[table] = columnEntry{cols: cols, loadedAt: c.now()}
	c.mu.Unlock()

	return cols, nil
}

func allKnown(cols Columns, keys []string) bool {
	for _, k := range keys {
		if !cols.Known(k) {
			return false
		}
	}

	return true
}
