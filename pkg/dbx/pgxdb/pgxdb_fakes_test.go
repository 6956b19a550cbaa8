package pgxdb_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/sshx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubHandle struct {
	port   int
	active atomic.Bool
}

func newStubHandle(port int) *stubHandle {
	h := &stubHandle{port: port}
	h.active.Store(true)

	return h
}

func (h *stubHandle) LocalPort() int { return h.port }
func (h *stubHandle) IsActive() bool { return h.active.Load() }
func (h *stubHandle) Stop() error    { h.active.Store(false); return nil }

type stubTunnel struct {
	mu       sync.Mutex
	current  *stubHandle
	nextPort int
	err      error
	ensures  int
}

func (t *stubTunnel) Current() sshx.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil
	}

	return t.current
}

func (t *stubTunnel) Ensure(ctx context.Context) (sshx.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ensures++

	if t.err != nil {
		return nil, t.err
	}

	if t.current == nil || !t.current.IsActive() {
		t.nextPort++
		t.current = newStubHandle(41000 + t.nextPort)
	}

	return t.current, nil
}

func (t *stubTunnel) LastError() string {
	if t.err != nil {
		return "SSH_TUNNEL_START_FAIL: " + t.err.Error()
	}

	return ""
}

type stubTx struct {
	pgx.Tx
	conn      *stubConn
	commits   int
	rollbacks int
}

func (tx *stubTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (tx *stubTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.conn.record(sql)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (tx *stubTx) Commit(ctx context.Context) error {
	tx.commits++
	return nil
}

func (tx *stubTx) Rollback(ctx context.Context) error {
	tx.rollbacks++
	return nil
}

type stubConn struct {
	mu            sync.Mutex
	pool          *stubPool
	statements    []string
	rejectLocales map[string]bool
	pingErr       error
	releases      atomic.Int32
	tx            *stubTx
}

func (c *stubConn) record(sql string) {
	c.mu.Lock()
	c.statements = append(c.statements, sql)
	c.mu.Unlock()
}

func (c *stubConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (c *stubConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if len(args) == 1 {
		if locale, ok := args[0].(string); ok {
			c.record(sql + " " + locale)

			if c.rejectLocales[locale] {
				return pgconn.CommandTag{}, &pgconn.PgError{Code: "22023", Message: "invalid value for parameter \"lc_time\""}
			}

			return pgconn.NewCommandTag("SELECT 1"), nil
		}
	}

	c.record(sql)

	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (c *stubConn) Ping(ctx context.Context) error { return c.pingErr }

func (c *stubConn) Begin(ctx context.Context) (pgx.Tx, error) {
	c.tx = &stubTx{conn: c}
	return c.tx, nil
}

func (c *stubConn) Release() {
	c.releases.Add(1)

	if c.pool != nil && c.pool.slots != nil {
		<-c.pool.slots
	}
}

type stubPool struct {
	cfg     dbx.ConnConfig
	closed  atomic.Int32
	pingErr atomic.Pointer[error]
	reject  map[string]bool
	conns   []*stubConn
	mu      sync.Mutex
	slots   chan struct{}
}

func (p *stubPool) Acquire(ctx context.Context) (dbx.Conn, error) {
	if p.slots != nil {
		select {
		case p.slots <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c := &stubConn{pool: p, rejectLocales: p.reject}
	if e := p.pingErr.Load(); e != nil {
		c.pingErr = *e
	}

	p.conns = append(p.conns, c)

	return c, nil
}

func (p *stubPool) Close() { p.closed.Add(1) }

func (p *stubPool) breakConnections() {
	err := errors.New("connection reset by peer")
	p.pingErr.Store(&err)
}

type stubFactory struct {
	mu     sync.Mutex
	pools  []*stubPool
	err    error
	reject map[string]bool
	// capacity bounds the connections a pool hands out at once, 0 means unbounded
	capacity int
}

func (f *stubFactory) New(ctx context.Context, cfg dbx.ConnConfig) (dbx.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	p := &stubPool{cfg: cfg, reject: f.reject}
	if f.capacity > 0 {
		p.slots = make(chan struct{}, f.capacity)
	}
	f.pools = append(f.pools, p)

	return p, nil
}

func (f *stubFactory) last() *stubPool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pools[len(f.pools)-1]
}
