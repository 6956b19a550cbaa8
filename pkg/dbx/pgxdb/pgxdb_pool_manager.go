package pgxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/errorx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gdp-tracker/gdp-backend/pkg/sshx"
	"github.com/pkg/errors"
)

const (
	DefaultPoolSize       = 8
	DefaultConnectTimeout = 6 * time.Second
)

var errPoolExhausted = errors.New("connection pool exhausted")

// Tunnel is the part of sshx.Manager the pool depends on.
type Tunnel interface {
	Current() sshx.Handle
	Ensure(ctx context.Context) (sshx.Handle, error)
	LastError() string
}

// Options tune the liveness probe run on every acquisition.
type Options struct {
	Factory      dbx.PoolFactory
	PingAttempts int
	PingDelay    time.Duration
	Locales      []string
}

type poolState struct {
	pool dbx.Pool
	port int
}

// PoolManager hands out connections from a pool bound to the current tunnel port.
// The pool is either absent or a single poolState; a failed probe swaps it out and a rebuild swaps a new one in.
type PoolManager struct {
	cfg    dbx.ConnConfig
	tunnel Tunnel
	opts   Options

	state atomic.Pointer[poolState]
	mu    sync.Mutex

	builds atomic.Int64
}

// NewPoolManager creates a manager; nothing is dialled until Acquire.
func NewPoolManager(cfg dbx.ConnConfig, tunnel Tunnel, opts Options) *PoolManager {
	if cfg.MaxConn <= 0 {
		cfg.MaxConn = DefaultPoolSize
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	if opts.Factory == nil {
		opts.Factory = NewPool
	}

	if opts.PingAttempts <= 0 {
		opts.PingAttempts = 1
	}

	if len(opts.Locales) == 0 {
		opts.Locales = DefaultLocales
	}

	return &PoolManager{cfg: cfg, tunnel: tunnel, opts: opts}
}

// Acquire borrows a probed connection with the session locale applied.
// A failed probe discards the whole pool and rebuilds it against the current tunnel.
// A pool with no free connection within the connect timeout is kept and reported as POOL_CONNECT.
func (m *PoolManager) Acquire(ctx context.Context) (dbx.Conn, error) {
	if st := m.state.Load(); st != nil {
		if conn, done, err := m.fromCurrent(ctx, st); done {
			return conn, err
		}
	}

	return m.rebuild(ctx)
}

// fromCurrent borrows from st. done is false when st was discarded and a rebuild is needed.
func (m *PoolManager) fromCurrent(ctx context.Context, st *poolState) (conn dbx.Conn, done bool, err error) {
	if !m.matchesTunnel(st) {
		m.discard(st, "tunnel port changed")
		return nil, false, nil
	}

	conn, err = m.checkout(ctx, st)
	if err == nil || errors.Is(err, errPoolExhausted) {
		return conn, true, err
	}

	logx.GetLogger().LogWarning(ctx, "Pool liveness probe failed, rebuilding", err)
	m.discard(st, "liveness probe failed")

	return nil, false, nil
}

// Port is the tunnel port of the current pool, 0 when there is none.
func (m *PoolManager) Port() int {
	if st := m.state.Load(); st != nil {
		return st.port
	}

	return 0
}

// Builds is the number of pools constructed so far.
func (m *PoolManager) Builds() int64 {
	return m.builds.Load()
}

// Close closes the current pool.
func (m *PoolManager) Close() {
	if st := m.state.Swap(nil); st != nil {
		st.pool.Close()
		logx.GetLogger().LogInfo(context.Background(), "DB Connection Pool Successfully Closed!")
	}
}

func (m *PoolManager) matchesTunnel(st *poolState) bool {
	h := m.tunnel.Current()
	return h != nil && h.IsActive() && h.LocalPort() == st.port
}

func (m *PoolManager) rebuild(ctx context.Context) (dbx.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// another caller may have rebuilt while we waited
	if st := m.state.Load(); st != nil {
		if conn, done, err := m.fromCurrent(ctx, st); done {
			return conn, err
		}
	}

	h, err := m.tunnel.Ensure(ctx)
	if err != nil {
		return nil, errorx.NewBridgeErrorWrapper(errorx.KindTunnelDown, err, "SSH_TUNNEL_DOWN: %s", m.tunnel.LastError())
	}

	cfg := m.cfg
	cfg.Host = "127.0.0.1"
	cfg.Port = int32(h.LocalPort())

	pool, err := m.opts.Factory(ctx, cfg)
	if err != nil {
		return nil, errorx.NewBridgeErrorWrapper(errorx.KindPoolConnect, err, "cannot create pool on 127.0.0.1:%d", cfg.Port)
	}

	st := &poolState{pool: pool, port: h.LocalPort()}
	m.builds.Add(1)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.checkout(connectCtx, st)
	if err != nil {
		go pool.Close()
		return nil, errorx.NewBridgeErrorWrapper(errorx.KindPoolConnect, err, "cannot connect through 127.0.0.1:%d", cfg.Port)
	}

	m.state.Store(st)

	logx.GetLogger().LogInfo(ctx, fmt.Sprintf("BACKEND READY (ssh-only) on 127.0.0.1:%d", st.port))

	return conn, nil
}

// checkout acquires a connection, pings it within the reconnect budget and applies the locale chain.
func (m *PoolManager) checkout(ctx context.Context, st *poolState) (dbx.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, err := st.pool.Acquire(acquireCtx)
	timedOut := acquireCtx.Err() != nil && ctx.Err() == nil
	cancel()

	if err != nil {
		if timedOut {
			return nil, errorx.NewBridgeErrorWrapper(errorx.KindPoolConnect, errPoolExhausted,
				"no connection free on 127.0.0.1:%d within %s", st.port, m.cfg.ConnectTimeout)
		}

		return nil, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.opts.PingDelay), uint64(m.opts.PingAttempts-1)), ctx)

	if err := backoff.Retry(func() error { return conn.Ping(ctx) }, policy); err != nil {
		conn.Release()
		return nil, err
	}

	if _, err := SetLocale(ctx, conn, m.opts.Locales); err != nil {
		conn.Release()
		return nil, err
	}

	return conn, nil
}

// discard drops st if it is still current. Closing waits for borrowed connections, so it runs detached.
func (m *PoolManager) discard(st *poolState, reason string) {
	if m.state.CompareAndSwap(st, nil) {
		logx.GetLogger().LogWarning(context.Background(),
			fmt.Sprintf("Discarding connection pool on 127.0.0.1:%d: %s", st.port, reason))

		go st.pool.Close()
	}
}
