package sshx

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gdp-tracker/gdp-backend/pkg/errorx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"golang.org/x/sync/singleflight"
)

const (
	defaultDialTimeout   = 10 * time.Second
	defaultProbeInterval = 250 * time.Millisecond
	defaultProbeTimeout  = 10 * time.Second
	defaultKeepAlive     = 10 * time.Second
)

// TunnelConfig describes the single forward the service depends on.
type TunnelConfig struct {
	SSH            Endpoint
	User           string
	Password       string
	PrivateKeyPath string
	KeyPassphrase  string
	KnownHostsPath string
	Remote         Endpoint

	DialTimeout   time.Duration
	KeepAlive     time.Duration
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

func (c TunnelConfig) withDefaults() TunnelConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}

	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}

	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}

	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}

	return c
}

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ProbeFunc checks that addr accepts TCP connections.
type ProbeFunc func(ctx context.Context, addr string) error

// Status is a snapshot of the tunnel state.
type Status struct {
	Active    bool   `json:"active"`
	LocalPort int    `json:"local_port,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithStarter replaces the SSH forwarder.
func WithStarter(s Starter) Option {
	return func(m *Manager) { m.starter = s }
}

// WithResolver replaces net.DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithProbe replaces the TCP connect-and-close probe.
func WithProbe(p ProbeFunc) Option {
	return func(m *Manager) { m.probe = p }
}

type handleRef struct {
	h Handle
}

// Manager owns the lifecycle of the single tunnel of the process.
// At most one handle is current; it is replaced only under mu.
type Manager struct {
	cfg      TunnelConfig
	starter  Starter
	resolver Resolver
	probe    ProbeFunc

	mu      sync.Mutex
	group   singleflight.Group
	current atomic.Pointer[handleRef]

	errMu   sync.RWMutex
	lastErr string

	starts atomic.Int64
}

// NewManager creates a Manager; no network activity happens until Ensure.
func NewManager(cfg TunnelConfig, opts ...Option) *Manager {
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:      cfg,
		resolver: net.DefaultResolver,
		probe:    tcpProbe(cfg.ProbeInterval),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.starter == nil {
		fw := &Forwarder{DialTimeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}

		cb, err := HostKeyCallback(cfg.KnownHostsPath)
		if err != nil {
			logx.GetLogger().LogWarning(context.Background(), "known_hosts unusable, host key not verified", err)
		} else {
			fw.HostKeyCallback = cb
		}

		m.starter = fw
	}

	return m
}

// Current returns the current handle, nil when no tunnel was ever started or after Close.
func (m *Manager) Current() Handle {
	if ref := m.current.Load(); ref != nil {
		return ref.h
	}

	return nil
}

// Starts is the number of start attempts that reached the transport.
func (m *Manager) Starts() int64 {
	return m.starts.Load()
}

// LastError is the human readable reason of the last failed Ensure, empty after a success.
func (m *Manager) LastError() string {
	m.errMu.RLock()
	defer m.errMu.RUnlock()

	return m.lastErr
}

// Status reports whether the tunnel is active, its local port and the last failure.
func (m *Manager) Status() Status {
	st := Status{LastError: m.LastError()}

	if h := m.Current(); h != nil && h.IsActive() {
		st.Active = true
		st.LocalPort = h.LocalPort()
	}

	return st
}

// CheckLocalPort runs a single probe against the current local port.
func (m *Manager) CheckLocalPort(ctx context.Context) bool {
	h := m.Current()
	if h == nil || !h.IsActive() {
		return false
	}

	return m.probe(ctx, localAddr(h.LocalPort())) == nil
}

// Ensure returns the active tunnel, starting a new one when there is none.
// Concurrent callers share one start attempt and observe the same handle or the same failure.
// Failures are recorded in LastError and returned as *errorx.BridgeError.
func (m *Manager) Ensure(ctx context.Context) (Handle, error) {
	if h := m.activeHandle(); h != nil {
		return h, nil
	}

	res, err, _ := m.group.Do("ensure", func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if h := m.activeHandle(); h != nil {
			return h, nil
		}

		// the start outlives a cancelled request, bounded by the tunnel timeouts
		startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.DialTimeout+m.cfg.ProbeTimeout)
		defer cancel()

		return m.start(startCtx)
	})
	if err != nil {
		return nil, err
	}

	return res.(Handle), nil
}

// Close stops the current tunnel.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := m.current.Swap(nil)
	if ref == nil {
		return nil
	}

	logx.GetLogger().LogInfo(context.Background(), "Stopping SSH tunnel")

	return ref.h.Stop()
}

func (m *Manager) activeHandle() Handle {
	if h := m.Current(); h != nil && h.IsActive() {
		return h
	}

	return nil
}

func (m *Manager) start(ctx context.Context) (Handle, error) {
	if ref := m.current.Swap(nil); ref != nil {
		if err := ref.h.Stop(); err != nil {
			logx.GetLogger().LogWarning(ctx, "stopping dead tunnel", err)
		}
	}

	host := m.cfg.SSH.Host
	if _, err := m.resolver.LookupHost(ctx, host); err != nil {
		m.setLastError(fmt.Sprintf("DNS_RESOLVE_FAIL(%s): %v", host, err))
		return nil, errorx.NewBridgeErrorWrapper(errorx.KindDnsResolution, err, "cannot resolve %s", host)
	}

	creds := ResolveCredentials(ctx, m.cfg)

	m.starts.Add(1)

	h, err := m.starter.Start(ctx, m.cfg.SSH, creds, m.cfg.Remote)
	if err != nil {
		m.setLastError(fmt.Sprintf("SSH_TUNNEL_START_FAIL: %v", err))
		return nil, errorx.NewBridgeErrorWrapper(errorx.KindTunnelStart, err, "cannot start tunnel to %s", m.cfg.SSH)
	}

	if err := m.waitLocalPort(ctx, h.LocalPort()); err != nil {
		if stopErr := h.Stop(); stopErr != nil {
			logx.GetLogger().LogWarning(ctx, "stopping unreachable tunnel", stopErr)
		}

		m.setLastError("LOCAL_PORT_UNREACHABLE")

		return nil, errorx.NewBridgeErrorWrapper(errorx.KindLocalPortUnreachable, err,
			"local port %d never accepted connections", h.LocalPort())
	}

	m.current.Store(&handleRef{h: h})
	m.setLastError("")

	logx.GetLogger().LogInfo(ctx, fmt.Sprintf("SSH tunnel active on 127.0.0.1:%d -> %s", h.LocalPort(), m.cfg.Remote))

	return h, nil
}

// waitLocalPort polls the local port every ProbeInterval until ProbeTimeout.
func (m *Manager) waitLocalPort(ctx context.Context, port int) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	addr := localAddr(port)

	return backoff.Retry(func() error {
		return m.probe(probeCtx, addr)
	}, backoff.WithContext(backoff.NewConstantBackOff(m.cfg.ProbeInterval), probeCtx))
}

func (m *Manager) setLastError(msg string) {
	m.errMu.Lock()
	m.lastErr = msg
	m.errMu.Unlock()

	if msg != "" {
		logx.GetLogger().LogWarning(context.Background(), "SSH tunnel: "+msg)
	}
}

func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func tcpProbe(timeout time.Duration) ProbeFunc {
	if timeout < 500*time.Millisecond {
		timeout = 500 * time.Millisecond
	}

	return func(ctx context.Context, addr string) error {
		dialer := net.Dialer{Timeout: timeout}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}

		return conn.Close()
	}
}
