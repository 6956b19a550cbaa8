// Package bridge wires the SSH tunnel, its watchdog and the connection pool into the single
// object the service constructs at startup and hands to request handling.
package bridge

import (
	"context"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/configx"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/pgxdb"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gdp-tracker/gdp-backend/pkg/sshx"
)

// Options let tests replace the transport and the driver.
type Options struct {
	Tunnel []sshx.Option
	Pool   pgxdb.Options
}

// Supervisor owns the process wide tunnel and pool.
type Supervisor struct {
	Tunnel   *sshx.Manager
	Watchdog *sshx.Watchdog
	Pool     *pgxdb.PoolManager
	Executor *sshx.RemoteExecutor
}

// TunnelConfig maps the service configuration onto the forward to the database host.
func TunnelConfig(cfg *configx.ServiceConfig) sshx.TunnelConfig {
	return sshx.TunnelConfig{
		SSH:            sshx.Endpoint{Host: cfg.SSH.Host, Port: cfg.SSH.Port},
		User:           cfg.SSH.User,
		Password:       cfg.SSH.Password,
		PrivateKeyPath: cfg.SSH.PrivateKeyPath,
		KeyPassphrase:  cfg.SSH.KeyPassphrase,
		KnownHostsPath: cfg.SSH.KnownHostsPath,
		Remote:         sshx.Endpoint{Host: cfg.DB.Host, Port: cfg.DB.Port},
		KeepAlive:      cfg.Tunnel.KeepAlive,
		ProbeInterval:  cfg.Tunnel.ProbeInterval,
		ProbeTimeout:   cfg.Tunnel.ProbeTimeout,
	}
}

// ConnConfig is the database part of cfg; host and port are filled in from the tunnel at build time.
func ConnConfig(cfg *configx.ServiceConfig) dbx.ConnConfig {
	return dbx.ConnConfig{
		DBName:         cfg.DB.Name,
		User:           cfg.DB.User,
		Password:       cfg.DB.Password,
		MaxConn:        cfg.DB.PoolSize,
		ConnectTimeout: cfg.DB.ConnectTimeout,
	}
}

func New(cfg *configx.ServiceConfig, opts Options) *Supervisor {
	tunnelCfg := TunnelConfig(cfg)
	tunnel := sshx.NewManager(tunnelCfg, opts.Tunnel...)

	if opts.Pool.PingAttempts <= 0 {
		opts.Pool.PingAttempts = 2
	}

	return &Supervisor{
		Tunnel:   tunnel,
		Watchdog: sshx.NewWatchdog(tunnel, cfg.Tunnel.WatchdogInterval),
		Pool:     pgxdb.NewPoolManager(ConnConfig(cfg), tunnel, opts.Pool),
		Executor: sshx.NewRemoteExecutor(tunnelCfg),
	}
}

// Start makes a first attempt at the tunnel and launches the watchdog.
// A failed first attempt is logged only; the watchdog and the next request retry it.
func (s *Supervisor) Start(ctx context.Context) {
	if _, err := s.Tunnel.Ensure(ctx); err != nil {
		logx.GetLogger().LogWarning(ctx, "SSH tunnel not available at startup", err)
	}

	s.Watchdog.Start(context.WithoutCancel(ctx))
}

// Acquire borrows a connection from the pool, rebuilding it against the current tunnel when needed.
func (s *Supervisor) Acquire(ctx context.Context) (dbx.Conn, error) {
	return s.Pool.Acquire(ctx)
}

// Close stops the watchdog, then the pool, then the tunnel.
func (s *Supervisor) Close() error {
	s.Watchdog.Stop()
	s.Pool.Close()

	return s.Tunnel.Close()
}

// Health is the payload of the health endpoint.
type Health struct {
	OK   bool      `json:"ok"`
	Mode string    `json:"mode"`
	SSH  SSHHealth `json:"ssh"`
	DB   DBHealth  `json:"db"`
	TS   int64     `json:"ts"`
}

type SSHHealth struct {
	Active    bool    `json:"active"`
	LocalPort *int    `json:"local_port"`
	LastError *string `json:"last_error"`
	TCP       bool    `json:"tcp"`
}

type DBHealth struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

const healthTimeout = 15 * time.Second

// Health reports the tunnel state and whether a trivial statement reaches the database.
// It tells "tunnel down" apart from "database down"; ok is the database reachability.
func (s *Supervisor) Health(ctx context.Context) Health {
	status := s.Tunnel.Status()

	h := Health{
		Mode: "ssh-only",
		SSH:  SSHHealth{Active: status.Active},
		TS:   time.Now().Unix(),
	}

	if status.Active {
		port := status.LocalPort
		h.SSH.LocalPort = &port
		h.SSH.TCP = s.Tunnel.CheckLocalPort(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if err := s.pingDatabase(ctx); err != nil {
		logx.GetLogger().LogWarning(ctx, "/health DB check fail", err)
		h.DB.Error = err.Error()
	} else {
		h.DB.Reachable = true
	}

	// the check may have repaired the tunnel
	if !status.Active {
		if now := s.Tunnel.Status(); now.Active {
			port := now.LocalPort
			h.SSH.Active = true
			h.SSH.LocalPort = &port
			h.SSH.TCP = s.Tunnel.CheckLocalPort(ctx)
		}
	}

	if lastErr := s.Tunnel.LastError(); lastErr != "" {
		h.SSH.LastError = &lastErr
	}

	h.OK = h.DB.Reachable

	return h
}

func (s *Supervisor) pingDatabase(ctx context.Context) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	res, err := dbx.Execute(ctx, conn, "SELECT 1", nil)
	if err != nil {
		return err
	}

	_, err = res.All()

	return err
}
