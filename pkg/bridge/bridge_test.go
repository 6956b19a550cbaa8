package bridge_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/bridge"
	"github.com/gdp-tracker/gdp-backend/pkg/configx"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/pgxdb"
	"github.com/gdp-tracker/gdp-backend/pkg/errorx"
	"github.com/gdp-tracker/gdp-backend/pkg/sshx"
	"github.com/gdp-tracker/gdp-backend/test/pgxfake"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handle struct {
	port   int
	active atomic.Bool
}

func (h *handle) LocalPort() int { return h.port }
func (h *handle) IsActive() bool { return h.active.Load() }
func (h *handle) Stop() error    { h.active.Store(false); return nil }

type starter struct {
	starts atomic.Int32
	err    error
}

func (s *starter) Start(ctx context.Context, endpoint sshx.Endpoint, creds sshx.Credentials, remote sshx.Endpoint) (sshx.Handle, error) {
	n := s.starts.Add(1)
	if s.err != nil {
		return nil, s.err
	}

	h := &handle{port: 45000 + int(n)}
	h.active.Store(true)

	return h, nil
}

type resolver struct {
	err error
}

func (r resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}

	return []string{"10.0.0.1"}, nil
}

func serviceConfig() *configx.ServiceConfig {
	cfg := &configx.ServiceConfig{}
	cfg.SSH = configx.SSHConfig{Host: "nas.example.org", Port: 22, User: "gdp", Password: "secret"}
	cfg.DB = configx.DatabaseConfig{Host: "192.168.1.2", Port: 5432, Name: "production", User: "app", Password: "pwd", PoolSize: 4}
	cfg.Tunnel = configx.TunnelConfig{WatchdogInterval: time.Hour, ProbeInterval: 5 * time.Millisecond, ProbeTimeout: 50 * time.Millisecond}

	return cfg
}

func newSupervisor(st *starter, res resolver, db *pgxfake.DB, targets *[]dbx.ConnConfig) *bridge.Supervisor {
	return bridge.New(serviceConfig(), bridge.Options{
		Tunnel: []sshx.Option{
			sshx.WithStarter(st),
			sshx.WithResolver(res),
			sshx.WithProbe(func(ctx context.Context, addr string) error { return nil }),
		},
		Pool: pgxdb.Options{Factory: db.Factory(targets)},
	})
}

func TestConfigMapping(t *testing.T) {
	cfg := serviceConfig()
	cfg.SSH.PrivateKeyPath = "/keys/id_ed25519"

	tc := bridge.TunnelConfig(cfg)
	assert.Equal(t, "nas.example.org:22", tc.SSH.String())
	assert.Equal(t, "192.168.1.2:5432", tc.Remote.String())
	assert.Equal(t, "/keys/id_ed25519", tc.PrivateKeyPath)
	assert.Equal(t, 5*time.Millisecond, tc.ProbeInterval)

	cc := bridge.ConnConfig(cfg)
	assert.Equal(t, "production", cc.DBName)
	assert.Equal(t, int32(4), cc.MaxConn)
	assert.Empty(t, cc.Host)
}

func TestHealthyBridge(t *testing.T) {
	ctx := context.Background()
	st := &starter{}
	db := &pgxfake.DB{}

	var targets []dbx.ConnConfig

	s := newSupervisor(st, resolver{}, db, &targets)
	defer s.Close()

	s.Start(ctx)

	h := s.Health(ctx)
	assert.True(t, h.OK)
	assert.Equal(t, "ssh-only", h.Mode)
	assert.True(t, h.SSH.Active)
	require.NotNil(t, h.SSH.LocalPort)
	assert.Equal(t, 45001, *h.SSH.LocalPort)
	assert.True(t, h.SSH.TCP)
	assert.Nil(t, h.SSH.LastError)
	assert.True(t, h.DB.Reachable)
	assert.NotZero(t, h.TS)

	require.Len(t, targets, 1)
	assert.Equal(t, "127.0.0.1", targets[0].Host)
	assert.Equal(t, int32(45001), targets[0].Port)
	assert.Equal(t, int32(1), st.starts.Load())

	var ran []string
	for _, stmt := range db.Statements() {
		ran = append(ran, stmt.SQL)
	}

	assert.Contains(t, ran, "SELECT 1")
}

func TestTunnelUnreachableAtStartup(t *testing.T) {
	ctx := context.Background()
	db := &pgxfake.DB{}

	s := newSupervisor(&starter{}, resolver{err: errors.New("no such host")}, db, nil)
	defer s.Close()

	s.Start(ctx)

	h := s.Health(ctx)
	assert.False(t, h.OK)
	assert.False(t, h.SSH.Active)
	assert.Nil(t, h.SSH.LocalPort)
	assert.False(t, h.SSH.TCP)
	require.NotNil(t, h.SSH.LastError)
	assert.Contains(t, *h.SSH.LastError, "DNS_RESOLVE_FAIL(nas.example.org)")
	assert.False(t, h.DB.Reachable)
	assert.Contains(t, h.DB.Error, "SSH_TUNNEL_DOWN")

	_, err := s.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errorx.IsKind(err, errorx.KindTunnelDown))

	payload, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"local_port":null`)
	assert.Contains(t, string(payload), `"mode":"ssh-only"`)
}

func TestTransportFailureIsReported(t *testing.T) {
	ctx := context.Background()

	s := newSupervisor(&starter{err: errors.New("ssh: handshake failed")}, resolver{}, &pgxfake.DB{}, nil)
	defer s.Close()

	h := s.Health(ctx)
	assert.False(t, h.OK)
	require.NotNil(t, h.SSH.LastError)
	assert.Equal(t, "SSH_TUNNEL_START_FAIL: ssh: handshake failed", *h.SSH.LastError)
}

func TestHealthRepairsTunnel(t *testing.T) {
	ctx := context.Background()

	s := newSupervisor(&starter{}, resolver{}, &pgxfake.DB{}, nil)
	defer s.Close()

	// no Start: the database check brings the tunnel up
	h := s.Health(ctx)
	assert.True(t, h.OK)
	assert.True(t, h.SSH.Active)
	require.NotNil(t, h.SSH.LocalPort)
}

func TestStartLaunchesOneWatchdog(t *testing.T) {
	ctx := context.Background()

	s := newSupervisor(&starter{}, resolver{}, &pgxfake.DB{}, nil)

	s.Start(ctx)
	assert.False(t, s.Watchdog.Start(ctx))

	require.NoError(t, s.Close())
	assert.Nil(t, s.Tunnel.Current())
}
