package pgxdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx/pgxdb"
	"github.com/gdp-tracker/gdp-backend/pkg/sshx"
	"github.com/gdp-tracker/gdp-backend/test/sshserver"
	"github.com/gdp-tracker/gdp-backend/test/testcontainer/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identifiant struct {
	ID      string `db:"id"`
	Nom     string `db:"nom"`
	Role    string `db:"role"`
	Poste   string `db:"poste"`
	Service string `db:"service"`
	Mail    string `db:"mail"`
}

// setupTunnelledDatabase starts postgres and an SSH server, and routes the pool through a real tunnel.
func setupTunnelledDatabase(ctx context.Context, t *testing.T) (*pgxdb.PoolManager, *sshx.Manager, *sshserver.Server) {
	container := postgres.StartPostgresContainer(ctx, t)
	srv := sshserver.Start(t, sshserver.Options{User: "gdp", Password: "secret"})

	tunnel := sshx.NewManager(sshx.TunnelConfig{
		SSH:           sshx.Endpoint{Host: srv.Host, Port: srv.Port},
		User:          "gdp",
		Password:      "secret",
		Remote:        sshx.Endpoint{Host: container.Host, Port: container.MappedPort.Int()},
		ProbeInterval: 50 * time.Millisecond,
		ProbeTimeout:  5 * time.Second,
	})
	t.Cleanup(func() { _ = tunnel.Close() })

	pm := pgxdb.NewPoolManager(container.ConnConfig(), tunnel, pgxdb.Options{PingAttempts: 3, PingDelay: 200 * time.Millisecond})
	t.Cleanup(pm.Close)

	return pm, tunnel, srv
}

func TestDatabaseThroughTunnel(t *testing.T) {
	ctx := context.Background()

	pm, tunnel, srv := setupTunnelledDatabase(ctx, t)

	t.Run("TestLocaleApplied", func(t *testing.T) {
		conn, err := pm.Acquire(ctx)
		require.NoError(t, err)
		defer conn.Release()

		res, err := dbx.Execute(ctx, conn, "SELECT current_setting('lc_time')", nil)
		require.NoError(t, err)

		v, err := res.Scalar()
		require.NoError(t, err)
		assert.Contains(t, pgxdb.DefaultLocales, v)
		assert.Equal(t, tunnel.Current().LocalPort(), pm.Port())
	})

	t.Run("TestQueryAndMap", func(t *testing.T) {
		err := pgxdb.RunInScope(ctx, pm, func(ctx context.Context, s *pgxdb.Scope) error {
			rows, err := pgxdb.QueryAndMap[identifiant](ctx, s.Queryer(),
				"SELECT ID, NOM, ROLE, POSTE, SERVICE, MAIL FROM identifiant WHERE ID = :id", dbx.Named{"id": "U002"})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, "Lefèvre", rows[0].Nom)

			return nil
		})
		require.NoError(t, err)
	})

	t.Run("TestQueryAndScanPositional", func(t *testing.T) {
		conn, err := pm.Acquire(ctx)
		require.NoError(t, err)
		defer conn.Release()

		values, err := pgxdb.QueryAndScan(ctx, conn, func(rows pgx.Rows) (string, error) {
			var v string
			err := rows.Scan(&v)
			return v, err
		}, "SELECT VALEUR FROM donnees WHERE NOM_COLONNE IN (?) ORDER BY N", []any{[]string{"STATUT", "MODE_PAIEMENT"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"EN ATTENTE", "EN PRODUCTION", "EN PRODUCTION", "INGENICO SELF", ""}, values)
	})

	t.Run("TestScopeCommitAndRollback", func(t *testing.T) {
		err := pgxdb.RunInScope(ctx, pm, func(ctx context.Context, s *pgxdb.Scope) error {
			_, err := s.Exec(ctx, "INSERT INTO clients (NOM_CLIENT) VALUES (:nom)", dbx.Named{"nom": "COMMITTED"})
			return err
		})
		require.NoError(t, err)

		scope, err := pgxdb.Begin(ctx, pm)
		require.NoError(t, err)
		_, err = scope.Exec(ctx, "INSERT INTO clients (NOM_CLIENT) VALUES (?)", []any{"ROLLED BACK"})
		require.NoError(t, err)
		require.NoError(t, scope.Close(ctx))

		scope, err = pgxdb.Begin(ctx, pm)
		require.NoError(t, err)
		defer scope.Close(ctx)

		res, err := scope.Query(ctx, "SELECT NOM_CLIENT FROM clients WHERE NOM_CLIENT IN (?) ORDER BY 1",
			[]any{[]string{"COMMITTED", "ROLLED BACK"}})
		require.NoError(t, err)

		maps, err := res.Mappings()
		require.NoError(t, err)
		require.Len(t, maps.All(), 1)
		assert.Equal(t, "COMMITTED", maps.First()["nom_client"])
	})

	t.Run("TestPoolFollowsRestartedTunnel", func(t *testing.T) {
		before := pm.Port()
		first := tunnel.Current()

		srv.DropConnections()
		require.Eventually(t, func() bool { return !first.IsActive() }, 5*time.Second, 20*time.Millisecond)

		conn, err := pm.Acquire(ctx)
		require.NoError(t, err)
		defer conn.Release()

		assert.NotEqual(t, before, pm.Port())
		assert.Equal(t, tunnel.Current().LocalPort(), pm.Port())
		assert.Equal(t, int64(2), pm.Builds())

		_, err = dbx.ExecCommand(ctx, conn, "SELECT 1", nil)
		require.NoError(t, err)
	})
}
