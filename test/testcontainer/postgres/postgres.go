package postgres

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/gdp-tracker/gdp-backend/pkg/dbx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gdp-tracker/gdp-backend/test"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresContainerImage = "docker.io/postgres:16-alpine"
	postgresContainerPort  = "5432/tcp"

	MainDbName     = "gdp"
	MainDbUser     = "postgres"
	MainDbPassword = "password"
)

// PostgresContainer represents the postgres Container type used in the module.
type PostgresContainer struct {
	Container  *postgres.PostgresContainer
	MappedPort nat.Port
	Host       string
	DbName     string
	DbUser     string
	DbPassword string
}

const TestSnapshotId = "test-snapshot"

// StartPostgresContainer starts postgres loaded with the GDP schema and seed rows.
// Tests calling it are skipped with -short.
func StartPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	t.Helper()

	if testing.Short() {
		t.Skip("postgres container skipped in -short mode")
	}

	test.ConfigTestRootPath()

	pg, err := postgres.Run(ctx,
		postgresContainerImage,
		postgres.WithInitScripts(filepath.Join("test/testcontainer/postgres", "init_schema.sql")),
		postgres.WithDatabase(MainDbName),
		postgres.WithUsername(MainDbUser),
		postgres.WithPassword(MainDbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	require.NotNil(t, pg)

	mappedPort, err := pg.MappedPort(ctx, postgresContainerPort)
	require.NoError(t, err)

	host, err := pg.Host(ctx)
	require.NoError(t, err)

	log.Printf("Postgres running at %s:%s", host, mappedPort.Port())

	// snapshot so tests can restore the seed data
	err = pg.Snapshot(ctx, postgres.WithSnapshotName(TestSnapshotId))
	require.NoError(t, err)

	c := &PostgresContainer{
		Container:  pg,
		MappedPort: mappedPort,
		Host:       host,
		DbName:     MainDbName,
		DbUser:     MainDbUser,
		DbPassword: MainDbPassword,
	}

	t.Cleanup(func() { _ = c.StopContainer(context.Background(), t) })

	return c
}

// Restore rolls the database back to the seed snapshot.
func (c *PostgresContainer) Restore(ctx context.Context, t *testing.T) {
	require.NoError(t, c.Container.Restore(ctx, postgres.WithSnapshotName(TestSnapshotId)))
}

// ConnConfig points at the container; MaxConn is kept small for tests.
func (c *PostgresContainer) ConnConfig() dbx.ConnConfig {
	return dbx.ConnConfig{
		Host:           c.Host,
		Port:           int32(c.MappedPort.Int()),
		DBName:         c.DbName,
		User:           c.DbUser,
		Password:       c.DbPassword,
		MaxConn:        2,
		ConnectTimeout: 5 * time.Second,
	}
}

func (c *PostgresContainer) StopContainer(ctx context.Context, t *testing.T) error {
	logx.GetLogger().LogInfo(ctx, "Terminating the Container ....")

	if err := c.Container.Terminate(ctx); err != nil {
		t.Logf("%s", fmt.Sprintf("error terminating the Container %v", err))
		return err
	}

	return nil
}
