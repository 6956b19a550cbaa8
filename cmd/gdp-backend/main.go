package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gdp-tracker/gdp-backend/internal/api"
	"github.com/gdp-tracker/gdp-backend/internal/audit"
	"github.com/gdp-tracker/gdp-backend/internal/notify"
	"github.com/gdp-tracker/gdp-backend/internal/repository"
	"github.com/gdp-tracker/gdp-backend/pkg/bridge"
	"github.com/gdp-tracker/gdp-backend/pkg/configx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gdp-tracker/gdp-backend/pkg/serverx/fibersrv"
	"github.com/gdp-tracker/gdp-backend/pkg/shutdown"
	"github.com/gdp-tracker/gdp-backend/pkg/utilx"
)

const (
	// ShutdownTimeout - time given to the server and the bridge to release their resources.
	ShutdownTimeout = 5 * time.Second

	// configPathEnv names the directory holding property.yaml / property-<env>.yaml.
	configPathEnv = "GDP_CONFIG_PATH"

	tokenBytes = 32
)

func main() {
	rootCtx := context.Background()

	config := loadConfiguration()

	logx.SetupLogger(config)
	logger := logx.GetLogger()

	token, err := utilx.RandomString(tokenBytes)
	if err != nil {
		logger.LogFatal(rootCtx, "unable to generate the application token", err)
	}

	supervisor := bridge.New(config, bridge.Options{})
	supervisor.Start(rootCtx)

	handler := api.New(api.Deps{
		Acquirer: supervisor,
		Health:   supervisor,
		Repo:     repository.New(repository.NewColumnCache(repository.DefaultColumnTTL)),
		Notifier: notify.NewNotifier(config.Mail, notify.MailtoDrafter{}),
		Audit:    audit.NewWriter(config.Audit.RemoteDir, supervisor.Executor),
		Token:    token,
	})

	server := fibersrv.NewFiberServer(config, api.ErrorHandler)
	server.Setup(rootCtx, handler.Register)
	server.RunAsync()

	shutdown.WaitForShutdown(rootCtx, ShutdownTimeout, func(timeoutCtx context.Context) {
		server.Shutdown(timeoutCtx)

		if err := supervisor.Close(); err != nil {
			logger.LogWarning(timeoutCtx, "error closing the SSH bridge", err)
		}
	})
}

// loadConfiguration reads the configuration and exits listing every missing key.
func loadConfiguration() *configx.ServiceConfig {
	var cfg configx.ServiceConfig

	if err := configx.LoadConfigFromPathForEnv(os.Getenv(configPathEnv), &cfg); err != nil {
		log.Fatalf("error loading configuration: %+v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	return &cfg
}
