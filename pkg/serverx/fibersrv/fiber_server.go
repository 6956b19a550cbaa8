package fibersrv

import (
	"context"
	"fmt"
	"net"

	"github.com/gdp-tracker/gdp-backend/pkg/configx"
	"github.com/gdp-tracker/gdp-backend/pkg/logx"
	"github.com/gdp-tracker/gdp-backend/pkg/serverx"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// FiberServer - Fiber server.
type FiberServer struct {
	Server *fiber.App
	config configx.Config
}

// NewFiberServer - Fiber server constructor. errorHandler may be nil.
func NewFiberServer(config configx.Config, errorHandler fiber.ErrorHandler) serverx.Server[*fiber.App] {
	fiberConfig := buildFiberConfig(config)
	if errorHandler != nil {
		fiberConfig.ErrorHandler = errorHandler
	}

	return &FiberServer{Server: fiber.New(*fiberConfig), config: config}
}

func buildFiberConfig(config configx.Config) *fiber.Config {
	cfg := &fiber.Config{
		AppName:       config.GetServiceName(),
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: false,
		JSONEncoder:   json.Marshal,
		JSONDecoder:   json.Unmarshal,
	}

	if sc := config.GetServerConfig(); sc != nil {
		cfg.Concurrency = sc.Concurrency
		cfg.DisableStartupMessage = sc.DisableStartupMessage
	}

	return cfg
}

// GetServer - return the fiber server.
func (srv *FiberServer) GetServer() *fiber.App {
	return srv.Server
}

// RunSync - Run the server sync.
func (srv *FiberServer) RunSync() {
	if srv.Server != nil {
		runServer(srv)
	}
}

// RunAsync - Run the server async.
func (srv *FiberServer) RunAsync() {
	if srv.Server != nil {
		go func() {
			runServer(srv)
		}()
	}
}

// Setup - Receive a callback function setupFunc that let to configure the server.
func (srv *FiberServer) Setup(ctx context.Context, setupFunc func(fiber *fiber.App)) {
	if srv.Server != nil {
		setupFunc(srv.Server)
	}
}

// Shutdown - shutdown the server.
func (srv *FiberServer) Shutdown(ctx context.Context) {
	if srv.Server != nil {
		if err := srv.Server.ShutdownWithContext(ctx); err != nil {
			logx.GetLogger().LogError(ctx, "Error shutting down the Server", err)
		} else {
			logx.GetLogger().LogInfo(ctx, "Server shut down.. ")
		}
	}
}

// Addr is the listen address; the backend only serves the local desktop client by default.
func (srv *FiberServer) Addr() string {
	host, port := "127.0.0.1", "5000"

	if sc := srv.config.GetServerConfig(); sc != nil {
		if sc.Host != "" {
			host = sc.Host
		}

		if sc.Port != "" {
			port = sc.Port
		}
	}

	return net.JoinHostPort(host, port)
}

func runServer(srv *FiberServer) {
	serverAddr := srv.Addr()
	logx.GetLogger().LogInfo(context.Background(), fmt.Sprintf("Server listening on %s", serverAddr))

	if err := srv.Server.Listen(serverAddr); err != nil {
		logx.GetLogger().LogPanic(context.TODO(), "Oops... server is not running! error:", err)
	}
}
