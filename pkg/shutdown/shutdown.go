package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/logx"
)

// WaitForShutdown waits for OS signals (SIGINT, SIGTERM) to gracefully shut down the application.
// It runs the cleanup code provided by the cleanupCallback function within a context with a specified timeout.
//
// Usage:
//
//	shutdown.WaitForShutdown(context.Background(), 5*time.Second, func(timeoutCtx context.Context) {
//	    server.Shutdown(timeoutCtx)
//	    supervisor.Close()
//	})
func WaitForShutdown(rootCtx context.Context, timeout time.Duration, cleanupCallback func(timeoutCtx context.Context)) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	waitAndCleanUp(rootCtx, signals, timeout, cleanupCallback)
}

func waitAndCleanUp(rootCtx context.Context, signals <-chan os.Signal, timeout time.Duration, cleanupCallback func(timeoutCtx context.Context)) {
	signalCaptured := <-signals
	logx.GetLogger().LogDebug(rootCtx, fmt.Sprintf("Interrupt signal captured: %s", signalCaptured.String()))

	// give the callback time to release resources
	timeoutCtx, cancel := context.WithTimeout(rootCtx, timeout)
	defer cancel()

	cleanUp(timeoutCtx, cleanupCallback)
}

// cleanUp executes the provided cleanup callback function and logs the result.
// It waits for either the cleanup to complete or the context to be cancelled.
func cleanUp(timeoutCtx context.Context, cleanupCallback func(timeoutCtx context.Context)) bool {
	logx.GetLogger().LogInfo(timeoutCtx, "Cleaning up all resources ....")

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		if cleanupCallback != nil {
			cleanupCallback(timeoutCtx)
		}
		ch <- "All resources cleaned up"
	}()

	select {
	case <-timeoutCtx.Done():
		logx.GetLogger().LogError(timeoutCtx, "Deadline exceeded during context cancellation", timeoutCtx.Err())
		return false
	case result := <-ch:
		logx.GetLogger().LogInfo(timeoutCtx, result)
		return true
	}
}
