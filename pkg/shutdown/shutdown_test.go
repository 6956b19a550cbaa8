package shutdown

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanUpCompletes(t *testing.T) {
	var called atomic.Bool

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := cleanUp(ctx, func(timeoutCtx context.Context) { called.Store(true) })

	assert.True(t, done)
	assert.True(t, called.Load())
}

func TestCleanUpDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := cleanUp(ctx, func(timeoutCtx context.Context) { time.Sleep(time.Second) })

	assert.False(t, done)
}

func TestCleanUpNilCallback(t *testing.T) {
	assert.True(t, cleanUp(context.Background(), nil))
}

func TestWaitRunsCleanupAfterSignal(t *testing.T) {
	signals := make(chan os.Signal, 1)
	signals <- syscall.SIGTERM

	var deadline atomic.Bool

	waitAndCleanUp(context.Background(), signals, time.Second, func(timeoutCtx context.Context) {
		_, ok := timeoutCtx.Deadline()
		deadline.Store(ok)
	})

	assert.True(t, deadline.Load())
}
