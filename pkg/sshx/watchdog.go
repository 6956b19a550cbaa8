package sshx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/logx"
)

const DefaultWatchdogInterval = 15 * time.Second

// Ensurer is the part of Manager the watchdog drives.
type Ensurer interface {
	Current() Handle
	Ensure(ctx context.Context) (Handle, error)
}

// Watchdog re-establishes the tunnel on a fixed interval, independently of request traffic.
type Watchdog struct {
	ensurer  Ensurer
	interval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ticks   atomic.Int64
	repairs atomic.Int64
}

func NewWatchdog(ensurer Ensurer, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}

	return &Watchdog{ensurer: ensurer, interval: interval}
}

// Start launches the loop. Only the first call starts it; it reports whether this call did.
func (w *Watchdog) Start(ctx context.Context) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return false
	}

	w.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)

	go w.loop(loopCtx)

	logx.GetLogger().LogInfo(ctx, fmt.Sprintf("Tunnel watchdog started (every %s)", w.interval))

	return true
}

// Stop ends the loop and waits for the running tick.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	w.wg.Wait()
}

// Ticks is the number of completed ticks.
func (w *Watchdog) Ticks() int64 {
	return w.ticks.Load()
}

// Repairs is the number of ticks that found the tunnel inactive.
func (w *Watchdog) Repairs() int64 {
	return w.repairs.Load()
}

func (w *Watchdog) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logx.GetLogger().LogInfo(ctx, "Tunnel watchdog stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watchdog) tick(ctx context.Context) {
	defer w.ticks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			logx.GetLogger().LogError(ctx, fmt.Sprintf("Tunnel watchdog tick panicked: %v", r))
		}
	}()

	if h := w.ensurer.Current(); h != nil && h.IsActive() {
		return
	}

	w.repairs.Add(1)

	if _, err := w.ensurer.Ensure(ctx); err != nil {
		logx.GetLogger().LogWarning(ctx, "Tunnel watchdog could not restore the tunnel", err)
	}
}
