package sshx_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gdp-tracker/gdp-backend/pkg/sshx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedEnsurer struct {
	current atomic.Pointer[fakeHandle]
	ensures atomic.Int32
	panicOn int32
}

func (e *scriptedEnsurer) Current() sshx.Handle {
	if h := e.current.Load(); h != nil {
		return h
	}

	return nil
}

func (e *scriptedEnsurer) Ensure(ctx context.Context) (sshx.Handle, error) {
	n := e.ensures.Add(1)
	if n == e.panicOn {
		panic("boom")
	}

	h := newFakeHandle(50000 + int(n))
	e.current.Store(h)

	return h, nil
}

func TestWatchdogStartsOnlyOnce(t *testing.T) {
	w := sshx.NewWatchdog(&scriptedEnsurer{}, time.Hour)
	defer w.Stop()

	assert.True(t, w.Start(context.Background()))
	assert.False(t, w.Start(context.Background()))
}

func TestWatchdogRepairsInactiveTunnel(t *testing.T) {
	e := &scriptedEnsurer{}
	w := sshx.NewWatchdog(e, 10*time.Millisecond)

	require.True(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return e.ensures.Load() >= 1 }, time.Second, 5*time.Millisecond)

	// an active tunnel is left alone
	ticks := w.Ticks()
	require.Eventually(t, func() bool { return w.Ticks() >= ticks+3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), e.ensures.Load())

	e.current.Load().active.Store(false)
	require.Eventually(t, func() bool { return e.ensures.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), w.Repairs())
}

func TestWatchdogSurvivesPanickingTick(t *testing.T) {
	e := &scriptedEnsurer{panicOn: 1}
	w := sshx.NewWatchdog(e, 10*time.Millisecond)

	require.True(t, w.Start(context.Background()))
	defer w.Stop()

	require.Eventually(t, func() bool { return e.current.Load() != nil }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, e.ensures.Load(), int32(2))
}

func TestWatchdogStopEndsLoop(t *testing.T) {
	e := &scriptedEnsurer{}
	w := sshx.NewWatchdog(e, 5*time.Millisecond)

	require.True(t, w.Start(context.Background()))
	require.Eventually(t, func() bool { return w.Ticks() >= 2 }, time.Second, time.Millisecond)

	w.Stop()
	ticks := w.Ticks()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, ticks, w.Ticks())
}
