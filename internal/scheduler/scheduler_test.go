package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ykvlv/funnel-bot/internal/funnel"
)

type dispatchFunc func(ctx context.Context, now time.Time) (funnel.DispatchReport, error)

func (f dispatchFunc) DispatchDue(ctx context.Context, now time.Time) (funnel.DispatchReport, error) {
	return f(ctx, now)
}

func TestScheduler_TicksUntilCanceled(t *testing.T) {
	var calls atomic.Int32
	d := dispatchFunc(func(context.Context, time.Time) (funnel.DispatchReport, error) {
		calls.Add(1)
		return funnel.DispatchReport{Selected: 1, Sent: 1}, nil
	})
	s := New(d, zap.NewNop(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	after := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no ticks after Run returned")
}

func TestScheduler_InFlightTickFinishes(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var (
		once     sync.Once
		finished atomic.Bool
		tickErr  atomic.Value
	)
	d := dispatchFunc(func(ctx context.Context, _ time.Time) (funnel.DispatchReport, error) {
		first := false
		once.Do(func() { first = true })
		if !first {
			return funnel.DispatchReport{}, nil
		}
		close(started)
		<-release
		if ctx.Err() != nil {
			tickErr.Store(ctx.Err())
		}
		finished.Store(true)
		return funnel.DispatchReport{}, nil
	})
	s := New(d, zap.NewNop(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a tick was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	assert.True(t, finished.Load())
	assert.Nil(t, tickErr.Load(), "tick context must not be canceled mid-tick")
}

func TestScheduler_DispatchErrorDoesNotStopLoop(t *testing.T) {
	var calls atomic.Int32
	d := dispatchFunc(func(context.Context, time.Time) (funnel.DispatchReport, error) {
		calls.Add(1)
		return funnel.DispatchReport{}, errors.New("store unreachable")
	})
	s := New(d, zap.NewNop(), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
