package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/porticus-lab/go-html-shot/device"
	"github.com/porticus-lab/go-html-shot/internal/engine/enginetest"
)

func profile(i int) device.Profile {
	return device.Profile{Name: fmt.Sprintf("p%d", i), Width: 100 + i, Height: 100}
}

func newPool(t *testing.T, l *enginetest.Launcher, opts ...Option) (*Pool, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	opts = append([]Option{WithLogger(zap.New(core)), WithRegisterer(prometheus.NewRegistry())}, opts...)
	p := New(l, opts...)
	t.Cleanup(func() { p.Teardown() })
	return p, logs
}

func acquire(t *testing.T, p *Pool, prof device.Profile) *enginetest.Page {
	t.Helper()
	page, err := p.Acquire(context.Background(), prof)
	require.NoError(t, err)
	return page.(*enginetest.Page)
}

func TestAcquire_ReusesContextForSameKey(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l)

	a := acquire(t, p, profile(1))
	b := acquire(t, p, profile(1))

	assert.NotSame(t, a, b, "every acquisition gets a fresh page")
	assert.Same(t, a.Context, b.Context)
	assert.Equal(t, 1, l.Launches())
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.misses))
}

func TestAcquire_EquivalentProfilesShareContext(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l)

	x := device.Profile{Headers: map[string]string{}}
	y := device.Profile{Headers: map[string]string{}}
	for _, k := range []string{"a", "b", "c"} {
		x.Headers["X-"+k] = k
	}
	for _, k := range []string{"c", "b", "a"} {
		y.Headers["x-"+k] = k
	}

	assert.Same(t, acquire(t, p, x).Context, acquire(t, p, y).Context)
	assert.Len(t, l.Contexts(), 1)
}

func TestAcquire_DistinctKeysGetDistinctContexts(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l)

	a := acquire(t, p, profile(1))
	b := acquire(t, p, profile(2))
	assert.NotSame(t, a.Context, b.Context)
	assert.Equal(t, profile(2), b.Context.Profile)
}

func TestEviction_LeastRecentlyUsed(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l, WithMaxContexts(3))

	a := acquire(t, p, profile(1))
	b := acquire(t, p, profile(2))
	acquire(t, p, profile(3))
	acquire(t, p, profile(1)) // touch 1 so 2 becomes the oldest
	acquire(t, p, profile(4))

	assert.Equal(t, []string{profile(4).Key(), profile(1).Key(), profile(3).Key()}, p.Keys())
	assert.True(t, b.Context.Closed())
	assert.False(t, a.Context.Closed())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.evictions))
}

func TestEviction_BoundHolds(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l)

	for i := 0; i < 15; i++ {
		acquire(t, p, profile(i))
		assert.LessOrEqual(t, p.Len(), DefaultMaxContexts)
	}

	assert.Equal(t, DefaultMaxContexts, p.Len())
	assert.Equal(t, float64(DefaultMaxContexts), testutil.ToFloat64(p.metrics.contexts))
	ctxs := l.Contexts()
	require.Len(t, ctxs, 15)
	for i, c := range ctxs {
		assert.Equal(t, i < 5, c.Closed(), "context %d", i)
	}
}

func TestConfigure_NotRetroactive(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l, WithMaxContexts(5))
	for i := 0; i < 5; i++ {
		acquire(t, p, profile(i))
	}

	p.Configure(2)
	assert.Equal(t, 2, p.MaxContexts())
	assert.Equal(t, 5, p.Len(), "shrinking the bound evicts nothing by itself")

	acquire(t, p, profile(1)) // hit: no insertion, no eviction
	assert.Equal(t, 5, p.Len())

	acquire(t, p, profile(99))
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{profile(99).Key(), profile(1).Key()}, p.Keys())
}

func TestConfigure_Clamps(t *testing.T) {
	p, _ := newPool(t, &enginetest.Launcher{}, WithMaxContexts(-3))
	assert.Equal(t, 1, p.MaxContexts())
	p.Configure(0)
	assert.Equal(t, 1, p.MaxContexts())
}

func TestRelease_ClosesOnlyThePage(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l)

	page := acquire(t, p, profile(1))
	p.Release(page)

	assert.True(t, page.Closed())
	assert.False(t, page.Context.Closed())
	assert.Equal(t, 1, p.Len())

	assert.NotPanics(t, func() { p.Release(nil) })
}

func TestRelease_CloseFailureIsLogged(t *testing.T) {
	l := &enginetest.Launcher{PageCloseErr: errors.New("tab crashed")}
	p, logs := newPool(t, l)

	p.Release(acquire(t, p, profile(1)))

	entries := logs.FilterMessage("closing page failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.closeErrors.WithLabelValues("page")))
}

func TestEviction_CloseFailureProceeds(t *testing.T) {
	l := &enginetest.Launcher{ContextCloseErr: errors.New("gone")}
	p, logs := newPool(t, l, WithMaxContexts(1))

	acquire(t, p, profile(1))
	page, err := p.Acquire(context.Background(), profile(2))
	require.NoError(t, err)
	require.NotNil(t, page)

	assert.Equal(t, []string{profile(2).Key()}, p.Keys())
	assert.Equal(t, 1, logs.FilterMessage("closing context failed").Len())
}

func TestAcquire_PageFailureKeepsContext(t *testing.T) {
	boom := errors.New("no tab")
	l := &enginetest.Launcher{NewPageErr: boom}
	p, _ := newPool(t, l)

	_, err := p.Acquire(context.Background(), profile(1))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.Len())
}

func TestAcquire_ContextFailurePropagates(t *testing.T) {
	boom := errors.New("no context")
	l := &enginetest.Launcher{NewContextErr: boom}
	p, _ := newPool(t, l)

	_, err := p.Acquire(context.Background(), profile(1))
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, p.Len())
}

func TestTeardown(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l)
	a := acquire(t, p, profile(1))
	b := acquire(t, p, profile(2))

	require.NoError(t, p.Teardown())

	assert.True(t, a.Context.Closed())
	assert.True(t, b.Context.Closed())
	assert.True(t, l.Browsers()[0].Closed())
	assert.Zero(t, p.Len())
	assert.Empty(t, p.Keys())

	require.NoError(t, p.Teardown(), "teardown is idempotent")

	acquire(t, p, profile(1))
	assert.Equal(t, 2, l.Launches(), "acquire after teardown relaunches")
}

func TestTeardown_ContinuesPastFailures(t *testing.T) {
	l := &enginetest.Launcher{ContextCloseErr: errors.New("stuck")}
	p, logs := newPool(t, l)
	acquire(t, p, profile(1))
	acquire(t, p, profile(2))

	err := p.Teardown()
	assert.Error(t, err)
	assert.True(t, l.Browsers()[0].Closed())
	assert.Equal(t, 2, logs.FilterMessage("closing context failed").Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.closeErrors.WithLabelValues("context")))
}

func TestAcquire_ConcurrentFirstUseLaunchesOnce(t *testing.T) {
	l := &enginetest.Launcher{LaunchDelay: 20 * time.Millisecond}
	p, _ := newPool(t, l)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Acquire(context.Background(), profile(i%5))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, l.Launches())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.launches))
	assert.Len(t, l.Contexts(), 5, "one context per key")
	assert.Len(t, l.Pages(), n)
}

func TestAcquire_LaunchFailureReachesAllWaiters(t *testing.T) {
	boom := errors.New("no chrome")
	l := &enginetest.Launcher{LaunchErr: boom, LaunchDelay: 20 * time.Millisecond}
	p, _ := newPool(t, l)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Acquire(context.Background(), profile(1))
			assert.ErrorIs(t, err, boom)
		}()
	}
	wg.Wait()
	assert.Zero(t, p.Len())
}

func TestAcquire_CallerCancellationDoesNotAbortLaunch(t *testing.T) {
	gate := make(chan struct{})
	l := &enginetest.Launcher{Gate: gate}
	p, _ := newPool(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, profile(1))
		done <- err
	}()
	require.Eventually(t, func() bool { return l.Launches() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(gate)
	acquire(t, p, profile(1))
	assert.Equal(t, 1, l.Launches())
}

func TestAcquire_TeardownDuringLaunch(t *testing.T) {
	gate := make(chan struct{})
	l := &enginetest.Launcher{Gate: gate}
	p, _ := newPool(t, l)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), profile(1))
		done <- err
	}()
	require.Eventually(t, func() bool { return l.Launches() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Teardown())
	close(gate)

	assert.ErrorIs(t, <-done, ErrTornDown)
	require.Len(t, l.Browsers(), 1)
	assert.True(t, l.Browsers()[0].Closed(), "engine launched for a torn down pool is closed")
	assert.Zero(t, p.Len())
}

func TestClose_RejectsLaterAcquire(t *testing.T) {
	l := &enginetest.Launcher{}
	p, _ := newPool(t, l)

	acquire(t, p, profile(1))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Acquire(context.Background(), profile(1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, l.Launches(), "closed pool never relaunches")
	assert.True(t, l.Browsers()[0].Closed())
	assert.Zero(t, p.Len())
}

func TestClose_DuringLaunch(t *testing.T) {
	gate := make(chan struct{})
	l := &enginetest.Launcher{Gate: gate}
	p, _ := newPool(t, l)

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), profile(1))
		done <- err
	}()
	require.Eventually(t, func() bool { return l.Launches() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	close(gate)

	assert.ErrorIs(t, <-done, ErrClosed)
	require.Len(t, l.Browsers(), 1)
	assert.True(t, l.Browsers()[0].Closed(), "engine launched for a closed pool is closed")
	assert.Empty(t, l.Contexts())

	_, err := p.Acquire(context.Background(), profile(2))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, l.Launches())
}

func TestMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(&enginetest.Launcher{}, WithRegisterer(reg))
	b := New(&enginetest.Launcher{}, WithRegisterer(reg))
	defer a.Teardown()
	defer b.Teardown()

	_, err := a.Acquire(context.Background(), profile(1))
	require.NoError(t, err)
	_, err = b.Acquire(context.Background(), profile(1))
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.metrics.launches))
}
