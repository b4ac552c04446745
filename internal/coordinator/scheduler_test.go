package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/internal/scrapers/ecocito"

	"github.com/stretchr/testify/require"
)

// manualCron only runs callbacks when fire is called.
type manualCron struct {
	mutex     sync.Mutex
	intervals []time.Duration
	callbacks []func()
	stopped   bool
}

// stoppedContext is what a cron with no running callbacks returns from Stop.
func stoppedContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (c *manualCron) Every(interval time.Duration, callback func()) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.intervals = append(c.intervals, interval)
	c.callbacks = append(c.callbacks, callback)
	return nil
}

func (c *manualCron) Stop() context.Context {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stopped = true
	return stoppedContext()
}

func (c *manualCron) fire() {
	c.mutex.Lock()
	callbacks := c.callbacks
	stopped := c.stopped
	c.mutex.Unlock()
	if stopped {
		return
	}
	for _, cb := range callbacks {
		cb()
	}
}

type countingFetch struct {
	calls atomic.Int32
	err   atomic.Pointer[error]
}

func (f *countingFetch) fail(err error) {
	f.err.Store(&err)
}

func (f *countingFetch) fetch(ctx context.Context, year int) ([]ecocito.CollectionEvent, error) {
	f.calls.Add(1)
	if err := f.err.Load(); err != nil {
		return nil, *err
	}
	return []ecocito.CollectionEvent{collection(1, 1)}, nil
}

func newTestUnits(t testing.TB, n int) ([]Refresher, []*countingFetch) {
	clock := chrono.NewFixedImpl(time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC))
	units := make([]Refresher, n)
	fetches := make([]*countingFetch, n)
	for i := range units {
		fetches[i] = &countingFetch{}
		units[i] = NewUnit("unit", KindGarbage, 0, fetches[i].fetch, clock, telemetry.SlogAPI{})
	}
	return units, fetches
}

func TestFirstRefresh(t *testing.T) {
	units, fetches := newTestUnits(t, 5)
	scheduler := NewScheduler(units, &manualCron{}, DefaultInterval, telemetry.SlogAPI{}, nil)

	require.NoError(t, scheduler.FirstRefresh(context.Background()))
	for _, f := range fetches {
		require.Equal(t, int32(1), f.calls.Load())
	}
}

func TestFirstRefreshFailure(t *testing.T) {
	units, fetches := newTestUnits(t, 5)
	fetches[3].fail(&ecocito.InvalidAuthError{})
	scheduler := NewScheduler(units, &manualCron{}, DefaultInterval, telemetry.SlogAPI{}, nil)

	err := scheduler.FirstRefresh(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
	for _, f := range fetches {
		require.Equal(t, int32(1), f.calls.Load())
	}
}

func TestSchedulerTicks(t *testing.T) {
	units, fetches := newTestUnits(t, 5)
	cron := &manualCron{}
	scheduler := NewScheduler(units, cron, 0, telemetry.SlogAPI{}, nil)

	require.NoError(t, scheduler.Start(context.Background()))
	require.Equal(t, []time.Duration{
		DefaultInterval, DefaultInterval, DefaultInterval, DefaultInterval, DefaultInterval,
	}, cron.intervals)
	require.Error(t, scheduler.Start(context.Background()))

	cron.fire()
	cron.fire()
	for _, f := range fetches {
		require.Equal(t, int32(2), f.calls.Load())
	}

	scheduler.Stop()
	require.True(t, cron.stopped)
	cron.fire()
	for _, f := range fetches {
		require.Equal(t, int32(2), f.calls.Load())
	}

	require.Error(t, scheduler.Start(context.Background()))
}

func TestSchedulerReportsAuthFailureOnce(t *testing.T) {
	units, fetches := newTestUnits(t, 2)
	fetches[0].fail(&ecocito.InvalidAuthError{Message: "session expired"})
	fetches[1].fail(&ecocito.ConnectionError{Op: "get collection events", Err: errors.New("timeout")})

	var failed []string
	cron := &manualCron{}
	scheduler := NewScheduler(units, cron, DefaultInterval, telemetry.SlogAPI{}, func(unit string, err error) {
		require.ErrorIs(t, err, ErrAuthFailed)
		failed = append(failed, unit)
	})
	require.NoError(t, scheduler.Start(context.Background()))
	defer scheduler.Stop()

	cron.fire()
	cron.fire()
	cron.fire()

	require.Equal(t, []string{"unit"}, failed)
	// the auth failed unit stops fetching, the other keeps retrying
	require.Equal(t, int32(1), fetches[0].calls.Load())
	require.Equal(t, int32(3), fetches[1].calls.Load())

	units[0].Resume()
	fetches[0].err.Store(nil)
	cron.fire()
	require.Equal(t, int32(2), fetches[0].calls.Load())
	require.False(t, units[0].AuthFailed())
}

func TestSchedulerStopCancelsTicks(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool

	clock := chrono.NewFixedImpl(time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC))
	unit := NewUnit("blocking", KindDepot, 0, func(ctx context.Context, year int) ([]ecocito.DepotVisit, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}, clock, telemetry.SlogAPI{})

	impl, err := chrono.NewStandardImpl()
	require.NoError(t, err)
	cron := chrono.NewStandardCron(telemetry.SlogAPI{}, impl.Location())

	scheduler := NewScheduler([]Refresher{unit}, cron, time.Second, telemetry.SlogAPI{}, nil)
	require.NoError(t, scheduler.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(time.Second * 5):
		t.Fatal("timer never fired")
	}

	scheduler.Stop()
	require.True(t, cancelled.Load())
	require.ErrorIs(t, unit.LastError(), ErrUpdateFailed)
	require.ErrorIs(t, unit.LastError(), context.Canceled)
}

func TestRefreshAll(t *testing.T) {
	units, fetches := newTestUnits(t, 5)
	fetches[2].fail(errors.New("boom"))
	scheduler := NewScheduler(units, &manualCron{}, DefaultInterval, telemetry.SlogAPI{}, nil)

	scheduler.RefreshAll(context.Background())
	for _, f := range fetches {
		require.Equal(t, int32(1), f.calls.Load())
	}
	require.ErrorIs(t, units[2].(*Unit[ecocito.CollectionEvent]).LastError(), ErrUpdateFailed)
}

// pendingCron returns a context that is never done from Stop.
type pendingCron struct {
	manualCron
}

func (c *pendingCron) Stop() context.Context {
	c.manualCron.Stop()
	return context.Background()
}

func TestStopReturnsWithNeverDoneStopContext(t *testing.T) {
	units, _ := newTestUnits(t, 1)
	cron := &pendingCron{}
	scheduler := NewScheduler(units, cron, DefaultInterval, telemetry.SlogAPI{}, nil)
	require.NoError(t, scheduler.Start(context.Background()))

	stopped := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second * 5):
		t.Fatal("Stop did not return")
	}
	require.True(t, cron.stopped)
}

func TestStopIsIdempotent(t *testing.T) {
	units, _ := newTestUnits(t, 1)
	cron := &manualCron{}
	scheduler := NewScheduler(units, cron, DefaultInterval, telemetry.SlogAPI{}, nil)
	require.NoError(t, scheduler.Start(context.Background()))

	scheduler.Stop()
	scheduler.Stop()
	require.True(t, cron.stopped)
}
