package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/components/telemetry"

	"golang.org/x/sync/errgroup"
)

const (
	report_scheduler_tick = "scheduler.tick"
)

// DefaultInterval is the time between two refreshes of the same unit.
const DefaultInterval = time.Minute * 5

// Scheduler drives a set of units on independent timers.
type Scheduler struct {
	units        []Refresher
	interval     time.Duration
	cron         chrono.CronAPI
	tel          telemetry.API
	onAuthFailed func(unit string, err error)

	mutex   sync.Mutex
	cancel  context.CancelFunc
	started bool
	stopped bool
	ctx     context.Context
}

// NewScheduler creates a scheduler, onAuthFailed is called from the timer
// goroutine of the unit whose session was rejected, it may be nil.
func NewScheduler(
	units []Refresher,
	cron chrono.CronAPI,
	interval time.Duration,
	tel telemetry.API,
	onAuthFailed func(unit string, err error),
) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		units:        units,
		interval:     interval,
		cron:         cron,
		tel:          telemetry.NewScopedAPI("scheduler", tel),
		onAuthFailed: onAuthFailed,
	}
}

func (s *Scheduler) Units() []Refresher {
	return s.units
}

// FirstRefresh refreshes every unit once, concurrently, and returns the
// first failure if any unit failed.
func (s *Scheduler) FirstRefresh(ctx context.Context) error {
	var group errgroup.Group
	for _, unit := range s.units {
		group.Go(func() error {
			return unit.Refresh(ctx)
		})
	}
	return group.Wait()
}

// RefreshAll refreshes every unit once, concurrently, and reports failures
// the same way a timer tick would.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, unit := range s.units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.refresh(ctx, unit)
		}()
	}
	wg.Wait()
}

// Start registers a timer per unit, ticks use a context derived from ctx
// that is cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started || s.stopped {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, unit := range s.units {
		err := s.cron.Every(s.interval, func() {
			s.refresh(s.ctx, unit)
		})
		if err != nil {
			s.cancel()
			s.cron.Stop()
			return err
		}
	}
	s.started = true
	return nil
}

// Stop stops every timer and waits for the refreshes in flight to return,
// a stopped scheduler cannot be started again. It must not be called from
// the onAuthFailed callback.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	// a nil Done channel would never be closed
	if done := s.cron.Stop().Done(); done != nil {
		<-done
	}
}

func (s *Scheduler) refresh(ctx context.Context, unit Refresher) {
	if ctx.Err() != nil {
		return
	}
	if unit.AuthFailed() {
		s.tel.ReportDebug("waiting for reauthentication", unit.Name())
		return
	}

	err := unit.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrRefreshInProgress):
		s.tel.ReportDebug("skipped tick", unit.Name())
	case errors.Is(err, ErrAuthFailed):
		s.tel.ReportWarning(report_scheduler_tick, err)
		if s.onAuthFailed != nil {
			s.onAuthFailed(unit.Name(), err)
		}
	default:
		s.tel.ReportWarning(report_scheduler_tick, err)
	}
}
