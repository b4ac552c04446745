package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/internal/scrapers/ecocito"

	"github.com/stretchr/testify/require"
)

func collection(day int, quantity float64) ecocito.CollectionEvent {
	return ecocito.CollectionEvent{
		Date:     time.Date(2024, time.March, day, 7, 0, 0, 0, time.UTC),
		Location: "12 Rue X",
		Type:     ecocito.GarbageCollection,
		Quantity: quantity,
	}
}

// fakeFetch returns whatever is queued for the next call and records the years it was asked for.
type fakeFetch struct {
	mutex   sync.Mutex
	results []fetchResult
	years   []int
}

type fetchResult struct {
	events []ecocito.CollectionEvent
	err    error
}

func (f *fakeFetch) push(events []ecocito.CollectionEvent, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.results = append(f.results, fetchResult{events: events, err: err})
}

func (f *fakeFetch) calls() []int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	out := make([]int, len(f.years))
	copy(out, f.years)
	return out
}

func (f *fakeFetch) fetch(ctx context.Context, year int) ([]ecocito.CollectionEvent, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.years = append(f.years, year)
	if len(f.results) == 0 {
		return nil, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res.events, res.err
}

func newTestUnit(t testing.TB, yearOffset int, fetch FetchFunc[ecocito.CollectionEvent]) (*Unit[ecocito.CollectionEvent], *chrono.FixedImpl) {
	clock := chrono.NewFixedImpl(time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC))
	unit := NewUnit("garbage_collections", KindGarbage, yearOffset, fetch, clock, telemetry.SlogAPI{})
	return unit, clock
}

func TestRefreshReplacesData(t *testing.T) {
	fake := &fakeFetch{}
	unit, clock := newTestUnit(t, 0, fake.fetch)

	require.Empty(t, unit.Data())
	require.True(t, unit.LastRefresh().IsZero())

	first := []ecocito.CollectionEvent{collection(1, 10)}
	fake.push(first, nil)
	require.NoError(t, unit.Refresh(context.Background()))
	require.Equal(t, first, unit.Data())
	require.Equal(t, clock.Now(), unit.LastRefresh())
	require.NoError(t, unit.LastError())

	second := []ecocito.CollectionEvent{collection(1, 10), collection(8, 12.5)}
	fake.push(second, nil)
	clock.Set(clock.Now().Add(DefaultInterval))
	require.NoError(t, unit.Refresh(context.Background()))
	require.Equal(t, second, unit.Data())
	require.Equal(t, clock.Now(), unit.LastRefresh())

	events := unit.Events()
	require.Len(t, events, 2)
	require.Equal(t, second[1].Date, events[1].When())
}

func TestDataIsACopy(t *testing.T) {
	fake := &fakeFetch{}
	unit, _ := newTestUnit(t, 0, fake.fetch)

	fake.push([]ecocito.CollectionEvent{collection(1, 10)}, nil)
	require.NoError(t, unit.Refresh(context.Background()))

	data := unit.Data()
	data[0].Quantity = 999
	require.Equal(t, 10.0, unit.Data()[0].Quantity)
}

func TestFailedRefreshRetainsData(t *testing.T) {
	table := []struct {
		name string
		err  error
	}{
		{
			name: "connection",
			err:  &ecocito.ConnectionError{Op: "get collection events", Err: errors.New("connection reset by peer")},
		},
		{
			name: "portal",
			err:  &ecocito.PortalError{Message: "Service indisponible"},
		},
		{
			name: "unclassified",
			err:  fmt.Errorf("invalid character '<' looking for beginning of value"),
		},
	}

	for _, test := range table {
		t.Run(test.name, func(t *testing.T) {
			fake := &fakeFetch{}
			unit, clock := newTestUnit(t, 0, fake.fetch)

			cached := []ecocito.CollectionEvent{collection(1, 10), collection(8, 12)}
			fake.push(cached, nil)
			require.NoError(t, unit.Refresh(context.Background()))
			refreshedAt := unit.LastRefresh()

			clock.Set(clock.Now().Add(DefaultInterval))
			fake.push(nil, test.err)
			err := unit.Refresh(context.Background())

			require.ErrorIs(t, err, ErrUpdateFailed)
			require.NotErrorIs(t, err, ErrAuthFailed)
			require.ErrorIs(t, err, test.err)
			require.Equal(t, cached, unit.Data())
			require.Equal(t, refreshedAt, unit.LastRefresh())
			require.Equal(t, clock.Now(), unit.LastAttempt())
			require.Equal(t, err, unit.LastError())
			require.False(t, unit.AuthFailed())

			// the next tick retries
			fake.push([]ecocito.CollectionEvent{collection(15, 3)}, nil)
			require.NoError(t, unit.Refresh(context.Background()))
			require.Len(t, unit.Data(), 1)
		})
	}
}

func TestFailedRefreshKeepsPortalError(t *testing.T) {
	fake := &fakeFetch{}
	unit, _ := newTestUnit(t, 0, fake.fetch)

	fake.push(nil, &ecocito.PortalError{Message: "Service indisponible"})
	err := unit.Refresh(context.Background())

	var portalErr *ecocito.PortalError
	require.ErrorAs(t, err, &portalErr)
	require.Equal(t, "Service indisponible", portalErr.Message)
}

func TestAuthFailureIsTerminalUntilResumed(t *testing.T) {
	fake := &fakeFetch{}
	unit, _ := newTestUnit(t, 0, fake.fetch)

	cached := []ecocito.CollectionEvent{collection(1, 10)}
	fake.push(cached, nil)
	require.NoError(t, unit.Refresh(context.Background()))

	fake.push(nil, &ecocito.InvalidAuthError{Message: "session expired"})
	err := unit.Refresh(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
	require.NotErrorIs(t, err, ErrUpdateFailed)
	require.ErrorIs(t, err, ecocito.ErrInvalidAuthentication)
	require.True(t, unit.AuthFailed())
	require.Equal(t, cached, unit.Data())
	require.Len(t, fake.calls(), 2)

	// no fetch happens while the credentials are invalid
	err = unit.Refresh(context.Background())
	require.ErrorIs(t, err, ErrAuthFailed)
	require.Len(t, fake.calls(), 2)

	unit.Resume()
	require.False(t, unit.AuthFailed())
	fake.push([]ecocito.CollectionEvent{collection(8, 4)}, nil)
	require.NoError(t, unit.Refresh(context.Background()))
	require.Len(t, fake.calls(), 3)
	require.Equal(t, 4.0, unit.Data()[0].Quantity)
}

func TestTargetYearFollowsTheCalendar(t *testing.T) {
	table := []struct {
		offset   int
		now      time.Time
		expected int
	}{
		{offset: 0, now: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), expected: 2024},
		{offset: -1, now: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), expected: 2023},
		{offset: 0, now: time.Date(2024, time.December, 31, 23, 59, 59, 0, time.UTC), expected: 2024},
		{offset: 0, now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), expected: 2025},
		{offset: -1, now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), expected: 2024},
	}

	for _, test := range table {
		fake := &fakeFetch{}
		unit, clock := newTestUnit(t, test.offset, fake.fetch)
		clock.Set(test.now)

		require.Equal(t, test.expected, unit.TargetYear())
		require.NoError(t, unit.Refresh(context.Background()))
		require.Equal(t, []int{test.expected}, fake.calls())
	}
}

func TestYearRollsOverBetweenRefreshes(t *testing.T) {
	fake := &fakeFetch{}
	unit, clock := newTestUnit(t, -1, fake.fetch)

	clock.Set(time.Date(2024, time.December, 31, 23, 58, 0, 0, time.UTC))
	require.NoError(t, unit.Refresh(context.Background()))
	clock.Set(time.Date(2025, time.January, 1, 0, 3, 0, 0, time.UTC))
	require.NoError(t, unit.Refresh(context.Background()))

	require.Equal(t, []int{2023, 2024}, fake.calls())
}

func TestConcurrentRefreshIsSkipped(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	unit, _ := newTestUnit(t, 0, func(ctx context.Context, year int) ([]ecocito.CollectionEvent, error) {
		calls.Add(1)
		close(started)
		<-release
		return []ecocito.CollectionEvent{collection(1, 1)}, nil
	})

	done := make(chan error)
	go func() {
		done <- unit.Refresh(context.Background())
	}()
	<-started

	err := unit.Refresh(context.Background())
	require.ErrorIs(t, err, ErrRefreshInProgress)

	close(release)
	require.NoError(t, <-done)
	require.Equal(t, int32(1), calls.Load())
	require.Len(t, unit.Data(), 1)
}

func TestNewUnitRequiresFetch(t *testing.T) {
	clock := chrono.NewFixedImpl(time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC))
	require.Panics(t, func() {
		NewUnit[ecocito.DepotVisit]("waste_depot_visits", KindDepot, 0, nil, clock, telemetry.SlogAPI{})
	})
}
