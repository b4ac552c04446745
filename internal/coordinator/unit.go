package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ecocito-poller/internal/components/assert"
	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/internal/scrapers/ecocito"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrUpdateFailed is a refresh failure the next tick may recover from.
	ErrUpdateFailed = errors.New("update failed")
	// ErrAuthFailed means the session was rejected, the unit will not fetch
	// again until it is resumed with valid credentials.
	ErrAuthFailed = errors.New("credentials are no longer valid, please reauthenticate")
	// ErrRefreshInProgress is returned instead of starting a second concurrent
	// refresh of the same unit.
	ErrRefreshInProgress = errors.New("refresh already in progress")
)

var tracer = otel.Tracer("internal/coordinator")
var meter = otel.Meter("internal/coordinator")

var refreshCounter, _ = meter.Int64Counter(
	"ecocito_refresh_total",
	metric.WithDescription("The total amount of refreshes by unit and outcome."),
)

const (
	outcome_success       = "success"
	outcome_update_failed = "update_failed"
	outcome_auth_failed   = "auth_failed"
	outcome_skipped       = "skipped"
)

type DataKind string

const (
	KindGarbage   DataKind = "garbage"
	KindRecycling DataKind = "recycling"
	KindDepot     DataKind = "depot"
)

// FetchFunc fetches every event of a calendar year.
type FetchFunc[T ecocito.Event] func(ctx context.Context, year int) ([]T, error)

// Refresher is what the Scheduler drives, every Unit is one.
type Refresher interface {
	Name() string
	Refresh(ctx context.Context) error
	AuthFailed() bool
	Resume()
}

// Unit caches the events of one (kind, year offset) pair. Its data is
// either empty or the result of its last successful refresh.
type Unit[T ecocito.Event] struct {
	name       string
	kind       DataKind
	yearOffset int
	fetch      FetchFunc[T]
	time       chrono.API
	tel        telemetry.API

	// held for the whole duration of a refresh
	inflight sync.Mutex

	mutex       sync.RWMutex
	data        []T
	lastRefresh time.Time
	lastAttempt time.Time
	lastErr     error
	authFailed  bool
}

func NewUnit[T ecocito.Event](
	name string,
	kind DataKind,
	yearOffset int,
	fetch FetchFunc[T],
	clock chrono.API,
	tel telemetry.API,
) *Unit[T] {
	assert.NotEmptyStr(name)
	assert.NotNil(fetch)
	assert.NotNil(clock)
	assert.NotNil(tel)

	return &Unit[T]{
		name:       name,
		kind:       kind,
		yearOffset: yearOffset,
		fetch:      fetch,
		time:       clock,
		tel:        telemetry.NewScopedAPI(name, tel),
	}
}

func (u *Unit[T]) Name() string {
	return u.name
}

func (u *Unit[T]) Kind() DataKind {
	return u.kind
}

func (u *Unit[T]) YearOffset() int {
	return u.yearOffset
}

// TargetYear is evaluated on every refresh so a unit rolls over with the calendar.
func (u *Unit[T]) TargetYear() int {
	return u.time.Now().Year() + u.yearOffset
}

// Data returns a copy of the last successfully fetched events.
func (u *Unit[T]) Data() []T {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	out := make([]T, len(u.data))
	copy(out, u.data)
	return out
}

// Events is Data as the common event interface.
func (u *Unit[T]) Events() []ecocito.Event {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	out := make([]ecocito.Event, len(u.data))
	for i, e := range u.data {
		out[i] = e
	}
	return out
}

// LastRefresh is the time of the last successful refresh, zero if there was none.
func (u *Unit[T]) LastRefresh() time.Time {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.lastRefresh
}

// LastAttempt is the time of the last refresh that reached the portal.
func (u *Unit[T]) LastAttempt() time.Time {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.lastAttempt
}

// LastError is the error of the last refresh, nil if it succeeded.
func (u *Unit[T]) LastError() error {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.lastErr
}

func (u *Unit[T]) AuthFailed() bool {
	u.mutex.RLock()
	defer u.mutex.RUnlock()
	return u.authFailed
}

// Resume lets a unit fetch again after its session was rejected.
func (u *Unit[T]) Resume() {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	u.authFailed = false
}

func (u *Unit[T]) translate(err error) error {
	if errors.Is(err, ecocito.ErrInvalidAuthentication) {
		return fmt.Errorf("%s: %w: %w", u.name, ErrAuthFailed, err)
	}
	return fmt.Errorf("%s: %w: %w", u.name, ErrUpdateFailed, err)
}

func (u *Unit[T]) count(ctx context.Context, outcome string) {
	refreshCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("unit", u.name),
		attribute.String("outcome", outcome),
	))
}

// Refresh fetches the target year and replaces the cached data on success.
// Failures leave the cached data untouched.
func (u *Unit[T]) Refresh(ctx context.Context) error {
	if !u.inflight.TryLock() {
		u.count(ctx, outcome_skipped)
		return fmt.Errorf("%s: %w", u.name, ErrRefreshInProgress)
	}
	defer u.inflight.Unlock()

	year := u.TargetYear()

	ctx, span := tracer.Start(ctx, "unit:Refresh")
	defer span.End()
	span.SetAttributes(
		attribute.String("unit", u.name),
		attribute.Int("year", year),
	)

	if u.AuthFailed() {
		u.count(ctx, outcome_auth_failed)
		span.SetStatus(codes.Error, "waiting for reauthentication")
		return fmt.Errorf("%s: %w", u.name, ErrAuthFailed)
	}

	u.tel.ReportDebug("refresh", year)
	data, err := u.fetch(ctx, year)
	now := u.time.Now()

	u.mutex.Lock()
	u.lastAttempt = now
	if err != nil {
		translated := u.translate(err)
		u.lastErr = translated
		authFailed := errors.Is(translated, ErrAuthFailed)
		if authFailed {
			u.authFailed = true
		}
		u.mutex.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, translated.Error())
		if authFailed {
			u.count(ctx, outcome_auth_failed)
		} else {
			u.count(ctx, outcome_update_failed)
		}
		return translated
	}
	u.data = data
	u.lastRefresh = now
	u.lastErr = nil
	u.mutex.Unlock()

	u.count(ctx, outcome_success)
	u.tel.ReportCount("events", int64(len(data)))
	return nil
}
