// Package entry ties one configured ecocito account to its refresh units:
// it authenticates, builds the units, runs their first refresh and keeps
// them on their timers until it is unloaded.
package entry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ecocito-poller/internal/components/assert"
	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/internal/coordinator"
	"ecocito-poller/internal/scrapers/ecocito"
	"ecocito-poller/internal/sensors"
)

const (
	report_entry_reauth = "entry.reauth"
)

// Config is the account configuration of one entry.
type Config struct {
	Domain            string  `json:"domain"`
	Username          string  `json:"username"`
	Password          string  `json:"password"`
	BaseUrl           string  `json:"base_url"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	IntervalSeconds   int     `json:"interval_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`

	// MessageOutput receives every HTTP exchange with the portal when set.
	MessageOutput telemetry.MessageOutput `json:"-"`
}

func (c Config) options() ecocito.Options {
	return ecocito.Options{
		Domain:            c.Domain,
		Username:          c.Username,
		Password:          c.Password,
		BaseUrl:           c.BaseUrl,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
		RequestsPerSecond: c.RequestsPerSecond,
		MessageOutput:     c.MessageOutput,
	}
}

// Interval is the time between two refreshes of a unit.
func (c Config) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return coordinator.DefaultInterval
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Deps are the components an entry runs on.
type Deps struct {
	Tel   telemetry.API
	Clock chrono.API
	// Cron defaults to a chrono.StandardCron in the clock's location.
	Cron chrono.CronAPI
}

type State int

const (
	StateLoaded State = iota
	// StateReauthRequired means the portal rejected the session during a
	// scheduled refresh, Reauthenticate must be called with valid credentials.
	StateReauthRequired
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateReauthRequired:
		return "reauth_required"
	case StateUnloaded:
		return "unloaded"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Entry is a running account, its units are refreshed until Unload.
type Entry struct {
	Client *ecocito.Client

	GarbageCollections           *coordinator.Unit[ecocito.CollectionEvent]
	GarbageCollectionsPrevious   *coordinator.Unit[ecocito.CollectionEvent]
	RecyclingCollections         *coordinator.Unit[ecocito.CollectionEvent]
	RecyclingCollectionsPrevious *coordinator.Unit[ecocito.CollectionEvent]
	WasteDepotVisits             *coordinator.Unit[ecocito.DepotVisit]

	scheduler *coordinator.Scheduler
	tel       telemetry.API

	mutex       sync.Mutex
	state       State
	reauthCause error
}

// NewClient creates an unauthenticated portal client for cfg.
func NewClient(cfg Config, deps Deps) (*ecocito.Client, error) {
	return ecocito.NewClient(cfg.options(), deps.Tel, deps.Clock)
}

// Setup authenticates, builds the units and refreshes each of them once
// before starting their timers. It returns only once the entry is ready,
// any failure along the way is returned and nothing is left running.
//
// Scheduled refreshes outlive ctx, they stop on Unload.
func Setup(ctx context.Context, cfg Config, deps Deps) (*Entry, error) {
	assert.NotNil(deps.Tel)
	assert.NotNil(deps.Clock)

	tel := telemetry.NewScopedAPI("entry", deps.Tel)

	client, err := NewClient(cfg, deps)
	if err != nil {
		return nil, err
	}
	err = client.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	e := &Entry{
		Client: client,
		tel:    tel,
		GarbageCollections: coordinator.NewUnit(
			sensors.GarbageCollections, coordinator.KindGarbage, 0,
			client.GarbageCollections, deps.Clock, deps.Tel,
		),
		GarbageCollectionsPrevious: coordinator.NewUnit(
			sensors.GarbageCollectionsPrevious, coordinator.KindGarbage, -1,
			client.GarbageCollections, deps.Clock, deps.Tel,
		),
		RecyclingCollections: coordinator.NewUnit(
			sensors.RecyclingCollections, coordinator.KindRecycling, 0,
			client.RecyclingCollections, deps.Clock, deps.Tel,
		),
		RecyclingCollectionsPrevious: coordinator.NewUnit(
			sensors.RecyclingCollectionsPrevious, coordinator.KindRecycling, -1,
			client.RecyclingCollections, deps.Clock, deps.Tel,
		),
		WasteDepotVisits: coordinator.NewUnit(
			sensors.WasteDepotVisits, coordinator.KindDepot, 0,
			client.DepotVisits, deps.Clock, deps.Tel,
		),
	}

	cron := deps.Cron
	if cron == nil {
		cron = chrono.NewStandardCron(deps.Tel, deps.Clock.Location())
	}
	e.scheduler = coordinator.NewScheduler(
		e.units(),
		cron,
		cfg.Interval(),
		deps.Tel,
		e.onAuthFailed,
	)

	err = e.scheduler.FirstRefresh(ctx)
	if err != nil {
		e.scheduler.Stop()
		return nil, fmt.Errorf("setup: first refresh: %w", err)
	}
	err = e.scheduler.Start(context.WithoutCancel(ctx))
	if err != nil {
		e.scheduler.Stop()
		return nil, fmt.Errorf("setup: %w", err)
	}

	tel.ReportDebug("ready", client.BaseUrl().String())
	return e, nil
}

func (e *Entry) units() []coordinator.Refresher {
	return []coordinator.Refresher{
		e.GarbageCollections,
		e.GarbageCollectionsPrevious,
		e.RecyclingCollections,
		e.RecyclingCollectionsPrevious,
		e.WasteDepotVisits,
	}
}

// Sources are the units as seen by the sensors.
func (e *Entry) Sources() []sensors.Source {
	return []sensors.Source{
		e.GarbageCollections,
		e.GarbageCollectionsPrevious,
		e.RecyclingCollections,
		e.RecyclingCollectionsPrevious,
		e.WasteDepotVisits,
	}
}

func (e *Entry) State() State {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.state
}

// ReauthCause is the error that moved the entry to StateReauthRequired.
func (e *Entry) ReauthCause() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.reauthCause
}

func (e *Entry) onAuthFailed(unit string, err error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.state != StateLoaded {
		return
	}
	e.state = StateReauthRequired
	e.reauthCause = err
	e.tel.ReportWarning(report_entry_reauth, "reauthentication required", unit, err)
}

// Refresh refreshes every unit now instead of waiting for their timers.
func (e *Entry) Refresh(ctx context.Context) {
	e.scheduler.RefreshAll(ctx)
}

// Reauthenticate logs in with new credentials, on success the units are
// resumed and refreshed right away.
func (e *Entry) Reauthenticate(ctx context.Context, username, password string) error {
	if e.State() == StateUnloaded {
		return fmt.Errorf("reauthenticate: entry is unloaded")
	}

	e.Client.SetCredentials(username, password)
	err := e.Client.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("reauthenticate: %w", err)
	}

	e.mutex.Lock()
	e.state = StateLoaded
	e.reauthCause = nil
	e.mutex.Unlock()

	for _, unit := range e.units() {
		unit.Resume()
	}
	e.scheduler.RefreshAll(ctx)
	return nil
}

// Unload stops every timer and waits for running refreshes to return.
func (e *Entry) Unload() {
	e.scheduler.Stop()

	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.state = StateUnloaded
}

// Error keys reported by ValidateInput.
const (
	ErrorKeyCannotConnect = "cannot_connect"
	ErrorKeyInvalidAuth   = "invalid_auth"
	ErrorKeyUnknown       = "unknown"
)

// ErrorKey classifies a setup or validation error, nil gives "".
func ErrorKey(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ecocito.ErrInvalidAuthentication),
		errors.Is(err, coordinator.ErrAuthFailed):
		return ErrorKeyInvalidAuth
	case errors.Is(err, ecocito.ErrConnection):
		return ErrorKeyCannotConnect
	}
	return ErrorKeyUnknown
}

// ValidateInput checks that cfg can log into its portal and returns the
// error key of the outcome, "" when the credentials are accepted.
func ValidateInput(ctx context.Context, cfg Config, deps Deps) string {
	client, err := NewClient(cfg, deps)
	if err != nil {
		deps.Tel.ReportWarning("entry.validate-input", err)
		return ErrorKeyUnknown
	}
	err = client.Authenticate(ctx)
	key := ErrorKey(err)
	if key == ErrorKeyUnknown {
		deps.Tel.ReportBroken("entry.validate-input", err)
	}
	return key
}
