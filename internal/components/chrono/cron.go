package chrono

import (
	"context"
	"fmt"
	"time"

	"ecocito-poller/internal/components/telemetry"

	"github.com/robfig/cron/v3"
)

// CronAPI is the interface that anything depending on things to happen periodically should use.
type CronAPI interface {
	// Every runs callback once per interval, a run is skipped while the previous
	// run of the same callback has not returned.
	Every(interval time.Duration, callback func()) error
	// Stop stops scheduling new runs, the returned context is done once running callbacks return.
	Stop() context.Context
}

// StandardCron is the standard implementation of CronAPI using `github.com/robfig/cron/v3`
type StandardCron struct {
	cron *cron.Cron
}

// NewStandardCron is the constructor of StandardCron, the scheduler is started immediately.
func NewStandardCron(tel telemetry.API, location *time.Location) StandardCron {
	logger := cronLogger{tel: tel}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(location),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	cronner.Start()

	return StandardCron{
		cron: cronner,
	}
}

func (s StandardCron) Every(interval time.Duration, callback func()) error {
	if interval < time.Second {
		return fmt.Errorf("cron: interval %s is below the 1s resolution", interval)
	}
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(callback))
	return nil
}

func (s StandardCron) Stop() context.Context {
	return s.cron.Stop()
}

type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) formatParams(keysAndValues []any) []any {
	params := []any{}
	for i := 0; i < len(keysAndValues)/2; i++ {
		idx := i * 2
		key := keysAndValues[idx]
		value := keysAndValues[idx+1]
		params = append(params, fmt.Sprintf("%v: %v", key, value))
	}
	return params
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug(
		fmt.Sprintf("cron: %s", msg),
		l.formatParams(keysAndValues)...,
	)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(
		"cron",
		fmt.Errorf("%s: %w", msg, err),
		l.formatParams(keysAndValues),
	)
}
