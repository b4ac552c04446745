package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"

	"ecocito-poller/internal/components/chrono"
	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/internal/entry"
	"ecocito-poller/internal/sensors"
	"ecocito-poller/pkg/configutil"
	"ecocito-poller/pkg/serviceutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	configPath := flag.String("config", "config.json5", "The config file to read.")
	flag.Parse()

	ctx := serviceutil.SignalContext()
	telemetry.InitSlog(*verbose)

	cfg, err := configutil.ReadConfig[Config](*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	providers, err := telemetry.Setup(ctx, "ecocitod", cfg.Telemetry)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer providers.Shutdown(context.Background())

	tel := telemetry.SlogAPI{}
	telemetry.InstrumentPerfStats(ctx, tel)

	clock, err := chrono.NewStandardImpl()
	if err != nil {
		serviceutil.Fatal("load portal timezone", err)
	}

	e, err := entry.Setup(ctx, cfg.Config, entry.Deps{
		Tel:   tel,
		Clock: clock,
	})
	if err != nil {
		serviceutil.Fatal("setup entry: "+entry.ErrorKey(err), err)
	}
	defer e.Unload()

	registration, err := sensors.Register(
		otel.Meter("ecocitod"),
		e.Sources(),
		attribute.String("domain", cfg.Domain),
	)
	if err != nil {
		serviceutil.Fatal("register sensors", err)
	}
	defer registration.Unregister()

	mux := http.NewServeMux()
	mux.Handle("/sensors", sensorsHandler{entry: e, tel: tel})

	slog.Info("polling", "portal", e.Client.BaseUrl().String(), "interval", cfg.Interval())
	serviceutil.StartHttpServer(ctx, cfg.port(), mux)
}
