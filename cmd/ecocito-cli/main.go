package main

import (
	"context"

	"ecocito-poller/cmd/ecocito-cli/commands"
	"ecocito-poller/internal/components/telemetry"
)

func main() {
	telemetry.InitSlog(false)
	commands.ExecuteContext(context.Background())
}
