package main

import (
	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/internal/entry"
)

type Config struct {
	entry.Config
	HttpPort  int              `json:"http_port"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func (c Config) port() int {
	if c.HttpPort == 0 {
		return 8000
	}
	return c.HttpPort
}
