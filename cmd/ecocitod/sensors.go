package main

import (
	"encoding/json"
	"net/http"
	"time"

	"ecocito-poller/internal/components/telemetry"
	"ecocito-poller/internal/entry"
	"ecocito-poller/internal/sensors"
)

type unitStatus struct {
	Name        string     `json:"name"`
	LastRefresh *time.Time `json:"last_refresh"`
	LastError   string     `json:"last_error,omitempty"`
}

type sensorsResponse struct {
	State   string            `json:"state"`
	Units   []unitStatus      `json:"units"`
	Sensors []sensors.Reading `json:"sensors"`
}

type sensorsHandler struct {
	entry *entry.Entry
	tel   telemetry.API
}

type unitInfo interface {
	Name() string
	LastRefresh() time.Time
	LastError() error
}

func statusOf(unit unitInfo) unitStatus {
	status := unitStatus{Name: unit.Name()}
	if last := unit.LastRefresh(); !last.IsZero() {
		status.LastRefresh = &last
	}
	if err := unit.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status
}

func (h sensorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	readings, err := sensors.Snapshot(h.entry.Sources())
	if err != nil {
		h.tel.ReportBroken("daemon.sensors", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := sensorsResponse{
		State: h.entry.State().String(),
		Units: []unitStatus{
			statusOf(h.entry.GarbageCollections),
			statusOf(h.entry.GarbageCollectionsPrevious),
			statusOf(h.entry.RecyclingCollections),
			statusOf(h.entry.RecyclingCollectionsPrevious),
			statusOf(h.entry.WasteDepotVisits),
		},
		Sensors: readings,
	}

	w.Header().Set("content-type", "application/json")
	err = json.NewEncoder(w).Encode(res)
	if err != nil {
		h.tel.ReportWarning("daemon.sensors", err)
	}
}
