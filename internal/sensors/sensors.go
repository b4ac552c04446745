// Package sensors derives the published metrics (counts, weights and
// latest event dates) from the data cached by the refresh units.
package sensors

import (
	"context"
	"fmt"
	"time"

	"ecocito-poller/internal/scrapers/ecocito"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Unit names, a sensor reads the unit with the same name as its Source.
const (
	GarbageCollections           = "garbage_collections"
	GarbageCollectionsPrevious   = "garbage_collections_previous"
	RecyclingCollections         = "recycling_collections"
	RecyclingCollectionsPrevious = "recycling_collections_previous"
	WasteDepotVisits             = "waste_depot_visits"
)

const unitKilograms = "kg"

// Source is the cached data of one refresh unit.
type Source interface {
	Name() string
	Events() []ecocito.Event
}

// Description describes how a sensor computes its value.
type Description struct {
	Key    string
	Source string
	Unit   string
	Icon   string
	Value  func(events []ecocito.Event) float64
}

// Descriptions lists every published sensor.
var Descriptions = []Description{
	{Key: "garbage_collections_count", Source: GarbageCollections, Icon: "mdi:trash-can", Value: Count},
	{Key: "garbage_collections_total", Source: GarbageCollections, Icon: "mdi:trash-can", Unit: unitKilograms, Value: TotalWeight},
	{Key: "latest_garbage_collections", Source: GarbageCollections, Icon: "mdi:trash-can", Unit: unitKilograms, Value: LatestWeight},
	{Key: "garbage_collections_count_previous", Source: GarbageCollectionsPrevious, Icon: "mdi:trash-can", Value: Count},
	{Key: "garbage_collections_total_previous", Source: GarbageCollectionsPrevious, Icon: "mdi:trash-can", Unit: unitKilograms, Value: TotalWeight},
	{Key: "recycling_collections_count", Source: RecyclingCollections, Icon: "mdi:recycle", Value: Count},
	{Key: "recycling_collections_total", Source: RecyclingCollections, Icon: "mdi:recycle", Unit: unitKilograms, Value: TotalWeight},
	{Key: "latest_recycling_collections", Source: RecyclingCollections, Icon: "mdi:recycle", Unit: unitKilograms, Value: LatestWeight},
	{Key: "recycling_collections_count_previous", Source: RecyclingCollectionsPrevious, Icon: "mdi:recycle", Value: Count},
	{Key: "recycling_collections_total_previous", Source: RecyclingCollectionsPrevious, Icon: "mdi:recycle", Unit: unitKilograms, Value: TotalWeight},
	{Key: "waste_deposit_visit", Source: WasteDepotVisits, Icon: "mdi:car", Value: Count},
}

func Count(events []ecocito.Event) float64 {
	return float64(len(events))
}

func quantity(e ecocito.Event) float64 {
	if c, ok := e.(ecocito.CollectionEvent); ok {
		return c.Quantity
	}
	return 0
}

// TotalWeight is the sum of the quantities of every collection.
func TotalWeight(events []ecocito.Event) float64 {
	total := 0.0
	for _, e := range events {
		total += quantity(e)
	}
	return total
}

// LatestWeight is the sum of the quantities collected on the calendar day
// of the latest collection.
func LatestWeight(events []ecocito.Event) float64 {
	latest := LatestDate(events)
	if latest == nil {
		return 0
	}
	year, month, day := latest.Date()

	total := 0.0
	for _, e := range events {
		y, m, d := e.When().Date()
		if y == year && m == month && d == day {
			total += quantity(e)
		}
	}
	return total
}

// LatestDate is the date of the latest event, nil if there are none.
func LatestDate(events []ecocito.Event) *time.Time {
	if len(events) == 0 {
		return nil
	}
	latest := events[0].When()
	for _, e := range events[1:] {
		if e.When().After(latest) {
			latest = e.When()
		}
	}
	return &latest
}

// Reading is the value of a sensor at a point in time.
type Reading struct {
	Key         string     `json:"key"`
	Source      string     `json:"source"`
	Unit        string     `json:"unit,omitempty"`
	Icon        string     `json:"icon"`
	Value       float64    `json:"value"`
	LastUpdated *time.Time `json:"last_updated"`
}

func index(sources []Source) (map[string]Source, error) {
	out := make(map[string]Source, len(sources))
	for _, s := range sources {
		out[s.Name()] = s
	}
	for _, desc := range Descriptions {
		if _, ok := out[desc.Source]; !ok {
			return nil, fmt.Errorf("sensors: missing unit %q required by %q", desc.Source, desc.Key)
		}
	}
	return out, nil
}

// readEvents reads the events of each unit once so every sensor of the
// same unit sees the same data.
func readEvents(byName map[string]Source) map[string][]ecocito.Event {
	out := make(map[string][]ecocito.Event, len(byName))
	for name, source := range byName {
		out[name] = source.Events()
	}
	return out
}

// Snapshot reads every sensor.
func Snapshot(sources []Source) ([]Reading, error) {
	byName, err := index(sources)
	if err != nil {
		return nil, err
	}

	events := readEvents(byName)
	readings := make([]Reading, len(Descriptions))
	for i, desc := range Descriptions {
		data := events[desc.Source]
		readings[i] = Reading{
			Key:         desc.Key,
			Source:      desc.Source,
			Unit:        desc.Unit,
			Icon:        desc.Icon,
			Value:       desc.Value(data),
			LastUpdated: LatestDate(data),
		}
	}
	return readings, nil
}

// Register publishes every sensor as an observable gauge named
// `ecocito_<key>`. Unregister the returned registration to stop observing.
func Register(meter metric.Meter, sources []Source, attrs ...attribute.KeyValue) (metric.Registration, error) {
	byName, err := index(sources)
	if err != nil {
		return nil, err
	}

	gauges := make([]metric.Float64ObservableGauge, len(Descriptions))
	instruments := make([]metric.Observable, len(Descriptions))
	for i, desc := range Descriptions {
		opts := []metric.Float64ObservableGaugeOption{
			metric.WithDescription(fmt.Sprintf("%s computed from %s", desc.Key, desc.Source)),
		}
		if desc.Unit != "" {
			opts = append(opts, metric.WithUnit(desc.Unit))
		}
		gauges[i], err = meter.Float64ObservableGauge("ecocito_"+desc.Key, opts...)
		if err != nil {
			return nil, err
		}
		instruments[i] = gauges[i]
	}

	set := metric.WithAttributes(attrs...)
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		events := readEvents(byName)
		for i, desc := range Descriptions {
			o.ObserveFloat64(gauges[i], desc.Value(events[desc.Source]), set)
		}
		return nil
	}, instruments...)
}
