package ecocito

import "time"

// EventType is the portal's material id (`idMatiere`).
type EventType int

const (
	// DefaultCollection is the sentinel type used by depot visit queries.
	DefaultCollection   EventType = -1
	GarbageCollection   EventType = 15
	RecyclingCollection EventType = 16
)

func (t EventType) String() string {
	switch t {
	case GarbageCollection:
		return "garbage"
	case RecyclingCollection:
		return "recycling"
	case DefaultCollection:
		return "default"
	}
	return "unknown"
}

// Event is anything the portal dates.
type Event interface {
	When() time.Time
}

// CollectionEvent is a garbage or recycling pickup with its weighed quantity.
type CollectionEvent struct {
	Date     time.Time
	Location string
	Type     EventType
	// Quantity is in kilograms.
	Quantity float64
}

func (e CollectionEvent) When() time.Time {
	return e.Date
}

// DepotVisit is a voluntary drop-off at a waste depot.
type DepotVisit struct {
	Date time.Time
}

func (v DepotVisit) When() time.Time {
	return v.Date
}
