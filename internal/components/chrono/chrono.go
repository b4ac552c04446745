package chrono

import (
	"time"

	// the portal's timezone must resolve on hosts without a zoneinfo database
	_ "time/tzdata"
)

// API is the interface that anything depending on the system clock should use.
type API interface {
	// Now returns the current time in Location.
	Now() time.Time
	// Location is the timezone of the ecocito portal.
	Location() *time.Location
}

type StandardImpl struct {
	location *time.Location
}

func NewStandardImpl() (StandardImpl, error) {
	location, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: location}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}
