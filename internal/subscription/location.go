package subscription

import (
	"fmt"
	"time"
	_ "time/tzdata" // hosts without a zoneinfo database
)

// Location identifies a place by name and IANA timezone.
//
// Two locations are considered the same place when their names match; the
// timezone is carried along but takes no part in identity. The registry keys
// its tables on the name, so a second subscription to a known name keeps the
// timezone that was stored first.
//
// As a Go map key a Location compares both fields, so a lookup built from a
// name alone misses an entry stored with a timezone. Look pairs up through
// the registry by name, or compare with Equal.
type Location struct {
	name string
	tz   string
}

// NewLocation builds a location. An empty tz yields a location without timezone.
func NewLocation(name, tz string) Location {
	return Location{name: name, tz: tz}
}

// Name returns the location name as stored.
func (l Location) Name() string { return l.name }

// TZ returns the IANA timezone identifier, or "" when unknown.
func (l Location) TZ() string { return l.tz }

// Equal reports whether l and other name the same place.
func (l Location) Equal(other Location) bool {
	return l.name == other.name
}

// In converts t to the location's local time. It fails with ErrNoTimezone
// when the location carries no timezone instead of falling back to UTC.
func (l Location) In(t time.Time) (time.Time, error) {
	if l.tz == "" {
		return time.Time{}, fmt.Errorf("%s: %w", l.name, ErrNoTimezone)
	}
	loc, err := time.LoadLocation(l.tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: load timezone %q: %w", l.name, l.tz, err)
	}
	return t.In(loc), nil
}

func (l Location) String() string {
	if l.tz == "" {
		return l.name
	}
	return l.name + " (" + l.tz + ")"
}
