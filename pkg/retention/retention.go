// Package retention computes image expiry timestamps from a retention policy.
package retention

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Unit is a calendar or clock unit a retention magnitude is expressed in.
type Unit string

const (
	Years        Unit = "years"
	Quarters     Unit = "quarters"
	Months       Unit = "months"
	Weeks        Unit = "weeks"
	Days         Unit = "days"
	Hours        Unit = "hours"
	Minutes      Unit = "minutes"
	Seconds      Unit = "seconds"
	Milliseconds Unit = "milliseconds"
)

var (
	// ErrUnknownUnit is returned for a unit outside the supported set.
	ErrUnknownUnit = errors.New("unknown retention unit")
	// ErrInvalidMagnitude is returned for a non-positive magnitude.
	ErrInvalidMagnitude = errors.New("retention magnitude must be positive")
)

// Units lists every supported unit, largest first.
var Units = []Unit{Years, Quarters, Months, Weeks, Days, Hours, Minutes, Seconds, Milliseconds}

// Single-letter shorthands are case sensitive: "M" is months, "m" is minutes.
var shorthands = map[string]Unit{
	"y":  Years,
	"Q":  Quarters,
	"M":  Months,
	"w":  Weeks,
	"d":  Days,
	"h":  Hours,
	"m":  Minutes,
	"s":  Seconds,
	"ms": Milliseconds,
}

// ParseUnit accepts plural and singular unit names (any case) and the
// shorthand forms y, Q, M, w, d, h, m, s, ms.
func ParseUnit(s string) (Unit, error) {
	s = strings.TrimSpace(s)
	if u, ok := shorthands[s]; ok {
		return u, nil
	}

	lower := strings.ToLower(s)
	for _, u := range Units {
		if lower == string(u) || lower+"s" == string(u) {
			return u, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownUnit, s)
}

// Policy is a retention duration applied to every image created in a run.
type Policy struct {
	Magnitude int
	Unit      Unit

	// Location only affects calendar units (days and larger), where a
	// day boundary or month length depends on the zone.
	Location *time.Location
}

// New builds a validated policy evaluated in UTC.
func New(magnitude int, unit string) (Policy, error) {
	u, err := ParseUnit(unit)
	if err != nil {
		return Policy{}, err
	}
	if magnitude <= 0 {
		return Policy{}, fmt.Errorf("%w: %d", ErrInvalidMagnitude, magnitude)
	}
	return Policy{Magnitude: magnitude, Unit: u, Location: time.UTC}, nil
}

// In returns a copy of the policy evaluated in loc.
func (p Policy) In(loc *time.Location) Policy {
	p.Location = loc
	return p
}

// Loc returns the policy location, UTC when unset.
func (p Policy) Loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// ExpiryAt returns t shifted forward by the policy.
func (p Policy) ExpiryAt(t time.Time) time.Time {
	n := p.Magnitude
	local := t.In(p.Loc())

	switch p.Unit {
	case Years:
		return addMonths(local, 12*n)
	case Quarters:
		return addMonths(local, 3*n)
	case Months:
		return addMonths(local, n)
	case Weeks:
		return local.AddDate(0, 0, 7*n)
	case Days:
		return local.AddDate(0, 0, n)
	case Hours:
		return local.Add(time.Duration(n) * time.Hour)
	case Minutes:
		return local.Add(time.Duration(n) * time.Minute)
	case Seconds:
		return local.Add(time.Duration(n) * time.Second)
	case Milliseconds:
		return local.Add(time.Duration(n) * time.Millisecond)
	default:
		return local
	}
}

// String renders the policy as "15 minutes".
func (p Policy) String() string {
	return fmt.Sprintf("%d %s", p.Magnitude, p.Unit)
}

// addMonths moves t by n months, clamping the day to the last day of the
// target month (Jan 31 + 1 month = Feb 28/29) instead of overflowing.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
