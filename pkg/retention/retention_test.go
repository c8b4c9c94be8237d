package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnit(t *testing.T) {
	cases := map[string]Unit{
		"years":        Years,
		"year":         Years,
		"Years":        Years,
		"y":            Years,
		"quarters":     Quarters,
		"Q":            Quarters,
		"months":       Months,
		"M":            Months,
		"weeks":        Weeks,
		"w":            Weeks,
		"days":         Days,
		"day":          Days,
		"hours":        Hours,
		"h":            Hours,
		"minutes":      Minutes,
		"m":            Minutes,
		" minute ":     Minutes,
		"seconds":      Seconds,
		"s":            Seconds,
		"milliseconds": Milliseconds,
		"ms":           Milliseconds,
	}

	for in, want := range cases {
		got, err := ParseUnit(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseUnit_Unknown(t *testing.T) {
	for _, in := range []string{"", "fortnights", "q", "H"} {
		_, err := ParseUnit(in)
		assert.ErrorIs(t, err, ErrUnknownUnit, in)
	}
}

func TestNew_InvalidMagnitude(t *testing.T) {
	_, err := New(0, "minutes")
	assert.ErrorIs(t, err, ErrInvalidMagnitude)

	_, err = New(-3, "days")
	assert.ErrorIs(t, err, ErrInvalidMagnitude)
}

func TestExpiryAt_FifteenMinutesIsExact(t *testing.T) {
	p, err := New(15, "minutes")
	require.NoError(t, err)

	t0 := time.UnixMilli(1700000000123)
	got := p.ExpiryAt(t0)

	assert.Equal(t, t0.UnixMilli()+15*60*1000, got.UnixMilli())
}

func TestExpiryAt_ClockUnits(t *testing.T) {
	t0 := time.UnixMilli(1700000000000)

	tests := []struct {
		unit string
		n    int
		want int64
	}{
		{"hours", 1, 3600000},
		{"seconds", 30, 30000},
		{"milliseconds", 250, 250},
		{"days", 2, 2 * 86400000},
		{"weeks", 1, 7 * 86400000},
	}

	for _, tt := range tests {
		p, err := New(tt.n, tt.unit)
		require.NoError(t, err)
		assert.Equal(t, t0.UnixMilli()+tt.want, p.ExpiryAt(t0).UnixMilli(), tt.unit)
	}
}

func TestExpiryAt_MonthEndClamps(t *testing.T) {
	p, err := New(1, "months")
	require.NoError(t, err)

	t0 := time.Date(2025, time.January, 31, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.February, 28, 10, 0, 0, 0, time.UTC), p.ExpiryAt(t0).UTC())

	leap := time.Date(2024, time.January, 31, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.February, 29, 10, 0, 0, 0, time.UTC), p.ExpiryAt(leap).UTC())
}

func TestExpiryAt_YearsAndQuarters(t *testing.T) {
	years, err := New(1, "years")
	require.NoError(t, err)
	quarters, err := New(2, "Q")
	require.NoError(t, err)

	t0 := time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), years.ExpiryAt(t0).UTC())
	assert.Equal(t, time.Date(2024, time.August, 29, 0, 0, 0, 0, time.UTC), quarters.ExpiryAt(t0).UTC())
}

func TestExpiryAt_LocationOnlyAffectsCalendarUnits(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+1800)
	t0 := time.UnixMilli(1700000000000)

	minutes, err := New(90, "minutes")
	require.NoError(t, err)
	assert.Equal(t, minutes.ExpiryAt(t0).UnixMilli(), minutes.In(kolkata).ExpiryAt(t0).UnixMilli())

	// 2025-01-31T20:00Z is already Feb 1 in IST, so one month lands in March there.
	months, err := New(1, "months")
	require.NoError(t, err)
	evening := time.Date(2025, time.January, 31, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.February, months.ExpiryAt(evening).Month())
	assert.Equal(t, time.March, months.In(kolkata).ExpiryAt(evening).Month())
}

func TestPolicy_String(t *testing.T) {
	p, err := New(15, "m")
	require.NoError(t, err)
	assert.Equal(t, "15 minutes", p.String())
}
