package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-engine/generic"
)

func TestDateIn_UsesLocationCalendarDay(t *testing.T) {
	// GIVEN: 23:30 UTC on March 10
	// WHEN: Viewed from UTC and from Tokyo (UTC+9)
	// THEN: UTC says March 10, Tokyo already says March 11
	instant := time.Date(2025, time.March, 10, 23, 30, 0, 0, time.UTC)
	tokyo := time.FixedZone("JST", 9*60*60)

	assert.Equal(t, generic.NewDate(2025, time.March, 10), generic.DateIn(instant, time.UTC))
	assert.Equal(t, generic.NewDate(2025, time.March, 11), generic.DateIn(instant, tokyo))
	assert.Equal(t, generic.NewDate(2025, time.March, 10), generic.DateIn(instant, nil))
}

func TestDate_AddDaysAcrossMonthAndYear(t *testing.T) {
	d := generic.NewDate(2024, time.December, 31)

	assert.Equal(t, generic.NewDate(2025, time.January, 1), d.AddDays(1))
	assert.Equal(t, generic.NewDate(2024, time.February, 29), generic.NewDate(2024, time.March, 1).AddDays(-1))
}

func TestDaysBetween(t *testing.T) {
	from := generic.NewDate(2025, time.March, 1)

	assert.Equal(t, 0, generic.DaysBetween(from, from))
	assert.Equal(t, 1, generic.DaysBetween(from, from.AddDays(1)))
	assert.Equal(t, 31, generic.DaysBetween(from, generic.NewDate(2025, time.April, 1)))
	assert.Equal(t, -2, generic.DaysBetween(from, from.AddDays(-2)))
}

func TestParseDate(t *testing.T) {
	d, err := generic.ParseDate("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, generic.NewDate(2025, time.March, 10), d)
	assert.Equal(t, "2025-03-10", d.String())

	_, err = generic.ParseDate("03/10/2025")
	assert.Error(t, err)
}

func TestDate_Comparison(t *testing.T) {
	a := generic.NewDate(2025, time.March, 10)
	b := a.AddDays(1)

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.After(a))
	assert.True(t, a.Equal(generic.NewDate(2025, time.March, 10)))
	assert.True(t, generic.Date{}.IsZero())
}

func TestDate_MidnightInLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	d := generic.NewDate(2025, time.March, 10)

	m := d.Midnight(ny)
	assert.Equal(t, 0, m.Hour())
	assert.Equal(t, d, generic.DateIn(m, ny))
}

func TestFixedClock(t *testing.T) {
	c := &generic.FixedClock{T: t0}
	assert.Equal(t, t0, c.Now())

	c.Advance(24 * time.Hour)
	assert.Equal(t, t0.Add(24*time.Hour), c.Now())

	c.Set(t0)
	assert.Equal(t, t0, c.Now())
}
