// Package solar computes the elevation-anchored sun times that drive geo
// transition scheduling: the −6°/−2°/0°/+6°/+10° boundaries for a date and a
// pair of coordinates, and the IANA timezone those coordinates fall in.
package solar

import (
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"
	"github.com/ringsaturn/tzf"
)

// Elevation targets in degrees above the geometric horizon. The transition
// windows span +10° down to −2°; −6° is civil twilight and +6° marks the
// golden hour.
const (
	ElevationCivil      = -6.0
	ElevationTransition = -2.0
	ElevationHorizon    = 0.0
	ElevationGolden     = 6.0
	ElevationDaylight   = 10.0
)

// Polar describes a degenerate day where some target elevation is never
// crossed.
type Polar int

const (
	PolarNone  Polar = iota // normal day/night cycle
	PolarDay                // degenerate day, sun at or above the daylight threshold at solar noon
	PolarNight              // degenerate day, sun below it at solar noon
)

// Day holds the solar boundaries for one civil date at a location. All times
// are UTC instants; callers convert to the coordinate timezone for display.
//
// On a degenerate (polar) day every boundary collapses to local solar noon
// and Polar records which stable period covers the whole day.
type Day struct {
	Date time.Time // midnight of the civil date in the scheduling zone

	CivilDawn        time.Time // −6°, ascending
	SunriseStart     time.Time // −2°, ascending
	Sunrise          time.Time // 0°, ascending
	SunriseGoldenEnd time.Time // +6°, ascending
	SunriseEnd       time.Time // +10°, ascending

	SunsetStart       time.Time // +10°, descending
	SunsetGoldenStart time.Time // +6°, descending
	Sunset            time.Time // 0°, descending
	SunsetEnd         time.Time // −2°, descending
	CivilDusk         time.Time // −6°, descending

	Polar Polar
}

// Compute calculates the solar day for the civil date containing date in
// loc. If any elevation target has no real solution, the day degenerates:
// perpetual day or night is chosen by the sun's elevation at local solar
// noon.
func Compute(lat, lon float64, date time.Time, loc *time.Location) Day {
	local := date.In(loc)
	y, m, d := local.Date()
	day := Day{Date: time.Date(y, m, d, 0, 0, 0, 0, loc)}

	type bound struct {
		elevation        float64
		morning, evening *time.Time
	}
	bounds := []bound{
		{ElevationCivil, &day.CivilDawn, &day.CivilDusk},
		{ElevationTransition, &day.SunriseStart, &day.SunsetEnd},
		{ElevationHorizon, &day.Sunrise, &day.Sunset},
		{ElevationGolden, &day.SunriseGoldenEnd, &day.SunsetGoldenStart},
		{ElevationDaylight, &day.SunriseEnd, &day.SunsetStart},
	}
	for _, b := range bounds {
		morning, evening := sunrise.TimeOfElevation(lat, lon, b.elevation, y, m, d)
		if morning.IsZero() || evening.IsZero() {
			return degenerate(day, lat, lon, y, m, d)
		}
		*b.morning = morning
		*b.evening = evening
	}
	return day
}

// degenerate collapses every boundary to solar noon and classifies the day
// by the sun's elevation at that instant.
func degenerate(day Day, lat, lon float64, y int, m time.Month, d int) Day {
	noon := solarNoon(lon, y, m, d)
	elevation := sunrise.Elevation(lat, lon, noon)
	if elevation >= ElevationDaylight {
		day.Polar = PolarDay
	} else {
		day.Polar = PolarNight
	}
	day.CivilDawn = noon
	day.SunriseStart = noon
	day.Sunrise = noon
	day.SunriseGoldenEnd = noon
	day.SunriseEnd = noon
	day.SunsetStart = noon
	day.SunsetGoldenStart = noon
	day.Sunset = noon
	day.SunsetEnd = noon
	day.CivilDusk = noon
	return day
}

// solarNoon approximates local solar noon in UTC: 12:00 shifted by 4 minutes
// per degree of longitude.
func solarNoon(lon float64, y int, m time.Month, d int) time.Time {
	noon := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	return noon.Add(-time.Duration(lon * 4 * float64(time.Minute)))
}

var (
	finderOnce sync.Once
	finder     tzf.F
)

// Location resolves the IANA timezone for the coordinates. Scheduling always
// uses this zone rather than the system zone, so a machine travelling away
// from its configured city keeps the city's schedule. Falls back to UTC when
// the zone cannot be resolved or its data is unavailable.
func Location(lat, lon float64) *time.Location {
	finderOnce.Do(func() {
		finder, _ = tzf.NewDefaultFinder()
	})
	if finder == nil {
		return time.UTC
	}
	name := finder.GetTimezoneName(lon, lat)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
