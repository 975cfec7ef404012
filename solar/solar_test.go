package solar

import (
	"testing"
	"time"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestComputeOrdering(t *testing.T) {
	loc := chicago(t)
	for _, tc := range []struct {
		name     string
		lat, lon float64
		date     time.Time
	}{
		{"chicago summer solstice", 41.8500, -87.6501, time.Date(2025, 6, 21, 12, 0, 0, 0, loc)},
		{"chicago winter solstice", 41.8500, -87.6501, time.Date(2025, 12, 21, 12, 0, 0, 0, loc)},
		{"sydney equinox", -33.8688, 151.2093, time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)},
		{"quito", -0.1807, -78.4678, time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			day := Compute(tc.lat, tc.lon, tc.date, loc)
			if day.Polar != PolarNone {
				t.Fatalf("unexpected polar day: %v", day.Polar)
			}
			seq := []time.Time{
				day.CivilDawn, day.SunriseStart, day.Sunrise, day.SunriseGoldenEnd, day.SunriseEnd,
				day.SunsetStart, day.SunsetGoldenStart, day.Sunset, day.SunsetEnd, day.CivilDusk,
			}
			for i := 1; i < len(seq); i++ {
				if !seq[i-1].Before(seq[i]) {
					t.Fatalf("boundary %d (%v) not before boundary %d (%v)", i-1, seq[i-1], i, seq[i])
				}
			}
		})
	}
}

func TestTransitionLengthGrowsWithDeclination(t *testing.T) {
	loc := chicago(t)
	solstice := Compute(60.0, -87.0, time.Date(2025, 6, 21, 12, 0, 0, 0, loc), loc)
	equinox := Compute(60.0, -87.0, time.Date(2025, 3, 20, 12, 0, 0, 0, loc), loc)
	if solstice.Polar != PolarNone || equinox.Polar != PolarNone {
		t.Skip("polar conditions at test latitude")
	}
	long := solstice.SunriseEnd.Sub(solstice.SunriseStart)
	short := equinox.SunriseEnd.Sub(equinox.SunriseStart)
	if long <= short {
		t.Errorf("solstice sunrise (%v) should exceed equinox sunrise (%v) at 60N", long, short)
	}
}

func TestPolarDay(t *testing.T) {
	day := Compute(78.2232, 15.6267, time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC), time.UTC)
	if day.Polar != PolarDay {
		t.Fatalf("Svalbard midsummer: got %v, want PolarDay", day.Polar)
	}
	if !day.SunriseStart.Equal(day.SunsetEnd) {
		t.Errorf("degenerate day should collapse to one instant: %v != %v", day.SunriseStart, day.SunsetEnd)
	}
}

func TestPolarNight(t *testing.T) {
	day := Compute(78.2232, 15.6267, time.Date(2025, 12, 21, 12, 0, 0, 0, time.UTC), time.UTC)
	if day.Polar != PolarNight {
		t.Fatalf("Svalbard midwinter: got %v, want PolarNight", day.Polar)
	}
}
