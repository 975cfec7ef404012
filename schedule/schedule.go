// Package schedule derives the current period and the next state-change
// boundary from a configuration and a wall-clock instant. Transition windows
// use [start, end) semantics: an instant equal to a boundary belongs to the
// later period.
package schedule

import (
	"sort"
	"time"

	"github.com/psi4j/sunsetr/color"
	"github.com/psi4j/sunsetr/config"
	"github.com/psi4j/sunsetr/solar"
)

// Kind classifies an instant relative to the schedule.
type Kind int

const (
	Day Kind = iota
	Night
	Sunset
	Sunrise
	Static
)

func (k Kind) String() string {
	switch k {
	case Day:
		return "day"
	case Night:
		return "night"
	case Sunset:
		return "sunset"
	case Sunrise:
		return "sunrise"
	case Static:
		return "static"
	}
	return "unknown"
}

// Transitioning reports whether the kind is a transition period.
func (k Kind) Transitioning() bool {
	return k == Sunset || k == Sunrise
}

// Period is the classification of an instant: a kind, and for transition
// kinds the interpolation parameter within the window.
type Period struct {
	Kind     Kind
	Progress float64 // in [0, 1]; meaningful only while transitioning
}

// Window is one transition interval.
type Window struct {
	Kind       Kind // Sunset or Sunrise
	Start, End time.Time
}

// Schedule is an immutable view of the transition windows around the instant
// it was computed for. It is recomputed on date rollover, config change,
// preset switch, and wall-clock jumps. Output hotplug does not recompute it;
// the backend applies the current state to newly added outputs.
type Schedule struct {
	cfg     config.Config
	loc     *time.Location
	date    time.Time // civil date the schedule was built around
	windows []Window  // sorted by start; empty in static or polar conditions
	polar   solar.Polar
}

// Zone returns the timezone scheduling happens in: the coordinate timezone
// in geo mode, the instant's own zone otherwise.
func Zone(cfg config.Config, now time.Time) *time.Location {
	if cfg.Mode == config.ModeGeo {
		return solar.Location(cfg.Latitude, cfg.Longitude)
	}
	return now.Location()
}

// Compute builds the schedule for the civil date containing now, including
// the neighboring days' windows so classification works across midnight.
func Compute(cfg config.Config, now time.Time) *Schedule {
	loc := Zone(cfg, now)
	y, m, d := now.In(loc).Date()
	s := &Schedule{
		cfg:  cfg,
		loc:  loc,
		date: time.Date(y, m, d, 0, 0, 0, 0, loc),
	}
	if cfg.Mode == config.ModeStatic {
		return s
	}
	for offset := -1; offset <= 1; offset++ {
		date := s.date.AddDate(0, 0, offset)
		sunriseW, sunsetW, polar := dayWindows(cfg, date, loc)
		if polar != solar.PolarNone {
			if offset == 0 {
				s.polar = polar
			}
			continue
		}
		s.windows = append(s.windows, sunriseW, sunsetW)
	}
	sort.Slice(s.windows, func(i, j int) bool {
		return s.windows[i].Start.Before(s.windows[j].Start)
	})
	return s
}

// dayWindows derives the sunrise and sunset windows for one civil date.
func dayWindows(cfg config.Config, date time.Time, loc *time.Location) (sunriseW, sunsetW Window, polar solar.Polar) {
	switch cfg.Mode {
	case config.ModeGeo:
		day := solar.Compute(cfg.Latitude, cfg.Longitude, date, loc)
		if day.Polar != solar.PolarNone {
			return Window{}, Window{}, day.Polar
		}
		sunriseW = Window{Kind: Sunrise, Start: day.SunriseStart, End: day.SunriseEnd}
		sunsetW = Window{Kind: Sunset, Start: day.SunsetStart, End: day.SunsetEnd}
		return sunriseW, sunsetW, solar.PolarNone
	default:
		sunriseW = manualWindow(Sunrise, cfg.Sunrise, cfg, date, loc)
		sunsetW = manualWindow(Sunset, cfg.Sunset, cfg, date, loc)
		return sunriseW, sunsetW, solar.PolarNone
	}
}

// manualWindow places a transition window around the configured clock time
// according to the transition mode's anchoring rule.
func manualWindow(kind Kind, at config.ClockTime, cfg config.Config, date time.Time, loc *time.Location) Window {
	anchor := at.On(date, loc)
	d := cfg.TransitionDuration
	switch cfg.Mode {
	case config.ModeFinishBy:
		return Window{Kind: kind, Start: anchor.Add(-d), End: anchor}
	case config.ModeStartAt:
		return Window{Kind: kind, Start: anchor, End: anchor.Add(d)}
	default: // center
		return Window{Kind: kind, Start: anchor.Add(-d / 2), End: anchor.Add(d / 2)}
	}
}

// Stale reports whether now has rolled past the civil date the schedule was
// built for.
func (s *Schedule) Stale(now time.Time) bool {
	local := now.In(s.loc)
	y, m, d := local.Date()
	dy, dm, dd := s.date.Date()
	return y != dy || m != dm || d != dd
}

// At classifies an instant.
func (s *Schedule) At(now time.Time) Period {
	if s.cfg.Mode == config.ModeStatic {
		return Period{Kind: Static}
	}
	switch s.polar {
	case solar.PolarDay:
		return Period{Kind: Day}
	case solar.PolarNight:
		return Period{Kind: Night}
	}
	for _, w := range s.windows {
		if !now.Before(w.Start) && now.Before(w.End) {
			progress := float64(now.Sub(w.Start)) / float64(w.End.Sub(w.Start))
			return Period{Kind: w.Kind, Progress: clamp01(progress)}
		}
	}
	// Between windows: the preceding transition decides the stable period.
	stable := Night // before the first known window the sun has not risen
	for _, w := range s.windows {
		if w.End.After(now) {
			break
		}
		if w.Kind == Sunrise {
			stable = Day
		} else {
			stable = Night
		}
	}
	return Period{Kind: stable}
}

// Target returns the color state the schedule prescribes for a period.
func (s *Schedule) Target(p Period) color.State {
	switch p.Kind {
	case Day:
		return s.cfg.Day
	case Night:
		return s.cfg.Night
	case Static:
		return s.cfg.Static
	case Sunset:
		return color.Interpolate(s.cfg.Day, s.cfg.Night, p.Progress)
	case Sunrise:
		return color.Interpolate(s.cfg.Night, s.cfg.Day, p.Progress)
	}
	return s.cfg.Day
}

// Endpoints returns the from/to states of a transition period.
func (s *Schedule) Endpoints(k Kind) (from, to color.State) {
	if k == Sunrise {
		return s.cfg.Night, s.cfg.Day
	}
	return s.cfg.Day, s.cfg.Night
}

// NextBoundary returns the first window start or end strictly after now and
// the period that prevails from it. ok is false when the schedule has no
// boundaries (static mode or polar conditions); callers then wake on the
// regular update interval only.
func (s *Schedule) NextBoundary(now time.Time) (at time.Time, next Period, ok bool) {
	var best time.Time
	for _, w := range s.windows {
		for _, t := range []time.Time{w.Start, w.End} {
			if t.After(now) && (best.IsZero() || t.Before(best)) {
				best = t
			}
		}
	}
	if best.IsZero() {
		return time.Time{}, Period{}, false
	}
	return best, s.At(best), true
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
