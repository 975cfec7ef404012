// Package config loads, validates, and merges sunsetr configuration: the
// base sunsetr.toml, an optional geo.toml coordinate override, and named
// preset overlays. It also persists the active preset name and watches the
// config root for hot reloads.
package config

import (
	"fmt"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/psi4j/sunsetr/color"
)

// Backend selects the display driver.
type Backend string

const (
	BackendAuto       Backend = "auto"
	BackendHyprland   Backend = "hyprland"
	BackendHyprsunset Backend = "hyprsunset"
	BackendWayland    Backend = "wayland"
)

// Mode selects how transition windows are derived.
type Mode string

const (
	ModeGeo      Mode = "geo"
	ModeFinishBy Mode = "finish_by"
	ModeStartAt  Mode = "start_at"
	ModeCenter   Mode = "center"
	ModeStatic   Mode = "static"
)

// Defaults and validation limits.
const (
	DefaultNightTemp          = 3300
	DefaultDayTemp            = 6500
	DefaultNightGamma         = 90.0
	DefaultDayGamma           = 100.0
	DefaultStaticTemp         = 6500
	DefaultStaticGamma        = 100.0
	DefaultSunset             = "19:00:00"
	DefaultSunrise            = "06:00:00"
	DefaultTransitionDuration = 45 * time.Minute
	DefaultUpdateInterval     = 60 * time.Second
	DefaultStartupDuration    = 500 * time.Millisecond
	DefaultShutdownDuration   = 500 * time.Millisecond
	DefaultAdaptiveInterval   = time.Millisecond

	MinTemp, MaxTemp                     = 1000, 20000
	MinGamma, MaxGamma                   = 10.0, 200.0
	MinTransition, MaxTransition         = 5 * time.Minute, 120 * time.Minute
	MinUpdateInterval, MaxUpdateInterval = 10 * time.Second, 300 * time.Second
	MinSmoothDuration, MaxSmoothDuration = 0, 60 * time.Second
	MinAdaptive, MaxAdaptive             = time.Millisecond, time.Second
)

// File is the wire representation of sunsetr.toml. Every field is optional;
// nil means "not set in this file", which matters when presets overlay the
// base file.
type File struct {
	Backend            *string  `toml:"backend,omitempty"`
	TransitionMode     *string  `toml:"transition_mode,omitempty"`
	Smoothing          *bool    `toml:"smoothing,omitempty"`
	StartupDuration    *float64 `toml:"startup_duration,omitempty"`
	ShutdownDuration   *float64 `toml:"shutdown_duration,omitempty"`
	AdaptiveInterval   *int64   `toml:"adaptive_interval,omitempty"`
	NightTemp          *int     `toml:"night_temp,omitempty"`
	DayTemp            *int     `toml:"day_temp,omitempty"`
	NightGamma         *float64 `toml:"night_gamma,omitempty"`
	DayGamma           *float64 `toml:"day_gamma,omitempty"`
	UpdateInterval     *int64   `toml:"update_interval,omitempty"`
	StaticTemp         *int     `toml:"static_temp,omitempty"`
	StaticGamma        *float64 `toml:"static_gamma,omitempty"`
	Sunset             *string  `toml:"sunset,omitempty"`
	Sunrise            *string  `toml:"sunrise,omitempty"`
	TransitionDuration *int64   `toml:"transition_duration,omitempty"`
	Latitude           *float64 `toml:"latitude,omitempty"`
	Longitude          *float64 `toml:"longitude,omitempty"`
}

// GeoFile is the wire representation of geo.toml.
type GeoFile struct {
	Latitude  *float64 `toml:"latitude,omitempty"`
	Longitude *float64 `toml:"longitude,omitempty"`
}

// Config is a fully resolved, validated configuration. It is immutable once
// built; reloads produce a new value.
type Config struct {
	Backend Backend
	Mode    Mode

	Night  color.State
	Day    color.State
	Static color.State

	Smoothing        bool
	StartupDuration  time.Duration
	ShutdownDuration time.Duration
	AdaptiveInterval time.Duration

	UpdateInterval     time.Duration
	Sunset             ClockTime
	Sunrise            ClockTime
	TransitionDuration time.Duration

	HasCoordinates bool
	Latitude       float64
	Longitude      float64
}

// ClockTime is a wall-clock time of day with second resolution.
type ClockTime struct {
	Hour, Minute, Second int
}

func ParseClockTime(s string) (ClockTime, error) {
	var ct ClockTime
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &ct.Hour, &ct.Minute, &ct.Second); err != nil {
		return ct, fmt.Errorf("invalid time %q: expected HH:MM:SS", s)
	}
	if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 || ct.Second < 0 || ct.Second > 59 {
		return ct, fmt.Errorf("invalid time %q: out of range", s)
	}
	return ct, nil
}

func (ct ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", ct.Hour, ct.Minute, ct.Second)
}

// On returns the instant at this time of day on the civil date of d in loc.
func (ct ClockTime) On(d time.Time, loc *time.Location) time.Time {
	y, m, day := d.In(loc).Date()
	return time.Date(y, m, day, ct.Hour, ct.Minute, ct.Second, 0, loc)
}

// Default returns the built-in configuration.
func Default() Config {
	sunset, _ := ParseClockTime(DefaultSunset)
	sunrise, _ := ParseClockTime(DefaultSunrise)
	return Config{
		Backend:            BackendAuto,
		Mode:               ModeGeo,
		Night:              color.State{Temperature: DefaultNightTemp, Gamma: DefaultNightGamma},
		Day:                color.State{Temperature: DefaultDayTemp, Gamma: DefaultDayGamma},
		Static:             color.State{Temperature: DefaultStaticTemp, Gamma: DefaultStaticGamma},
		Smoothing:          true,
		StartupDuration:    DefaultStartupDuration,
		ShutdownDuration:   DefaultShutdownDuration,
		AdaptiveInterval:   DefaultAdaptiveInterval,
		UpdateInterval:     DefaultUpdateInterval,
		Sunset:             sunset,
		Sunrise:            sunrise,
		TransitionDuration: DefaultTransitionDuration,
	}
}

// apply overlays the fields set in f onto c, validating each as it goes.
func (c *Config) apply(f *File) error {
	if f.Backend != nil {
		switch Backend(*f.Backend) {
		case BackendAuto, BackendHyprland, BackendHyprsunset, BackendWayland:
			c.Backend = Backend(*f.Backend)
		default:
			return fmt.Errorf("backend: unknown value %q", *f.Backend)
		}
	}
	if f.TransitionMode != nil {
		switch Mode(*f.TransitionMode) {
		case ModeGeo, ModeFinishBy, ModeStartAt, ModeCenter, ModeStatic:
			c.Mode = Mode(*f.TransitionMode)
		default:
			return fmt.Errorf("transition_mode: unknown value %q", *f.TransitionMode)
		}
	}
	if f.Smoothing != nil {
		c.Smoothing = *f.Smoothing
	}
	if f.StartupDuration != nil {
		d := time.Duration(*f.StartupDuration * float64(time.Second))
		if d < MinSmoothDuration || d > MaxSmoothDuration {
			return fmt.Errorf("startup_duration: %v out of range 0-60 seconds", *f.StartupDuration)
		}
		c.StartupDuration = d
	}
	if f.ShutdownDuration != nil {
		d := time.Duration(*f.ShutdownDuration * float64(time.Second))
		if d < MinSmoothDuration || d > MaxSmoothDuration {
			return fmt.Errorf("shutdown_duration: %v out of range 0-60 seconds", *f.ShutdownDuration)
		}
		c.ShutdownDuration = d
	}
	if f.AdaptiveInterval != nil {
		d := time.Duration(*f.AdaptiveInterval) * time.Millisecond
		if d < MinAdaptive || d > MaxAdaptive {
			return fmt.Errorf("adaptive_interval: %d out of range 1-1000 ms", *f.AdaptiveInterval)
		}
		c.AdaptiveInterval = d
	}
	if f.NightTemp != nil {
		if err := checkTemp("night_temp", *f.NightTemp); err != nil {
			return err
		}
		c.Night.Temperature = *f.NightTemp
	}
	if f.DayTemp != nil {
		if err := checkTemp("day_temp", *f.DayTemp); err != nil {
			return err
		}
		c.Day.Temperature = *f.DayTemp
	}
	if f.StaticTemp != nil {
		if err := checkTemp("static_temp", *f.StaticTemp); err != nil {
			return err
		}
		c.Static.Temperature = *f.StaticTemp
	}
	if f.NightGamma != nil {
		if err := checkGamma("night_gamma", *f.NightGamma); err != nil {
			return err
		}
		c.Night.Gamma = *f.NightGamma
	}
	if f.DayGamma != nil {
		if err := checkGamma("day_gamma", *f.DayGamma); err != nil {
			return err
		}
		c.Day.Gamma = *f.DayGamma
	}
	if f.StaticGamma != nil {
		if err := checkGamma("static_gamma", *f.StaticGamma); err != nil {
			return err
		}
		c.Static.Gamma = *f.StaticGamma
	}
	if f.UpdateInterval != nil {
		d := time.Duration(*f.UpdateInterval) * time.Second
		if d < MinUpdateInterval || d > MaxUpdateInterval {
			return fmt.Errorf("update_interval: %d out of range 10-300 seconds", *f.UpdateInterval)
		}
		c.UpdateInterval = d
	}
	if f.Sunset != nil {
		ct, err := ParseClockTime(*f.Sunset)
		if err != nil {
			return fmt.Errorf("sunset: %w", err)
		}
		c.Sunset = ct
	}
	if f.Sunrise != nil {
		ct, err := ParseClockTime(*f.Sunrise)
		if err != nil {
			return fmt.Errorf("sunrise: %w", err)
		}
		c.Sunrise = ct
	}
	if f.TransitionDuration != nil {
		d := time.Duration(*f.TransitionDuration) * time.Minute
		if d < MinTransition || d > MaxTransition {
			return fmt.Errorf("transition_duration: %d out of range 5-120 minutes", *f.TransitionDuration)
		}
		c.TransitionDuration = d
	}
	if f.Latitude != nil {
		if *f.Latitude < -90 || *f.Latitude > 90 {
			return fmt.Errorf("latitude: %v out of range [-90, 90]", *f.Latitude)
		}
		c.Latitude = *f.Latitude
		c.HasCoordinates = f.Longitude != nil || c.HasCoordinates
	}
	if f.Longitude != nil {
		if *f.Longitude <= -180 || *f.Longitude > 180 {
			return fmt.Errorf("longitude: %v out of range (-180, 180]", *f.Longitude)
		}
		c.Longitude = *f.Longitude
		c.HasCoordinates = f.Latitude != nil || c.HasCoordinates
	}
	return nil
}

func (c *Config) applyGeo(g *GeoFile) error {
	if g.Latitude == nil || g.Longitude == nil {
		if g.Latitude != nil || g.Longitude != nil {
			return fmt.Errorf("geo.toml: latitude and longitude must both be set")
		}
		return nil
	}
	if *g.Latitude < -90 || *g.Latitude > 90 {
		return fmt.Errorf("latitude: %v out of range [-90, 90]", *g.Latitude)
	}
	if *g.Longitude <= -180 || *g.Longitude > 180 {
		return fmt.Errorf("longitude: %v out of range (-180, 180]", *g.Longitude)
	}
	c.Latitude, c.Longitude, c.HasCoordinates = *g.Latitude, *g.Longitude, true
	return nil
}

func checkTemp(field string, v int) error {
	if v < MinTemp || v > MaxTemp {
		return fmt.Errorf("%s: %d out of range 1000-20000 K", field, v)
	}
	return nil
}

func checkGamma(field string, v float64) error {
	if v < MinGamma || v > MaxGamma {
		return fmt.Errorf("%s: %v out of range 10-200%%", field, v)
	}
	return nil
}

// finalize resolves cross-field constraints after all overlays are applied.
// Geo mode without coordinates falls back to the manual finish_by schedule
// so a fresh install works before a location is configured.
func (c *Config) finalize() {
	if c.Mode == ModeGeo && !c.HasCoordinates {
		c.Mode = ModeFinishBy
	}
}

// Marshal renders the config as a complete sunsetr.toml.
func (c Config) Marshal() ([]byte, error) {
	startup := c.StartupDuration.Seconds()
	shutdown := c.ShutdownDuration.Seconds()
	adaptive := c.AdaptiveInterval.Milliseconds()
	update := int64(c.UpdateInterval.Seconds())
	transition := int64(c.TransitionDuration.Minutes())
	backend := string(c.Backend)
	mode := string(c.Mode)
	sunset := c.Sunset.String()
	sunrise := c.Sunrise.String()
	f := File{
		Backend:            &backend,
		TransitionMode:     &mode,
		Smoothing:          &c.Smoothing,
		StartupDuration:    &startup,
		ShutdownDuration:   &shutdown,
		AdaptiveInterval:   &adaptive,
		NightTemp:          &c.Night.Temperature,
		DayTemp:            &c.Day.Temperature,
		NightGamma:         &c.Night.Gamma,
		DayGamma:           &c.Day.Gamma,
		UpdateInterval:     &update,
		StaticTemp:         &c.Static.Temperature,
		StaticGamma:        &c.Static.Gamma,
		Sunset:             &sunset,
		Sunrise:            &sunrise,
		TransitionDuration: &transition,
	}
	if c.HasCoordinates {
		f.Latitude, f.Longitude = &c.Latitude, &c.Longitude
	}
	return toml.Marshal(f)
}
