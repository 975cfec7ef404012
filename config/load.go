package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Store resolves configuration for one config root. The zero value is not
// usable; use NewStore.
type Store struct {
	root   string // directory holding sunsetr.toml
	custom bool   // true when --config was given
}

// NewStore creates a store for the given root, or the default root
// ($XDG_CONFIG_HOME/sunsetr) when dir is empty.
func NewStore(dir string) (*Store, error) {
	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		return &Store{root: abs, custom: true}, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config root: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return &Store{root: filepath.Join(base, "sunsetr")}, nil
}

func (s *Store) Root() string { return s.root }

// Tag identifies this config root for lock and socket naming: empty for the
// default root, a short hash for custom roots so several roots can run
// side by side.
func (s *Store) Tag() string {
	if !s.custom {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(s.root))
	return strconv.FormatUint(uint64(h.Sum32()), 16)
}

func (s *Store) basePath() string { return filepath.Join(s.root, "sunsetr.toml") }
func (s *Store) geoPath() string  { return filepath.Join(s.root, "geo.toml") }
func (s *Store) presetDir(name string) string {
	return filepath.Join(s.root, "presets", name)
}

// Presets lists the stored preset names.
func (s *Store) Presets() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "presets"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Load resolves the effective configuration: built-in defaults, then the
// base sunsetr.toml, base geo.toml, preset sunsetr.toml, and preset
// geo.toml, in that order. preset may be empty for no overlay.
func (s *Store) Load(preset string) (Config, error) {
	cfg := Default()

	if err := decodeFileInto(&cfg, s.basePath(), false); err != nil {
		return Config{}, err
	}
	if err := decodeGeoInto(&cfg, s.geoPath()); err != nil {
		return Config{}, err
	}
	if preset != "" {
		dir := s.presetDir(preset)
		if _, err := os.Stat(dir); err != nil {
			return Config{}, fmt.Errorf("preset %q: %w", preset, err)
		}
		if err := decodeFileInto(&cfg, filepath.Join(dir, "sunsetr.toml"), true); err != nil {
			return Config{}, err
		}
		if err := decodeGeoInto(&cfg, filepath.Join(dir, "geo.toml")); err != nil {
			return Config{}, err
		}
	}
	cfg.finalize()
	return cfg, nil
}

func decodeFileInto(cfg *Config, path string, optional bool) error {
	f, err := decodeFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if optional {
			return nil
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.apply(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func decodeGeoInto(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var g GeoFile
	if err := strictUnmarshal(raw, &g); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.applyGeo(&g); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func decodeFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := strictUnmarshal(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// strictUnmarshal decodes TOML rejecting unrecognized keys, reporting the
// offending key by name.
func strictUnmarshal(raw []byte, v any) error {
	d := toml.NewDecoder(strings.NewReader(string(raw)))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("unrecognized keys:\n%s", strict.String())
		}
		return err
	}
	return nil
}

// WriteDefault creates the config root with a default sunsetr.toml if one
// does not exist yet.
func (s *Store) WriteDefault() error {
	if _, err := os.Stat(s.basePath()); err == nil {
		return nil
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return err
	}
	raw, err := Default().Marshal()
	if err != nil {
		return err
	}
	return writeAtomic(s.basePath(), raw, 0o644)
}

// SetFields updates fields in a config file in place, preserving keys it
// does not touch, and writes the result via rename-into-place. target is a
// preset name, or empty for the base file.
func (s *Store) SetFields(target string, fields map[string]string) error {
	path := s.basePath()
	if target != "" {
		path = filepath.Join(s.presetDir(target), "sunsetr.toml")
	}

	doc := map[string]any{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	for key, val := range fields {
		parsed, err := parseFieldValue(key, val)
		if err != nil {
			return err
		}
		doc[key] = parsed
	}

	// Re-validate the merged document before committing it.
	raw, err := toml.Marshal(doc)
	if err != nil {
		return err
	}
	var f File
	if err := strictUnmarshal(raw, &f); err != nil {
		return err
	}
	cfg := Default()
	if err := cfg.apply(&f); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, raw, 0o644)
}

// parseFieldValue converts a CLI "field=value" string into the TOML type the
// field carries.
func parseFieldValue(key, val string) (any, error) {
	switch key {
	case "backend", "transition_mode", "sunset", "sunrise":
		return val, nil
	case "smoothing":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", key, val)
		}
		return b, nil
	case "startup_duration", "shutdown_duration", "night_gamma", "day_gamma",
		"static_gamma", "latitude", "longitude":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", key, val)
		}
		return f, nil
	case "adaptive_interval", "night_temp", "day_temp", "update_interval",
		"static_temp", "transition_duration":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", key, val)
		}
		return n, nil
	}
	return nil, fmt.Errorf("unknown field %q", key)
}

func writeAtomic(path string, raw []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sunsetr-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// statePath returns the file persisting the active preset name.
func statePath() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "sunsetr", "active_preset"), nil
}

// ActivePreset reads the persisted active preset name; empty means no
// overlay.
func ActivePreset() (string, error) {
	path, err := statePath()
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// SaveActivePreset persists the active preset name; empty clears it.
func SaveActivePreset(name string) error {
	path, err := statePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeAtomic(path, []byte(name+"\n"), 0o644)
}
