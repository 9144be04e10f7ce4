//go:build !darwin

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// xdgDir resolves an XDG base directory, falling back to fallback under the
// user's home.
func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "feedbackflow")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "feedbackflow", "config.toml")
}

// tomlBackend keeps settings in the same [section] key = value layout the
// --config file uses, so either file can be copied over the other.
type tomlBackend struct {
	path   string
	tables map[string]map[string]any
}

func newPlatformBackend() ConfigBackend {
	b := &tomlBackend{path: configFilePath(), tables: make(map[string]map[string]any)}
	if _, err := toml.DecodeFile(b.path, &b.tables); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", b.path, err)
		b.tables = make(map[string]map[string]any)
	}
	return b
}

func splitKey(key string) (section, name string) {
	section, name, _ = strings.Cut(key, ".")
	return section, name
}

func (b *tomlBackend) lookup(key string) (any, bool) {
	section, name := splitKey(key)
	v, ok := b.tables[section][name]
	return v, ok
}

func (b *tomlBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	if s, isStr := v.(string); isStr {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *tomlBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case int64:
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *tomlBackend) set(key string, v any) error {
	section, name := splitKey(key)
	if b.tables[section] == nil {
		b.tables[section] = make(map[string]any)
	}
	b.tables[section][name] = v
	return b.save()
}

func (b *tomlBackend) SetString(key, val string) error {
	return b.set(key, val)
}

func (b *tomlBackend) SetInt(key string, val int) error {
	return b.set(key, int64(val))
}

func (b *tomlBackend) Delete(key string) error {
	section, name := splitKey(key)
	delete(b.tables[section], name)
	if len(b.tables[section]) == 0 {
		delete(b.tables, section)
	}
	return b.save()
}

// save writes the file through a temp file so a crash never leaves it
// half-written.
func (b *tomlBackend) save() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), "config-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(b.tables); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}
