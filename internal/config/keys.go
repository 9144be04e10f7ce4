package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FEEDBACKFLOW_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "FEEDBACKFLOW_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.api_token", typ: kString, env: tokenEnv,
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FEEDBACKFLOW_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "FEEDBACKFLOW_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "host.name", typ: kString, env: "FEEDBACKFLOW_HOST_NAME",
		apply:   func(cfg *Config, v any) { cfg.Host.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Host.Name },
	},
	{
		key: "host.path", typ: kString, env: "FEEDBACKFLOW_HOST_PATH",
		apply:   func(cfg *Config, v any) { cfg.Host.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Host.Path },
	},
	{
		key: "host.log_path", typ: kString, env: "FEEDBACKFLOW_HOST_LOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Host.LogPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Host.LogPath },
	},
	{
		key: "host.timeout", typ: kDuration, env: "FEEDBACKFLOW_HOST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Host.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Host.Timeout },
	},
	{
		key: "host.retry_enabled", typ: kBool, env: "FEEDBACKFLOW_HOST_RETRY_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Host.RetryEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Host.RetryEnabled },
	},
	{
		key: "host.retry_poll", typ: kDuration, env: "FEEDBACKFLOW_HOST_RETRY_POLL",
		apply:   func(cfg *Config, v any) { cfg.Host.RetryPoll = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Host.RetryPoll },
	},
	{
		key: "page.response_timeout", typ: kDuration, env: "FEEDBACKFLOW_PAGE_RESPONSE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Page.ResponseTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Page.ResponseTimeout },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts a raw string into the Go type declared by the key.
func (s keySpec) parseValue(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

// applyTOML layers a TOML file over cfg. Tables map to the dotted key
// prefix, so [host] timeout = "3s" sets host.timeout.
func applyTOML(cfg *Config, path string) error {
	var raw map[string]map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	keys := make([]string, 0)
	values := make(map[string]any)
	for section, table := range raw {
		for name, v := range table {
			k := section + "." + name
			keys = append(keys, k)
			values[k] = v
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		s, ok := lookupSpec(k)
		if !ok {
			return fmt.Errorf("config file %s: unknown config key %q", path, k)
		}
		v, err := tomlValue(s, values[k])
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, k, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func tomlValue(s keySpec, v any) (any, error) {
	switch s.typ {
	case kInt:
		i, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", v)
		}
		return int(i), nil
	case kBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return b, nil
	case kDuration:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected duration string, got %T", v)
		}
		return time.ParseDuration(str)
	default:
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return str, nil
	}
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
