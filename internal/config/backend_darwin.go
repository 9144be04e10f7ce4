//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.feedbackflow.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "FeedbackFlow")
	}
	return "feedbackflow-data"
}

// defaultsBackend keeps each dotted key as its own UserDefaults entry in the
// app's domain.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return defaultsBackend{domain: defaultsDomain}
}

// run invokes the defaults CLI against the domain. A missing key is exit
// status 1, reported as ok=false.
func (b defaultsBackend) run(verb, key string, args ...string) (out string, ok bool, err error) {
	argv := append([]string{verb, b.domain, key}, args...)
	raw, err := exec.Command("defaults", argv...).CombinedOutput()
	out = strings.TrimSpace(string(raw))
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, true, nil
	case verb != "write" && errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return "", false, nil
	default:
		return "", false, fmt.Errorf("defaults %s %s: %w: %s", verb, key, err, out)
	}
}

func (b defaultsBackend) GetString(key string) (string, bool, error) {
	return b.run("read", key)
}

func (b defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.run("read", key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

func (b defaultsBackend) SetString(key, val string) error {
	_, _, err := b.run("write", key, "-string", val)
	return err
}

func (b defaultsBackend) SetInt(key string, val int) error {
	_, _, err := b.run("write", key, "-int", strconv.Itoa(val))
	return err
}

func (b defaultsBackend) Delete(key string) error {
	_, _, err := b.run("delete", key)
	return err
}
