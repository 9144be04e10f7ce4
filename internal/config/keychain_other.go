//go:build !darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Without a system keychain each secret is a single owner-only file:
// $XDG_DATA_HOME/<service>/<account>.
func secretPath(service, account string) string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), service, account)
}

func keychainGet(service, account string) ([]byte, error) {
	p := secretPath(service, account)
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("secret %s/%s not stored: %w", service, account, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("secret file %s is accessible by other users (mode %v)", p, info.Mode().Perm())
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil, errors.New("secret file is empty")
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	p := secretPath(service, account)
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	if err := os.WriteFile(p, []byte(value+"\n"), 0o600); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(p, 0o600)
}
