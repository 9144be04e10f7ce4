package nativehost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Manifest is the browser-side registration of a native messaging host.
type Manifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// NewManifest describes the host executable at hostPath, callable from the
// given extension ids.
func NewManifest(name, hostPath string, extensionIDs ...string) Manifest {
	origins := make([]string, 0, len(extensionIDs))
	for _, id := range extensionIDs {
		origins = append(origins, fmt.Sprintf("chrome-extension://%s/", id))
	}
	return Manifest{
		Name:           name,
		Description:    "FeedbackFlow native host: mirrors submitted feedback into a log file",
		Path:           hostPath,
		Type:           "stdio",
		AllowedOrigins: origins,
	}
}

// ManifestDir returns the per-user NativeMessagingHosts directory for Chrome.
func ManifestDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Google", "Chrome", "NativeMessagingHosts"), nil
	case "linux":
		return filepath.Join(home, ".config", "google-chrome", "NativeMessagingHosts"), nil
	default:
		return "", fmt.Errorf("native host installation is not supported on %s", runtime.GOOS)
	}
}

// InstallManifest writes m as <dir>/<name>.json and returns the file path.
func InstallManifest(dir string, m Manifest) (string, error) {
	if !filepath.IsAbs(m.Path) {
		return "", fmt.Errorf("host path %q must be absolute", m.Path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating manifest dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, m.Name+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing manifest: %w", err)
	}
	return path, nil
}
