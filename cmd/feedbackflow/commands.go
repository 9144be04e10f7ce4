package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/feedbackflow/internal/config"
	"github.com/kalambet/feedbackflow/internal/nativehost"
	"github.com/kalambet/feedbackflow/internal/protocol"
)

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send <text>",
	Short: "Submit feedback through a page, as if typed into it",
	Long: `Submit feedback through a page, as if typed into it.

Examples:
  feedbackflow send "The checkout button is hidden on mobile"
  feedbackflow send --url https://shop.example/cart --title Cart "Totals round wrong"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("feedback text is required")
		}
		pageURL, _ := cmd.Flags().GetString("url")
		title, _ := cmd.Flags().GetString("title")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return sendFeedback(cmd.Context(), client, text, pageURL, title)
	},
}

func init() {
	sendCmd.Flags().String("url", "", "page URL the feedback is about (default about:blank)")
	sendCmd.Flags().String("title", "", "page title")
}

func sendFeedback(ctx context.Context, client *apiClient, text, pageURL, title string) error {
	resp, err := client.post(ctx, "/feedback", map[string]string{
		"feedback": text,
		"url":      pageURL,
		"title":    title,
		"source":   protocol.SourceCLI,
	})
	if err != nil {
		return err
	}

	var res protocol.DeliveryResult
	if err := decodeJSON(resp, &res, http.StatusInternalServerError); err != nil {
		return err
	}
	return printDelivery("Feedback saved", res)
}

// --- log ---

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Print the feedback log",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		interval, _ := cmd.Flags().GetDuration("interval")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if !watch {
			blob, err := client.getText(cmd.Context(), "/feedback")
			if err != nil {
				return err
			}
			fmt.Fprint(stdout, blob)
			return nil
		}
		return watchLog(cmd.Context(), client, interval, stdout)
	},
}

func init() {
	logCmd.Flags().Bool("watch", false, "keep printing new feedback as it arrives")
	logCmd.Flags().Duration("interval", time.Second, "poll interval for --watch")
}

// watchLog polls the log and prints what was appended since the last poll.
// A log that shrank was cleared and is printed again from the start.
func watchLog(ctx context.Context, client *apiClient, interval time.Duration, w io.Writer) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		blob, err := client.getText(ctx, "/feedback")
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		switch {
		case strings.HasPrefix(blob, last):
			fmt.Fprint(w, blob[len(last):])
		default:
			fmt.Fprintln(w, colorize(colorDim, "-- log cleared --"))
			fmt.Fprint(w, blob)
		}
		last = blob

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// --- entries ---

// entryRecord is the structured view of one stored submission.
type entryRecord struct {
	ID          string `json:"id" yaml:"id"`
	CreatedAt   string `json:"created_at" yaml:"created_at"`
	Timestamp   string `json:"timestamp" yaml:"timestamp"`
	URL         string `json:"url" yaml:"url"`
	Title       string `json:"title" yaml:"title"`
	Feedback    string `json:"feedback" yaml:"feedback"`
	Source      string `json:"source" yaml:"source"`
	Addressed   bool   `json:"addressed" yaml:"addressed"`
	Resolution  string `json:"resolution,omitempty" yaml:"resolution,omitempty"`
	AddressedAt string `json:"addressed_at,omitempty" yaml:"addressed_at,omitempty"`
}

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List stored feedback entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		format, _ := cmd.Flags().GetString("format")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/feedback/entries?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var entries []entryRecord
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		return writeEntries(stdout, entries, format)
	},
}

func init() {
	entriesCmd.Flags().Int("limit", 50, "maximum number of entries")
	entriesCmd.Flags().Int("offset", 0, "entries to skip")
	entriesCmd.Flags().String("format", "text", "output format: text, json or yaml")
}

func writeEntries(w io.Writer, entries []entryRecord, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		if len(entries) == 0 {
			fmt.Fprintln(w, "No feedback entries.")
			return nil
		}
		for _, e := range entries {
			mark := " "
			if e.Addressed {
				mark = colorize(colorGreen, "✓")
			}
			text := e.Feedback
			if len(text) > 80 {
				text = text[:80] + "..."
			}
			fmt.Fprintf(w, "%s %s  %s  %s\n", mark, colorize(colorCyan, shortID(e.ID)), e.Timestamp, text)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the feedback log",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL stored feedback. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/feedback")
		if err != nil {
			return err
		}
		var res protocol.DeliveryResult
		if err := decodeJSON(resp, &res, http.StatusInternalServerError); err != nil {
			return err
		}
		return printDelivery("Feedback log cleared", res)
	},
}

func init() {
	clearCmd.Flags().Bool("confirm", false, "confirm clearing the log")
}

// --- verbose ---

var verboseCmd = &cobra.Command{
	Use:       "verbose [on|off|toggle]",
	Short:     "Show or change verbose mode on every open page",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"on", "off", "toggle"},
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/verbose")
			if err != nil {
				return err
			}
			var v struct {
				Verbose bool `json:"verbose"`
			}
			if err := decodeJSON(resp, &v); err != nil {
				return err
			}
			printStatus("Verbose", "%s", onOff(v.Verbose))
			return nil
		}

		body, err := verboseBody(args[0])
		if err != nil {
			return err
		}
		return setVerbose(cmd.Context(), client, body)
	},
}

func verboseBody(arg string) (map[string]any, error) {
	switch arg {
	case "on":
		return map[string]any{"value": true}, nil
	case "off":
		return map[string]any{"value": false}, nil
	case "toggle":
		return map[string]any{}, nil
	default:
		return nil, fmt.Errorf("invalid argument %q (want on, off or toggle)", arg)
	}
}

func setVerbose(ctx context.Context, client *apiClient, body map[string]any) error {
	resp, err := client.put(ctx, "/verbose", body)
	if err != nil {
		return err
	}
	var res struct {
		Verbose   bool     `json:"verbose"`
		Delivered int      `json:"delivered"`
		Failed    []string `json:"failed"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}

	printSuccess("Verbose mode %s (%d tab(s) updated)", onOff(res.Verbose), res.Delivered)
	for _, id := range res.Failed {
		printWarning("tab %s did not accept the update", shortID(id))
	}
	return nil
}

// --- address ---

var addressCmd = &cobra.Command{
	Use:   "address <id>",
	Short: "Mark a feedback entry as addressed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resolution, _ := cmd.Flags().GetString("resolution")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/feedback/entries/"+url.PathEscape(args[0])+"/addressed",
			map[string]string{"resolution": resolution})
		if err != nil {
			return err
		}
		var e entryRecord
		if err := decodeJSON(resp, &e); err != nil {
			return err
		}
		printSuccess("Marked %s as addressed", shortID(e.ID))
		return nil
	},
}

func init() {
	addressCmd.Flags().String("resolution", "", "how the feedback was addressed")
}

// --- host ---

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Manage the native messaging host",
}

var hostInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Register the native host with the browser",
	Long: `Register the native host with the browser.

Writes the native messaging manifest and records the host path in the
feedbackflow configuration so the daemon mirrors feedback through it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		hostPath, _ := cmd.Flags().GetString("path")
		extIDs, _ := cmd.Flags().GetStringSlice("extension-id")
		dir, _ := cmd.Flags().GetString("manifest-dir")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if hostPath == "" {
			hostPath, err = defaultHostPath()
			if err != nil {
				return err
			}
		}
		if hostPath, err = filepath.Abs(hostPath); err != nil {
			return err
		}
		if _, err := os.Stat(hostPath); err != nil {
			return fmt.Errorf("host executable: %w", err)
		}

		if dir == "" {
			if dir, err = nativehost.ManifestDir(); err != nil {
				return err
			}
		}

		printStep("Writing manifest for %s", cfg.Host.Name)
		path, err := nativehost.InstallManifest(dir, nativehost.NewManifest(cfg.Host.Name, hostPath, extIDs...))
		if err != nil {
			return err
		}
		if err := config.SetKey("host.path", hostPath); err != nil {
			return fmt.Errorf("saving host.path: %w", err)
		}

		printSuccess("Installed %s", path)
		if len(extIDs) == 0 {
			printWarning("no --extension-id given; the browser will refuse connections until one is added")
		}
		return nil
	},
}

func init() {
	hostInstallCmd.Flags().String("path", "", "host executable (default: feedbackflow-host next to this binary)")
	hostInstallCmd.Flags().StringSlice("extension-id", nil, "browser extension id allowed to connect")
	hostInstallCmd.Flags().String("manifest-dir", "", "override the NativeMessagingHosts directory")
	hostCmd.AddCommand(hostInstallCmd)
}

func defaultHostPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "feedbackflow-host"), nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
