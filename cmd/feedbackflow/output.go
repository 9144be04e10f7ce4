package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/feedbackflow/internal/protocol"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

// stderr receives status lines; stdout is reserved for command output
// and the MCP stdio transport.
var (
	stderr io.Writer = os.Stderr
	stdout io.Writer = os.Stdout
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	l := colorize(colorBold, label+":")
	fmt.Fprintf(stderr, "  %s %s\n", l, fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// printDelivery reports a DeliveryResult the way the page API logs it:
// success, success with a warning, or failure.
func printDelivery(what string, res protocol.DeliveryResult) error {
	switch {
	case !res.Success:
		printError("%s failed: %s", what, res.Error)
		return fmt.Errorf("%s failed: %s", what, res.Error)
	case res.Warning != "":
		printSuccess("%s", what)
		printWarning("%s", res.Warning)
	default:
		printSuccess("%s", what)
	}
	return nil
}
