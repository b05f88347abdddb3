// Package ui detects terminal capabilities for CLI output.
package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTerminal returns true if stdout is connected to a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// ShouldUseColor determines if ANSI color codes should be used.
// Respects NO_COLOR (https://no-color.org/), CLICOLOR, and CLICOLOR_FORCE conventions.
// CI runners get plain output unless CLICOLOR_FORCE is set.
func ShouldUseColor() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if _, exists := os.LookupEnv("CLICOLOR_FORCE"); exists {
		return true
	}
	if IsCI() {
		return false
	}
	return IsTerminal()
}

// IsCI reports whether flaky appears to be running under a CI runner.
func IsCI() bool {
	for _, k := range []string{"CI", "JENKINS_URL", "BUILD_NUMBER"} {
		if os.Getenv(k) != "" {
			return true
		}
	}
	return false
}
