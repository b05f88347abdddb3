// Package config loads flaky settings from the environment and an optional
// flaky.toml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/flaky/internal/exitcode"
)

// Environment variables read by Load.
const (
	EnvAppiumHome    = "APPIUM_HOME"
	EnvUser          = "USER"
	EnvSauceUsername = "SAUCE_USERNAME"
	EnvConfigPath    = "FLAKY_CONFIG"
)

// FileName is the config file looked up in the working directory.
const FileName = "flaky.toml"

// DefaultTestCommand runs one test through the project's Rakefile.
const DefaultTestCommand = "cd {dir}; rake {os}['{name}',true]"

// File is the on-disk shape of flaky.toml. Durations are strings parsed
// with time.ParseDuration.
type File struct {
	ReadyTimeout      string   `toml:"ready_timeout"`
	PollInterval      string   `toml:"poll_interval"`
	MaxLaunchAttempts int      `toml:"max_launch_attempts"`
	CleanupRetryDelay string   `toml:"cleanup_retry_delay"`
	DrainTimeout      string   `toml:"drain_timeout"`
	LogDir            string   `toml:"log_dir"`
	ServerCommand     string   `toml:"server_command"`
	RuntimeProcess    string   `toml:"runtime_process"`
	AuxProcesses      []string `toml:"aux_processes"`
	TestCommand       string   `toml:"test_command"`
}

// Config is the effective configuration.
type Config struct {
	// Path is the file the settings came from, or "" for defaults only.
	Path string

	AppiumHome    string
	User          string
	SauceUsername string

	ReadyTimeout      time.Duration
	PollInterval      time.Duration
	MaxLaunchAttempts int
	CleanupRetryDelay time.Duration
	DrainTimeout      time.Duration

	LogDir         string
	ServerCommand  string
	RuntimeProcess string
	AuxProcesses   []string
	TestCommand    string
}

// Default returns the built-in settings with no environment applied.
func Default() *Config {
	return &Config{
		ReadyTimeout:      60 * time.Second,
		PollInterval:      500 * time.Millisecond,
		MaxLaunchAttempts: 5,
		CleanupRetryDelay: time.Second,
		DrainTimeout:      5 * time.Second,
		LogDir:            filepath.Join(os.TempDir(), "flaky"),
		RuntimeProcess:    "node",
		AuxProcesses:      []string{"instruments"},
		TestCommand:       DefaultTestCommand,
	}
}

// Load builds the effective configuration. path names the config file; when
// empty, $FLAKY_CONFIG and then ./flaky.toml are tried. A missing default
// file means defaults; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.AppiumHome = os.Getenv(EnvAppiumHome)
	cfg.User = os.Getenv(EnvUser)
	cfg.SauceUsername = os.Getenv(EnvSauceUsername)

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(EnvConfigPath); p != "" {
			path, explicit = p, true
		} else {
			path = FileName
		}
	}

	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return cfg, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitcode.FileNotFound(path)
		}
		return nil, exitcode.Wrapf(exitcode.ErrConfig, err, "parsing %s", path)
	}
	if err := cfg.apply(&f); err != nil {
		return nil, exitcode.Wrapf(exitcode.ErrConfig, err, "invalid %s", path)
	}
	cfg.Path = path
	return cfg, nil
}

func (c *Config) apply(f *File) error {
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"ready_timeout", f.ReadyTimeout, &c.ReadyTimeout},
		{"poll_interval", f.PollInterval, &c.PollInterval},
		{"cleanup_retry_delay", f.CleanupRetryDelay, &c.CleanupRetryDelay},
		{"drain_timeout", f.DrainTimeout, &c.DrainTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", d.key, d.raw)
		}
		*d.dst = v
	}

	if f.MaxLaunchAttempts < 0 {
		return fmt.Errorf("max_launch_attempts: must be at least 1, got %d", f.MaxLaunchAttempts)
	}
	if f.MaxLaunchAttempts > 0 {
		c.MaxLaunchAttempts = f.MaxLaunchAttempts
	}
	if f.LogDir != "" {
		c.LogDir = f.LogDir
	}
	if f.ServerCommand != "" {
		c.ServerCommand = f.ServerCommand
	}
	if f.RuntimeProcess != "" {
		c.RuntimeProcess = f.RuntimeProcess
	}
	if f.AuxProcesses != nil {
		c.AuxProcesses = f.AuxProcesses
	}
	if f.TestCommand != "" {
		if !strings.Contains(f.TestCommand, "{name}") {
			return fmt.Errorf("test_command: must contain {name}")
		}
		c.TestCommand = f.TestCommand
	}
	return nil
}

// OnSauce reports whether tests run against Sauce Labs, in which case no
// local server is supervised.
func (c *Config) OnSauce() bool { return c.SauceUsername != "" }

// ServerLogPath is the file receiving server output.
func (c *Config) ServerLogPath() string { return filepath.Join(c.LogDir, "appium_tmp_log.txt") }

// LockPath guards the server log against concurrent sessions.
func (c *Config) LockPath() string { return filepath.Join(c.LogDir, "appium.lock") }

// ProcessLogPath receives supervisor lifecycle messages.
func (c *Config) ProcessLogPath() string { return filepath.Join(c.LogDir, "flaky.log") }

// ResolveServerCommand returns the shell command that starts the server.
// Without a server_command override, APPIUM_HOME must name an Appium
// checkout containing bin/appium.js.
func (c *Config) ResolveServerCommand() (string, error) {
	if c.ServerCommand != "" {
		return c.ServerCommand, nil
	}
	if c.AppiumHome == "" {
		return "", exitcode.Configf("%s must be set", EnvAppiumHome)
	}
	entry := filepath.Join(c.AppiumHome, "bin", "appium.js")
	if _, err := os.Stat(entry); err != nil {
		return "", exitcode.Configf("appium home %q doesn't contain bin/appium.js", c.AppiumHome)
	}
	return fmt.Sprintf(`cd "%s"; node .`, c.AppiumHome), nil
}

// TestCommandFor expands the test command template for one test. name is
// the test's base name without extension.
func (c *Config) TestCommandFor(dir, os, name string) string {
	r := strings.NewReplacer("{dir}", dir, "{os}", strings.ToLower(os), "{name}", name)
	return r.Replace(c.TestCommand)
}
