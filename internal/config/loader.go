package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/spork/internal/transport"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "SPORK_CONFIG"

// Load reads and parses configuration from a file. Files ending in .toml are
// decoded as TOML, everything else as YAML. Values missing from the file keep
// their defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	interpolated := interpolateEnv(string(data))

	if strings.EqualFold(filepath.Ext(absPath), ".toml") {
		md, err := toml.Decode(interpolated, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), absPath)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolated)))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
		}
	}

	cfg.SourcePath = absPath
	resolveRelative(cfg, filepath.Dir(absPath))

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover finds the config file to use.
// Priority order: flag, $SPORK_CONFIG, ~/.config/spork/config.{yaml,toml},
// /etc/spork/config.{yaml,toml}. An empty result with a nil error means no
// file exists and the caller should use Defaults.
func Discover(flagPath string) (string, error) {
	if flagPath != "" {
		if _, err := os.Stat(flagPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", flagPath)
		}
		return flagPath, nil
	}

	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("$%s points at missing file %s", EnvConfigPath, p)
		}
		return p, nil
	}

	var dirs []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(homeDir, ".config", "spork"))
	}
	dirs = append(dirs, "/etc/spork")

	for _, dir := range dirs {
		for _, name := range []string{"config.yaml", "config.yml", "config.toml"} {
			p := filepath.Join(dir, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, nil
			}
		}
	}
	return "", nil
}

// LoadOrDefault discovers and loads the config, falling back to Defaults
// when no file exists.
func LoadOrDefault(flagPath string) (*Config, error) {
	path, err := Discover(flagPath)
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Defaults()
		if err := Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

// resolveRelative anchors relative file paths at the config file's directory.
func resolveRelative(cfg *Config, baseDir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.Dispatcher.LoaderPath = abs(cfg.Dispatcher.LoaderPath)
	cfg.Dispatcher.TransportDir = abs(cfg.Dispatcher.TransportDir)
	cfg.Ledger.Path = abs(cfg.Ledger.Path)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place and rejected by Validate.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// Validate performs basic validation on the configuration.
func Validate(cfg *Config) error {
	d := cfg.Dispatcher
	for _, f := range []struct{ name, value string }{
		{"dispatcher.loader_path", d.LoaderPath},
		{"dispatcher.loader_checksum", d.LoaderChecksum},
		{"dispatcher.transport_dir", d.TransportDir},
		{"ledger.path", cfg.Ledger.Path},
		{"api.listen", cfg.API.Listen},
		{"api.token", cfg.API.Token},
	} {
		if err := checkUnresolved(f.name, f.value); err != nil {
			return err
		}
	}

	if _, err := transport.ParseKind(d.Transport); err != nil {
		return fmt.Errorf("dispatcher.transport: %w", err)
	}
	if d.LoaderChecksum != "" {
		if b, err := hex.DecodeString(d.LoaderChecksum); err != nil || len(b) != 32 {
			return fmt.Errorf("dispatcher.loader_checksum must be a 64-character BLAKE3 hex digest")
		}
	}
	if d.MaxChanges < 0 || d.MaxChanges > 4096 {
		return fmt.Errorf("dispatcher.max_changes must be between 0 and 4096 (got %d)", d.MaxChanges)
	}
	if d.MaxArgs < 0 || d.MaxArgs > 65536 {
		return fmt.Errorf("dispatcher.max_args must be between 0 and 65536 (got %d)", d.MaxArgs)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true, "journal": true, "auto": true}
	if !validFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("log.format must be one of: json, text, journal, auto (got %q)", cfg.Log.Format)
	}

	if cfg.Ledger.Enabled && cfg.Ledger.Path == "" {
		return fmt.Errorf("ledger.path is required when the ledger is enabled")
	}
	if cfg.Ledger.Retention < 0 {
		return fmt.Errorf("ledger.retention must not be negative")
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	if cfg.API.EventBuffer < 0 {
		return fmt.Errorf("api.event_buffer must not be negative")
	}
	return nil
}
