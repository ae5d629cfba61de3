package config

import "time"

// Config represents the complete spork configuration.
type Config struct {
	Dispatcher DispatcherConfig `yaml:"dispatcher" toml:"dispatcher"`
	Log        LogConfig        `yaml:"log" toml:"log"`
	Ledger     LedgerConfig     `yaml:"ledger" toml:"ledger"`
	API        APIConfig        `yaml:"api,omitempty" toml:"api"`

	// SourcePath is the file the config was loaded from, empty for defaults.
	SourcePath string `yaml:"-" toml:"-"`
}

// DispatcherConfig controls the primed path and context limits.
type DispatcherConfig struct {
	// LoaderPath is the target loader executable. Empty means resolve
	// spork-primer next to the running binary, then on $PATH.
	LoaderPath string `yaml:"loader_path" toml:"loader_path"`
	// LoaderChecksum pins the loader to a BLAKE3 hex digest.
	LoaderChecksum string `yaml:"loader_checksum" toml:"loader_checksum"`
	Transport      string `yaml:"transport" toml:"transport"` // file | memfd
	TransportDir   string `yaml:"transport_dir" toml:"transport_dir"`
	MaxChanges     int    `yaml:"max_changes" toml:"max_changes"`
	MaxArgs        int    `yaml:"max_args" toml:"max_args"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // json | text | journal | auto
}

// LedgerConfig defines the persistent dispatch ledger.
type LedgerConfig struct {
	Enabled   bool          `yaml:"enabled" toml:"enabled"`
	Path      string        `yaml:"path" toml:"path"`
	Retention time.Duration `yaml:"retention" toml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Listen      string `yaml:"listen" toml:"listen"`
	EventBuffer int    `yaml:"event_buffer" toml:"event_buffer"`
	// Token authorizes POST /dispatch. Empty disables remote dispatch.
	Token string `yaml:"token" toml:"token"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			Transport:  "file",
			MaxChanges: 4096,
			MaxArgs:    65536,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Ledger: LedgerConfig{
			Enabled:   false,
			Path:      "./data/spork.db",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled:     false,
			Listen:      "127.0.0.1:8086",
			EventBuffer: 256,
		},
	}
}
