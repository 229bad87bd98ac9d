// Package config loads bindle-server configuration from flags, environment variables (prefixed
// BINDLE_), and an optional config file, using viper the way the pack's server-shaped repos do.
package config

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full set of bindle-server runtime configuration.
type Config struct {
	// Address is the listen address, e.g. "127.0.0.1:8080".
	Address string
	// Directory is the root of the filesystem storage backend (ignored if Backend is "bolt").
	Directory string
	// Backend selects the StorageProvider implementation: "filesystem" or "bolt".
	Backend string
	// BoltPath is the database file path when Backend is "bolt".
	BoltPath string
	// TLSCertFile and TLSKeyFile enable TLS termination when both are set.
	TLSCertFile string
	TLSKeyFile  string
	// Unauthenticated disables identity checks entirely (as the teacher's own integration
	// tests start bindle-server with `--unauthenticated`).
	Unauthenticated bool
	// LogLevel is a logrus level name.
	LogLevel string
	// LogJSON selects the JSON log formatter over plain text.
	LogJSON bool
	// SearchStandardMode turns on the optional fuzzy search mode of spec §4.E.
	SearchStandardMode bool
	// CacheSize is the bounded LRU size for the caching provider wrapper.
	CacheSize int
	// MaxBodyBytes caps request bodies; 0 means unbounded.
	MaxBodyBytes int64
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Address:            "127.0.0.1:8080",
		Directory:          "./bindle-data",
		Backend:            "filesystem",
		BoltPath:           "./bindle-data/bindle.db",
		LogLevel:           "info",
		SearchStandardMode: false,
		CacheSize:          1024,
		MaxBodyBytes:       0,
	}
}

// Load reads configuration from (in increasing precedence) defaults, an optional config file,
// and BINDLE_-prefixed environment variables.
func Load(configFile string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("BINDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("address", cfg.Address)
	v.SetDefault("directory", cfg.Directory)
	v.SetDefault("backend", cfg.Backend)
	v.SetDefault("bolt_path", cfg.BoltPath)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_json", cfg.LogJSON)
	v.SetDefault("search_standard_mode", cfg.SearchStandardMode)
	v.SetDefault("cache_size", cfg.CacheSize)
	v.SetDefault("max_body_bytes", cfg.MaxBodyBytes)
	v.SetDefault("unauthenticated", cfg.Unauthenticated)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, err
		}
	}

	cfg.Address = v.GetString("address")
	cfg.Directory = v.GetString("directory")
	cfg.Backend = v.GetString("backend")
	cfg.BoltPath = v.GetString("bolt_path")
	cfg.TLSCertFile = v.GetString("tls_cert_file")
	cfg.TLSKeyFile = v.GetString("tls_key_file")
	cfg.Unauthenticated = v.GetBool("unauthenticated")
	cfg.LogLevel = v.GetString("log_level")
	cfg.LogJSON = v.GetBool("log_json")
	cfg.SearchStandardMode = v.GetBool("search_standard_mode")
	cfg.CacheSize = v.GetInt("cache_size")
	cfg.MaxBodyBytes = v.GetInt64("max_body_bytes")

	if configFile != "" {
		v.WatchConfig()
		v.OnConfigChange(func(_ fsnotify.Event) {
			// Nothing is re-read here: a change to the file does not update the Config
			// returned below. Callers that want the new values call Load again.
		})
	}

	return cfg, nil
}
