package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/spf13/viper"
)

type Config struct {
	Log               LogConfig                           `mapstructure:"log"`
	Server            ServerConfig                        `mapstructure:"server"`
	Metrics           MetricsConfig                       `mapstructure:"metrics"`
	Backend           BackendConfig                       `mapstructure:"backend"`
	Connections       map[string]storage.ConnectionConfig `mapstructure:"connections"`
	DefaultConnection string                              `mapstructure:"default_connection"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxJobs      int           `mapstructure:"max_jobs"`
	JobTTL       time.Duration `mapstructure:"job_ttl"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// BackendConfig tunes the bundled execution service.
type BackendConfig struct {
	S3Driver          string        `mapstructure:"s3_driver"` // "aws" or "minio"
	DownloadDir       string        `mapstructure:"download_dir"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	MaxArchiveEntries int           `mapstructure:"max_archive_entries"`
	MaxPreviewSize    int64         `mapstructure:"max_preview_size"`
}

const (
	S3DriverAWS   = "aws"
	S3DriverMinio = "minio"
)

// Load reads configuration from file
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	// Support environment variable overrides
	v.SetEnvPrefix("DATAVIEW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.max_jobs", d.Server.MaxJobs)
	v.SetDefault("server.job_ttl", d.Server.JobTTL)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("backend.s3_driver", d.Backend.S3Driver)
	v.SetDefault("backend.http_timeout", d.Backend.HTTPTimeout)
	v.SetDefault("backend.max_archive_entries", d.Backend.MaxArchiveEntries)
	v.SetDefault("backend.max_preview_size", d.Backend.MaxPreviewSize)
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 5 * time.Minute,
			MaxJobs:      100,
			JobTTL:       time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Backend: BackendConfig{
			S3Driver:          S3DriverAWS,
			HTTPTimeout:       60 * time.Second,
			MaxArchiveEntries: 100_000,
			MaxPreviewSize:    1 << 20,
		},
		Connections: map[string]storage.ConnectionConfig{},
	}
}

// Validate checks the configuration for errors and normalizes
// connection types ("s3" and "hf" aliases).
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("port must be between 1 and 65535, got %d", c.Server.Port))
	}

	switch c.Backend.S3Driver {
	case "", S3DriverAWS, S3DriverMinio:
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("backend.s3_driver must be %q or %q, got %q", S3DriverAWS, S3DriverMinio, c.Backend.S3Driver))
	}
	if c.Backend.MaxArchiveEntries < 0 || c.Backend.MaxPreviewSize < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("backend limits cannot be negative"))
	}

	for name, conn := range c.Connections {
		p, ok := storage.ParseProtocol(string(conn.Type))
		if !ok {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("connection %q: unknown type %q", name, conn.Type))
		}
		conn.Type = p
		c.Connections[name] = conn
	}

	if c.DefaultConnection != "" {
		if _, ok := c.Connections[c.DefaultConnection]; !ok {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("default_connection %q is not defined", c.DefaultConnection))
		}
	}

	return nil
}

// Connection returns the named connection, falling back to
// default_connection when name is empty.
func (c *Config) Connection(name string) (storage.ConnectionConfig, error) {
	if name == "" {
		name = c.DefaultConnection
	}
	if name == "" {
		return storage.ConnectionConfig{}, core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("no connection named and no default_connection set"))
	}
	conn, ok := c.Connections[strings.ToLower(name)]
	if !ok {
		return storage.ConnectionConfig{}, core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("connection %q is not defined", name))
	}
	return conn, nil
}

// ConnectionNames returns the configured connection names, sorted.
func (c *Config) ConnectionNames() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
