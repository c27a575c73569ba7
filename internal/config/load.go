package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ldi/stageflow/internal/errors"
)

// FileName is the config file looked up inside Dir.
const FileName = "config.yaml"

// ProjectConfigPath returns the path of the project config file.
func ProjectConfigPath() string {
	return filepath.Join(Dir, FileName)
}

func newViperInstance() *viper.Viper {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("STAGEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("db.path", d.DB.Path)

	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout.String())
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout.String())
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout.String())
	v.SetDefault("http.metrics", d.HTTP.Metrics)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.prefix", d.NATS.Prefix)
	v.SetDefault("nats.max_in_flight", d.NATS.MaxInFlight)

	v.SetDefault("query.default_page_size", d.Query.DefaultPageSize)
	v.SetDefault("query.max_page_size", d.Query.MaxPageSize)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)

	v.SetDefault("snapshot.path", d.Snapshot.Path)
	v.SetDefault("snapshot.auto", d.Snapshot.Auto)
}

func isConfigNotFoundError(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return stderrors.As(err, &notFound)
}

func viperDecoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)
}

// Load reads the project config file when present and applies environment
// overrides.
func Load() (*Config, error) {
	return LoadFile(ProjectConfigPath())
}

// LoadFile reads configuration from path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	v := newViperInstance()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil && !isConfigNotFoundError(err) {
				return nil, errors.Wrapf(err, "failed to read config file %s", path)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return &cfg, nil
}
