package commands

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/srediag/plugin-chrdev/pkg/chrdev"
	"github.com/srediag/plugin-chrdev/pkg/transport"
)

// EnvPrefix prefixes every environment override, e.g. GLOBALMEM_DEVICE_MINORS.
const EnvPrefix = "GLOBALMEM"

// Config is the daemon configuration.
type Config struct {
	// Listen is the TCP address of the HTTP surface.
	Listen string `mapstructure:"listen" yaml:"listen"`
	// ListenTimeout bounds how long serve waits for a busy address.
	ListenTimeout time.Duration `mapstructure:"listen_timeout" yaml:"listen_timeout"`
	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Device    chrdev.Config    `mapstructure:"device" yaml:"device"`
	Transport transport.Config `mapstructure:"transport" yaml:"transport"`
}

// DefaultConfig returns the configuration used when no file or environment
// override is given.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:7070",
		ListenTimeout:   10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Device:          *chrdev.DefaultConfig(),
		Transport:       transport.DefaultConfig(),
	}
}

// LoadConfig loads configuration from defaults, the optional YAML file at
// path and GLOBALMEM_* environment variables, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errors.Wrap(err, "configuration file")
		}
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read configuration %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}
	if err := chrdev.VerifyConfig(&cfg.Device); err != nil {
		return nil, errors.WithMessage(err, "invalid device configuration")
	}
	if cfg.Listen == "" {
		return nil, errors.New("listen address must not be empty")
	}
	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("listen", def.Listen)
	v.SetDefault("listen_timeout", def.ListenTimeout)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)

	v.SetDefault("device.name", def.Device.Name)
	v.SetDefault("device.minor_start", def.Device.MinorStart)
	v.SetDefault("device.minors", def.Device.Minors)
	v.SetDefault("device.max_sessions", def.Device.MaxSessions)
	v.SetDefault("device.backing", def.Device.Backing)
	v.SetDefault("device.log_level", def.Device.LogLevel)
	v.SetDefault("device.min_available_memory", def.Device.MinAvailableMemory)

	v.SetDefault("transport.queue_cap", def.Transport.QueueCap)
	v.SetDefault("transport.workers", def.Transport.Workers)
	v.SetDefault("transport.stop_timeout", def.Transport.StopTimeout)
}
