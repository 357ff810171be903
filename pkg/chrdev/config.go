// Package chrdev registers character device nodes over a globalmem shared
// buffer and drives their lifecycle.
package chrdev

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/srediag/plugin-chrdev/internal/shm"
)

const (
	defaultName   = "globalmem"
	defaultMinors = 2

	maxNameLength = 64
	// linux dev_t reserves 20 bits for the minor number
	maxMinor = 1<<20 - 1
)

// Config is used to tune the character device module.
type Config struct {
	// Name is the registration name and the prefix of every device node.
	Name string `mapstructure:"name" yaml:"name"`

	// MinorStart is the first minor number handed out by the registration.
	MinorStart uint32 `mapstructure:"minor_start" yaml:"minor_start"`

	// Minors is the number of device identities registered against the shared buffer.
	Minors int `mapstructure:"minors" yaml:"minors"`

	// MaxSessions bounds simultaneously open sessions. Zero means unbounded.
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`

	// Backing is "heap" or "mmap".
	Backing string `mapstructure:"backing" yaml:"backing"`

	// LogLevel overrides the internal logger level when not empty.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// MinAvailableMemory is the free system memory in bytes below which the module reports not ready.
	// Zero disables the check.
	MinAvailableMemory uint64 `mapstructure:"min_available_memory" yaml:"min_available_memory"`
}

// DefaultConfig is used to return a default configuration
func DefaultConfig() *Config {
	return &Config{
		Name:    defaultName,
		Minors:  defaultMinors,
		Backing: string(shm.BackingHeap),
	}
}

// VerifyConfig is used to verify the sanity of configuration
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("nil config")
	}
	if config.Name == "" {
		return errors.New("device name must not be empty")
	}
	if len(config.Name) > maxNameLength {
		return errors.Errorf("device name longer than %d bytes", maxNameLength)
	}
	if strings.ContainsAny(config.Name, "/\x00") || strings.TrimSpace(config.Name) != config.Name {
		return errors.Errorf("invalid device name %q", config.Name)
	}
	if config.Minors <= 0 {
		return errors.Errorf("minors must be positive, got %d", config.Minors)
	}
	if uint64(config.MinorStart)+uint64(config.Minors)-1 > maxMinor {
		return errors.Errorf("minor range %d+%d exceeds %d", config.MinorStart, config.Minors, maxMinor)
	}
	if config.MaxSessions < 0 {
		return errors.Errorf("max sessions must not be negative, got %d", config.MaxSessions)
	}
	if _, err := shm.ParseBacking(config.Backing); err != nil {
		return err
	}
	if config.LogLevel != "" {
		if _, err := parseLogLevel(config.LogLevel); err != nil {
			return err
		}
	}
	return nil
}
