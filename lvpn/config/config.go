// Package config loads tunnel settings from defaults, a YAML file and
// LVPN_* environment variables. Every load uses its own viper instance so
// several tunnels can coexist in one process.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/viper"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/key"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/session"
	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/stats"
)

const (
	DefaultPort = 8989
	EnvPrefix   = "LVPN"
	BaseDirName = ".lvpn"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the explicit configuration value handed to a Manager.
type Config struct {
	Port          int    `mapstructure:"port" yaml:"port"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
	// Transport is "tcp" or "quic".
	Transport string `mapstructure:"transport" yaml:"transport"`

	ConnectTimeout       time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	DeadPeerMultiplier   int           `mapstructure:"dead_peer_multiplier" yaml:"dead_peer_multiplier"`
	BackoffBase          time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax           time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
	QueueCapacity        int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	EventLogCapacity     int           `mapstructure:"event_log_capacity" yaml:"event_log_capacity"`
	DrainTimeout         time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
	Compression          bool          `mapstructure:"compression" yaml:"compression"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	// Key is the shared secret as 64 hex digits. Optional; it can also be
	// passed to Connect directly.
	Key string `mapstructure:"key" yaml:"key,omitempty"`
}

func Defaults() Config {
	return Config{
		Port:                 DefaultPort,
		ListenAddress:        "0.0.0.0",
		Transport:            "tcp",
		ConnectTimeout:       10 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		HeartbeatInterval:    15 * time.Second,
		DeadPeerMultiplier:   3,
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
		MaxReconnectAttempts: 5,
		QueueCapacity:        256,
		EventLogCapacity:     stats.DefaultEventCapacity,
		DrainTimeout:         2 * time.Second,
		Compression:          false,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// BaseDir is $HOME/.lvpn, falling back to the working directory.
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return BaseDirName
	}
	return filepath.Join(home, BaseDirName)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("port", d.Port)
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("handshake_timeout", d.HandshakeTimeout)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("dead_peer_multiplier", d.DeadPeerMultiplier)
	v.SetDefault("backoff_base", d.BackoffBase)
	v.SetDefault("backoff_max", d.BackoffMax)
	v.SetDefault("max_reconnect_attempts", d.MaxReconnectAttempts)
	v.SetDefault("queue_capacity", d.QueueCapacity)
	v.SetDefault("event_log_capacity", d.EventLogCapacity)
	v.SetDefault("drain_timeout", d.DrainTimeout)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("key", "")
}

// Load reads file (or BaseDir()/config.yaml when file is empty) into v and
// returns the validated result. A missing default file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(BaseDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, oops.In("config").With("file", file).Wrapf(err, "read config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, oops.In("config").Wrapf(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	invalid := func(field string, value any) error {
		return oops.In("config").With("field", field, "value", value).Wrapf(ErrInvalidConfig, "%s=%v", field, value)
	}
	switch {
	case c.Port < 0 || c.Port > 65535:
		return invalid("port", c.Port)
	case c.Transport != "tcp" && c.Transport != "quic":
		return invalid("transport", c.Transport)
	case c.ConnectTimeout <= 0:
		return invalid("connect_timeout", c.ConnectTimeout)
	case c.HandshakeTimeout <= 0:
		return invalid("handshake_timeout", c.HandshakeTimeout)
	case c.HeartbeatInterval <= 0:
		return invalid("heartbeat_interval", c.HeartbeatInterval)
	case c.DeadPeerMultiplier < 2:
		return invalid("dead_peer_multiplier", c.DeadPeerMultiplier)
	case c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase:
		return invalid("backoff_max", c.BackoffMax)
	case c.MaxReconnectAttempts <= 0:
		return invalid("max_reconnect_attempts", c.MaxReconnectAttempts)
	case c.QueueCapacity <= 0:
		return invalid("queue_capacity", c.QueueCapacity)
	case c.EventLogCapacity <= 0:
		return invalid("event_log_capacity", c.EventLogCapacity)
	case c.DrainTimeout <= 0:
		return invalid("drain_timeout", c.DrainTimeout)
	}
	if c.Key != "" {
		if _, err := key.ParseHex(c.Key); err != nil {
			return oops.In("config").With("field", "key").Wrapf(err, "key")
		}
	}
	return nil
}

// ParsedKey returns the configured key, or an unset Key when none is configured.
func (c Config) ParsedKey() (key.Key, error) {
	if c.Key == "" {
		return key.Key{}, nil
	}
	return key.ParseHex(c.Key)
}

func (c Config) SessionOptions() session.Options {
	return session.Options{
		ConnectTimeout:       c.ConnectTimeout,
		HandshakeTimeout:     c.HandshakeTimeout,
		WriteTimeout:         c.HandshakeTimeout,
		HeartbeatInterval:    c.HeartbeatInterval,
		DeadPeerMultiplier:   c.DeadPeerMultiplier,
		BackoffBase:          c.BackoffBase,
		BackoffMax:           c.BackoffMax,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		QueueCapacity:        c.QueueCapacity,
		EventLogCapacity:     c.EventLogCapacity,
		DrainTimeout:         c.DrainTimeout,
		Compression:          c.Compression,
	}
}
