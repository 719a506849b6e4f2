// Package config loads server and client settings from an optional file and WSRPC_*
// environment variables.
package config

import (
	"strings"
	"time"

	"github.com/nuclio/errors"
	"github.com/spf13/viper"

	"wsrpc/logger"
)

const EnvPrefix = "WSRPC"

// ServerConfig configures a served endpoint
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Path            string        `mapstructure:"path"`
	Codec           string        `mapstructure:"codec"`
	Workers         int           `mapstructure:"workers"`
	Rate            float64       `mapstructure:"rate"` // requests per second, 0 disables limiting
	Burst           int           `mapstructure:"burst"`
	HandlerTimeout  time.Duration `mapstructure:"handlerTimeout"`
	Service         string        `mapstructure:"service"`
	AdvertiseURL    string        `mapstructure:"advertiseURL"`
	EtcdEndpoints   []string      `mapstructure:"etcdEndpoints"`
	RegistryTTL     int64         `mapstructure:"registryTTL"` // seconds
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	MetricsPath     string        `mapstructure:"metricsPath"` // empty disables the prometheus endpoint
	Log             logger.Config `mapstructure:"log"`
}

// ClientConfig configures a calling endpoint
type ClientConfig struct {
	URL           string        `mapstructure:"url"`
	Codec         string        `mapstructure:"codec"`
	CallTimeout   time.Duration `mapstructure:"callTimeout"`
	Service       string        `mapstructure:"service"`
	Balancer      string        `mapstructure:"balancer"`
	BalanceKey    string        `mapstructure:"balanceKey"` // consistent_hash only
	EtcdEndpoints []string      `mapstructure:"etcdEndpoints"`
	DialTimeout   time.Duration `mapstructure:"dialTimeout"`
	Log           logger.Config `mapstructure:"log"`
}

// DefaultServer returns the server defaults
func DefaultServer() ServerConfig {
	return ServerConfig{
		Addr:            ":3498",
		Path:            "/",
		Codec:           "json",
		Workers:         256,
		RegistryTTL:     10,
		ShutdownTimeout: 5 * time.Second,
		EtcdEndpoints:   []string{},
		Log:             *logger.DefaultConfig(),
	}
}

// DefaultClient returns the client defaults
func DefaultClient() ClientConfig {
	return ClientConfig{
		URL:           "ws://localhost:3498/",
		Codec:         "json",
		Balancer:      "round_robin",
		DialTimeout:   5 * time.Second,
		EtcdEndpoints: []string{},
		Log:           *logger.DefaultConfig(),
	}
}

// LoadServer reads the server configuration. path may be empty, in which case only the
// defaults and the environment apply.
func LoadServer(path string) (ServerConfig, error) {
	defaults := DefaultServer()
	v := newViper(map[string]any{
		"addr":            defaults.Addr,
		"path":            defaults.Path,
		"codec":           defaults.Codec,
		"workers":         defaults.Workers,
		"rate":            defaults.Rate,
		"burst":           defaults.Burst,
		"handlerTimeout":  defaults.HandlerTimeout,
		"service":         defaults.Service,
		"advertiseURL":    defaults.AdvertiseURL,
		"etcdEndpoints":   defaults.EtcdEndpoints,
		"registryTTL":     defaults.RegistryTTL,
		"shutdownTimeout": defaults.ShutdownTimeout,
		"metricsPath":     defaults.MetricsPath,
	}, defaults.Log)

	var cfg ServerConfig
	if err := read(v, path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	if cfg.Workers <= 0 {
		return ServerConfig{}, errors.New("workers must be positive")
	}
	return cfg, nil
}

// LoadClient reads the client configuration
func LoadClient(path string) (ClientConfig, error) {
	defaults := DefaultClient()
	v := newViper(map[string]any{
		"url":           defaults.URL,
		"codec":         defaults.Codec,
		"callTimeout":   defaults.CallTimeout,
		"service":       defaults.Service,
		"balancer":      defaults.Balancer,
		"balanceKey":    defaults.BalanceKey,
		"etcdEndpoints": defaults.EtcdEndpoints,
		"dialTimeout":   defaults.DialTimeout,
	}, defaults.Log)

	var cfg ClientConfig
	if err := read(v, path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func newViper(defaults map[string]any, log logger.Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetDefault("log.level", log.Level)
	v.SetDefault("log.format", log.Format)
	v.SetDefault("log.timeFormat", log.TimeFormat)
	v.SetDefault("log.output", log.Output)
	return v
}

func read(v *viper.Viper, path string, out any) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "Failed to read configuration from %s", path)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return errors.Wrap(err, "Failed to decode configuration")
	}
	return nil
}
