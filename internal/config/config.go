package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "ECHO"

type Config struct {
	Port    int    `mapstructure:"-"`
	LocalID uint64 `mapstructure:"-"`

	Mode      string `mapstructure:"mode"`      // live|replay
	Transport string `mapstructure:"transport"` // tcp|websocket
	Framing   string `mapstructure:"framing"`   // raw|frame, tcp only
	WSPath    string `mapstructure:"ws_path"`
	MaxLength int    `mapstructure:"max_length"`

	RegistryBase uint64 `mapstructure:"registry_base"`

	Sink       string `mapstructure:"sink"`  // comma separated: log,redis,none
	Codec      string `mapstructure:"codec"` // json|protobuf, redis sink wire format
	SinkBuffer int    `mapstructure:"sink_buffer"`

	RedisAddr    string `mapstructure:"redis_addr"`
	RedisDB      int    `mapstructure:"redis_db"`
	ReplayStream string `mapstructure:"replay_stream"`
	ReplayGroup  string `mapstructure:"replay_group"`
	Consumer     string `mapstructure:"consumer"`
	ActionStream string `mapstructure:"action_stream"`

	// ReplayFile, when set, is a JSON lines trace fed into the queues at
	// start ("-" reads stdin).
	ReplayFile string `mapstructure:"replay_file"`

	// TraceOut, when set, appends every action as a JSON line to this file.
	TraceOut string `mapstructure:"trace_out"`

	MetricsAddr string `mapstructure:"metrics_addr"` // empty disables /metrics
	LogLevel    string `mapstructure:"log_level"`
}

// New returns a viper instance with defaults and ECHO_* environment binding.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("mode", "live")
	v.SetDefault("transport", "tcp")
	v.SetDefault("framing", "raw")
	v.SetDefault("ws_path", "/ws")
	v.SetDefault("max_length", 1024)
	v.SetDefault("registry_base", 1)
	v.SetDefault("sink", "log")
	v.SetDefault("codec", "json")
	v.SetDefault("sink_buffer", 4096)
	v.SetDefault("redis_addr", "127.0.0.1:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("replay_stream", "echo:replay")
	v.SetDefault("replay_group", "echo")
	v.SetDefault("consumer", "")
	v.SetDefault("action_stream", "echo:actions")
	v.SetDefault("replay_file", "")
	v.SetDefault("trace_out", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional config file and decodes v into a Config.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Sinks returns the configured sink names, lower-cased, without duplicates.
func (c *Config) Sinks() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range strings.Split(c.Sink, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Mode {
	case "live", "replay":
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	switch c.Transport {
	case "tcp", "websocket", "ws":
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	switch c.Framing {
	case "raw", "frame":
	default:
		errs = append(errs, fmt.Errorf("unknown framing %q", c.Framing))
	}
	if c.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("max_length must be positive"))
	}
	for _, s := range c.Sinks() {
		switch s {
		case "log", "redis", "none":
		default:
			errs = append(errs, fmt.Errorf("unknown sink %q", s))
		}
	}
	switch c.Codec {
	case "json", "protobuf", "pb":
	default:
		errs = append(errs, fmt.Errorf("unknown codec %q", c.Codec))
	}
	return errors.Join(errs...)
}

// NeedsRedis reports whether any component talks to redis.
func (c *Config) NeedsRedis() bool {
	if c.Mode == "replay" && c.ReplayFile == "" {
		return true
	}
	for _, s := range c.Sinks() {
		if s == "redis" {
			return true
		}
	}
	return false
}
