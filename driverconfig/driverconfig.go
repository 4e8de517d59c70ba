// Package driverconfig loads the core's tunables (spec.md §6: per-queue
// capacity, max in-flight streams, flush back-off threshold and interval,
// frame body length maximum, TLS, compression) from file, environment, or
// defaults using spf13/viper and mitchellh/mapstructure — the same stack
// nabbar-golib uses for its own configuration surface.
package driverconfig

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named in spec.md §6.
type Config struct {
	QueueCapacity       int           `mapstructure:"queue_capacity"`
	MaxInFlightStreams  int           `mapstructure:"max_in_flight_streams"`
	FlushBackoffRounds  int           `mapstructure:"flush_backoff_rounds"`
	FlushBackoffDelay   time.Duration `mapstructure:"flush_backoff_delay"`
	MaxFrameBodyLength  uint32        `mapstructure:"max_frame_body_length"`
	Compression         string        `mapstructure:"compression"`
	TLSEnabled          bool          `mapstructure:"tls_enabled"`
	TLSServerName       string        `mapstructure:"tls_server_name"`
	ProtocolVersion     string        `mapstructure:"protocol_version"`
}

// Defaults matches the spec's suggested defaults: queue capacity a power
// of two, 128 max in-flight streams, back-off threshold 4 rounds at 1ms.
func Defaults() Config {
	return Config{
		QueueCapacity:      16384,
		MaxInFlightStreams: 128,
		FlushBackoffRounds: 4,
		FlushBackoffDelay:  time.Millisecond,
		MaxFrameBodyLength: 256 * 1024 * 1024,
		Compression:        "",
		ProtocolVersion:    "3.0.0",
	}
}

// Load builds a Config from Defaults(), then overlays values found by v —
// typically a *viper.Viper already pointed at a config file and/or
// environment prefix via viper.SetConfigFile/viper.SetEnvPrefix. A zero
// value *viper.Viper (no file read, no env bound) yields Defaults()
// unchanged.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	cfg := Defaults()
	bindDefaults(v, cfg)

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("driverconfig: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper, d Config) {
	v.SetDefault("queue_capacity", d.QueueCapacity)
	v.SetDefault("max_in_flight_streams", d.MaxInFlightStreams)
	v.SetDefault("flush_backoff_rounds", d.FlushBackoffRounds)
	v.SetDefault("flush_backoff_delay", d.FlushBackoffDelay)
	v.SetDefault("max_frame_body_length", d.MaxFrameBodyLength)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("tls_enabled", d.TLSEnabled)
	v.SetDefault("tls_server_name", d.TLSServerName)
	v.SetDefault("protocol_version", d.ProtocolVersion)
}

// Validate rejects tunable combinations the core's invariants can't honor.
func (c Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("driverconfig: queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.MaxInFlightStreams <= 0 || c.MaxInFlightStreams > 128 {
		return fmt.Errorf("driverconfig: max_in_flight_streams must be in (0, 128], got %d", c.MaxInFlightStreams)
	}
	if c.FlushBackoffRounds < 0 {
		return fmt.Errorf("driverconfig: flush_backoff_rounds must be non-negative, got %d", c.FlushBackoffRounds)
	}
	switch c.Compression {
	case "", "snappy", "lz4":
	default:
		return fmt.Errorf("driverconfig: unsupported compression %q", c.Compression)
	}
	return nil
}
