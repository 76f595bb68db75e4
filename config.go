// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package xfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("xfer: invalid config")

const (
	defaultOutputQueueSize = 10
	defaultMaxOutOfOrder   = 64
	defaultInFlightTimeout = 500 * time.Millisecond
)

// ReaderConfig configures a DataReader.
type ReaderConfig struct {
	// OutputQueueSize caps the shared output stream. Must be positive.
	OutputQueueSize int `toml:"output_queue_size"`
	// FeedCapacity sizes each channel's recv and send feeds.
	FeedCapacity int `toml:"feed_capacity"`
	// MaxOutOfOrder caps buffers held ahead of a channel's watermark.
	// At the cap only the buffer that extends the watermark is accepted;
	// others are dropped without an ack.
	MaxOutOfOrder int `toml:"max_out_of_order"`
}

// WriterConfig configures a DataWriter.
type WriterConfig struct {
	FeedCapacity int `toml:"feed_capacity"`
	// InFlightTimeout is how long a sent buffer may stay unacknowledged
	// before it is offered again.
	InFlightTimeout Duration `toml:"in_flight_timeout"`
}

// LogConfig configures the package logger built by NewLogger.
type LogConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

// BenchConfig drives cmd/xferbench.
type BenchConfig struct {
	Channels    int    `toml:"channels"`
	Messages    int    `toml:"messages"`
	PayloadSize int    `toml:"payload_size"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Config is the file-level configuration.
type Config struct {
	Job    string       `toml:"job"`
	Reader ReaderConfig `toml:"reader"`
	Writer WriterConfig `toml:"writer"`
	Log    LogConfig    `toml:"log"`
	Bench  BenchConfig  `toml:"bench"`
}

// Duration is a time.Duration decoded from a TOML string such as "500ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// DefaultReaderConfig returns the reader defaults.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		OutputQueueSize: defaultOutputQueueSize,
		FeedCapacity:    defaultFeedCapacity,
		MaxOutOfOrder:   defaultMaxOutOfOrder,
	}
}

// DefaultWriterConfig returns the writer defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		FeedCapacity:    defaultFeedCapacity,
		InFlightTimeout: Duration(defaultInFlightTimeout),
	}
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{
		Job:    "xfer",
		Reader: DefaultReaderConfig(),
		Writer: DefaultWriterConfig(),
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Bench: BenchConfig{
			Channels:    4,
			Messages:    100000,
			PayloadSize: 128,
		},
	}
}

// LoadConfig reads a TOML file and overlays the keys it defines onto
// DefaultConfig. The result is validated.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load xfer config: %w", err)
	}

	if meta.IsDefined("job") {
		cfg.Job = raw.Job
	}
	if meta.IsDefined("reader", "output_queue_size") {
		cfg.Reader.OutputQueueSize = raw.Reader.OutputQueueSize
	}
	if meta.IsDefined("reader", "feed_capacity") {
		cfg.Reader.FeedCapacity = raw.Reader.FeedCapacity
	}
	if meta.IsDefined("reader", "max_out_of_order") {
		cfg.Reader.MaxOutOfOrder = raw.Reader.MaxOutOfOrder
	}
	if meta.IsDefined("writer", "feed_capacity") {
		cfg.Writer.FeedCapacity = raw.Writer.FeedCapacity
	}
	if meta.IsDefined("writer", "in_flight_timeout") {
		cfg.Writer.InFlightTimeout = raw.Writer.InFlightTimeout
	}
	if meta.IsDefined("log", "level") {
		cfg.Log.Level = raw.Log.Level
	}
	if meta.IsDefined("log", "console") {
		cfg.Log.Console = raw.Log.Console
	}
	if meta.IsDefined("bench", "channels") {
		cfg.Bench.Channels = raw.Bench.Channels
	}
	if meta.IsDefined("bench", "messages") {
		cfg.Bench.Messages = raw.Bench.Messages
	}
	if meta.IsDefined("bench", "payload_size") {
		cfg.Bench.PayloadSize = raw.Bench.PayloadSize
	}
	if meta.IsDefined("bench", "metrics_addr") {
		cfg.Bench.MetricsAddr = raw.Bench.MetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load xfer config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if err := c.Reader.Validate(); err != nil {
		return err
	}
	if err := c.Writer.Validate(); err != nil {
		return err
	}
	if c.Bench.Channels < 0 || c.Bench.Messages < 0 || c.Bench.PayloadSize < 0 {
		return fmt.Errorf("%w: bench values must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Validate reports an unusable reader setting.
func (c ReaderConfig) Validate() error {
	if c.OutputQueueSize <= 0 {
		return fmt.Errorf("%w: reader.output_queue_size must be positive, got %d", ErrInvalidConfig, c.OutputQueueSize)
	}
	if c.FeedCapacity < 0 {
		return fmt.Errorf("%w: reader.feed_capacity must not be negative", ErrInvalidConfig)
	}
	if c.MaxOutOfOrder < 0 {
		return fmt.Errorf("%w: reader.max_out_of_order must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Validate reports an unusable writer setting.
func (c WriterConfig) Validate() error {
	if c.FeedCapacity < 0 {
		return fmt.Errorf("%w: writer.feed_capacity must not be negative", ErrInvalidConfig)
	}
	if c.InFlightTimeout <= 0 {
		return fmt.Errorf("%w: writer.in_flight_timeout must be positive", ErrInvalidConfig)
	}
	return nil
}
