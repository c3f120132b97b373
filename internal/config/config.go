// Package config loads settings for the simulator CLI and the engine server.
//
// Sources, later overriding earlier:
//  1. built-in defaults
//  2. a YAML file (explicit path, or config.yaml in ., ./configs, $HOME/.pipenet)
//  3. environment variables with the PIPENET_ prefix, e.g. PIPENET_SERVER_GRPC_ADDR
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/pipenet-simulator/internal/logging"
	"github.com/signalsfoundry/pipenet-simulator/internal/observability"
	"github.com/signalsfoundry/pipenet-simulator/model"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "PIPENET"

// Config is the root configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Server  ServerConfig  `mapstructure:"server"`
	Publish PublishConfig `mapstructure:"publish"`
	Engine  EngineConfig  `mapstructure:"engine"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// MetricsConfig controls the Prometheus /metrics listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	Exporter    string  `mapstructure:"exporter" validate:"oneof=stdout otlp otlpgrpc"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
}

type ServerConfig struct {
	GRPCAddr        string        `mapstructure:"grpc_addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// MaxSessions bounds concurrently open sessions; zero means unlimited.
	MaxSessions int `mapstructure:"max_sessions" validate:"gte=0"`
}

// PublishConfig controls the step event publisher.
type PublishConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url" validate:"required_if=Enabled true"`
}

// EngineConfig overrides solver options of every loaded network. Zero
// values keep what the network file specifies.
type EngineConfig struct {
	Trials            int     `mapstructure:"trials" validate:"gte=0"`
	Accuracy          float64 `mapstructure:"accuracy" validate:"gte=0"`
	Unbalanced        string  `mapstructure:"unbalanced" validate:"omitempty,oneof=stop continue"`
	ExtraTrials       int     `mapstructure:"extra_trials" validate:"gte=0"`
	MaxControlRetries int     `mapstructure:"max_control_retries" validate:"gte=0"`
	Strict            bool    `mapstructure:"strict"`
	SegmentCapacity   int     `mapstructure:"segment_capacity" validate:"gte=0"`
}

// Load reads configuration from cfgFile, or searches the default locations
// when cfgFile is empty, then applies environment overrides.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.pipenet")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "pipenet-engine")
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("server.grpc_addr", "localhost:50061")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_sessions", 0)

	v.SetDefault("publish.enabled", false)
	v.SetDefault("publish.url", "")

	v.SetDefault("engine.trials", 0)
	v.SetDefault("engine.accuracy", 0.0)
	v.SetDefault("engine.unbalanced", "")
	v.SetDefault("engine.extra_trials", 0)
	v.SetDefault("engine.max_control_retries", 0)
	v.SetDefault("engine.strict", false)
	v.SetDefault("engine.segment_capacity", 0)
}

var validate = validator.New()

// Validate checks struct constraints and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// LoggingOptions converts the logging section.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format, Output: os.Stderr}
}

// TracingOptions converts the tracing section.
func (c *Config) TracingOptions() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}

// Apply overrides the solver options of a loaded network.
func (e EngineConfig) Apply(opts *model.Options) {
	if e.Trials > 0 {
		opts.Trials = e.Trials
	}
	if e.Accuracy > 0 {
		opts.Accuracy = e.Accuracy
	}
	switch e.Unbalanced {
	case "stop":
		opts.ExtraTrials = -1
	case "continue":
		opts.ExtraTrials = e.ExtraTrials
	}
	if e.MaxControlRetries > 0 {
		opts.MaxControlRetries = e.MaxControlRetries
	}
	if e.Strict {
		opts.Strict = true
	}
	if e.SegmentCapacity > 0 {
		opts.Quality.SegmentCapacity = e.SegmentCapacity
	}
}
