package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syssam/forge/compiler/compile"
	"github.com/syssam/forge/compiler/gen"
)

// Config holds the settings of a Builder.
type Config struct {
	// ApplicationName names the generated assembly. It is required.
	ApplicationName string
	// Strategy compiles the generated pipelines. Nil means the in-memory
	// interpreter.
	Strategy gen.CompileStrategy
	// Logger is the parent of every request logger and receives build
	// logs.
	Logger *slog.Logger
	// Metrics records operation outcomes. Nil disables them.
	Metrics *Metrics
	// GenOptions are applied to the generation rules.
	GenOptions []gen.Option
}

// Option configures a Config.
type Option func(*Config) error

// WithApplicationName sets the application name.
func WithApplicationName(name string) Option {
	return func(c *Config) error {
		if strings.TrimSpace(name) == "" {
			return gen.NewConfigError("ApplicationName", nil, "application name cannot be empty")
		}
		c.ApplicationName = name
		return nil
	}
}

// WithStrategy sets the compile strategy.
func WithStrategy(s gen.CompileStrategy) Option {
	return func(c *Config) error {
		if s == nil {
			return gen.NewConfigError("Strategy", nil, "compile strategy cannot be nil")
		}
		c.Strategy = s
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		if l == nil {
			return gen.NewConfigError("Logger", nil, "logger cannot be nil")
		}
		c.Logger = l
		return nil
	}
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) error {
		if m == nil {
			return gen.NewConfigError("Metrics", nil, "metrics cannot be nil")
		}
		c.Metrics = m
		return nil
	}
}

// WithGenerationOptions adds options for the generation rules.
func WithGenerationOptions(opts ...gen.Option) Option {
	return func(c *Config) error {
		c.GenOptions = append(c.GenOptions, opts...)
		return nil
	}
}

// Apply applies options to the config.
// It returns the first error encountered.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAll applies options and collects all errors.
func (c *Config) ApplyAll(opts ...Option) error {
	var errs []error
	for _, opt := range opts {
		if err := opt(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewConfig returns a config with the options applied.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{Logger: slog.New(slog.DiscardHandler)}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// FileConfig is the YAML form of a Config.
//
//	application: orders
//	log:
//	  level: debug
//	  format: json
//	compile:
//	  strategy: plugin
//	  dir: /var/cache/orders
//	  module_root: /src/orders
//	  store: sqlite
type FileConfig struct {
	Application string `yaml:"application"`
	Log         struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Compile struct {
		Strategy   string `yaml:"strategy"`
		Dir        string `yaml:"dir"`
		ModuleRoot string `yaml:"module_root"`
		Store      string `yaml:"store"`
	} `yaml:"compile"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read config: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("pipeline: parse config %s: %w", path, err)
	}
	return &fc, nil
}

// Options converts the file config to builder options. Log output goes to
// w.
func (fc *FileConfig) Options(w io.Writer) ([]Option, error) {
	logger, err := NewLogger(fc.Log.Level, fc.Log.Format, w)
	if err != nil {
		return nil, err
	}
	opts := []Option{WithLogger(logger)}
	if fc.Application != "" {
		opts = append(opts, WithApplicationName(fc.Application))
	}
	switch fc.Compile.Strategy {
	case "", "interpreter":
		in := compile.NewInterpreter()
		in.Logger = logger
		opts = append(opts, WithStrategy(in))
	case "plugin":
		p, err := fc.plugin(logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStrategy(p))
	default:
		return nil, gen.NewConfigError("compile.strategy", fc.Compile.Strategy, "strategy must be interpreter or plugin")
	}
	return opts, nil
}

func (fc *FileConfig) plugin(logger *slog.Logger) (*compile.Plugin, error) {
	opts := []compile.PluginOption{
		compile.WithPluginLogger(logger),
		compile.WithToolchain(compile.GoToolchain{ModuleRoot: fc.Compile.ModuleRoot}),
	}
	switch fc.Compile.Store {
	case "", "manifest":
	case "sqlite":
		if fc.Compile.Dir == "" {
			return nil, gen.NewConfigError("compile.dir", nil, "plugin directory cannot be empty")
		}
		if err := os.MkdirAll(fc.Compile.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("pipeline: create plugin directory: %w", err)
		}
		store, err := compile.OpenSQLite(filepath.Join(fc.Compile.Dir, "artifacts.db"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, compile.WithStore(store))
	default:
		return nil, gen.NewConfigError("compile.store", fc.Compile.Store, "store must be manifest or sqlite")
	}
	return compile.NewPlugin(fc.Compile.Dir, opts...)
}

// NewLogger returns a logger writing text or json records at level.
func NewLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, gen.NewConfigError("log.level", level, "unknown log level")
		}
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, gen.NewConfigError("log.format", format, "format must be text or json")
	}
}
