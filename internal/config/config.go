package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"labstream/internal/logger"
	"labstream/internal/stream"
)

// Stream transport types.
const (
	StreamSSE   = "sse"
	StreamRedis = "redis"
	StreamFile  = "file"
	StreamPoll  = "poll"
)

// Config holds the watcher configuration.
type Config struct {
	TaskName   string          `yaml:"taskName"`
	Stream     StreamConfig    `yaml:"stream"`
	Label      LabelConfig     `yaml:"label"`
	Station    StationConfig   `yaml:"station"`
	Render     RenderConfig    `yaml:"render"`
	Dashboard  DashboardConfig `yaml:"dashboard"`
	Log        LogConfig       `yaml:"log"`
	StateDir   string          `yaml:"stateDir"`
	StatusFile string          `yaml:"statusFile"`

	path         string
	stateDirPath string
	statusPath   string
}

// StreamConfig selects and configures the message transport.
type StreamConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Redis   RedisConfig       `yaml:"redis"`
	File    FileConfig        `yaml:"file"`
	Poll    PollConfig        `yaml:"poll"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	Codec    string `yaml:"codec"`
}

type FileConfig struct {
	Path       string `yaml:"path"`
	IntervalMs int    `yaml:"intervalMs"`
}

// PollConfig paces get_updates calls for type poll.
type PollConfig struct {
	IntervalMs int `yaml:"intervalMs"`
}

// StationConfig points at the station API serving the queue overview and
// run tables. Empty url disables both dashboard panels.
type StationConfig struct {
	URL            string `yaml:"url"`
	RefreshSeconds int    `yaml:"refreshSeconds"`
}

// LabelConfig configures parameter label lookups. Lookups are enabled by
// default whenever url is set.
type LabelConfig struct {
	URL            string   `yaml:"url"`
	Enabled        *Boolish `yaml:"enabled"`
	QPS            float64  `yaml:"qps"`
	Burst          int      `yaml:"burst"`
	TimeoutSeconds int      `yaml:"timeoutSeconds"`
}

// RenderConfig extends the built-in observable to renderer table.
type RenderConfig struct {
	Progress []string `yaml:"progress"`
	TextLog  []string `yaml:"textlog"`
}

type DashboardConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Dir     string   `yaml:"dir"`
	Level   string   `yaml:"level"`
	Console *Boolish `yaml:"console"`
}

// Boolish accepts true/false or quoted "true"/"false".
type Boolish bool

// UnmarshalYAML allows bool values represented as strings.
func (b *Boolish) UnmarshalYAML(value *yaml.Node) error {
	var bv bool
	if err := value.Decode(&bv); err == nil {
		*b = Boolish(bv)
		return nil
	}
	var sv string
	if err := value.Decode(&sv); err == nil {
		switch strings.ToLower(strings.TrimSpace(sv)) {
		case "true", "yes", "on", "1":
			*b = true
			return nil
		case "false", "no", "off", "0":
			*b = false
			return nil
		}
	}
	return fmt.Errorf("line %d: cannot decode %q as bool", value.Line, value.Value)
}

func boolOr(b *Boolish, def bool) bool {
	if b == nil {
		return def
	}
	return bool(*b)
}

// ValidationError collects configuration issues.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	builder := strings.Builder{}
	builder.WriteString("config validation failed:")
	if e.Path != "" {
		builder.WriteString(" ")
		builder.WriteString(e.Path)
	}
	for _, err := range e.Errors {
		builder.WriteString("\n - ")
		builder.WriteString(err)
	}
	return builder.String()
}

// Load reads a configuration file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", absPath, err)
	}
	cfg.path = absPath
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolveStateDir()
	return cfg, nil
}

// Parse decodes YAML without applying defaults. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with defaults applied, rooted at the
// working directory. Used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	if wd, err := os.Getwd(); err == nil {
		cfg.path = filepath.Join(wd, "labstream.yaml")
	}
	cfg.ApplyDefaults()
	cfg.resolveStateDir()
	return cfg
}

// ApplyDefaults populates default values.
func (c *Config) ApplyDefaults() {
	if c.TaskName == "" {
		c.TaskName = "labstream"
	}
	if c.Stream.Type == "" {
		c.Stream.Type = StreamSSE
	}
	c.Stream.Type = strings.ToLower(c.Stream.Type)
	if c.Stream.Redis.Addr == "" {
		c.Stream.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Stream.Redis.Channel == "" {
		c.Stream.Redis.Channel = "labstream:updates"
	}
	if c.Stream.Redis.Codec == "" {
		c.Stream.Redis.Codec = string(stream.CodecNone)
	}
	if c.Stream.Poll.IntervalMs == 0 {
		c.Stream.Poll.IntervalMs = 1000
	}
	if c.Station.RefreshSeconds == 0 {
		c.Station.RefreshSeconds = 10
	}
	if c.Label.QPS == 0 {
		c.Label.QPS = 5
	}
	if c.Label.Burst == 0 {
		c.Label.Burst = 5
	}
	if c.Label.TimeoutSeconds == 0 {
		c.Label.TimeoutSeconds = 10
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.StateDir == "" {
		c.StateDir = "state"
	}
	if c.StatusFile == "" {
		c.StatusFile = "state/status.json"
	}
}

// Validate ensures config is usable.
func (c *Config) Validate() error {
	var errs []string

	switch c.Stream.Type {
	case StreamSSE, StreamPoll:
		if c.Stream.URL == "" {
			errs = append(errs, fmt.Sprintf("stream.url is required for type %s", c.Stream.Type))
		}
		if c.Stream.Poll.IntervalMs < 0 {
			errs = append(errs, "stream.poll.intervalMs must be >= 0")
		}
	case StreamRedis:
		if c.Stream.Redis.Channel == "" {
			errs = append(errs, "stream.redis.channel is required for type redis")
		}
		if c.Stream.Redis.DB < 0 {
			errs = append(errs, "stream.redis.db must be >= 0")
		}
	case StreamFile:
		if c.Stream.File.Path == "" {
			errs = append(errs, "stream.file.path is required for type file")
		}
		if c.Stream.File.IntervalMs < 0 {
			errs = append(errs, "stream.file.intervalMs must be >= 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("stream.type %q is not one of sse, poll, redis, file", c.Stream.Type))
	}
	if _, err := stream.ParseCodec(c.Stream.Redis.Codec); err != nil {
		errs = append(errs, "stream.redis.codec: "+err.Error())
	}

	if c.Station.RefreshSeconds < 0 {
		errs = append(errs, "station.refreshSeconds must be >= 0")
	}
	if c.Label.QPS < 0 {
		errs = append(errs, "label.qps must be >= 0")
	}
	if c.Label.Burst < 0 {
		errs = append(errs, "label.burst must be >= 0")
	}
	if c.Label.TimeoutSeconds < 0 {
		errs = append(errs, "label.timeoutSeconds must be >= 0")
	}
	if boolOr(c.Label.Enabled, false) && c.Label.URL == "" {
		errs = append(errs, "label.url is required when label.enabled is true")
	}

	seen := make(map[string]bool, len(c.Render.Progress))
	for _, name := range c.Render.Progress {
		seen[name] = true
	}
	for _, name := range c.Render.TextLog {
		if seen[name] {
			errs = append(errs, fmt.Sprintf("render: %q is listed as both progress and textlog", name))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if len(errs) > 0 {
		return &ValidationError{Path: c.path, Errors: errs}
	}
	return nil
}

func (c *Config) resolveStateDir() {
	c.stateDirPath = c.ResolvePath(c.StateDir)
	c.statusPath = c.ResolvePath(c.StatusFile)
}

// Path returns the absolute path of the loaded file.
func (c *Config) Path() string {
	return c.path
}

// ResolveStateDir returns absolute state directory.
func (c *Config) ResolveStateDir() string {
	return c.stateDirPath
}

// StatusFilePath returns absolute path to status file.
func (c *Config) StatusFilePath() string {
	return c.statusPath
}

// LogDir returns the absolute log directory.
func (c *Config) LogDir() string {
	return c.ResolvePath(c.Log.Dir)
}

// LogLevel returns the configured logger level.
func (c *Config) LogLevel() logger.Level {
	return logger.ParseLevel(c.Log.Level)
}

// ConsoleEnabled reports whether WARN+ records are mirrored to the console.
func (c *Config) ConsoleEnabled() bool {
	return boolOr(c.Log.Console, true)
}

// LabelsEnabled reports whether label lookups should run.
func (c *Config) LabelsEnabled() bool {
	return c.Label.URL != "" && boolOr(c.Label.Enabled, true)
}

// LabelTimeout returns the per-request label timeout.
func (c *Config) LabelTimeout() time.Duration {
	return time.Duration(c.Label.TimeoutSeconds) * time.Second
}

// ReplayInterval returns the pause between replayed messages.
func (c *Config) ReplayInterval() time.Duration {
	return time.Duration(c.Stream.File.IntervalMs) * time.Millisecond
}

// PollInterval returns the pause between get_updates calls.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Stream.Poll.IntervalMs) * time.Millisecond
}

// StationRefresh returns how often the station overview and run tables are
// refreshed.
func (c *Config) StationRefresh() time.Duration {
	return time.Duration(c.Station.RefreshSeconds) * time.Second
}

// RedisOptions converts the redis section for the stream package.
func (c *Config) RedisOptions() stream.RedisOptions {
	codec, _ := stream.ParseCodec(c.Stream.Redis.Codec)
	return stream.RedisOptions{
		Addr:     c.Stream.Redis.Addr,
		Password: c.Stream.Redis.Password,
		DB:       c.Stream.Redis.DB,
		Channel:  c.Stream.Redis.Channel,
		Codec:    codec,
	}
}

// EnsureStateDir makes sure state directory exists.
func (c *Config) EnsureStateDir() error {
	if err := os.MkdirAll(c.stateDirPath, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(filepath.Dir(c.statusPath), 0o755)
}

func (c *Config) endpoint() string {
	switch c.Stream.Type {
	case StreamRedis:
		return fmt.Sprintf("redis://%s/%d %s (codec=%s)",
			c.Stream.Redis.Addr, c.Stream.Redis.DB, c.Stream.Redis.Channel, c.Stream.Redis.Codec)
	case StreamFile:
		return c.ResolvePath(c.Stream.File.Path)
	case StreamPoll:
		return fmt.Sprintf("%s (every %s)", c.Stream.URL, c.PollInterval())
	default:
		return c.Stream.URL
	}
}

// Summary returns concise overview.
func (c *Config) Summary() string {
	return fmt.Sprintf("task=%s, stream=%s@%s, labels=%v, stateDir=%s, statusFile=%s",
		c.TaskName, c.Stream.Type, c.endpoint(), c.LabelsEnabled(),
		c.ResolveStateDir(), c.StatusFilePath())
}

// PrettySummary returns a multi-line summary with emojis.
func (c *Config) PrettySummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "  🧪 task      : %s\n", c.TaskName)
	fmt.Fprintf(&b, "  📡 stream    : %s @ %s\n", c.Stream.Type, c.endpoint())
	if c.LabelsEnabled() {
		fmt.Fprintf(&b, "  🏷️ labels    : %s (%.1f/s)\n", c.Label.URL, c.Label.QPS)
	} else {
		fmt.Fprintf(&b, "  🏷️ labels    : disabled\n")
	}
	if len(c.Render.Progress)+len(c.Render.TextLog) > 0 {
		progress := append([]string(nil), c.Render.Progress...)
		textlog := append([]string(nil), c.Render.TextLog...)
		sort.Strings(progress)
		sort.Strings(textlog)
		fmt.Fprintf(&b, "  📊 render    : progress=%v textlog=%v\n", progress, textlog)
	}
	if c.Station.URL != "" {
		fmt.Fprintf(&b, "  🏭 station   : %s (every %s)\n", c.Station.URL, c.StationRefresh())
	}
	if c.Dashboard.Addr != "" {
		fmt.Fprintf(&b, "  🌐 dashboard : %s\n", c.Dashboard.Addr)
	}
	fmt.Fprintf(&b, "  📂 stateDir  : %s\n", c.ResolveStateDir())
	fmt.Fprintf(&b, "  📝 statusFile: %s", c.StatusFilePath())
	return b.String()
}

// ResolvePath returns absolute path based on config file location.
func (c *Config) ResolvePath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(c.ConfigDir(), path))
}

// ConfigDir returns directory of config file.
func (c *Config) ConfigDir() string {
	if c.path == "" {
		return "."
	}
	return filepath.Dir(c.path)
}
