// Package config resolves the cpueff settings from flags, CPUEFF_* environment
// variables and an optional TOML/YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/loykin/cpueff/internal/locator"
	"github.com/loykin/cpueff/internal/logger"
	"github.com/loykin/cpueff/internal/sink/tabular"
)

// DefaultInterval applies when the interval is missing or invalid.
const DefaultInterval = 5 * time.Second

// EnvPrefix prefixes every environment variable, e.g. CPUEFF_INTERVAL.
const EnvPrefix = "CPUEFF"

var ErrConflictingModes = errors.New("conflicting modes")

// Config is the fully resolved configuration of one invocation.
type Config struct {
	Name     string
	PID      int32
	Interval time.Duration
	Duration time.Duration
	List     bool
	All      bool
	Once     bool
	Chart    bool
	Output   string
	Provider string

	// Match decides between same-named processes; Strict mirrors Match == locator.Strict.
	Match  locator.Policy
	Strict bool

	// Buffered is nil when the flush policy was not set explicitly.
	Buffered *bool

	Log     logger.Config
	Metrics MetricsConfig
	Server  ServerConfig
}

type MetricsConfig struct {
	Listen string
}

type ServerConfig struct {
	Listen    string
	BasePath  string
	Framework string
}

// flagKeys maps dashed flag names to nested config keys.
var flagKeys = map[string]string{
	"log-level":        "log.slog.level",
	"log-format":       "log.slog.format",
	"log-color":        "log.slog.color",
	"log-file":         "log.file.path",
	"metrics-listen":   "metrics.listen",
	"server-listen":    "server.listen",
	"server-base-path": "server.base_path",
	"server-framework": "server.framework",
}

// New returns a viper instance with defaults and CPUEFF_* env lookup.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	v.SetDefault("interval", int(DefaultInterval/time.Second))
	v.SetDefault("provider", "gopsutil")
	v.SetDefault("match", string(locator.FirstMatch))
	v.SetDefault("log.slog.level", logger.LevelInfo)
	v.SetDefault("log.slog.format", logger.FormatText)
	v.SetDefault("log.slog.color", true)
	v.SetDefault("log.slog.timestamps", true)
	v.SetDefault("server.framework", "gin")
	return v
}

// BindFlags binds every flag of fs; dashed names listed in flagKeys land on their
// nested key, the rest on the flag name itself.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Name == "config" {
			return
		}
		key := f.Name
		if k, ok := flagKeys[f.Name]; ok {
			key = k
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

// ReadFile merges a config file into v. The type follows the extension, TOML
// when there is none.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(filepath.Clean(path))
	if filepath.Ext(path) == "" {
		v.SetConfigType("toml")
	}
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load resolves a Config from v. Invalid numbers degrade to their defaults.
func Load(v *viper.Viper) (Config, error) {
	c := Config{
		Name:     strings.TrimSpace(v.GetString("name")),
		PID:      cast.ToInt32(v.Get("pid")),
		Interval: ParseInterval(v.Get("interval")),
		Duration: ParseDuration(v.Get("duration")),
		List:     cast.ToBool(v.Get("list")),
		All:      cast.ToBool(v.Get("all")),
		Once:     cast.ToBool(v.Get("once")),
		Chart:    cast.ToBool(v.Get("chart")),
		Output:   strings.TrimSpace(v.GetString("output")),
		Provider: strings.ToLower(strings.TrimSpace(v.GetString("provider"))),
		Match:    locator.ParsePolicy(v.GetString("match")),
	}
	if c.PID < 0 {
		c.PID = 0
	}
	if cast.ToBool(v.Get("strict")) {
		c.Match = locator.Strict
	}
	c.Strict = c.Match == locator.Strict
	// flush names the policy; buffered, when set, overrides it
	if v.IsSet("flush") {
		b := tabular.ParsePolicy(v.GetString("flush")) == tabular.Buffered
		c.Buffered = &b
	}
	if v.IsSet("buffered") {
		b := cast.ToBool(v.Get("buffered"))
		c.Buffered = &b
	}
	// nested keys are read one by one: UnmarshalKey would miss bound flags
	c.Log = logger.Config{
		Slog: logger.SlogConfig{
			Level:      v.GetString("log.slog.level"),
			Format:     v.GetString("log.slog.format"),
			Color:      cast.ToBool(v.Get("log.slog.color")),
			TimeStamps: cast.ToBool(v.Get("log.slog.timestamps")),
			Source:     cast.ToBool(v.Get("log.slog.source")),
		},
		File: logger.FileConfig{
			Path:       v.GetString("log.file.path"),
			MaxSizeMB:  cast.ToInt(v.Get("log.file.max_size_mb")),
			MaxBackups: cast.ToInt(v.Get("log.file.max_backups")),
			MaxAgeDays: cast.ToInt(v.Get("log.file.max_age_days")),
			Compress:   cast.ToBool(v.Get("log.file.compress")),
		},
	}
	c.Metrics = MetricsConfig{Listen: strings.TrimSpace(v.GetString("metrics.listen"))}
	c.Server = ServerConfig{
		Listen:    strings.TrimSpace(v.GetString("server.listen")),
		BasePath:  v.GetString("server.base_path"),
		Framework: strings.ToLower(strings.TrimSpace(v.GetString("server.framework"))),
	}
	return c, c.Validate()
}

// Validate rejects combinations that cannot run together.
func (c Config) Validate() error {
	if c.List && (c.Once || c.Chart || c.Output != "" || c.PID != 0) {
		return fmt.Errorf("%w: --list cannot be combined with --once, --chart, --output or --pid", ErrConflictingModes)
	}
	if c.All && !c.Once {
		return fmt.Errorf("%w: --all requires --once", ErrConflictingModes)
	}
	if c.Once && c.Chart {
		return fmt.Errorf("%w: --chart needs continuous monitoring", ErrConflictingModes)
	}
	switch c.Provider {
	case "", "gopsutil", "procfs":
	default:
		return fmt.Errorf("unknown provider %q (want gopsutil or procfs)", c.Provider)
	}
	switch c.Server.Framework {
	case "", "gin", "echo":
	default:
		return fmt.Errorf("unknown server framework %q (want gin or echo)", c.Server.Framework)
	}
	return nil
}

// FlushPolicy is Buffered when chart mode is on and Immediate otherwise, unless
// buffered was set explicitly.
func (c Config) FlushPolicy() tabular.Policy {
	buffered := c.Chart
	if c.Buffered != nil {
		buffered = *c.Buffered
	}
	if buffered {
		return tabular.Buffered
	}
	return tabular.Immediate
}

// maxSeconds is the largest whole-second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// ParseInterval reads whole seconds leniently; missing, invalid or non-positive
// values yield DefaultInterval.
func ParseInterval(raw any) time.Duration {
	n, ok := wholeSeconds(raw)
	if !ok {
		return DefaultInterval
	}
	return time.Duration(n) * time.Second
}

// ParseDuration reads the total duration bound in whole seconds; anything invalid
// or non-positive means unbounded (0).
func ParseDuration(raw any) time.Duration {
	n, ok := wholeSeconds(raw)
	if !ok {
		return 0
	}
	return time.Duration(n) * time.Second
}

// wholeSeconds accepts a positive count of seconds. Strings are always decimal,
// so "010" is ten seconds.
func wholeSeconds(raw any) (int64, bool) {
	var (
		n   int64
		err error
	)
	if s, isStr := raw.(string); isStr {
		n, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	} else {
		n, err = cast.ToInt64E(raw)
	}
	if err != nil || n <= 0 || n > maxSeconds {
		return 0, false
	}
	return n, true
}
