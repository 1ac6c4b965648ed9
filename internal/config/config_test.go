package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/cpueff/internal/locator"
	"github.com/loykin/cpueff/internal/sink/tabular"
)

// testFlags mirrors the command's flag set.
func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("cpueff", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("name", "", "")
	fs.Int32("pid", 0, "")
	fs.String("interval", "5", "")
	fs.String("duration", "0", "")
	fs.Bool("list", false, "")
	fs.Bool("all", false, "")
	fs.Bool("once", false, "")
	fs.Bool("chart", false, "")
	fs.String("output", "", "")
	fs.Bool("buffered", false, "")
	fs.Bool("strict", false, "")
	fs.String("match", "first", "")
	fs.String("flush", "", "")
	fs.String("provider", "gopsutil", "")
	fs.String("log-level", "info", "")
	fs.String("log-file", "", "")
	fs.String("metrics-listen", "", "")
	fs.String("server-listen", "", "")
	fs.String("server-base-path", "", "")
	fs.String("server-framework", "gin", "")
	return fs
}

func load(t *testing.T, args []string, file string) (Config, error) {
	t.Helper()
	fs := testFlags()
	require.NoError(t, fs.Parse(args))
	v := New()
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, ReadFile(v, file))
	return Load(v)
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		in   any
		want time.Duration
	}{
		{"2", 2 * time.Second},
		{" 10 ", 10 * time.Second},
		{3, 3 * time.Second},
		{"", DefaultInterval},
		{"abc", DefaultInterval},
		{"0", DefaultInterval},
		{"-4", DefaultInterval},
		{nil, DefaultInterval},
		{"010", 10 * time.Second},
		{"08", 8 * time.Second},
		{"0x10", DefaultInterval},
		{"1.5", DefaultInterval},
		{"10000000000", DefaultInterval},
		{int64(10000000000), DefaultInterval},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParseInterval(c.in), "input %#v", c.in)
	}
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseDuration("30"))
	assert.Equal(t, time.Duration(0), ParseDuration("-1"))
	assert.Equal(t, time.Duration(0), ParseDuration("soon"))
	assert.Equal(t, time.Duration(0), ParseDuration(nil))
	assert.Equal(t, 10*time.Second, ParseDuration("010"))
	assert.Equal(t, 9*time.Second, ParseDuration(" 09 "))
	assert.Equal(t, time.Duration(0), ParseDuration("0x10"))
	assert.Equal(t, time.Duration(0), ParseDuration("10000000000"))
	assert.Equal(t, time.Duration(maxSeconds)*time.Second, ParseDuration(maxSeconds))
}

func TestLoad_Defaults(t *testing.T) {
	c, err := load(t, nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, c.Interval)
	assert.Equal(t, time.Duration(0), c.Duration)
	assert.Equal(t, "gopsutil", c.Provider)
	assert.Equal(t, "gin", c.Server.Framework)
	assert.Equal(t, "info", c.Log.Slog.Level)
	assert.Nil(t, c.Buffered)
	assert.Equal(t, tabular.Immediate, c.FlushPolicy())
}

func TestLoad_Flags(t *testing.T) {
	c, err := load(t, []string{
		"--name", " sample_app ", "--pid", "42", "--interval", "2", "--duration", "60",
		"--chart", "--output", "out.csv", "--strict", "--metrics-listen", ":9100",
		"--server-listen", ":8080", "--server-base-path", "cpu", "--server-framework", "ECHO",
		"--log-level", "debug",
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "sample_app", c.Name)
	assert.Equal(t, int32(42), c.PID)
	assert.Equal(t, 2*time.Second, c.Interval)
	assert.Equal(t, time.Minute, c.Duration)
	assert.True(t, c.Chart)
	assert.True(t, c.Strict)
	assert.Equal(t, "out.csv", c.Output)
	assert.Equal(t, ":9100", c.Metrics.Listen)
	assert.Equal(t, ServerConfig{Listen: ":8080", BasePath: "cpu", Framework: "echo"}, c.Server)
	assert.Equal(t, "debug", c.Log.Slog.Level)
	assert.Equal(t, tabular.Buffered, c.FlushPolicy(), "chart defaults to buffered")
}

func TestLoad_InvalidIntervalFallsBack(t *testing.T) {
	c, err := load(t, []string{"--interval", "fast"}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, c.Interval)
}

func TestLoad_LeadingZerosAreDecimal(t *testing.T) {
	c, err := load(t, []string{"--interval", "010", "--duration", "08"}, "")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, c.Interval)
	assert.Equal(t, 8*time.Second, c.Duration)
}

func TestLoad_MatchPolicy(t *testing.T) {
	c, err := load(t, nil, "")
	require.NoError(t, err)
	assert.Equal(t, locator.FirstMatch, c.Match)
	assert.False(t, c.Strict)

	c, err = load(t, []string{"--match", " STRICT "}, "")
	require.NoError(t, err)
	assert.Equal(t, locator.Strict, c.Match)
	assert.True(t, c.Strict)

	c, err = load(t, []string{"--match", "first", "--strict"}, "")
	require.NoError(t, err)
	assert.Equal(t, locator.Strict, c.Match, "--strict wins over match")
}

func TestLoad_FlushPolicyNamed(t *testing.T) {
	c, err := load(t, []string{"--flush", "buffered"}, "")
	require.NoError(t, err)
	assert.Equal(t, tabular.Buffered, c.FlushPolicy())

	c, err = load(t, []string{"--chart", "--flush", "immediate"}, "")
	require.NoError(t, err)
	assert.Equal(t, tabular.Immediate, c.FlushPolicy())

	c, err = load(t, []string{"--flush", "buffered", "--buffered=false"}, "")
	require.NoError(t, err)
	assert.Equal(t, tabular.Immediate, c.FlushPolicy(), "buffered overrides flush")
}

func TestLoad_BufferedOverride(t *testing.T) {
	c, err := load(t, []string{"--chart", "--buffered=false"}, "")
	require.NoError(t, err)
	require.NotNil(t, c.Buffered)
	assert.Equal(t, tabular.Immediate, c.FlushPolicy())

	c, err = load(t, []string{"--buffered"}, "")
	require.NoError(t, err)
	assert.Equal(t, tabular.Buffered, c.FlushPolicy())
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CPUEFF_NAME", "from-env")
	t.Setenv("CPUEFF_INTERVAL", "7")
	t.Setenv("CPUEFF_METRICS_LISTEN", ":9200")
	c, err := load(t, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Name)
	assert.Equal(t, 7*time.Second, c.Interval)
	assert.Equal(t, ":9200", c.Metrics.Listen)

	// flags win over env
	c, err = load(t, []string{"--interval", "3"}, "")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.Interval)
}

func TestLoad_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cpueff.toml")
	data := `
name = "worker"
interval = 4
output = "sqlite:///tmp/cpu.db"
buffered = true

[log.slog]
level = "warn"
format = "json"

[log.file]
path = "/tmp/cpueff.log"
max_backups = 5

[server]
listen = ":8081"
base_path = "/api"
`
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))

	c, err := load(t, []string{"--interval", "9"}, p)
	require.NoError(t, err)
	assert.Equal(t, "worker", c.Name)
	assert.Equal(t, 9*time.Second, c.Interval, "flag overrides file")
	assert.Equal(t, "sqlite:///tmp/cpu.db", c.Output)
	assert.Equal(t, tabular.Buffered, c.FlushPolicy())
	assert.Equal(t, "warn", c.Log.Slog.Level)
	assert.Equal(t, "json", c.Log.Slog.Format)
	assert.Equal(t, "/tmp/cpueff.log", c.Log.File.Path)
	assert.Equal(t, 5, c.Log.File.MaxBackups)
	assert.Equal(t, ":8081", c.Server.Listen)
	assert.Equal(t, "/api", c.Server.BasePath)
}

func TestReadFile_Missing(t *testing.T) {
	v := New()
	assert.Error(t, ReadFile(v, filepath.Join(t.TempDir(), "nope.toml")))
	assert.NoError(t, ReadFile(v, ""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "list only", cfg: Config{Name: "x", List: true}},
		{name: "list with once", cfg: Config{List: true, Once: true}, wantErr: ErrConflictingModes},
		{name: "list with output", cfg: Config{List: true, Output: "a.csv"}, wantErr: ErrConflictingModes},
		{name: "all without once", cfg: Config{All: true}, wantErr: ErrConflictingModes},
		{name: "once with chart", cfg: Config{Once: true, Chart: true}, wantErr: ErrConflictingModes},
		{name: "all with once", cfg: Config{All: true, Once: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Error(t, Config{Provider: "wmi"}.Validate())
	assert.Error(t, Config{Server: ServerConfig{Framework: "chi"}}.Validate())
}
