package main

import (
	"github.com/spf13/pflag"

	"github.com/loykin/cpueff/internal/logger"
)

// addFlags registers every flag of the root command. Values are read back through
// viper so env vars and the config file can fill the same keys.
func addFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a TOML or YAML config file (optional)")

	fs.StringP("name", "n", "", "process name to monitor (prompted when empty)")
	fs.Int32P("pid", "p", 0, "pid to pick among same-named processes, or to monitor directly")
	fs.StringP("interval", "i", "5", "sampling interval in whole seconds")
	fs.StringP("duration", "d", "0", "stop after this many seconds (0 = until the process exits)")
	fs.BoolP("list", "l", false, "list matching processes and exit")
	fs.Bool("once", false, "take a single measurement and exit")
	fs.Bool("all", false, "with --once, measure every matching process in turn")
	fs.BoolP("chart", "c", false, "draw a live chart in the terminal")
	fs.StringP("output", "o", "", "tabular output: CSV path, sqlite://, postgres:// or clickhouse:// DSN")
	fs.Bool("buffered", false, "hold output rows in memory and write them on exit (default with --chart)")
	fs.String("flush", "", "output flush policy: immediate or buffered (overridden by --buffered)")
	fs.String("match", "first", "policy for several same-named processes: first or strict")
	fs.Bool("strict", false, "fail instead of picking the first of several matching processes (same as --match strict)")
	fs.String("provider", "gopsutil", "process information provider: gopsutil or procfs")

	fs.String("log-level", logger.LevelInfo, "log level: debug, info, warn or error")
	fs.String("log-format", logger.FormatText, "log format: text or json")
	fs.Bool("log-color", true, "colour log levels on the console")
	fs.String("log-file", "", "also write logs to this file, rotated (required to keep logs with --chart)")

	fs.String("metrics-listen", "", "serve Prometheus metrics on this address, e.g. :9100")
	fs.String("server-listen", "", "serve the HTTP API (latest report, health, metrics) on this address")
	fs.String("server-base-path", "", "path prefix for the HTTP API")
	fs.String("server-framework", "gin", "HTTP framework: gin or echo")
}
