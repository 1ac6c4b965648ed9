// Package clickhouse writes efficiency rows to ClickHouse over the native protocol.
package clickhouse

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/cpueff/internal/sink/tabular"
)

// DefaultTable is used when the DSN has no table parameter.
const DefaultTable = "cpu_samples"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Options configures the connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// ParseDSN reads clickhouse://[user[:pass]@]host:port[/database]?table=name.
func ParseDSN(dsn string) (Options, error) {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return Options{}, err
	}
	if !strings.EqualFold(u.Scheme, "clickhouse") {
		return Options{}, fmt.Errorf("not a clickhouse DSN: %q", dsn)
	}
	o := Options{
		Addr:     u.Host,
		Database: strings.Trim(u.Path, "/"),
		Username: "default",
		Table:    u.Query().Get("table"),
	}
	if o.Addr == "" {
		o.Addr = "localhost:9000"
	}
	if o.Database == "" {
		o.Database = "default"
	}
	if u.User != nil {
		o.Username = u.User.Username()
		o.Password, _ = u.User.Password()
	}
	if o.Table == "" {
		o.Table = DefaultTable
	}
	if !identRe.MatchString(o.Table) {
		return Options{}, fmt.Errorf("invalid clickhouse table name %q", o.Table)
	}
	return o, nil
}

// Writer implements tabular.Writer.
type Writer struct {
	conn  driver.Conn
	table string
}

// Open connects, pings and creates the table if missing.
func Open(ctx context.Context, o Options) (*Writer, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	w := &Writer{conn: conn, table: o.Table}
	if err := w.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	return w.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+w.table+` (
		ts DateTime64(3),
		process String,
		pid Int32,
		elapsed Float64,
		interval_s Float64,
		total_cpu_efficiency Float64,
		system_efficiency Float64,
		user_efficiency Float64
	) ENGINE = MergeTree()
	ORDER BY (process, ts)`)
}

// WriteRows sends rows as one batch.
func (w *Writer) WriteRows(ctx context.Context, rows []tabular.Row) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("prepare clickhouse batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.Timestamp.UTC(), r.Process, r.PID, r.Elapsed, r.Interval,
			r.CPUPercent, r.SystemPercent, r.UserPercent); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append clickhouse row: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to insert rows into ClickHouse: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
