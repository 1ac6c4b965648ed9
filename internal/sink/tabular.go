package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/cpueff/internal/sink/clickhouse"
	"github.com/loykin/cpueff/internal/sink/sqlstore"
	"github.com/loykin/cpueff/internal/sink/tabular"
)

// ErrSinkUnavailable marks a destination that could not be opened. Callers log it
// and continue without the sink.
var ErrSinkUnavailable = errors.New("sink unavailable")

// OpenTabular opens the destination named by target under policy:
//   - "clickhouse://host:port[/db]?table=name"
//   - "postgres://..." / "postgresql://..."
//   - "sqlite:///path/to/file.db" or "file:..."
//   - anything else is a CSV file path
func OpenTabular(ctx context.Context, target string, policy tabular.Policy) (*tabular.Sink, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: empty output target", ErrSinkUnavailable)
	}
	w, err := openWriter(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, redact(target), err)
	}
	return tabular.NewSink(w, policy, nil), nil
}

func openWriter(ctx context.Context, target string) (tabular.Writer, error) {
	if strings.HasPrefix(strings.ToLower(target), "clickhouse://") {
		opts, err := clickhouse.ParseDSN(target)
		if err != nil {
			return nil, err
		}
		return clickhouse.Open(ctx, opts)
	}
	if sqlstore.IsDSN(target) {
		return sqlstore.Open(ctx, target)
	}
	if strings.Contains(target, "://") {
		return nil, errors.New("unsupported output scheme")
	}
	return tabular.NewCSVWriter(target)
}

// redact drops credentials from a DSN before it reaches a log line.
func redact(target string) string {
	at := strings.LastIndex(target, "@")
	scheme := strings.Index(target, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return target
	}
	return target[:scheme+3] + "***" + target[at:]
}
