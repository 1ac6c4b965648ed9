package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// CSVWriter writes rows to a CSV file, header first.
type CSVWriter struct {
	f *os.File
	w *csv.Writer
}

// NewCSVWriter creates (or truncates) path and writes the header.
func NewCSVWriter(path string) (*CSVWriter, error) {
	clean := filepath.Clean(path)
	if dir := filepath.Dir(clean); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(clean)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(Columns); err != nil {
		_ = f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &CSVWriter{f: f, w: w}, nil
}

func (c *CSVWriter) WriteRows(_ context.Context, rows []Row) error {
	for _, r := range rows {
		if err := c.w.Write(formatRow(r)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}

func formatRow(r Row) []string {
	return []string{
		r.Timestamp.Local().Format(TimestampLayout),
		strconv.FormatFloat(r.Elapsed, 'f', 2, 64),
		strconv.FormatFloat(r.Interval, 'f', 0, 64),
		strconv.FormatFloat(r.CPUPercent, 'f', 2, 64),
		strconv.FormatFloat(r.SystemPercent, 'f', 2, 64),
		strconv.FormatFloat(r.UserPercent, 'f', 2, 64),
	}
}
