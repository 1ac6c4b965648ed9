package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/cpueff/internal/efficiency"
	"github.com/loykin/cpueff/internal/monitor"
)

func sampleReport(elapsed time.Duration, cpu, sys, user float64) monitor.Report {
	return monitor.Report{
		Process:        "sample_app",
		PID:            42,
		Interval:       2 * time.Second,
		SessionElapsed: elapsed,
		Metrics:        efficiency.Metrics{CPUPercent: cpu, SystemPercent: sys, UserPercent: user},
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 30, 45, 0, time.Local)
}

func TestCSV_Immediate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "samples.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)
	s := NewSink(w, Immediate, fixedNow)
	ctx := context.Background()

	require.NoError(t, s.Report(ctx, sampleReport(2*time.Second, 45, 20, 25)))
	// row is on disk before Close
	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, Columns, records[0])
	assert.Equal(t, []string{"2024-03-01 12:30:45", "2.00", "2", "45.00", "20.00", "25.00"}, records[1])

	require.NoError(t, s.Report(ctx, sampleReport(4*time.Second, 55.555, 5, 50.555)))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	records = readCSV(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, "55.56", records[2][3])
}

func TestCSV_Buffered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)
	s := NewSink(w, Buffered, fixedNow)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.Report(ctx, sampleReport(time.Duration(i)*time.Second, 10, 5, 5)))
	}
	assert.Len(t, readCSV(t, path), 1, "only the header before Close")

	require.NoError(t, s.Close())
	assert.Len(t, readCSV(t, path), 4)
}

func TestCSV_Unwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := NewCSVWriter(filepath.Join(blocker, "nested.csv"))
	assert.Error(t, err)
}

type memWriter struct {
	rows   []Row
	closed bool
	err    error
}

func (m *memWriter) WriteRows(_ context.Context, rows []Row) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, rows...)
	return nil
}

func (m *memWriter) Close() error {
	m.closed = true
	return nil
}

func TestSink_BufferedFlushErrorStillCloses(t *testing.T) {
	boom := errors.New("disk full")
	w := &memWriter{err: boom}
	s := NewSink(w, Buffered, fixedNow)
	require.NoError(t, s.Report(context.Background(), sampleReport(time.Second, 1, 1, 0)))

	assert.ErrorIs(t, s.Close(), boom)
	assert.True(t, w.closed)
}

func TestNewRow(t *testing.T) {
	r := NewRow(sampleReport(3500*time.Millisecond, 45, 20, 25), fixedNow())
	assert.Equal(t, "sample_app", r.Process)
	assert.Equal(t, int32(42), r.PID)
	assert.Equal(t, 3.5, r.Elapsed)
	assert.Equal(t, 2.0, r.Interval)
	assert.Equal(t, 45.0, r.CPUPercent)
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, Buffered, ParsePolicy("Buffered"))
	assert.Equal(t, Immediate, ParsePolicy("immediate"))
	assert.Equal(t, Immediate, ParsePolicy(""))
}
