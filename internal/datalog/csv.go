// Package datalog persists sweep readings as CSV, one file per sweep type.
package datalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/RMahshie/fetbench/internal/sweep"
	"github.com/RMahshie/fetbench/pkg/models"
)

// Header returns the column titles for a sweep over axis.
func Header(axis models.Axis) []string {
	return []string{fmt.Sprintf("%s (V)", axis), "IDS (A)", "IG (A)"}
}

// FileName returns <name>-IDVD.csv or <name>-IDVG.csv.
func FileName(name string, axis models.Axis) string {
	suffix := "IDVD"
	if axis == models.AxisVG {
		suffix = "IDVG"
	}
	return fmt.Sprintf("%s-%s.csv", name, suffix)
}

// PathFor returns the path Create uses for the given arguments.
func PathFor(dir, name string, axis models.Axis) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName(name, axis))
}

// Log appends rows to a CSV file. Every row is flushed and synced before
// Append returns.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *csv.Writer
	rows int
}

// Create opens (or creates) the log for axis in dir, creating dir as needed.
// Runs that reuse a name append to the existing file; the header is written
// only when the file is new.
func Create(dir, name string, axis models.Axis) (*Log, error) {
	if name == "" {
		return nil, &sweep.ConfigurationError{Field: "filename", Reason: "must not be empty"}
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &sweep.IOError{Op: "create directory", Path: dir, Err: err}
	}

	path := PathFor(dir, name, axis)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &sweep.IOError{Op: "open", Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &sweep.IOError{Op: "stat", Path: path, Err: err}
	}

	l := &Log{path: path, f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := l.write(Header(axis)); err != nil {
			f.Close()
			return nil, err
		}
	}
	return l, nil
}

// Opener adapts Create to the engine's sink factory.
func Opener(dir, name string) sweep.SinkOpener {
	return func(k sweep.Kind) (sweep.Sink, error) {
		l, err := Create(dir, name, k.Axis())
		if err != nil {
			return nil, err
		}
		return l, nil
	}
}

// Path returns the file path of the log.
func (l *Log) Path() string {
	return l.path
}

// Rows returns the number of measurement rows appended by this Log.
func (l *Log) Rows() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rows
}

// Append writes one measurement row.
func (l *Log) Append(p models.MeasurementPoint) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write([]string{formatFloat(p.SweptValue), formatFloat(p.IDS), formatFloat(p.IG)}); err != nil {
		return err
	}
	l.rows++
	return nil
}

// MarkHold writes a boundary row carrying the new hold value and blank
// readings.
func (l *Log) MarkHold(hold float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write([]string{formatFloat(hold), "", ""})
}

// Close flushes and closes the file. Closing twice is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	l.w.Flush()
	werr := l.w.Error()
	cerr := l.f.Close()
	l.f = nil
	if werr != nil {
		return &sweep.IOError{Op: "flush", Path: l.path, Err: werr}
	}
	if cerr != nil {
		return &sweep.IOError{Op: "close", Path: l.path, Err: cerr}
	}
	return nil
}

func (l *Log) write(record []string) error {
	if l.f == nil {
		return &sweep.IOError{Op: "write", Path: l.path, Err: os.ErrClosed}
	}
	if err := l.w.Write(record); err != nil {
		return &sweep.IOError{Op: "write", Path: l.path, Err: err}
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return &sweep.IOError{Op: "write", Path: l.path, Err: err}
	}
	if err := l.f.Sync(); err != nil {
		return &sweep.IOError{Op: "sync", Path: l.path, Err: err}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
