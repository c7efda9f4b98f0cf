package trial

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Log is the append-only trial log: one line per trial, each line the
// trial's values as comma-joined 4-decimal floats.
type Log struct {
	path string
}

// NewLog returns a log stored at path. The file is created on first write.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// BackupPath returns where a full log is moved before a new round starts.
func (l *Log) BackupPath() string {
	return l.path + ".bak"
}

// Count returns the number of trials in the log. A missing log has none.
func (l *Log) Count() (int, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read trial log: %w", err)
	}

	count := bytes.Count(data, []byte{'\n'})
	if len(data) > 0 && data[len(data)-1] != '\n' {
		// Unterminated last line still counts as a trial
		count++
	}
	return count, nil
}

// Append writes one trial as a new line.
func (l *Log) Append(values []float64) error {
	if err := l.ensureDir(); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open trial log: %v", ErrPersistence, err)
	}

	if _, err := f.WriteString(FormatLine(values) + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("%w: append trial: %v", ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close trial log: %v", ErrPersistence, err)
	}
	return nil
}

// Rotate moves a non-empty log to BackupPath, replacing an older backup. It
// reports whether anything was moved.
func (l *Log) Rotate() (bool, error) {
	info, err := os.Stat(l.path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && info.Size() == 0) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat trial log: %v", ErrPersistence, err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s is not a regular file", ErrPersistence, l.path)
	}

	if err := os.Rename(l.path, l.BackupPath()); err != nil {
		return false, fmt.Errorf("%w: back up trial log: %v", ErrPersistence, err)
	}
	return true, nil
}

// Clear truncates the log, creating it if needed.
func (l *Log) Clear() error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	if err := os.WriteFile(l.path, nil, 0o644); err != nil {
		return fmt.Errorf("%w: truncate trial log: %v", ErrPersistence, err)
	}
	return nil
}

// Lines returns the raw log lines. A missing log has none.
func (l *Log) Lines() ([]string, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trial log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trial log: %w", err)
	}
	return lines, nil
}

func (l *Log) ensureDir() error {
	dir := filepath.Dir(l.path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create trial log directory: %v", ErrPersistence, err)
	}
	return nil
}

// FormatLine formats trial values the way they are stored in the log.
func FormatLine(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', 4, 64)
	}
	return strings.Join(parts, ",")
}
