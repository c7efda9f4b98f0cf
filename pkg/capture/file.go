package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/itohio/demolink/pkg/frame"
)

const (
	filePrefix = "capture_"
	fileExt    = ".csv"
	nameLayout = "20060102_150405.000"
)

// Point is one (time, value) pair of a capture.
type Point struct {
	Time  float64
	Value float64
}

// FileName returns the capture file name for a capture started at t.
func FileName(t time.Time) string {
	return filePrefix + t.Format(nameLayout) + fileExt
}

// WriteFile writes points to a new file in dir named after started and
// returns its path. An existing capture is never overwritten; a numeric
// suffix is added instead.
func WriteFile(dir string, started time.Time, points []Point) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create capture directory: %v", ErrPersistence, err)
	}

	base := strings.TrimSuffix(FileName(started), fileExt)
	path := filepath.Join(dir, base+fileExt)

	var f *os.File
	var err error
	for i := 1; ; i++ {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if !errors.Is(err, fs.ErrExist) || i > 100 {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, fileExt))
	}
	if err != nil {
		return "", fmt.Errorf("%w: create capture file: %v", ErrPersistence, err)
	}

	w := bufio.NewWriter(f)
	w.WriteString(frame.Header + "\n")
	for _, p := range points {
		fmt.Fprintf(w, "%.3f,%.3f\n", p.Time, p.Value)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("%w: write capture file: %v", ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("%w: close capture file: %v", ErrPersistence, err)
	}

	return path, nil
}

// ReadFile parses a capture file. The header, repeated headers and malformed
// lines are skipped; points are returned sorted by time.
func ReadFile(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	var points []Point
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fr := frame.Decode(scanner.Text())
		if fr.Kind != frame.Pair {
			continue
		}
		points = append(points, Point{Time: fr.Time, Value: fr.Value})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCapture, path)
	}

	slices.SortStableFunc(points, func(a, b Point) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})

	return points, nil
}

// List returns the capture files in dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	// Timestamped names sort chronologically
	slices.Sort(files)
	return files, nil
}

// Values returns the value column of points.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Times returns the time column of points.
func Times(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Time
	}
	return out
}
