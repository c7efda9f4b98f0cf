package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 14, 15, 9, 26, 535_000_000, time.Local)

func TestFileName(t *testing.T) {
	assert.Equal(t, "capture_20260314_150926.535.csv", FileName(testStart))
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures")
	points := []Point{{0, 0}, {0.01, 1.23456}, {0.02, -2}}

	path, err := WriteFile(dir, testStart, points)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "capture_20260314_150926.535.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "time,value\n0.000,0.000\n0.010,1.235\n0.020,-2.000\n", string(data))
}

func TestWriteFile_NeverOverwrites(t *testing.T) {
	dir := t.TempDir()

	first, err := WriteFile(dir, testStart, []Point{{0, 1}})
	require.NoError(t, err)
	second, err := WriteFile(dir, testStart, []Point{{0, 2}})
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, filepath.Join(dir, "capture_20260314_150926.535_1.csv"), second)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "time,value\n0.000,1.000\n", string(data))
}

func TestWriteFile_Failure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err := WriteFile(filepath.Join(blocker, "captures"), testStart, []Point{{0, 1}})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.csv")
	content := "time,value\n0.020,3.0\n\ngarbage\n0.000,1.0\ntime,value\n0.010,2.0\n1,2,3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	points, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []Point{{0, 1}, {0.01, 2}, {0.02, 3}}, points)
	assert.Equal(t, []float64{0, 0.01, 0.02}, Times(points))
	assert.Equal(t, []float64{1, 2, 3}, Values(points))
}

func TestReadFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.csv")
	require.NoError(t, os.WriteFile(path, []byte("time,value\n"), 0o644))

	_, err := ReadFile(path)
	assert.ErrorIs(t, err, ErrEmptyCapture)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	points := []Point{{0, 0}, {0.5, 12.25}, {1, 10}}

	path, err := WriteFile(dir, testStart, points)
	require.NoError(t, err)

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, points, got)
}

func TestList(t *testing.T) {
	dir := t.TempDir()

	files, err := List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, files)

	later := testStart.Add(time.Minute)
	_, err = WriteFile(dir, later, []Point{{0, 1}})
	require.NoError(t, err)
	_, err = WriteFile(dir, testStart, []Point{{0, 1}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))

	files, err = List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, FileName(testStart)),
		filepath.Join(dir, FileName(later)),
	}, files)
}
