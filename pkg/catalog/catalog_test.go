package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/demolink/pkg/capture"
	"github.com/itohio/demolink/pkg/trial"
)

var t0 = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "db", "demolink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.ErrorIs(t, err, ErrCatalog)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demolink.db")

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.RecordTrial("trials.txt", &trial.Trial{Index: 0, StartedAt: t0, FinishedAt: t0}))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	version, err := schemaVersion(c.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	entries, err := c.Trials("trials.txt")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCatalog_Trials(t *testing.T) {
	c := openTest(t)

	for i := 0; i < 3; i++ {
		tr := &trial.Trial{
			Index:      i,
			Values:     make([]float64, 10*(i+1)),
			StartedAt:  t0.Add(time.Duration(i) * time.Minute),
			FinishedAt: t0.Add(time.Duration(i)*time.Minute + 10*time.Second),
		}
		require.NoError(t, c.RecordTrial("a.txt", tr))
	}
	require.NoError(t, c.RecordTrial("b.txt", &trial.Trial{StartedAt: t0, FinishedAt: t0}))

	entries, err := c.Trials("a.txt")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 2, entries[2].Index)
	assert.Equal(t, 30, entries[2].Samples)
	assert.True(t, entries[0].StartedAt.Equal(t0))
	assert.Equal(t, 10*time.Second, entries[0].FinishedAt.Sub(entries[0].StartedAt))

	n, err := c.ClearTrials("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	entries, err = c.Trials("a.txt")
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = c.Trials("b.txt")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "other logs are untouched")
}

func TestCatalog_MoveTrials(t *testing.T) {
	c := openTest(t)

	require.NoError(t, c.RecordTrial("trials.txt.bak", &trial.Trial{Index: 7, StartedAt: t0, FinishedAt: t0}))
	for i := 0; i < 2; i++ {
		require.NoError(t, c.RecordTrial("trials.txt", &trial.Trial{Index: i, StartedAt: t0, FinishedAt: t0}))
	}

	n, err := c.MoveTrials("trials.txt", "trials.txt.bak")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	entries, err := c.Trials("trials.txt")
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = c.Trials("trials.txt.bak")
	require.NoError(t, err)
	require.Len(t, entries, 2, "older backup entries are replaced")
	assert.Equal(t, 0, entries[0].Index)
	assert.Equal(t, 1, entries[1].Index)
}

func TestCatalog_Captures(t *testing.T) {
	c := openTest(t)

	first := &capture.Capture{
		Path:       "captures/capture_1.csv",
		Points:     []capture.Point{{Time: 0, Value: 1}, {Time: 1, Value: 2}},
		StartedAt:  t0,
		FinishedAt: t0.Add(time.Second),
		Reason:     capture.ReasonEnd,
	}
	second := &capture.Capture{
		Path:       "captures/capture_2.csv",
		Points:     []capture.Point{{Time: 0, Value: 1}},
		StartedAt:  t0.Add(time.Minute),
		FinishedAt: t0.Add(time.Minute + 3*time.Second),
		Reason:     capture.ReasonIdleTimeout,
	}
	require.NoError(t, c.RecordCapture(first))
	require.NoError(t, c.RecordCapture(second))

	entries, err := c.Captures(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.Path, entries[0].Path, "newest first")
	assert.Equal(t, "idle-timeout", entries[0].Reason)
	assert.Equal(t, 2, entries[1].Points)

	entries, err = c.Captures(1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Paths are unique
	err = c.RecordCapture(first)
	assert.ErrorIs(t, err, ErrCatalog)
}

func TestCatalog_RejectsEmptyCapture(t *testing.T) {
	c := openTest(t)

	err := c.RecordCapture(&capture.Capture{Path: "x.csv", StartedAt: t0, FinishedAt: t0})
	assert.ErrorIs(t, err, ErrCatalog)
}
