// Package topography reshapes the trial log into a fixed-size, row-normalized
// matrix for heatmap display.
package topography

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/itohio/demolink/pkg/trial"
)

// NoData marks padding and unparseable cells.
var NoData = math.NaN()

// IsNoData reports whether v is a padding cell.
func IsNoData(v float64) bool {
	return math.IsNaN(v)
}

// Load reads the trial log at path and normalizes it into a rows×cols matrix.
func Load(path string, rows, cols int) (*mat.Dense, error) {
	lines, err := trial.NewLog(path).Lines()
	if err != nil {
		return nil, err
	}
	return Normalize(lines, rows, cols)
}

// Normalize parses trial log lines into a rows×cols matrix. Extra rows and
// columns are cropped, missing ones are padded with NoData, and each row is
// divided by its largest absolute value (1 when that is zero).
func Normalize(lines []string, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid topography shape %dx%d", rows, cols)
	}

	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = NoData
	}

	for r := 0; r < rows && r < len(lines); r++ {
		parseRow(data[r*cols:(r+1)*cols], lines[r])
	}

	m := mat.NewDense(rows, cols, data)
	for r := 0; r < rows; r++ {
		normalizeRow(m.RawRowView(r))
	}
	return m, nil
}

// parseRow fills dst from a comma-separated line; cells that do not parse
// stay NoData.
func parseRow(dst []float64, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	for c, cell := range strings.Split(line, ",") {
		if c >= len(dst) {
			return
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil || math.IsInf(v, 0) {
			continue
		}
		dst[c] = v
	}
}

func normalizeRow(row []float64) {
	var peak float64
	for _, v := range row {
		if !IsNoData(v) {
			peak = math.Max(peak, math.Abs(v))
		}
	}
	if peak == 0 {
		peak = 1
	}
	for i, v := range row {
		if !IsNoData(v) {
			row[i] = v / peak
		}
	}
}

const shades = " .:-=+*#%@"

// Render writes m as a character heatmap, one line per row, mapping |v| in
// [0,1] onto shades and padding cells to '·'.
func Render(w io.Writer, m *mat.Dense) error {
	rows, cols := m.Dims()
	var sb strings.Builder
	for r := 0; r < rows; r++ {
		sb.Reset()
		for c := 0; c < cols; c++ {
			v := m.At(r, c)
			if IsNoData(v) {
				sb.WriteRune('·')
				continue
			}
			idx := int(math.Round(math.Min(math.Abs(v), 1) * float64(len(shades)-1)))
			sb.WriteByte(shades[idx])
		}
		sb.WriteByte('\n')
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}
