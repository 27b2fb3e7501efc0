package analysis

import (
	"strings"
)

// TrackingPortrait plots measured against reference height on a
// width×height character grid. Both axes share one range so that perfect
// tracking falls on the drawn diagonal.
func TrackingPortrait(reference, measured []float64, width, height int) string {
	n := min(len(reference), len(measured))
	if n == 0 || width < 2 || height < 2 {
		return ""
	}

	lo, hi := reference[0], reference[0]
	for i := 0; i < n; i++ {
		lo = min(lo, reference[i], measured[i])
		hi = max(hi, reference[i], measured[i])
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	lo -= span * 0.05
	span *= 1.1

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}
	cell := func(x, y float64) (row, col int) {
		col = int((x - lo) / span * float64(width-1))
		row = height - 1 - int((y-lo)/span*float64(height-1))
		return row, col
	}

	for c := 0; c < width; c++ {
		x := lo + span*float64(c)/float64(width-1)
		if r, _ := cell(x, x); r >= 0 && r < height {
			grid[r][c] = '·'
		}
	}
	for i := 0; i < n; i++ {
		r, c := cell(reference[i], measured[i])
		if r >= 0 && r < height && c >= 0 && c < width {
			grid[r][c] = '•'
		}
	}

	var sb strings.Builder
	for _, row := range grid {
		sb.WriteString(string(row))
		sb.WriteRune('\n')
	}
	return sb.String()
}
