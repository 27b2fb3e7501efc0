package viz

import (
	"math"
	"strings"

	"github.com/san-kum/wbcsim/internal/robot"
)

const brailleBlank = 0x2800

// dot bits of a braille cell, indexed [row][col]
var brailleDots = [4][2]rune{
	{0x01, 0x08},
	{0x02, 0x10},
	{0x04, 0x20},
	{0x40, 0x80},
}

// Canvas is a grid of braille cells, each 2 dots wide and 4 dots tall.
type Canvas struct {
	cols, rows int
	cells      []rune
}

func NewCanvas(cols, rows int) *Canvas {
	c := &Canvas{cols: cols, rows: rows, cells: make([]rune, cols*rows)}
	c.Clear()
	return c
}

// Size is the canvas size in cells.
func (c *Canvas) Size() (cols, rows int) { return c.cols, c.rows }

// Cell returns the braille rune at a cell.
func (c *Canvas) Cell(col, row int) rune { return c.cells[row*c.cols+col] }

// Dots is the canvas size in dots.
func (c *Canvas) Dots() (w, h int) { return c.cols * 2, c.rows * 4 }

func (c *Canvas) Clear() {
	for i := range c.cells {
		c.cells[i] = brailleBlank
	}
}

func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 || x >= c.cols*2 || y >= c.rows*4 {
		return
	}
	c.cells[(y/4)*c.cols+x/2] |= brailleDots[y%4][x%2]
}

// Line draws from (x0, y0) to (x1, y1) with Bresenham's algorithm.
func (c *Canvas) Line(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), -absInt(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func (c *Canvas) String() string {
	var b strings.Builder
	for r := 0; r < c.rows; r++ {
		b.WriteString(string(c.cells[r*c.cols : (r+1)*c.cols]))
		b.WriteByte('\n')
	}
	return b.String()
}

// DrawSideView projects segments onto the sagittal x-z plane, fitted to
// the canvas with equal axis scales, and draws a ground line at z = ground.
func (c *Canvas) DrawSideView(segs []robot.Segment, ground float64) {
	if len(segs) == 0 {
		return
	}
	minX, maxX := math.Inf(1), math.Inf(-1)
	minZ, maxZ := ground, math.Inf(-1)
	for _, s := range segs {
		for _, p := range [2][3]float64{s.From, s.To} {
			minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
			minZ, maxZ = math.Min(minZ, p[2]), math.Max(maxZ, p[2])
		}
	}
	w, h := c.Dots()
	span := math.Max(maxZ-minZ, maxX-minX) * 1.2
	if span <= 0 {
		span = 1
	}
	scale := float64(h-1) / span
	cx := (minX + maxX) / 2
	top := maxZ + 0.1*span
	project := func(x, z float64) (int, int) {
		return int(math.Round(float64(w)/2 + (x-cx)*scale)), int(math.Round((top - z) * scale))
	}

	for _, s := range segs {
		x0, y0 := project(s.From[0], s.From[2])
		x1, y1 := project(s.To[0], s.To[2])
		c.Line(x0, y0, x1, y1)
	}
	_, gy := project(0, ground)
	c.Line(0, gy, w-1, gy)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
