package hilltop

// Grid is a dense width x height grid of non-negative cell values.
// Cells are stored column-major (index x*Height + y) so that the
// x-outer / y-inner scan used for tie-breaking walks memory in order.
type Grid struct {
	Width  int
	Height int
	cells  []int64
}

// NewGrid allocates a zeroed grid.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		cells:  make([]int64, width*height),
	}
}

// At returns the value of cell (x, y).
func (g *Grid) At(x, y int) int64 {
	return g.cells[x*g.Height+y]
}

// Set overwrites cell (x, y).
func (g *Grid) Set(x, y int, v int64) {
	g.cells[x*g.Height+y] = v
}

// Contains reports whether (x, y) lies inside the grid.
func (g *Grid) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

// Clamp limits an inclusive rectangle to the grid bounds. ok is false when
// nothing of the rectangle remains.
func (g *Grid) Clamp(x0, y0, x1, y1 int) (cx0, cy0, cx1, cy1 int, ok bool) {
	cx0, cy0 = max(x0, 0), max(y0, 0)
	cx1, cy1 = min(x1, g.Width-1), min(y1, g.Height-1)
	return cx0, cy0, cx1, cy1, cx0 <= cx1 && cy0 <= cy1
}

// Sum returns the total of the inclusive rectangle [x0,x1] x [y0,y1],
// clamped to the grid.
func (g *Grid) Sum(x0, y0, x1, y1 int) int64 {
	x0, y0, x1, y1, ok := g.Clamp(x0, y0, x1, y1)
	if !ok {
		return 0
	}
	var total int64
	for x := x0; x <= x1; x++ {
		col := g.cells[x*g.Height : (x+1)*g.Height]
		for y := y0; y <= y1; y++ {
			total += col[y]
		}
	}
	return total
}

// Max returns the largest value in the inclusive rectangle, clamped to the
// grid. An empty rectangle yields 0.
func (g *Grid) Max(x0, y0, x1, y1 int) int64 {
	x0, y0, x1, y1, ok := g.Clamp(x0, y0, x1, y1)
	if !ok {
		return 0
	}
	var best int64
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			if v := g.At(x, y); v > best {
				best = v
			}
		}
	}
	return best
}

// Total returns the sum of every cell.
func (g *Grid) Total() int64 {
	var total int64
	for _, v := range g.cells {
		total += v
	}
	return total
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	cells := make([]int64, len(g.cells))
	copy(cells, g.cells)
	return &Grid{Width: g.Width, Height: g.Height, cells: cells}
}

// Equal reports whether both grids have the same shape and contents.
func (g *Grid) Equal(other *Grid) bool {
	if other == nil || g.Width != other.Width || g.Height != other.Height {
		return false
	}
	for i, v := range g.cells {
		if other.cells[i] != v {
			return false
		}
	}
	return true
}
