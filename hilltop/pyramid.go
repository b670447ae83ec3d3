package hilltop

// BlockFactor is the downsample factor between adjacent pyramid levels in
// both axes.
const BlockFactor = 5

// PeakRecord is a candidate position with its score. The zero value sits at
// the origin with weight 0; offer only replaces it on a strictly greater
// weight, so among equal weights the first offered position wins.
type PeakRecord struct {
	X      int
	Y      int
	Weight int64
}

func (r *PeakRecord) offer(x, y int, weight int64) {
	if weight > r.Weight {
		r.X, r.Y, r.Weight = x, y, weight
	}
}

// Pyramid is a chain of block-summed grids over a base difference grid.
// levels[0] is the base itself; every further level sums BlockFactor x
// BlockFactor blocks of the one below, and the last level is the first whose
// width or height is below BlockFactor.
type Pyramid struct {
	levels []*Grid
}

// NewPyramid allocates every coarser level above base and populates them
// bottom-up. The pyramid keeps a reference to base: mutate it only through
// code that calls InvalidateRectangle afterwards.
func NewPyramid(base *Grid) *Pyramid {
	levels := []*Grid{base}
	for cur := base; cur.Width >= BlockFactor && cur.Height >= BlockFactor; {
		cur = NewGrid(ceilDiv(cur.Width, BlockFactor), ceilDiv(cur.Height, BlockFactor))
		levels = append(levels, cur)
	}
	p := &Pyramid{levels: levels}
	p.InvalidateRectangle(0, 0, base.Width-1, base.Height-1)
	return p
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Levels returns the number of levels including the base.
func (p *Pyramid) Levels() int {
	return len(p.levels)
}

// Level returns level k; 0 is the base.
func (p *Pyramid) Level(k int) *Grid {
	return p.levels[k]
}

// Base returns the finest level.
func (p *Pyramid) Base() *Grid {
	return p.levels[0]
}

// FetchTopPoint narrows from the coarsest level down to the base, searching
// at each finer level only the block under the coarser winner. The result is
// the base cell with the largest value along that path, which is not
// necessarily the global maximum of the base.
func (p *Pyramid) FetchTopPoint() PeakRecord {
	top := len(p.levels) - 1
	best := scanMax(p.levels[top], 0, 0, p.levels[top].Width-1, p.levels[top].Height-1)
	for k := top - 1; k >= 0; k-- {
		g := p.levels[k]
		x0, y0 := best.X*BlockFactor, best.Y*BlockFactor
		best = scanMax(g, x0, y0, min(x0+BlockFactor-1, g.Width-1), min(y0+BlockFactor-1, g.Height-1))
	}
	return best
}

// scanMax walks the inclusive rectangle x-outer, y-inner.
func scanMax(g *Grid, x0, y0, x1, y1 int) PeakRecord {
	var best PeakRecord
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			best.offer(x, y, g.At(x, y))
		}
	}
	return best
}

// InvalidateRectangle brings every coarser level back in line after the base
// cells in the inclusive rectangle [x0,x1] x [y0,y1] changed. Only the
// covering cells of each level are re-summed, each from its full source
// block, so partially covered blocks are recomputed whole.
func (p *Pyramid) InvalidateRectangle(x0, y0, x1, y1 int) {
	x0, y0, x1, y1, ok := p.levels[0].Clamp(x0, y0, x1, y1)
	if !ok {
		return
	}
	for k := 1; k < len(p.levels); k++ {
		finer, coarser := p.levels[k-1], p.levels[k]
		x0, y0 = x0/BlockFactor, y0/BlockFactor
		x1, y1 = min(x1/BlockFactor, coarser.Width-1), min(y1/BlockFactor, coarser.Height-1)
		for x := x0; x <= x1; x++ {
			for y := y0; y <= y1; y++ {
				sx, sy := x*BlockFactor, y*BlockFactor
				coarser.Set(x, y, finer.Sum(sx, sy, sx+BlockFactor-1, sy+BlockFactor-1))
			}
		}
	}
}
