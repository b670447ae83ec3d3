package hilltop

import "math"

// Refine moves a pyramid candidate to the position whose neighbourhood best
// matches a blob of roughly featureSize pixels.
//
// A coarse pass sums the window of half-side featureSize around the
// candidate into T x T cells (T = isqrt(featureSize)) and picks the cell
// neighbourhood with the largest cubed, kernel-weighted mass. A fine pass
// then scores every base pixel under the winning cell by the
// kernel-weighted sum of its featureSize/2 neighbourhood. Both passes read
// the current base values.
func Refine(base *Grid, candidate PeakRecord, featureSize int) PeakRecord {
	left, top, _, _ := window(candidate.X, candidate.Y, featureSize, base.Width, base.Height)
	cell := isqrt(featureSize)
	cx, cy := coarseWinner(shortCut(base, left, top, featureSize, cell))

	x0, y0 := left+cx*cell, top+cy*cell
	x0, y0, x1, y1, ok := base.Clamp(x0, y0, x0+cell, y0+cell)
	if !ok {
		return PeakRecord{}
	}

	half := featureSize / 2
	kernel := newCosineKernel(half)
	var best PeakRecord
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			best.offer(x, y, weightedSum(base, x, y, half, kernel))
		}
	}
	return best
}

// shortCut builds the coarse grid of side (featureSize/cell)*2 whose cells
// are cell x cell block sums of base starting at (left, top). Blocks past
// the image edge sum to what remains of them.
func shortCut(base *Grid, left, top, featureSize, cell int) *Grid {
	n := (featureSize / cell) * 2
	g := NewGrid(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := left+i*cell, top+j*cell
			g.Set(i, j, base.Sum(x, y, x+cell-1, y+cell-1))
		}
	}
	return g
}

// coarseWinner scores the centres (i+m/2, j+m/2), i, j in [0, m) with
// m = side/2, by sum(v^3 * k(d)) over the short-cut cells within m/2 of the
// centre. Scores are truncated before comparison.
func coarseWinner(g *Grid) (int, int) {
	m := g.Width / 2
	half := m / 2
	kernel := newCosineKernel(half)

	var bestX, bestY int
	var bestScore float64
	for i := 0; i < m; i++ {
		for j := 0; j < m; j++ {
			x, y := i+half, j+half
			x0, y0, x1, y1 := window(x, y, half, g.Width, g.Height)
			var score float64
			for sx := x0; sx <= x1; sx++ {
				for sy := y0; sy <= y1; sy++ {
					w, ok := kernel.weight(sx-x, sy-y)
					if !ok {
						continue
					}
					v := float64(g.At(sx, sy))
					score += v * v * v * w
				}
			}
			if score = math.Trunc(score); score > bestScore {
				bestX, bestY, bestScore = x, y, score
			}
		}
	}
	return bestX, bestY
}

// weightedSum returns the truncated kernel-weighted sum of base over the
// clamped square of the given half-side around (x, y).
func weightedSum(base *Grid, x, y, half int, kernel cosineKernel) int64 {
	x0, y0, x1, y1 := window(x, y, half, base.Width, base.Height)
	var sum float64
	for sx := x0; sx <= x1; sx++ {
		for sy := y0; sy <= y1; sy++ {
			if w, ok := kernel.weight(sx-x, sy-y); ok {
				sum += float64(base.At(sx, sy)) * w
			}
		}
	}
	return int64(sum)
}
