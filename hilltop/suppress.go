package hilltop

import "math"

const (
	// suppressionSpread divides the squared normalized distance in the
	// suppression falloff.
	suppressionSpread = 2.25
	// suppressionCutoff is the normalized distance at or beyond which cells
	// are left untouched.
	suppressionCutoff = 1.5
)

// SuppressStats describes one suppression step.
type SuppressStats struct {
	// MaxDiff is the largest base value in the window before suppression.
	MaxDiff int64

	// Window is the inclusive base rectangle that was rewritten and
	// invalidated.
	X0, Y0, X1, Y1 int

	// Clamped counts cells whose new value would have been negative.
	Clamped int
}

// Suppress carves a quadratic hollow into the base level around a reported
// peak so the next query moves elsewhere, then brings the upper levels back
// in line. Values never go below zero.
func Suppress(p *Pyramid, at PeakRecord, featureSize int) SuppressStats {
	base := p.Base()
	x0, y0, x1, y1 := window(at.X, at.Y, featureSize/2, base.Width, base.Height)
	stats := SuppressStats{
		MaxDiff: base.Max(x0, y0, x1, y1),
		X0:      x0, Y0: y0, X1: x1, Y1: y1,
	}

	size := float64(featureSize)
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			r := math.Hypot(float64(x-at.X), float64(y-at.Y)) / size
			if r >= suppressionCutoff {
				continue
			}
			v := float64(base.At(x, y)) - float64(stats.MaxDiff)*(1-r*r/suppressionSpread)
			if v < 0 {
				v = 0
				stats.Clamped++
			}
			base.Set(x, y, int64(v))
		}
	}

	if stats.Clamped > 0 {
		Logf("[DEBUG] suppression at (%d,%d) clamped %d cells to zero", at.X, at.Y, stats.Clamped)
	}
	p.InvalidateRectangle(x0, y0, x1, y1)
	return stats
}
