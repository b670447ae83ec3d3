package hilltop

import "math"

// cosineKernel weights a distance against a square window of the given
// half-side: (cos(pi*d/dmax) + 1) / 2 with dmax = sqrt(2)*radius, so the
// window corners fall to 0. Radius 0 weighs the centre only.
type cosineKernel struct {
	dmax float64
}

func newCosineKernel(radius int) cosineKernel {
	return cosineKernel{dmax: math.Sqrt2 * float64(radius)}
}

// weight returns the kernel value for offset (dx, dy) and false when the
// offset lies outside the kernel support.
func (k cosineKernel) weight(dx, dy int) (float64, bool) {
	d := math.Hypot(float64(dx), float64(dy))
	if k.dmax == 0 {
		return 1, d == 0
	}
	ratio := d / k.dmax
	if ratio > 1 {
		return 0, false
	}
	return (math.Cos(math.Pi*ratio) + 1) / 2, true
}

// isqrt returns floor(sqrt(n)) for n >= 0.
func isqrt(n int) int {
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// window returns the inclusive square of the given half-side around (x, y),
// limited to [0, width-1] x [0, height-1].
func window(x, y, half, width, height int) (x0, y0, x1, y1 int) {
	return max(x-half, 0), max(y-half, 0), min(x+half, width-1), min(y+half, height-1)
}
