package hilltop

import (
	"image"
	"image/color"
	"testing"
)

var (
	black = color.NRGBA{A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

// solidImage returns a width x height image filled with c.
func solidImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// fillRect paints the inclusive rectangle [x0,x1] x [y0,y1].
func fillRect(img *image.NRGBA, x0, y0, x1, y1 int, c color.NRGBA) {
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

// patternGrid fills a grid with a deterministic non-trivial pattern.
func patternGrid(width, height int) *Grid {
	g := NewGrid(width, height)
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			g.Set(x, y, int64((x*31+y*17)%97))
		}
	}
	return g
}

// checkAggregates fails the test unless every upper-level cell equals the
// sum of its block one level down.
func checkAggregates(t *testing.T, p *Pyramid) {
	t.Helper()
	for k := 1; k < p.Levels(); k++ {
		finer, coarser := p.Level(k-1), p.Level(k)
		for x := 0; x < coarser.Width; x++ {
			for y := 0; y < coarser.Height; y++ {
				sx, sy := x*BlockFactor, y*BlockFactor
				want := finer.Sum(sx, sy, sx+BlockFactor-1, sy+BlockFactor-1)
				if got := coarser.At(x, y); got != want {
					t.Fatalf("level %d cell (%d,%d) = %d, want %d", k, x, y, got, want)
				}
			}
		}
	}
}
