package hilltop

import (
	"fmt"
	"image"
	"image/color"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DiffMap is the per-pixel dissimilarity grid between a background and a
// challenge image.
type DiffMap struct {
	Grid *Grid

	// Total is the sum of all cells at build time.
	Total int64

	// Mean is Total / (width*height), truncated. It is reported alongside
	// results and plays no part in the search.
	Mean int64
}

// RGBDiff returns |dr| + |dg| + |db| between two colors. Alpha is ignored.
func RGBDiff(a, b color.NRGBA) int64 {
	return absDiff(a.R, b.R) + absDiff(a.G, b.G) + absDiff(a.B, b.B)
}

func absDiff(a, b uint8) int64 {
	if a > b {
		return int64(a - b)
	}
	return int64(b - a)
}

// nrgbaAt reads the 8-bit non-premultiplied color at (x, y) relative to the
// image's bounds origin.
func nrgbaAt(img image.Image, x, y int) color.NRGBA {
	origin := img.Bounds().Min
	if n, ok := img.(*image.NRGBA); ok {
		return n.NRGBAAt(origin.X+x, origin.Y+y)
	}
	return color.NRGBAModel.Convert(img.At(origin.X+x, origin.Y+y)).(color.NRGBA)
}

// CheckSameSize returns an ErrInvalidInput error unless both images are
// present, non-empty and have identical dimensions.
func CheckSameSize(background, challenge image.Image) error {
	if background == nil || challenge == nil {
		return fmt.Errorf("%w: both images are required", ErrInvalidInput)
	}
	bg, ch := background.Bounds(), challenge.Bounds()
	if bg.Empty() || ch.Empty() {
		return fmt.Errorf("%w: empty image (background %dx%d, challenge %dx%d)",
			ErrInvalidInput, bg.Dx(), bg.Dy(), ch.Dx(), ch.Dy())
	}
	if bg.Dx() != ch.Dx() || bg.Dy() != ch.Dy() {
		return fmt.Errorf("%w: image sizes differ (background %dx%d, challenge %dx%d)",
			ErrInvalidInput, bg.Dx(), bg.Dy(), ch.Dx(), ch.Dy())
	}
	return nil
}

// BuildDiffMap computes the difference map of two same-sized images.
// Columns are split into stripes built concurrently by up to workers
// goroutines; workers <= 0 uses GOMAXPROCS. The result does not depend on
// the worker count.
func BuildDiffMap(background, challenge image.Image, workers int) (*DiffMap, error) {
	if err := CheckSameSize(background, challenge); err != nil {
		return nil, err
	}
	width, height := background.Bounds().Dx(), background.Bounds().Dy()
	grid := NewGrid(width, height)

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, width)
	stripe := (width + workers - 1) / workers
	totals := make([]int64, workers)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		x0, x1 := w*stripe, min((w+1)*stripe, width)
		if x0 >= x1 {
			continue
		}
		g.Go(func() error {
			var total int64
			for x := x0; x < x1; x++ {
				for y := 0; y < height; y++ {
					d := RGBDiff(nrgbaAt(challenge, x, y), nrgbaAt(background, x, y))
					grid.Set(x, y, d)
					total += d
				}
			}
			totals[w] = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("building difference map: %w", err)
	}

	var total int64
	for _, t := range totals {
		total += t
	}
	return &DiffMap{
		Grid:  grid,
		Total: total,
		Mean:  total / int64(width*height),
	}, nil
}
