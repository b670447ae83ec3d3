package hilltop

import (
	"fmt"
	"image"
)

// Finder extracts peaks one at a time from a difference map it owns. It is
// not safe for concurrent use.
type Finder struct {
	pyramid     *Pyramid
	featureSize int
}

// NewFinder builds the pyramid over grid. The grid is mutated by Next.
func NewFinder(grid *Grid, featureSize int) (*Finder, error) {
	if grid == nil || grid.Width < 1 || grid.Height < 1 {
		return nil, fmt.Errorf("%w: empty difference map", ErrInvalidInput)
	}
	if err := (Params{FeatureSize: featureSize}).ValidateFor(grid.Width, grid.Height); err != nil {
		return nil, err
	}
	return &Finder{pyramid: NewPyramid(grid), featureSize: featureSize}, nil
}

// Pyramid exposes the finder's pyramid for inspection.
func (f *Finder) Pyramid() *Pyramid {
	return f.pyramid
}

// Peek returns the next refined peak without suppressing it.
func (f *Finder) Peek() Point {
	refined := Refine(f.pyramid.Base(), f.pyramid.FetchTopPoint(), f.featureSize)
	return Point{X: refined.X, Y: refined.Y, Weight: refined.Weight}
}

// Next returns the next refined peak and suppresses its neighbourhood.
func (f *Finder) Next() Point {
	pt := f.Peek()
	Suppress(f.pyramid, PeakRecord{X: pt.X, Y: pt.Y, Weight: pt.Weight}, f.featureSize)
	return pt
}

// Run extracts n peaks. The last one is not suppressed, leaving the map as
// it was right before that peak was reported.
//
// Suppression clamps at zero, so once the real differences are used up a
// later peak can land on an earlier one's coordinates with the small
// residue left around it.
func (f *Finder) Run(n int) []Point {
	base := f.pyramid.Base()
	peaks := make([]Point, 0, min(max(n, 0), base.Width*base.Height))
	for i := 0; i < n; i++ {
		if i == n-1 {
			peaks = append(peaks, f.Peek())
			break
		}
		peaks = append(peaks, f.Next())
	}
	return peaks
}

// FindPeaks reports the TopN strongest localized differences between two
// same-sized images in extraction order, together with the mean per-pixel
// difference. Each peak is searched for after the neighbourhoods of the ones
// before it were suppressed; that is an attenuation, not an exclusion, and
// peaks past the real content may repeat earlier positions (see Finder.Run).
//
// Parameters are checked against the image size before any work is done.
func FindPeaks(background, challenge image.Image, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := CheckSameSize(background, challenge); err != nil {
		return nil, err
	}
	b := background.Bounds()
	if err := p.ValidateFor(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	dm, err := BuildDiffMap(background, challenge, p.Workers)
	if err != nil {
		return nil, err
	}
	f, err := NewFinder(dm.Grid, p.FeatureSize)
	if err != nil {
		return nil, err
	}
	return &Result{
		Peaks:          f.Run(p.TopN),
		MeanDifference: dm.Mean,
		Width:          dm.Grid.Width,
		Height:         dm.Grid.Height,
	}, nil
}
