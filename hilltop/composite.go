package hilltop

import (
	"fmt"
	"image"
	"image/color"
	"sort"

	xdraw "golang.org/x/image/draw"
)

// compositeKeepRatio is the share of samples per pixel, closest to the
// plain mean, that survive into the trimmed mean.
const compositeKeepRatio = 0.85

// Composite merges frames of the same scene into one image with a per-pixel
// trimmed mean, dropping the samples furthest from the plain mean. The
// output size is the integer mean of the frame sizes; frames of another
// size are resampled first.
func Composite(frames []image.Image) (*image.NRGBA, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames to composite", ErrInvalidInput)
	}

	var sumW, sumH int
	for i, f := range frames {
		if f == nil || f.Bounds().Empty() {
			return nil, fmt.Errorf("%w: frame %d is empty", ErrInvalidInput, i)
		}
		sumW += f.Bounds().Dx()
		sumH += f.Bounds().Dy()
	}
	width, height := sumW/len(frames), sumH/len(frames)

	scaled := make([]image.Image, len(frames))
	for i, f := range frames {
		scaled[i] = resizeTo(f, width, height)
	}

	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	keep := max(1, int(float64(len(frames))*compositeKeepRatio))
	samples := make([]color.NRGBA, len(frames))
	order := make([]int, len(frames))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			for i, f := range scaled {
				samples[i] = nrgbaAt(f, x, y)
				order[i] = i
			}
			mean := meanColor(samples, order)
			sort.SliceStable(order, func(a, b int) bool {
				return RGBDiff(samples[order[a]], mean) < RGBDiff(samples[order[b]], mean)
			})
			out.SetNRGBA(x, y, meanColor(samples, order[:keep]))
		}
	}
	return out, nil
}

// meanColor averages the selected samples channel by channel with integer
// division.
func meanColor(samples []color.NRGBA, idx []int) color.NRGBA {
	var r, g, b, a int
	for _, i := range idx {
		r += int(samples[i].R)
		g += int(samples[i].G)
		b += int(samples[i].B)
		a += int(samples[i].A)
	}
	n := len(idx)
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: uint8(a / n)}
}

// resizeTo returns img unchanged when it already has the given size,
// otherwise a bilinear resample of it.
func resizeTo(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
