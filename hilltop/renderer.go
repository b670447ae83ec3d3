package hilltop

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// DefaultMarkerColor is used for sources without a configured color.
const DefaultMarkerColor = "#FF0000"

// markerFillAlpha is the opacity of the disc drawn inside each marker ring.
const markerFillAlpha = 60

// RenderOverlay draws the peaks over a copy of img: a translucent disc of
// diameter featureSize ringed in the marker color, with the 1-based rank
// next to it.
func RenderOverlay(img image.Image, peaks []Point, featureSize int, hex string) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	c := parseHexColor(hex)
	radius := max(featureSize/2, 2)
	for i, p := range peaks {
		fillDisc(out, p.X, p.Y, radius, color.NRGBA{R: c.R, G: c.G, B: c.B, A: markerFillAlpha})
		drawRing(out, p.X, p.Y, radius, c)
		drawText(out, p.X+radius+3, p.Y+4, strconv.Itoa(i+1), c)
	}
	return out
}

// RenderDiffMap renders a grid as a heat map scaled so the largest cell is
// white. An all-zero grid renders black.
func RenderDiffMap(g *Grid) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	peak := g.Max(0, 0, g.Width-1, g.Height-1)
	if peak == 0 {
		return out
	}
	for x := 0; x < g.Width; x++ {
		for y := 0; y < g.Height; y++ {
			out.SetGray(x, y, color.Gray{Y: uint8(g.At(x, y) * 255 / peak)})
		}
	}
	return out
}

// blendColors performs alpha blending of a non-premultiplied color over an
// opaque background pixel
func blendColors(bg color.RGBA, fg color.NRGBA) color.RGBA {
	alpha := float64(fg.A) / 255.0
	invAlpha := 1.0 - alpha

	return color.RGBA{
		R: uint8(float64(fg.R)*alpha + float64(bg.R)*invAlpha),
		G: uint8(float64(fg.G)*alpha + float64(bg.G)*invAlpha),
		B: uint8(float64(fg.B)*alpha + float64(bg.B)*invAlpha),
		A: 255,
	}
}

// fillDisc blends a filled circle into img
func fillDisc(img *image.RGBA, cx, cy, radius int, c color.NRGBA) {
	b := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			x, y := cx+dx, cy+dy
			if dx*dx+dy*dy <= radius*radius && image.Pt(x, y).In(b) {
				img.SetRGBA(x, y, blendColors(img.RGBAAt(x, y), c))
			}
		}
	}
}

// drawRing draws a two pixel wide circle outline
func drawRing(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	b := img.Bounds()
	inner := (radius - 2) * (radius - 2)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			d := dx*dx + dy*dy
			x, y := cx+dx, cy+dy
			if d <= radius*radius && d > inner && image.Pt(x, y).In(b) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// parseHexColor parses a hex color string like "#FF6B6B" to color.RGBA
func parseHexColor(hex string) color.RGBA {
	// Default to red if parsing fails
	defaultColor := color.RGBA{255, 0, 0, 255}

	if len(hex) == 0 {
		return defaultColor
	}
	if hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return defaultColor
	}

	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return defaultColor
	}
	return color.RGBA{r, g, b, 255}
}
