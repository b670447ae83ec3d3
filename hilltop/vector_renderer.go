package hilltop

import (
	"fmt"
	"image/color"
	"image/png"
	"io"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorOverlay draws a peak report as vector graphics in image pixel
// units: the image frame, an optional grid, each peak's suppression window
// and a marker sized to the feature.
type VectorOverlay struct {
	Width       int
	Height      int
	Peaks       []Point
	FeatureSize int
	Color       string
	Resolution  canvas.Resolution // Resolution for PNG output (default: 300 DPI)
	GridSpacing float64           // Grid line spacing in pixels; 0 disables
}

// NewVectorOverlay creates an overlay for a result with default settings
func NewVectorOverlay(r *Result, featureSize int, hex string) *VectorOverlay {
	return &VectorOverlay{
		Width:       r.Width,
		Height:      r.Height,
		Peaks:       r.Peaks,
		FeatureSize: featureSize,
		Color:       hex,
		Resolution:  canvas.DPI(300),
		GridSpacing: 100,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// RenderToSVG writes the overlay as an SVG to the provided writer
func (v *VectorOverlay) RenderToSVG(w io.Writer) error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("overlay has no area (%dx%d)", v.Width, v.Height)
	}
	svgRenderer := svg.New(w, float64(v.Width), float64(v.Height), nil)
	v.renderToCanvas(svgRenderer)
	return svgRenderer.Close()
}

// RenderToPNG writes the overlay as a PNG to the provided writer
func (v *VectorOverlay) RenderToPNG(w io.Writer) error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("overlay has no area (%dx%d)", v.Width, v.Height)
	}
	rast := rasterizer.New(float64(v.Width), float64(v.Height), v.Resolution, canvas.DefaultColorSpace)
	v.renderToCanvas(rast)
	// Rasterizer implements draw.Image interface, which embeds image.Image
	return png.Encode(w, rast)
}

// toCanvas maps image coordinates (y down) to canvas coordinates (y up).
func (v *VectorOverlay) toCanvas(x, y float64) (float64, float64) {
	return x, float64(v.Height) - y
}

func (v *VectorOverlay) renderToCanvas(renderer canvasRenderer) {
	width, height := float64(v.Width), float64(v.Height)

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Black}
	bgStyle.StrokeWidth = 1.0
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	if v.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = 0.5
		gridStyle.Dashes = []float64{4.0, 4.0}

		for x := v.GridSpacing; x < width; x += v.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(x, 0)
			p.LineTo(x, height)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := v.GridSpacing; y < height; y += v.GridSpacing {
			p := &canvas.Path{}
			cx0, cy := v.toCanvas(0, y)
			p.MoveTo(cx0, cy)
			p.LineTo(width, cy)
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	c := parseHexColor(v.Color)
	half := float64(v.FeatureSize / 2)
	radius := max(half, 2)

	windowStyle := canvas.DefaultStyle
	windowStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	windowStyle.Stroke = canvas.Paint{Color: c}
	windowStyle.StrokeWidth = 1.0
	windowStyle.Dashes = []float64{3.0, 2.0}

	markerStyle := canvas.DefaultStyle
	markerStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(color.NRGBA{R: c.R, G: c.G, B: c.B, A: markerFillAlpha})}
	markerStyle.Stroke = canvas.Paint{Color: c}
	markerStyle.StrokeWidth = 2.0

	dotStyle := canvas.DefaultStyle
	dotStyle.Fill = canvas.Paint{Color: canvas.Black}
	dotStyle.Stroke = canvas.Paint{Color: canvas.Transparent}

	for _, p := range v.Peaks {
		// Pixel centres sit half a unit into the cell.
		cx, cy := v.toCanvas(float64(p.X)+0.5, float64(p.Y)+0.5)

		side := 2*half + 1
		window := canvas.Rectangle(side, side).Translate(cx-side/2, cy-side/2)
		renderer.RenderPath(window, windowStyle, canvas.Identity)

		renderer.RenderPath(canvas.Circle(radius).Translate(cx, cy), markerStyle, canvas.Identity)
		renderer.RenderPath(canvas.Circle(1.0).Translate(cx, cy), dotStyle, canvas.Identity)
	}
}
