package hilltop

import (
	"bytes"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// RenderDiffMap
// ---------------------------------------------------------------------------

func TestRenderDiffMap(t *testing.T) {
	g := NewGrid(3, 2)
	g.Set(0, 0, 10)
	g.Set(2, 1, 5)

	img := RenderDiffMap(g)
	if img.Bounds().Dx() != 3 || img.Bounds().Dy() != 2 {
		t.Fatalf("size = %v, want 3x2", img.Bounds())
	}
	if got := img.GrayAt(0, 0).Y; got != 255 {
		t.Errorf("max cell = %d, want 255", got)
	}
	if got := img.GrayAt(2, 1).Y; got != 127 {
		t.Errorf("half cell = %d, want 127", got)
	}
	if got := img.GrayAt(1, 0).Y; got != 0 {
		t.Errorf("zero cell = %d, want 0", got)
	}
}

func TestRenderDiffMap_AllZero(t *testing.T) {
	img := RenderDiffMap(NewGrid(4, 4))
	for _, v := range img.Pix {
		if v != 0 {
			t.Fatal("all-zero grid should render black")
		}
	}
}

// ---------------------------------------------------------------------------
// RenderOverlay
// ---------------------------------------------------------------------------

func TestRenderOverlay(t *testing.T) {
	src := solidImage(60, 40, black)
	peaks := []Point{{X: 20, Y: 20, Weight: 100}}

	out := RenderOverlay(src, peaks, 10, "#FF0000")

	if out.Bounds() != src.Bounds() {
		t.Fatalf("bounds = %v, want %v", out.Bounds(), src.Bounds())
	}
	if got := out.RGBAAt(20, 20); got.R < markerFillAlpha-1 || got.R > markerFillAlpha || got.G != 0 || got.A != 255 {
		t.Errorf("centre = %v, want translucent red over black", got)
	}
	if got := out.RGBAAt(25, 20); got != (color.RGBA{R: 255, A: 255}) {
		t.Errorf("ring = %v, want red", got)
	}
	if got := out.RGBAAt(5, 35); got != (color.RGBA{A: 255}) {
		t.Errorf("far pixel = %v, want untouched black", got)
	}
	if got := src.NRGBAAt(20, 20); got != black {
		t.Error("source image was modified")
	}
}

func TestRenderOverlay_PeakAtEdge(t *testing.T) {
	out := RenderOverlay(solidImage(8, 8, white), []Point{{X: 0, Y: 7}}, 20, "")
	if out.Bounds().Dx() != 8 {
		t.Fatalf("width = %d, want 8", out.Bounds().Dx())
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.RGBA
	}{
		{"#00FF00", color.RGBA{0, 255, 0, 255}},
		{"3366cc", color.RGBA{0x33, 0x66, 0xcc, 255}},
		{"", color.RGBA{255, 0, 0, 255}},
		{"#FFF", color.RGBA{255, 0, 0, 255}},
		{"#GGGGGG", color.RGBA{255, 0, 0, 255}},
	}
	for _, tt := range tests {
		if got := parseHexColor(tt.in); got != tt.want {
			t.Errorf("parseHexColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// VectorOverlay
// ---------------------------------------------------------------------------

func TestVectorOverlay_RenderToSVG(t *testing.T) {
	res := &Result{Width: 200, Height: 120, Peaks: []Point{{X: 40, Y: 30, Weight: 9}, {X: 150, Y: 90, Weight: 4}}}
	v := NewVectorOverlay(res, 32, "#0000FF")

	var buf bytes.Buffer
	if err := v.RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<svg") {
		t.Error("output does not contain <svg tag")
	}
	if !strings.Contains(out, "path") {
		t.Error("output does not contain path elements")
	}
}

func TestVectorOverlay_RenderToPNG(t *testing.T) {
	res := &Result{Width: 50, Height: 40, Peaks: []Point{{X: 10, Y: 10}}}
	v := NewVectorOverlay(res, 8, "#FF0000")
	v.Resolution = 1

	var buf bytes.Buffer
	if err := v.RenderToPNG(&buf); err != nil {
		t.Fatalf("RenderToPNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decoding PNG: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Error("PNG has no area")
	}
}

func TestVectorOverlay_Empty(t *testing.T) {
	v := NewVectorOverlay(&Result{}, 8, "")
	var buf bytes.Buffer
	if err := v.RenderToSVG(&buf); err == nil {
		t.Error("expected error for an overlay without area")
	}
	if err := v.RenderToPNG(&buf); err == nil {
		t.Error("expected error for an overlay without area")
	}
}

func TestNRGBAToRGBA(t *testing.T) {
	if got := nrgbaToRGBA(color.NRGBA{R: 255, A: 51}); got != (color.RGBA{R: 51, A: 51}) {
		t.Errorf("nrgbaToRGBA = %v, want premultiplied", got)
	}
	if got := nrgbaToRGBA(color.NRGBA{R: 9}); got != (color.RGBA{}) {
		t.Errorf("transparent = %v, want zero", got)
	}
}
