// Package transform converts between image-pixel, world and canvas space.
//
// Image pixel -> world is an affine map derived from the image spacing,
// origin and direction cosines. World <-> canvas depends on the camera and is
// delegated to the viewport.
package transform

import (
	"math"

	"github.com/menta2k/annotation-overlay/pkg/types"
)

// MinDeterminant is the smallest |det| of the pixel->world 2x2 block that is
// still treated as invertible
const MinDeterminant = 1e-4

// Projector is the part of a viewport needed for camera projection
type Projector interface {
	WorldToCanvas(w types.Point3) types.Point
	CanvasToWorld(c types.Point) types.Point3
	ImageData() types.ImageData
	ImageDimensions() types.Dimensions
}

// ImagePixelToWorld maps an image pixel to world space:
// world = origin + px*sx*row(0) + py*sy*row(1)
func ImagePixelToWorld(p types.Point, img types.ImageData) types.Point3 {
	sx, sy := img.Spacing[0], img.Spacing[1]
	d := img.Direction
	return types.Point3{
		X: img.Origin[0] + p.X*sx*d[0] + p.Y*sy*d[3],
		Y: img.Origin[1] + p.X*sx*d[1] + p.Y*sy*d[4],
		Z: img.Origin[2] + p.X*sx*d[2] + p.Y*sy*d[5],
	}
}

// WorldToImagePixels inverts ImagePixelToWorld on the in-plane terms. ok is
// false when the transform is not invertible. The result is clamped to the
// image bounds.
func WorldToImagePixels(w types.Point3, img types.ImageData, dims types.Dimensions) (types.Point, bool) {
	sx, sy := img.Spacing[0], img.Spacing[1]
	d := img.Direction

	// | a b | |px|   |wx - ox|
	// | c e | |py| = |wy - oy|
	a, b := sx*d[0], sy*d[3]
	c, e := sx*d[1], sy*d[4]
	det := a*e - b*c
	if math.Abs(det) < MinDeterminant || math.IsNaN(det) {
		return types.Point{}, false
	}
	if !finite(w.X) || !finite(w.Y) {
		return types.Point{}, false
	}

	rx := w.X - img.Origin[0]
	ry := w.Y - img.Origin[1]
	px := (e*rx - b*ry) / det
	py := (a*ry - c*rx) / det

	if dims.Width > 0 {
		px = clamp(px, 0, float64(dims.Width))
	}
	if dims.Height > 0 {
		py = clamp(py, 0, float64(dims.Height))
	}
	return types.Point{X: px, Y: py}, true
}

// ImagePixelToCanvas projects an image pixel onto the canvas
func ImagePixelToCanvas(vp Projector, p types.Point) types.Point {
	return vp.WorldToCanvas(ImagePixelToWorld(p, vp.ImageData()))
}

// CanvasToImagePixels maps a canvas point back to image pixels. ok is false
// when the current transform cannot be inverted.
func CanvasToImagePixels(vp Projector, c types.Point) (types.Point, bool) {
	return WorldToImagePixels(vp.CanvasToWorld(c), vp.ImageData(), vp.ImageDimensions())
}

// PixelBoxToCanvas projects a canonical box onto the canvas. Corners are
// re-ordered because the direction matrix may flip an axis.
func PixelBoxToCanvas(vp Projector, box types.PixelBox) types.Rect {
	a := ImagePixelToCanvas(vp, types.Point{X: box.XMin, Y: box.YMin})
	b := ImagePixelToCanvas(vp, types.Point{X: box.XMax, Y: box.YMax})
	return types.RectFromCorners(a, b)
}

// CanvasToPixelBox converts a canvas rect into a canonical box. ok is false
// if either corner fails to convert.
func CanvasToPixelBox(vp Projector, r types.Rect) (types.PixelBox, bool) {
	a, ok := CanvasToImagePixels(vp, r.Min())
	if !ok {
		return types.PixelBox{}, false
	}
	b, ok := CanvasToImagePixels(vp, r.Max())
	if !ok {
		return types.PixelBox{}, false
	}
	return types.PixelBox{
		XMin: math.Min(a.X, b.X),
		YMin: math.Min(a.Y, b.Y),
		XMax: math.Max(a.X, b.X),
		YMax: math.Max(a.Y, b.Y),
	}, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
