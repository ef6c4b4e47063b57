package types

import "math"

// Point is a 2D coordinate. Depending on context it is in canvas pixels or
// image pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p translated by d
func (p Point) Add(d Point) Point {
	return Point{X: p.X + d.X, Y: p.Y + d.Y}
}

// Sub returns the delta from q to p
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Point3 is a continuous world-space coordinate
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rect is an axis-aligned box in on-screen canvas pixels
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectFromCorners builds a rect spanning two arbitrary corners, flipping the
// origin so width and height are never negative.
func RectFromCorners(a, b Point) Rect {
	return Rect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

// Min returns the top-left corner
func (r Rect) Min() Point {
	return Point{X: r.X, Y: r.Y}
}

// Max returns the bottom-right corner
func (r Rect) Max() Point {
	return Point{X: r.X + r.Width, Y: r.Y + r.Height}
}

// Contains reports whether p lies inside r (edges inclusive)
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Translate returns r moved by d
func (r Rect) Translate(d Point) Rect {
	r.X += d.X
	r.Y += d.Y
	return r
}

// PixelBox is a bounding box in image-pixel space
type PixelBox struct {
	XMin float64 `json:"xMin"`
	YMin float64 `json:"yMin"`
	XMax float64 `json:"xMax"`
	YMax float64 `json:"yMax"`
}

// Width of the box in image pixels
func (b PixelBox) Width() float64 {
	return b.XMax - b.XMin
}

// Height of the box in image pixels
func (b PixelBox) Height() float64 {
	return b.YMax - b.YMin
}

// Vec3 is a 3-component vector (spacing, origin)
type Vec3 [3]float64

// ImageData describes how image pixels map into world space
type ImageData struct {
	// Spacing is the physical size of one pixel along each image axis
	Spacing Vec3 `json:"spacing"`
	// Origin is the world position of pixel (0,0)
	Origin Vec3 `json:"origin"`
	// Direction holds the direction cosines, row i being image axis i
	Direction [9]float64 `json:"direction"`
}

// IdentityDirection is the direction matrix of an axis-aligned image
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Dimensions of an image in pixels
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Camera is the pan/zoom state of a viewport
type Camera struct {
	// FocalPoint is the world position shown at the canvas center
	FocalPoint Point3 `json:"focalPoint"`
	// Zoom is canvas pixels per world unit
	Zoom float64 `json:"zoom"`
	// Pan is an additional canvas-space offset
	Pan Point `json:"pan"`
}
