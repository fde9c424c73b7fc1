// Package geometry converts boxes between the three spatial frames used by the reviewer:
// normalized page space (0-1000), the extraction engine's raster pixels, and render pixels
// on screen. Boxes are always stored normalized; zoom only ever touches render rects.
package geometry

import (
	"math"

	"github.com/akolanti/layoutlens/internal/domain/fieldModel"
)

const defaultMinDrawPixels = 10

// Rect is a render-space rectangle in pixels.
type Rect struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	W           float64 `json:"w"`
	H           float64 `json:"h"`
	Approximate bool    `json:"approximate,omitempty"`
}

// Size is a pixel width/height pair. A zero Size means unknown.
type Size struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

func (s Size) known() bool { return s.W > 0 && s.H > 0 }

type Mapper struct {
	MinDrawPixels float64
}

func NewMapper(minDrawPixels float64) Mapper {
	if minDrawPixels <= 0 {
		minDrawPixels = defaultMinDrawPixels
	}
	return Mapper{MinDrawPixels: minDrawPixels}
}

// NormalizedToRaster is stage one: normalized space to engine raster pixels.
func NormalizedToRaster(b fieldModel.BoundingBox, engine Size) (x1, y1, x2, y2 float64) {
	sx := engine.W / fieldModel.NormalizedMax
	sy := engine.H / fieldModel.NormalizedMax
	return b.X1 * sx, b.Y1 * sy, b.X2 * sx, b.Y2 * sy
}

// RasterToRender is stage two: engine raster pixels to render pixels.
func RasterToRender(x1, y1, x2, y2 float64, engine Size, render Size) Rect {
	sx := render.W / engine.W
	sy := render.H / engine.H
	return Rect{X: x1 * sx, Y: y1 * sy, W: (x2 - x1) * sx, H: (y2 - y1) * sy}
}

// ToRender maps a stored box onto the render surface. Without engine raster dimensions the
// box is scaled in one step and flagged approximate.
func (m Mapper) ToRender(b fieldModel.BoundingBox, render Size, engine Size) (Rect, error) {
	if !render.known() {
		return Rect{}, fieldModel.InvalidGeometry("render size %.0fx%.0f", render.W, render.H)
	}
	if err := Validate(b); err != nil {
		return Rect{}, err
	}
	if !engine.known() {
		sx := render.W / fieldModel.NormalizedMax
		sy := render.H / fieldModel.NormalizedMax
		return Rect{X: b.X1 * sx, Y: b.Y1 * sy, W: b.Width() * sx, H: b.Height() * sy, Approximate: true}, nil
	}
	x1, y1, x2, y2 := NormalizedToRaster(b, engine)
	return RasterToRender(x1, y1, x2, y2, engine, render), nil
}

// ToNormalized is the inverse of ToRender. It does not apply the drawn-size threshold; use
// NormalizeDrawn for rectangles coming from a pointer drag.
func (m Mapper) ToNormalized(r Rect, render Size, engine Size) (fieldModel.BoundingBox, error) {
	if !render.known() {
		return fieldModel.BoundingBox{}, fieldModel.InvalidGeometry("render size %.0fx%.0f", render.W, render.H)
	}
	r = Canonicalize(r)
	x1, y1, x2, y2 := r.X, r.Y, r.X+r.W, r.Y+r.H

	if !engine.known() {
		sx := fieldModel.NormalizedMax / render.W
		sy := fieldModel.NormalizedMax / render.H
		return roundBox(x1*sx, y1*sy, x2*sx, y2*sy), nil
	}

	// render -> raster
	rx := engine.W / render.W
	ry := engine.H / render.H
	x1, y1, x2, y2 = x1*rx, y1*ry, x2*rx, y2*ry

	return NormalizeRaster(x1, y1, x2, y2, engine)
}

// NormalizeDrawn rejects degenerate rectangles before normalizing them. approximate is set when
// the engine raster is unknown and the box was scaled from the render size alone.
func (m Mapper) NormalizeDrawn(r Rect, render Size, engine Size, zoom float64) (box fieldModel.BoundingBox, approximate bool, err error) {
	min := m.MinDrawPixels
	if min <= 0 {
		min = defaultMinDrawPixels
	}
	// threshold applies to on-screen pixels, i.e. before zoom is removed
	c := Canonicalize(r)
	if c.W < min || c.H < min {
		return fieldModel.BoundingBox{}, false, fieldModel.InvalidGeometry("drawn rect %.0fx%.0f below %.0fpx", c.W, c.H, min)
	}
	unzoomed, err := RemoveZoom(c, zoom)
	if err != nil {
		return fieldModel.BoundingBox{}, false, err
	}
	box, err = m.ToNormalized(unzoomed, render, engine)
	if err != nil {
		return box, false, err
	}
	return box, !engine.known(), nil
}

// NormalizeRaster maps engine raster pixels into normalized space, rounding to whole units.
func NormalizeRaster(x1, y1, x2, y2 float64, engine Size) (fieldModel.BoundingBox, error) {
	if !engine.known() {
		return fieldModel.BoundingBox{}, fieldModel.InvalidGeometry("engine raster %.0fx%.0f", engine.W, engine.H)
	}
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	sx := fieldModel.NormalizedMax / engine.W
	sy := fieldModel.NormalizedMax / engine.H
	return roundBox(x1*sx, y1*sy, x2*sx, y2*sy), nil
}

// FromQuad converts a 4-point OCR polygon in raster pixels into an axis-aligned normalized box.
func FromQuad(points [][2]float64, engine Size) (fieldModel.BoundingBox, error) {
	if len(points) == 0 {
		return fieldModel.BoundingBox{}, fieldModel.InvalidGeometry("empty polygon")
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX = math.Min(minX, p[0])
		minY = math.Min(minY, p[1])
		maxX = math.Max(maxX, p[0])
		maxY = math.Max(maxY, p[1])
	}
	return NormalizeRaster(minX, minY, maxX, maxY, engine)
}

// Canonicalize flips negative extents so W and H are non-negative.
func Canonicalize(r Rect) Rect {
	if r.W < 0 {
		r.X += r.W
		r.W = -r.W
	}
	if r.H < 0 {
		r.Y += r.H
		r.H = -r.H
	}
	return r
}

func ApplyZoom(r Rect, zoom float64) (Rect, error) {
	if zoom <= 0 {
		return Rect{}, fieldModel.InvalidGeometry("zoom %.2f", zoom)
	}
	return Rect{X: r.X * zoom, Y: r.Y * zoom, W: r.W * zoom, H: r.H * zoom, Approximate: r.Approximate}, nil
}

func RemoveZoom(r Rect, zoom float64) (Rect, error) {
	if zoom <= 0 {
		return Rect{}, fieldModel.InvalidGeometry("zoom %.2f", zoom)
	}
	return Rect{X: r.X / zoom, Y: r.Y / zoom, W: r.W / zoom, H: r.H / zoom, Approximate: r.Approximate}, nil
}

// Validate checks the stored-box invariant.
func Validate(b fieldModel.BoundingBox) error {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || v < 0 || v > fieldModel.NormalizedMax {
			return fieldModel.InvalidGeometry("coordinate %v outside [0,1000]", v)
		}
	}
	if b.X1 > b.X2 || b.Y1 > b.Y2 {
		return fieldModel.InvalidGeometry("box [%v,%v,%v,%v] is not canonical", b.X1, b.Y1, b.X2, b.Y2)
	}
	return nil
}

// Distance is the euclidean distance between two box centers.
func Distance(a, b fieldModel.BoundingBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(ax-bx, ay-by)
}

func roundBox(x1, y1, x2, y2 float64) fieldModel.BoundingBox {
	return fieldModel.BoundingBox{
		X1: clamp(math.Round(x1)),
		Y1: clamp(math.Round(y1)),
		X2: clamp(math.Round(x2)),
		Y2: clamp(math.Round(y2)),
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(fieldModel.NormalizedMax, v))
}
