// Package coords converts pointer positions between device pixels and the
// resolution independent percentage space used on the wire.
package coords

import (
	"errors"
	"sync/atomic"
)

// Scale is the upper bound of a normalized axis.
const Scale = 100.0

// ErrEmptyViewport is returned when normalizing against a viewport with a
// non-positive dimension.
var ErrEmptyViewport = errors.New("viewport has no area")

// Viewport is the size of the rendering surface in device pixels.
type Viewport struct {
	Width  float64
	Height float64
}

// Point is a position on either the device or the normalized plane.
type Point struct {
	X float64
	Y float64
}

// ViewportSource yields the current viewport. Implementations are sampled on
// every transform, never cached by the caller.
type ViewportSource interface {
	Viewport() Viewport
}

// Normalize maps device pixels to [0,100] per axis.
func Normalize(p Point, vp Viewport) (Point, error) {
	if vp.Width <= 0 || vp.Height <= 0 {
		return Point{}, ErrEmptyViewport
	}
	return Point{
		X: p.X / vp.Width * Scale,
		Y: p.Y / vp.Height * Scale,
	}, nil
}

// Denormalize is the inverse of Normalize.
func Denormalize(p Point, vp Viewport) Point {
	return Point{
		X: p.X / Scale * vp.Width,
		Y: p.Y / Scale * vp.Height,
	}
}

// Tracker holds the latest viewport reported by resize events.
type Tracker struct {
	current atomic.Pointer[Viewport]
}

// NewTracker returns a tracker starting at the given size.
func NewTracker(width, height float64) *Tracker {
	t := &Tracker{}
	t.Resize(width, height)
	return t
}

// Resize records a new viewport size.
func (t *Tracker) Resize(width, height float64) {
	t.current.Store(&Viewport{Width: width, Height: height})
}

// Viewport returns the most recently recorded size.
func (t *Tracker) Viewport() Viewport {
	if vp := t.current.Load(); vp != nil {
		return *vp
	}
	return Viewport{}
}
