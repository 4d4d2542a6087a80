package coords

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeKnownPoint(t *testing.T) {
	vp := Viewport{Width: 1920, Height: 1080}

	n, err := Normalize(Point{X: 480, Y: 270}, vp)
	require.NoError(t, err)
	assert.InDelta(t, 25, n.X, 1e-9)
	assert.InDelta(t, 25, n.Y, 1e-9)

	back := Denormalize(Point{X: 25, Y: 25}, vp)
	assert.InDelta(t, 480, back.X, 1e-9)
	assert.InDelta(t, 270, back.Y, 1e-9)
}

func TestRoundTrip(t *testing.T) {
	viewports := []Viewport{{1920, 1080}, {800, 600}, {333, 777}, {1, 1}}
	for _, vp := range viewports {
		for _, p := range []Point{{0, 0}, {vp.Width, vp.Height}, {vp.Width / 3, vp.Height / 7}, {12.5, 0.25}} {
			n, err := Normalize(p, vp)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n.X, 0.0)

			got := Denormalize(n, vp)
			assert.InDelta(t, p.X, got.X, 1e-9, "viewport %v point %v", vp, p)
			assert.InDelta(t, p.Y, got.Y, 1e-9, "viewport %v point %v", vp, p)
		}
	}
}

func TestNormalizeEmptyViewport(t *testing.T) {
	_, err := Normalize(Point{X: 1, Y: 1}, Viewport{Width: 0, Height: 100})
	assert.ErrorIs(t, err, ErrEmptyViewport)
}

func TestTrackerUsesLatestSize(t *testing.T) {
	tr := NewTracker(100, 100)
	assert.Equal(t, Viewport{Width: 100, Height: 100}, tr.Viewport())

	tr.Resize(200, 50)
	got := Denormalize(Point{X: 50, Y: 50}, tr.Viewport())
	assert.Equal(t, Point{X: 100, Y: 25}, got)

	var zero Tracker
	assert.Equal(t, Viewport{}, zero.Viewport())
}
